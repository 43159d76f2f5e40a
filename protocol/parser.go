package protocol

import (
	"encoding/binary"
	"fmt"
)

// Result is the outcome of feeding one byte to a Parser.
type Result int

const (
	// NeedMore means the byte was buffered and the frame is not complete yet.
	NeedMore Result = iota
	// Discarded means buffered bytes were dropped: noise before a start
	// flag, or a frame rejected with an error.
	Discarded
	// Complete means Frame holds a validated frame ready for dispatch.
	Complete
)

func (r Result) String() string {
	switch r {
	case NeedMore:
		return "NEED_MORE"
	case Discarded:
		return "DISCARDED"
	case Complete:
		return "COMPLETE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(r))
}

var startBytes = binary.BigEndian.AppendUint32(nil, StartFlag)

// Parser reassembles frames from a byte stream with no message boundaries.
// A Parser belongs to a single connection and is not safe for concurrent use.
type Parser struct {
	checkCounter bool
	minLength    int

	buf    []byte
	length int

	lastCounter uint32
	accepted    bool

	frame []byte
}

// NewParser returns a parser for command envelopes. Consecutive envelopes
// must carry distinct command counters.
func NewParser() *Parser {
	return &Parser{checkCounter: true, minLength: MinEnvelopeLength}
}

// NewStatusParser returns a parser for status telegrams, whose third word
// is a timestamp rather than a counter.
func NewStatusParser() *Parser {
	return &Parser{minLength: MinStatusLength}
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (Result, error) {
	p.buf = append(p.buf, b)
	n := len(p.buf)
	switch {
	case n <= flagLength:
		if b == startBytes[n-1] {
			return NeedMore, nil
		}
		p.buf = p.buf[:0]
		if b == startBytes[0] {
			p.buf = append(p.buf, b)
		}
		return Discarded, nil
	case n == 8:
		p.length = int(binary.BigEndian.Uint32(p.buf[4:8]))
		if p.length < p.minLength || p.length > MaxEnvelopeLength {
			length := p.length
			p.reset()
			return Discarded, fmt.Errorf("%w: declared length %d", ErrFraming, length)
		}
		return NeedMore, nil
	case n < 8 || n < p.length:
		return NeedMore, nil
	}

	frame := p.buf
	p.buf = nil
	p.length = 0
	if end := binary.BigEndian.Uint32(frame[len(frame)-flagLength:]); end != EndFlag {
		return Discarded, fmt.Errorf("%w: bad end flag %#08x", ErrFraming, end)
	}
	if p.checkCounter {
		counter := binary.BigEndian.Uint32(frame[8:12])
		if p.accepted && counter == p.lastCounter {
			return Discarded, fmt.Errorf("%w: %d", ErrDuplicateCounter, counter)
		}
		p.lastCounter = counter
		p.accepted = true
	}
	p.frame = frame
	return Complete, nil
}

// Frame returns the frame completed by the last Parse call that returned
// Complete. The caller owns the returned slice.
func (p *Parser) Frame() []byte {
	return p.frame
}

// Buffered returns the number of bytes held for the frame in progress.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

func (p *Parser) reset() {
	p.buf = p.buf[:0]
	p.length = 0
}
