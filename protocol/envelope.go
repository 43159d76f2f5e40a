package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/w1xm/acusim/internal/bits"
)

// Envelope is a decoded command telegram.
type Envelope struct {
	Counter  uint32
	Commands []Command
}

// MarshalBinary frames the envelope with flags and its total length.
func (e Envelope) MarshalBinary() ([]byte, error) {
	length := MinEnvelopeLength
	for _, c := range e.Commands {
		length += EncodedLength(c)
	}
	if length > MaxEnvelopeLength {
		return nil, fmt.Errorf("%w: envelope length %d exceeds %d", ErrMalformedEnvelope, length, MaxEnvelopeLength)
	}
	w := bits.NewWriter(length)
	w.U32(StartFlag)
	w.U32(uint32(length))
	w.U32(e.Counter)
	w.U32(uint32(len(e.Commands)))
	for _, c := range e.Commands {
		if err := appendCommand(w, c); err != nil {
			return nil, err
		}
	}
	w.U32(EndFlag)
	return w.Bytes(), nil
}

// DecodeEnvelope decodes a complete frame as returned by Parser.Frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	if err := checkFrame(frame); err != nil {
		return Envelope{}, err
	}
	if len(frame) < MinEnvelopeLength {
		return Envelope{}, fmt.Errorf("%w: envelope length %d", ErrFraming, len(frame))
	}
	counter := binary.BigEndian.Uint32(frame[8:12])
	count := binary.BigEndian.Uint32(frame[12:16])
	payload := frame[envelopeHeaderLength : len(frame)-flagLength]
	// Every command occupies at least ModeCommandLength bytes.
	if uint64(count)*ModeCommandLength > uint64(len(payload)) {
		return Envelope{}, fmt.Errorf("%w: declared %d commands in %d bytes", ErrMalformedEnvelope, count, len(payload))
	}
	cmds, err := DecodeCommands(payload, int(count))
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Counter: counter, Commands: cmds}, nil
}

func checkFrame(frame []byte) error {
	if len(frame) < statusHeaderLength+flagLength {
		return fmt.Errorf("%w: frame length %d", ErrFraming, len(frame))
	}
	if binary.BigEndian.Uint32(frame) != StartFlag {
		return fmt.Errorf("%w: bad start flag %#08x", ErrFraming, binary.BigEndian.Uint32(frame))
	}
	if n := binary.BigEndian.Uint32(frame[4:8]); int(n) != len(frame) {
		return fmt.Errorf("%w: declared length %d, frame length %d", ErrFraming, n, len(frame))
	}
	if end := binary.BigEndian.Uint32(frame[len(frame)-flagLength:]); end != EndFlag {
		return fmt.Errorf("%w: bad end flag %#08x", ErrFraming, end)
	}
	return nil
}

// EncodeStatus frames an aggregated status payload.
func EncodeStatus(millisOfDay uint32, payload []byte) []byte {
	length := statusHeaderLength + len(payload) + flagLength
	w := bits.NewWriter(length)
	w.U32(StartFlag)
	w.U32(uint32(length))
	w.U32(millisOfDay)
	w.Write(payload)
	w.U32(EndFlag)
	return w.Bytes()
}

// DecodeStatus returns the timestamp and payload of a status frame.
func DecodeStatus(frame []byte) (uint32, []byte, error) {
	if err := checkFrame(frame); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint32(frame[8:12]), frame[statusHeaderLength : len(frame)-flagLength], nil
}
