// Package bits reads and writes the fixed-width big-endian fields used by
// the ACU telegrams.
package bits

import (
	"encoding/binary"
	"errors"
	"math"
)

var ErrShort = errors.New("bits: short buffer")

// Writer appends big-endian fields to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) I8(v int8) { w.buf = append(w.buf, uint8(v)) }

func (w *Writer) U16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) I16(v int16) { w.U16(uint16(v)) }

func (w *Writer) U32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) U64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) Write(p []byte) { w.buf = append(w.buf, p...) }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes big-endian fields. The first short read is sticky: later
// calls return zero values and Err reports ErrShort.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShort
		r.off = len(r.buf)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) I8() int8 { return int8(r.U8()) }

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) I16() int16 { return int16(r.U16()) }

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) F64() float64 { return math.Float64frombits(r.U64()) }

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) Skip(n int) { r.take(n) }

// Next returns the next n bytes without copying.
func (r *Reader) Next(n int) []byte { return r.take(n) }

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) Offset() int { return r.off }

func (r *Reader) Err() error { return r.err }

// Pack sets bit i of the result when flags[i] is true. Flags beyond 64 are ignored.
func Pack(flags ...bool) uint64 {
	var word uint64
	for i, f := range flags {
		if i >= 64 {
			break
		}
		if f {
			word |= 1 << uint(i)
		}
	}
	return word
}

// Unpack is the inverse of Pack for the low n bits of word.
func Unpack(word uint64, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = (word>>uint(i))&1 == 1
	}
	return out
}

// BytesToBits expands bytes LSB first.
func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
