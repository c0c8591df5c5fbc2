package binary

import (
	"encoding/binary"

	"github.com/wippyai/unwind/errors"
)

// Writer is a sequential little-endian cursor over a caller-owned span.
// The span must be sized up front; writing past its end panics.
type Writer struct {
	buf []byte
	off int
}

// NewWriter creates a Writer positioned at the start of buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int {
	return w.off
}

// Bytes returns the written prefix of the span.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.off]
}

// WriteU8 writes a single byte.
func (w *Writer) WriteU8(v uint8) {
	w.reserve(1)
	w.buf[w.off] = v
	w.off++
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	w.reserve(2)
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	w.reserve(4)
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *Writer) reserve(n int) {
	if w.off+n > len(w.buf) {
		panic(errors.New(errors.PhaseEmit, errors.KindOutOfBounds).
			Path("writer").
			Value(w.off+n).
			Detail("write of %d bytes at offset %d overruns buffer of length %d", n, w.off, len(w.buf)).
			Build())
	}
}
