package binary

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Writer provides buffered writing utilities for image encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU32 writes an unsigned LEB128 encoded uint32.
func (w *Writer) WriteU32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteName writes a UTF-8 encoded name (length-prefixed).
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteBlob writes a length-prefixed byte sequence.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf.Write(b)
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU64LE writes a little-endian uint64 (fixed 8 bytes).
func (w *Writer) WriteU64LE(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteI64 writes a little-endian int64 (fixed 8 bytes).
func (w *Writer) WriteI64(v int64) {
	w.WriteU64LE(uint64(v))
}

// WriteI16 writes a little-endian int16 (fixed 2 bytes).
func (w *Writer) WriteI16(v int16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(v))
	w.buf.Write(buf[:])
}

// WriteF64 writes an IEEE-754 float64 (fixed 8 bytes).
func (w *Writer) WriteF64(v float64) {
	w.WriteU64LE(math.Float64bits(v))
}

// WriteBool writes a boolean as a single byte.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// Section writes name, a uint64 byte-count, and the body.
func (w *Writer) Section(name string, body []byte) {
	w.WriteName(name)
	w.WriteU64LE(uint64(len(body)))
	w.buf.Write(body)
}
