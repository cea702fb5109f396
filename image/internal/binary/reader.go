package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

var (
	// ErrOverflow is returned when a LEB128 value exceeds the maximum size.
	ErrOverflow = errors.New("leb128: overflow")

	// ErrTooLong is returned when a length prefix exceeds the caller's limit.
	ErrTooLong = errors.New("length exceeds limit")
)

// ByteReader is the stream a Reader consumes. *bytes.Reader and
// *bufio.Reader both satisfy it.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// Reader wraps a stream with position tracking and image-specific read methods.
type Reader struct {
	r   ByteReader
	pos int64
}

// NewReader creates a new Reader wrapping the given stream.
func NewReader(r ByteReader) *Reader {
	return &Reader{r: r}
}

// NewBytesReader creates a Reader over an in-memory segment.
func NewBytesReader(data []byte) *Reader {
	return NewReader(bytes.NewReader(data))
}

// Position returns the current byte position.
func (r *Reader) Position() int64 {
	return r.pos
}

// Remaining returns the number of unread bytes for in-memory readers, or -1.
func (r *Reader) Remaining() int64 {
	if br, ok := r.r.(*bytes.Reader); ok {
		return int64(br.Len())
	}
	return -1
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, r.wrapError(fmt.Errorf("negative length %d", n))
	}
	if rem := r.Remaining(); rem >= 0 && int64(n) > rem {
		return nil, r.wrapError(io.ErrUnexpectedEOF)
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(r.r, buf)
	r.pos += int64(got)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Skip discards exactly n bytes.
func (r *Reader) Skip(n int64) error {
	if n < 0 {
		return r.wrapError(fmt.Errorf("negative length %d", n))
	}
	got, err := io.CopyN(io.Discard, r.r, n)
	r.pos += got
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// ReadU32 reads an unsigned LEB128 encoded uint32.
func (r *Reader) ReadU32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// ReadName reads a UTF-8 encoded name (length-prefixed byte sequence) of
// at most limit bytes.
func (r *Reader) ReadName(limit int64) (string, error) {
	data, err := r.ReadBlob(limit)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrapError(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

// ReadBlob reads a length-prefixed byte sequence of at most limit bytes.
// The length is checked before anything is allocated.
func (r *Reader) ReadBlob(limit int64) ([]byte, error) {
	length, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int64(length) > limit {
		return nil, r.wrapError(fmt.Errorf("%w: %d > %d", ErrTooLong, length, limit))
	}
	return r.ReadBytes(int(length))
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64LE reads a little-endian uint64 (fixed 8 bytes).
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadI64 reads a little-endian int64 (fixed 8 bytes).
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64LE()
	return int64(v), err
}

// ReadI16 reads a little-endian int16 (fixed 2 bytes).
func (r *Reader) ReadI16() (int16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(buf)), nil
}

// ReadF64 reads an IEEE-754 float64 (fixed 8 bytes).
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64LE()
	return math.Float64frombits(v), err
}

// ReadBool reads a single byte as a boolean.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) wrapError(err error) error {
	return &ParseError{Position: r.pos, Err: err}
}

// ParseError is a malformed-input error at a stream position.
type ParseError struct {
	Err      error
	Position int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
