package binary

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewBytesReader(data)

	for i, want := range data {
		if r.Position() != int64(i) {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if r.Position() != 3 {
		t.Errorf("final position: got %d, want 3", r.Position())
	}

	_, err := r.ReadByte()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderReadBytes(t *testing.T) {
	r := NewBytesReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	got, err := r.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadBytes: got %v, want [1 2 3]", got)
	}
	if r.Position() != 3 {
		t.Errorf("position: got %d, want 3", r.Position())
	}
	if r.Remaining() != 2 {
		t.Errorf("remaining: got %d, want 2", r.Remaining())
	}

	_, err = r.ReadBytes(10)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF reading past end, got %v", err)
	}

	if _, err := r.ReadBytes(-1); err == nil {
		t.Error("expected error for negative length")
	}
}

func TestReaderStreaming(t *testing.T) {
	r := NewReader(bufio.NewReader(bytes.NewReader([]byte{1, 2})))
	if r.Remaining() != -1 {
		t.Errorf("streaming reader remaining = %d, want -1", r.Remaining())
	}
	_, err := r.ReadBytes(4)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short stream: got %v, want ErrUnexpectedEOF", err)
	}
	if r.Position() != 2 {
		t.Errorf("position after short read = %d, want 2", r.Position())
	}
}

func TestReaderSkip(t *testing.T) {
	r := NewBytesReader([]byte{1, 2, 3, 4})
	if err := r.Skip(3); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if r.Position() != 3 {
		t.Errorf("position = %d, want 3", r.Position())
	}
	if err := r.Skip(2); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Skip past end: got %v, want ErrUnexpectedEOF", err)
	}
	if err := NewBytesReader(nil).Skip(-1); err == nil {
		t.Error("Skip(-1) should fail")
	}
}

func TestReaderReadU32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x01}, 255},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		r := NewBytesReader(tt.encoded)
		got, err := r.ReadU32()
		if err != nil {
			t.Errorf("ReadU32(%v): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadU32(%v): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestReaderReadU32Overflow(t *testing.T) {
	r := NewBytesReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	_, err := r.ReadU32()
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestReaderReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("défmodule")
	r := NewBytesReader(w.Bytes())
	got, err := r.ReadName(64)
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if got != "défmodule" {
		t.Errorf("ReadName: got %q", got)
	}

	bad := NewBytesReader([]byte{0x02, 0xff, 0xfe})
	if _, err := bad.ReadName(64); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestFixedWidthRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU32LE(0xdeadbeef)
	w.WriteU64LE(math.MaxUint64 - 1)
	w.WriteI64(-1)
	w.WriteI16(-300)
	w.WriteF64(math.Pi)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteBlob([]byte{0xde, 0xad})

	if w.Len() != 4+8+8+2+8+1+1+3 {
		t.Fatalf("Len = %d", w.Len())
	}

	r := NewBytesReader(w.Bytes())
	if v, err := r.ReadU32LE(); err != nil || v != 0xdeadbeef {
		t.Errorf("ReadU32LE = %x, %v", v, err)
	}
	if v, err := r.ReadU64LE(); err != nil || v != math.MaxUint64-1 {
		t.Errorf("ReadU64LE = %d, %v", v, err)
	}
	if v, err := r.ReadI64(); err != nil || v != -1 {
		t.Errorf("ReadI64 = %d, %v", v, err)
	}
	if v, err := r.ReadI16(); err != nil || v != -300 {
		t.Errorf("ReadI16 = %d, %v", v, err)
	}
	if v, err := r.ReadF64(); err != nil || v != math.Pi {
		t.Errorf("ReadF64 = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || !v {
		t.Errorf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v {
		t.Errorf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBlob(16); err != nil || !bytes.Equal(v, []byte{0xde, 0xad}) {
		t.Errorf("ReadBlob = %v, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", r.Remaining())
	}
}

func TestLittleEndianLayout(t *testing.T) {
	w := NewWriter()
	w.WriteI64(1)
	want := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("WriteI64(1) = %v, want %v", w.Bytes(), want)
	}
}

func TestSection(t *testing.T) {
	w := NewWriter()
	w.Section("deffunction", []byte{1, 2, 3})
	w.Section("empty", nil)

	r := NewBytesReader(w.Bytes())
	for _, want := range []struct {
		name string
		body []byte
	}{
		{"deffunction", []byte{1, 2, 3}},
		{"empty", []byte{}},
	} {
		name, err := r.ReadName(64)
		if err != nil {
			t.Fatalf("name: %v", err)
		}
		size, err := r.ReadU64LE()
		if err != nil {
			t.Fatalf("size: %v", err)
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			t.Fatalf("body: %v", err)
		}
		if name != want.name || !bytes.Equal(body, want.body) {
			t.Errorf("section = %q %v, want %q %v", name, body, want.name, want.body)
		}
	}
}

func TestReadBlobLimit(t *testing.T) {
	w := NewWriter()
	w.WriteU32(512 << 20)
	// A streaming reader cannot report its remaining length, so the limit
	// is all that stands between the prefix and the allocation.
	r := NewReader(bufio.NewReader(io.MultiReader(bytes.NewReader(w.Bytes()), bytes.NewReader([]byte("abc")))))
	if r.Remaining() != -1 {
		t.Fatalf("Remaining = %d, want -1", r.Remaining())
	}

	_, err := r.ReadBlob(1024)
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if pe.Position != int64(w.Len()) {
		t.Errorf("position = %d, want %d", pe.Position, w.Len())
	}

	w = NewWriter()
	w.WriteName("deffunction")
	if _, err := NewBytesReader(w.Bytes()).ReadName(4); !errors.Is(err, ErrTooLong) {
		t.Errorf("ReadName over limit: got %v", err)
	}
	if got, err := NewBytesReader(w.Bytes()).ReadName(11); err != nil || got != "deffunction" {
		t.Errorf("ReadName at limit = %q, %v", got, err)
	}
}

func TestParseError(t *testing.T) {
	r := NewBytesReader([]byte{1, 2})
	_, _ = r.ReadByte()
	_, err := r.ReadBytes(-1)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if pe.Position != 1 {
		t.Errorf("ParseError = %+v", pe)
	}
	if msg := err.Error(); msg != "at position 1: negative length -1" {
		t.Errorf("message = %q", msg)
	}

	_, err = r.ReadBytes(5)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ParseError should unwrap to its cause, got %v", err)
	}
}
