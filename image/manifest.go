package image

import (
	"bufio"
	"io"

	"github.com/google/uuid"

	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image/internal/binary"
)

// Segment locates one item segment inside an image.
type Segment struct {
	Name   string  `json:"name" yaml:"name"`
	Counts []int64 `json:"counts,omitempty" yaml:"counts,omitempty"`
	Offset int64   `json:"offset" yaml:"offset"`
	Size   uint64  `json:"size" yaml:"size"`
}

// Manifest is the table of contents of an image, read without
// materializing anything.
type Manifest struct {
	Atoms            map[string]int64 `json:"atoms" yaml:"atoms"`
	Storage          []Segment        `json:"storage" yaml:"storage"`
	Data             []Segment        `json:"data" yaml:"data"`
	ID               uuid.UUID        `json:"id" yaml:"id"`
	Expressions      int64            `json:"expressions" yaml:"expressions"`
	ExpressionOffset int64            `json:"expression_offset" yaml:"expression_offset"`
	Size             int64            `json:"size" yaml:"size"`
	Version          uint32           `json:"version" yaml:"version"`
}

// Counts returns the storage counts an item declared, or nil.
func (m *Manifest) Counts(item string) []int64 {
	for _, s := range m.Storage {
		if s.Name == item {
			return s.Counts
		}
	}
	return nil
}

// DataSegment returns the data segment of an item.
func (m *Manifest) DataSegment(item string) (Segment, bool) {
	for _, s := range m.Data {
		if s.Name == item {
			return s, true
		}
	}
	return Segment{}, false
}

// ReadManifest walks an image's framing and returns where everything is.
// Storage segments are decoded as int64 counts.
func ReadManifest(r io.Reader) (*Manifest, error) {
	rd := binary.NewReader(bufio.NewReader(r))
	p, err := readPrefix(rd)
	if err != nil {
		return nil, inspectErr(err)
	}
	m := &Manifest{ID: p.id, Version: p.version, Atoms: make(map[string]int64)}

	if err := readAtomPool(rd, nil, func(k atom.Kind, n int64) { m.Atoms[k.String()] = n }); err != nil {
		return nil, inspectErr(loadErr("atoms", rd, err))
	}
	if m.Expressions, err = rd.ReadI64(); err != nil {
		return nil, inspectErr(loadErr(exprItem, rd, err))
	}
	n, err := rd.ReadU32LE()
	if err != nil {
		return nil, inspectErr(loadErr("segments", rd, err))
	}
	for tier := 0; tier < 2; tier++ {
		for i := uint32(0); i < n; i++ {
			seg, err := readSegment(rd, tier == 0)
			if err != nil {
				return nil, inspectErr(err)
			}
			if tier == 0 {
				m.Storage = append(m.Storage, seg)
			} else {
				m.Data = append(m.Data, seg)
			}
		}
	}

	m.ExpressionOffset = rd.Position()
	count, err := rd.ReadI64()
	if err != nil {
		return nil, inspectErr(loadErr(exprItem, rd, err))
	}
	if count != m.Expressions {
		return nil, inspectErr(errors.Format(exprItem, "segment holds %d records, prefix declared %d", count, m.Expressions))
	}
	if count < 0 {
		return nil, inspectErr(errors.Format(exprItem, "negative record count %d", count))
	}
	if err := rd.Skip(count * ExpressionRecordSize); err != nil {
		return nil, inspectErr(loadErr(exprItem, rd, err))
	}
	end, err := rd.ReadBytes(len(EndMarker))
	if err != nil {
		return nil, inspectErr(loadErr("end", rd, err))
	}
	if string(end) != EndMarker {
		return nil, inspectErr(errors.Format("end", "bad end marker %q", end))
	}
	m.Size = rd.Position()
	return m, nil
}

func readSegment(rd *Reader, counts bool) (Segment, error) {
	name, err := rd.ReadName(MaxNameBytes)
	if err != nil {
		return Segment{}, loadErr("segments", rd, err)
	}
	size, err := rd.ReadU64LE()
	if err != nil {
		return Segment{}, loadErr(name, rd, err)
	}
	seg := Segment{Name: name, Offset: rd.Position(), Size: size}
	if !counts || size%8 != 0 || size > 1<<16 {
		if err := rd.Skip(int64(size)); err != nil {
			return seg, loadErr(name, rd, err)
		}
		return seg, nil
	}
	body, err := rd.ReadBytes(int(size))
	if err != nil {
		return seg, loadErr(name, rd, err)
	}
	sub := binary.NewBytesReader(body)
	for sub.Remaining() > 0 {
		v, _ := sub.ReadI64()
		seg.Counts = append(seg.Counts, v)
	}
	return seg, nil
}

func inspectErr(err error) error {
	if ie, ok := err.(*errors.Error); ok {
		ie.Phase = errors.PhaseInspect
		return ie
	}
	return errors.Wrap(errors.PhaseInspect, errors.KindFormat, err, "read manifest")
}
