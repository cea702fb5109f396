package image

import (
	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/errors"
)

// rawAtom is one decoded atom pool entry.
type rawAtom struct {
	text string
	i    int64
	f    float64
}

// writeAtomPool writes every needed atom, kind by kind in bucket order.
func writeAtomPool(w *Writer, t *atom.Table) {
	for _, kind := range atom.Kinds {
		needed := t.Needed(kind)
		w.WriteI64(int64(len(needed)))
		for _, a := range needed {
			switch kind {
			case atom.Integer:
				w.WriteI64(a.Int())
			case atom.Float:
				w.WriteF64(a.Float())
			case atom.BitMap:
				w.WriteBlob(a.Bits())
			default:
				w.WriteName(a.Text())
			}
		}
	}
}

// readAtom reads one pool entry. Text and bitmap entries longer than limit
// are rejected before they are allocated.
func readAtom(r *Reader, kind atom.Kind, limit int64) (rawAtom, error) {
	var v rawAtom
	var err error
	switch kind {
	case atom.Integer:
		v.i, err = r.ReadI64()
	case atom.Float:
		v.f, err = r.ReadF64()
	case atom.BitMap:
		var b []byte
		b, err = r.ReadBlob(limit)
		v.text = string(b)
	default:
		v.text, err = r.ReadName(limit)
	}
	return v, err
}

func intern(t *atom.Table, kind atom.Kind, v rawAtom) *atom.Atom {
	switch kind {
	case atom.Symbol:
		return t.Symbol(v.text)
	case atom.String:
		return t.String(v.text)
	case atom.InstanceName:
		return t.InstanceName(v.text)
	case atom.Integer:
		return t.Integer(v.i)
	case atom.Float:
		return t.Float(v.f)
	default:
		return t.BitMap([]byte(v.text))
	}
}

// readAtomPool interns the saved pool and installs it as the bucket
// arrays relocation resolves through. visit, if set, sees every count.
func readAtomPool(r *Reader, lc *LoadContext, visit func(atom.Kind, int64)) error {
	limit := DefaultMaxSegmentBytes
	if lc != nil {
		limit = lc.opts.MaxSegmentBytes
	}
	for _, kind := range atom.Kinds {
		n, err := r.ReadI64()
		if err != nil {
			return err
		}
		if visit != nil {
			visit(kind, n)
		}
		if lc == nil {
			if n < 0 {
				return errors.Format("atoms", "negative %s count %d", kind, n)
			}
			for i := int64(0); i < n; i++ {
				if _, err := readAtom(r, kind, limit); err != nil {
					return err
				}
			}
			continue
		}
		if err := lc.CheckAlloc("atoms", n); err != nil {
			return err
		}
		bucket := make([]*atom.Atom, n)
		for i := range bucket {
			v, err := readAtom(r, kind, limit)
			if err != nil {
				return err
			}
			bucket[i] = intern(lc.atoms, kind, v)
		}
		lc.atoms.Install(kind, bucket)
	}
	return nil
}
