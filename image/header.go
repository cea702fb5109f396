package image

import (
	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/kb"
)

// HeaderSize is the encoded size of a construct header record: name
// bucket, module-item index and next index as int64.
const HeaderSize = 24

// HeaderRecord is a construct header as stored in the image.
type HeaderRecord struct {
	Name   int64
	Module int64
	Next   int64
}

// ConstructPtr is satisfied by pointers to the concrete construct types.
type ConstructPtr[T any] interface {
	*T
	kb.Construct
}

// MarkHeader flags con's name for the atom pool and stashes index as its
// save-time id.
func (c *SaveContext) MarkHeader(con kb.Construct, index int64) {
	h := con.ConstructHeader()
	c.MarkAtom(h.Name)
	h.BsaveID = index
}

// WriteHeader writes con's header record. Every construct must have been
// marked, and the defmodule item must have numbered the modules.
func (c *SaveContext) WriteHeader(w *Writer, con kb.Construct) error {
	h := con.ConstructHeader()
	name, err := c.AtomIndex(h.Name)
	if err != nil {
		return err
	}
	if h.Module == nil || h.Module.Module == nil || h.Module.Module.BsaveID < 0 {
		return errors.Internal(errors.PhaseSave, con.Kind().String(), "%q has no saved module", h.NameText())
	}
	next := int64(-1)
	if h.Next != nil {
		next = h.Next.ConstructHeader().BsaveID
		if next < 0 {
			return errors.Internal(errors.PhaseSave, con.Kind().String(), "%q links to an unmarked construct", h.NameText())
		}
	}
	w.WriteI64(name)
	w.WriteI64(h.Module.Module.BsaveID)
	w.WriteI64(next)
	return nil
}

// ReadHeader reads a header record.
func ReadHeader(r *Reader) (HeaderRecord, error) {
	var rec HeaderRecord
	var err error
	if rec.Name, err = r.ReadI64(); err != nil {
		return rec, err
	}
	if rec.Module, err = r.ReadI64(); err != nil {
		return rec, err
	}
	rec.Next, err = r.ReadI64()
	return rec, err
}

// RebuildHeader relocates rec into c's header: the name through the atom
// pool, the module item through items and next through constructs.
// Transient fields are reset.
func RebuildHeader[T any, P ConstructPtr[T]](lc *LoadContext, rec HeaderRecord, c P, items *Arena[kb.ModuleItem], constructs *Arena[T]) error {
	h := c.ConstructHeader()
	mi, err := items.At(rec.Module)
	if err != nil {
		return err
	}
	next, err := constructs.Ref(rec.Next)
	if err != nil {
		return err
	}
	name, err := lc.Atom(atom.Symbol, rec.Name)
	if err != nil {
		return err
	}
	h.Name = name
	h.Module = mi
	h.Next = nil
	if next != nil {
		h.Next = P(next)
	}
	h.PPForm = ""
	h.UserData = nil
	h.BsaveID = -1
	return nil
}

// ReleaseHeader drops the header's name reference. Headers that were
// never rebuilt are ignored.
func (lc *LoadContext) ReleaseHeader(c kb.Construct) error {
	h := c.ConstructHeader()
	if h.Name == nil {
		return nil
	}
	err := lc.Release(h.Name)
	h.Name = nil
	return err
}

// ArenaResolver resolves callable references into a kind's construct arena.
func ArenaResolver[T any, P ConstructPtr[T]](constructs *Arena[T]) Resolver {
	return func(i int64) (kb.Construct, error) {
		c, err := constructs.At(i)
		if err != nil {
			return nil, err
		}
		return P(c), nil
	}
}
