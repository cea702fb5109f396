package image

import (
	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/kb"
)

// ModuleItemSize is the encoded size of a module-item header record:
// owning module, first and last construct index as int64.
const ModuleItemSize = 24

// WriteModuleItems writes one module-item header per module, in module
// enumeration order, for kind. A module owning no constructs of the kind
// writes -1 for first and last.
func (c *SaveContext) WriteModuleItems(w *Writer, kind kb.Kind) error {
	for _, m := range c.Modules() {
		if m.BsaveID < 0 {
			return errors.Internal(errors.PhaseSave, kind.String(), "module %q was not numbered", m.NameText())
		}
		first, last := int64(-1), int64(-1)
		if mi := m.Items[kind]; mi != nil {
			if mi.First != nil {
				first = mi.First.ConstructHeader().BsaveID
			}
			if mi.Last != nil {
				last = mi.Last.ConstructHeader().BsaveID
			}
		}
		w.WriteI64(m.BsaveID)
		w.WriteI64(first)
		w.WriteI64(last)
	}
	return nil
}

// LoadModuleItems reads one module-item header per element of items and
// relocates it: the module through the module table, first and last
// through constructs. Each module's list for kind is pointed at its item.
func LoadModuleItems[T any, P ConstructPtr[T]](lc *LoadContext, r *Reader, kind kb.Kind, items *Arena[kb.ModuleItem], constructs *Arena[T]) error {
	for i := range items.Items() {
		var owner, first, last int64
		var err error
		if owner, err = r.ReadI64(); err != nil {
			return err
		}
		if first, err = r.ReadI64(); err != nil {
			return err
		}
		if last, err = r.ReadI64(); err != nil {
			return err
		}
		if (first == -1) != (last == -1) {
			return errors.Format(kind.String(), "module item %d has first %d and last %d", i, first, last)
		}

		m, err := lc.Module(owner)
		if err != nil {
			return err
		}
		f, err := constructs.Ref(first)
		if err != nil {
			return err
		}
		l, err := constructs.Ref(last)
		if err != nil {
			return err
		}

		mi := &items.Items()[i]
		mi.Module = m
		mi.First, mi.Last = nil, nil
		if f != nil {
			mi.First = P(f)
			mi.Last = P(l)
		}
		m.Items[kind] = mi
	}
	return nil
}

// ReleaseModuleItems detaches a kind's loaded module items from their
// modules.
func ReleaseModuleItems(items *Arena[kb.ModuleItem], kind kb.Kind) {
	for i := range items.Items() {
		mi := &items.Items()[i]
		if mi.Module != nil && mi.Module.Items[kind] == mi {
			mi.Module.Items[kind] = nil
		}
		*mi = kb.ModuleItem{}
	}
	items.Free()
}

// ModulesItemName names the built-in defmodule item.
const ModulesItemName = "defmodule"

const moduleRecordSize = 8

// modulesItem saves the module names so every kind's module-item headers
// have a module table to relocate into. It is always registered first.
type modulesItem struct {
	mods Arena[kb.Module]
}

func (*modulesItem) Name() string  { return ModulesItemName }
func (*modulesItem) Priority() int { return PriorityModules }

func (it *modulesItem) Find(c *SaveContext) error {
	for i, m := range c.Modules() {
		m.BsaveID = int64(i)
		c.MarkAtom(m.Name)
	}
	return nil
}

func (*modulesItem) WriteExpressions(*SaveContext, *Writer) error { return nil }

func (*modulesItem) WriteStorage(c *SaveContext, w *Writer) error {
	w.WriteI64(int64(len(c.Modules())))
	return nil
}

func (*modulesItem) WriteData(c *SaveContext, w *Writer) error {
	for _, m := range c.Modules() {
		name, err := c.AtomIndex(m.Name)
		if err != nil {
			return err
		}
		w.WriteI64(name)
	}
	return nil
}

func (it *modulesItem) LoadStorage(lc *LoadContext, r *Reader, size uint64) error {
	if size != 8 {
		return errors.SizeMismatch(ModulesItemName, size, 8)
	}
	n, err := r.ReadI64()
	if err != nil {
		return err
	}
	if err := lc.CheckAlloc(ModulesItemName, n); err != nil {
		return err
	}
	it.mods = NewArena[kb.Module](ModulesItemName, n)
	lc.modules = &it.mods
	return nil
}

func (it *modulesItem) LoadData(lc *LoadContext, r *Reader, size uint64) error {
	if want := uint64(it.mods.Len()) * moduleRecordSize; size != want {
		return errors.SizeMismatch(ModulesItemName, size, want)
	}
	for i := range it.mods.Items() {
		idx, err := r.ReadI64()
		if err != nil {
			return err
		}
		name, err := lc.Atom(atom.Symbol, idx)
		if err != nil {
			return err
		}
		m := &it.mods.Items()[i]
		m.Name = name
		m.BsaveID = -1
	}
	return nil
}

func (it *modulesItem) Clear(lc *LoadContext) error {
	var first error
	for i := range it.mods.Items() {
		m := &it.mods.Items()[i]
		if err := lc.Release(m.Name); err != nil && first == nil {
			first = err
		}
		*m = kb.Module{}
	}
	it.mods.Free()
	if lc.modules == &it.mods {
		lc.modules = nil
	}
	return first
}

// loadedModules returns the rebuilt modules in saved order.
func (lc *LoadContext) loadedModules() []*kb.Module {
	if lc.modules == nil {
		return nil
	}
	mods := make([]*kb.Module, lc.modules.Len())
	for i := range mods {
		mods[i] = &lc.modules.Items()[i]
	}
	return mods
}
