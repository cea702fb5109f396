package kinds

import (
	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kb"
)

// ownerItem is the binary item of a kind whose constructs own exactly one
// expression tree plus a fixed-size payload.
//
// Storage: module count, construct count.
// Data: module-item headers, then per construct the header, the payload
// and the expression index.
type ownerItem[T any, P image.ConstructPtr[T]] struct {
	name     string
	kind     kb.Kind
	priority int
	payload  int
	expr     func(P) **kb.Expr
	write    func(*image.Writer, P)
	read     func(*image.Reader, P) error

	items      image.Arena[kb.ModuleItem]
	constructs image.Arena[T]
}

type ownerCounts struct {
	modules    int64
	constructs int64
}

func (it *ownerItem[T, P]) Name() string  { return it.name }
func (it *ownerItem[T, P]) Priority() int { return it.priority }

func (it *ownerItem[T, P]) each(env *kb.Env, fn func(P) error) error {
	return env.Each(it.kind, func(c kb.Construct) error {
		p, ok := c.(P)
		if !ok {
			return errors.Internal(errors.PhaseSave, it.name, "construct %q is %T", c.ConstructHeader().NameText(), c)
		}
		return fn(p)
	})
}

func (it *ownerItem[T, P]) Find(c *image.SaveContext) error {
	st := image.SaveState[ownerCounts](c, it.name)
	*st = ownerCounts{modules: int64(len(c.Modules()))}
	err := it.each(c.Env(), func(p P) error {
		c.MarkHeader(p, st.constructs)
		st.constructs++
		return c.MarkExpression(*it.expr(p))
	})
	debugf("%s: marked %d constructs", it.name, st.constructs)
	return err
}

func (it *ownerItem[T, P]) WriteExpressions(c *image.SaveContext, w *image.Writer) error {
	return it.each(c.Env(), func(p P) error {
		return c.WriteExpression(w, *it.expr(p))
	})
}

func (it *ownerItem[T, P]) WriteStorage(c *image.SaveContext, w *image.Writer) error {
	st := image.SaveState[ownerCounts](c, it.name)
	w.WriteI64(st.modules)
	w.WriteI64(st.constructs)
	return nil
}

func (it *ownerItem[T, P]) WriteData(c *image.SaveContext, w *image.Writer) error {
	if err := c.WriteModuleItems(w, it.kind); err != nil {
		return err
	}
	return it.each(c.Env(), func(p P) error {
		if err := c.WriteHeader(w, p); err != nil {
			return err
		}
		it.write(w, p)
		idx, err := c.ReserveExpression(*it.expr(p))
		if err != nil {
			return err
		}
		w.WriteI64(idx)
		return nil
	})
}

func (it *ownerItem[T, P]) recordSize() uint64 {
	return uint64(image.HeaderSize + it.payload + 8)
}

func (it *ownerItem[T, P]) LoadStorage(lc *image.LoadContext, r *image.Reader, size uint64) error {
	if size != 16 {
		return errors.SizeMismatch(it.name, size, 16)
	}
	modules, err := r.ReadI64()
	if err != nil {
		return err
	}
	constructs, err := r.ReadI64()
	if err != nil {
		return err
	}
	if err := lc.CheckAlloc(it.name, modules); err != nil {
		return err
	}
	if err := lc.CheckAlloc(it.name, constructs); err != nil {
		return err
	}
	it.items = image.NewArena[kb.ModuleItem](it.name+".modules", modules)
	it.constructs = image.NewArena[T](it.name, constructs)
	lc.RegisterKind(it.kind, image.ArenaResolver[T, P](&it.constructs))
	return nil
}

func (it *ownerItem[T, P]) LoadData(lc *image.LoadContext, r *image.Reader, size uint64) error {
	want := uint64(it.items.Len())*image.ModuleItemSize + uint64(it.constructs.Len())*it.recordSize()
	if size != want {
		return errors.SizeMismatch(it.name, size, want)
	}
	if err := image.LoadModuleItems[T, P](lc, r, it.kind, &it.items, &it.constructs); err != nil {
		return err
	}
	for i := range it.constructs.Items() {
		p := P(&it.constructs.Items()[i])
		rec, err := image.ReadHeader(r)
		if err != nil {
			return err
		}
		if err := image.RebuildHeader(lc, rec, p, &it.items, &it.constructs); err != nil {
			return err
		}
		if err := it.read(r, p); err != nil {
			return err
		}
		idx, err := r.ReadI64()
		if err != nil {
			return err
		}
		e, err := lc.Expression(idx)
		if err != nil {
			return err
		}
		*it.expr(p) = e
	}
	debugf("%s: loaded %d constructs", it.name, it.constructs.Len())
	return nil
}

func (it *ownerItem[T, P]) Clear(lc *image.LoadContext) error {
	var first error
	for i := range it.constructs.Items() {
		p := P(&it.constructs.Items()[i])
		if err := lc.ReleaseHeader(p); err != nil && first == nil {
			first = err
		}
		*it.expr(p) = nil
	}
	lc.UnregisterKind(it.kind)
	image.ReleaseModuleItems(&it.items, it.kind)
	it.constructs.Free()
	return first
}
