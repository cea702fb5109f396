package kinds

import (
	"fmt"
	"math"

	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kb"
)

// Record sizes of the defgeneric data segment.
const (
	genericPayload  = 8 + 2         // methods index, method count
	methodSize      = 5*2 + 1 + 2*8 // five int16, system flag, restrictions and actions index
	restrictionSize = 8 + 8 + 2     // types index, query index, type count
	typeSize        = 8             // type code
	genericStorage  = 5 * 8         // modules, generics, methods, restrictions, types
)

// genericItem is the binary item of defgeneric, the method-table owner.
//
// Expressions are written as every method body of every generic, then
// every restriction query. Data is module-item headers, generic records,
// method records, restriction records and type codes, each tier in
// construct order.
type genericItem struct {
	items        image.Arena[kb.ModuleItem]
	generics     image.Arena[kb.Generic]
	methods      image.Arena[kb.Method]
	restrictions image.Arena[kb.Restriction]
	types        image.Arena[*atom.Atom]
}

type genericCounts struct {
	modules      int64
	generics     int64
	methods      int64
	restrictions int64
	types        int64
}

// Defgenerics returns the defgeneric item.
func Defgenerics() image.Item {
	return &genericItem{}
}

func (*genericItem) Name() string  { return DefgenericName }
func (*genericItem) Priority() int { return image.PriorityDefgeneric }

func eachGeneric(env *kb.Env, fn func(*kb.Generic) error) error {
	return env.Each(kb.KindGeneric, func(c kb.Construct) error {
		g, ok := c.(*kb.Generic)
		if !ok {
			return errors.Internal(errors.PhaseSave, DefgenericName, "construct %q is %T", c.ConstructHeader().NameText(), c)
		}
		return fn(g)
	})
}

func (it *genericItem) Find(c *image.SaveContext) error {
	st := image.SaveState[genericCounts](c, DefgenericName)
	*st = genericCounts{modules: int64(len(c.Modules()))}
	return eachGeneric(c.Env(), func(g *kb.Generic) error {
		if len(g.Methods) > math.MaxInt16 {
			return countErr(g, "methods", len(g.Methods))
		}
		c.MarkHeader(g, st.generics)
		st.generics++
		for i := range g.Methods {
			m := &g.Methods[i]
			st.methods++
			if err := c.MarkExpression(m.Actions); err != nil {
				return err
			}
			if len(m.Restrictions) > math.MaxInt16 {
				return countErr(g, fmt.Sprintf("method %d restrictions", m.Index), len(m.Restrictions))
			}
			for j := range m.Restrictions {
				r := &m.Restrictions[j]
				if len(r.Types) > math.MaxInt16 {
					return countErr(g, fmt.Sprintf("method %d restriction %d types", m.Index, j), len(r.Types))
				}
				st.restrictions++
				st.types += int64(len(r.Types))
				for _, t := range r.Types {
					if t == nil || t.Kind() != atom.Integer {
						return errors.Internal(errors.PhaseSave, DefgenericName, "%s method %d has a non-integer type code", g.NameText(), m.Index)
					}
				}
				if err := c.MarkExpression(r.Query); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// countErr reports a count the int16 record fields cannot hold.
func countErr(g *kb.Generic, what string, n int) error {
	return errors.New(errors.PhaseSave, errors.KindInvalidInput).
		Item(DefgenericName).
		Path(g.NameText()).
		Value(n).
		Detail("%d %s exceed %d", n, what, math.MaxInt16).
		Build()
}

func (it *genericItem) WriteExpressions(c *image.SaveContext, w *image.Writer) error {
	err := eachGeneric(c.Env(), func(g *kb.Generic) error {
		for i := range g.Methods {
			if err := c.WriteExpression(w, g.Methods[i].Actions); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return eachGeneric(c.Env(), func(g *kb.Generic) error {
		for i := range g.Methods {
			for j := range g.Methods[i].Restrictions {
				if err := c.WriteExpression(w, g.Methods[i].Restrictions[j].Query); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (it *genericItem) WriteStorage(c *image.SaveContext, w *image.Writer) error {
	st := image.SaveState[genericCounts](c, DefgenericName)
	w.WriteI64(st.modules)
	w.WriteI64(st.generics)
	w.WriteI64(st.methods)
	w.WriteI64(st.restrictions)
	w.WriteI64(st.types)
	return nil
}

func (it *genericItem) WriteData(c *image.SaveContext, w *image.Writer) error {
	if err := c.WriteModuleItems(w, kb.KindGeneric); err != nil {
		return err
	}

	var methodCursor int64
	err := eachGeneric(c.Env(), func(g *kb.Generic) error {
		if err := c.WriteHeader(w, g); err != nil {
			return err
		}
		w.WriteI64(firstIndex(methodCursor, len(g.Methods)))
		w.WriteI16(int16(len(g.Methods)))
		methodCursor += int64(len(g.Methods))
		return nil
	})
	if err != nil {
		return err
	}

	var restrictionCursor int64
	err = eachGeneric(c.Env(), func(g *kb.Generic) error {
		for i := range g.Methods {
			m := &g.Methods[i]
			w.WriteI16(m.Index)
			w.WriteI16(int16(len(m.Restrictions)))
			w.WriteI16(m.MinArgs)
			w.WriteI16(m.MaxArgs)
			w.WriteI16(m.LocalVars)
			w.WriteBool(m.System)
			w.WriteI64(firstIndex(restrictionCursor, len(m.Restrictions)))
			restrictionCursor += int64(len(m.Restrictions))
			actions, err := c.ReserveExpression(m.Actions)
			if err != nil {
				return err
			}
			w.WriteI64(actions)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var typeCursor int64
	err = eachGeneric(c.Env(), func(g *kb.Generic) error {
		for i := range g.Methods {
			for j := range g.Methods[i].Restrictions {
				r := &g.Methods[i].Restrictions[j]
				w.WriteI64(firstIndex(typeCursor, len(r.Types)))
				typeCursor += int64(len(r.Types))
				query, err := c.ReserveExpression(r.Query)
				if err != nil {
					return err
				}
				w.WriteI64(query)
				w.WriteI16(int16(len(r.Types)))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return eachGeneric(c.Env(), func(g *kb.Generic) error {
		for i := range g.Methods {
			for j := range g.Methods[i].Restrictions {
				for _, t := range g.Methods[i].Restrictions[j].Types {
					w.WriteI64(t.Int())
				}
			}
		}
		return nil
	})
}

func firstIndex(cursor int64, n int) int64 {
	if n == 0 {
		return -1
	}
	return cursor
}

func (it *genericItem) LoadStorage(lc *image.LoadContext, r *image.Reader, size uint64) error {
	if size != genericStorage {
		return errors.SizeMismatch(DefgenericName, size, genericStorage)
	}
	var counts [5]int64
	for i := range counts {
		v, err := r.ReadI64()
		if err != nil {
			return err
		}
		if err := lc.CheckAlloc(DefgenericName, v); err != nil {
			return err
		}
		counts[i] = v
	}
	it.items = image.NewArena[kb.ModuleItem](DefgenericName+".modules", counts[0])
	it.generics = image.NewArena[kb.Generic](DefgenericName, counts[1])
	it.methods = image.NewArena[kb.Method](DefgenericName+".methods", counts[2])
	it.restrictions = image.NewArena[kb.Restriction](DefgenericName+".restrictions", counts[3])
	it.types = image.NewArena[*atom.Atom](DefgenericName+".types", counts[4])
	lc.RegisterKind(kb.KindGeneric, image.ArenaResolver[kb.Generic, *kb.Generic](&it.generics))
	return nil
}

func (it *genericItem) dataSize() uint64 {
	return uint64(it.items.Len())*image.ModuleItemSize +
		uint64(it.generics.Len())*(image.HeaderSize+genericPayload) +
		uint64(it.methods.Len())*methodSize +
		uint64(it.restrictions.Len())*restrictionSize +
		uint64(it.types.Len())*typeSize
}

func (it *genericItem) LoadData(lc *image.LoadContext, r *image.Reader, size uint64) error {
	if want := it.dataSize(); size != want {
		return errors.SizeMismatch(DefgenericName, size, want)
	}
	if err := image.LoadModuleItems[kb.Generic, *kb.Generic](lc, r, kb.KindGeneric, &it.items, &it.generics); err != nil {
		return err
	}
	for i := range it.generics.Items() {
		if err := it.loadGeneric(lc, r, &it.generics.Items()[i]); err != nil {
			return err
		}
	}
	for i := range it.methods.Items() {
		if err := it.loadMethod(lc, r, &it.methods.Items()[i]); err != nil {
			return err
		}
	}
	for i := range it.restrictions.Items() {
		if err := it.loadRestriction(lc, r, &it.restrictions.Items()[i]); err != nil {
			return err
		}
	}
	for i := range it.types.Items() {
		code, err := r.ReadI64()
		if err != nil {
			return err
		}
		if code, err = it.typeCode(lc, i, code); err != nil {
			return err
		}
		it.types.Items()[i] = lc.Integer(code)
	}
	debugf("%s: loaded %d generics, %d methods", DefgenericName, it.generics.Len(), it.methods.Len())
	return nil
}

func (it *genericItem) loadGeneric(lc *image.LoadContext, r *image.Reader, g *kb.Generic) error {
	rec, err := image.ReadHeader(r)
	if err != nil {
		return err
	}
	if err := image.RebuildHeader(lc, rec, g, &it.items, &it.generics); err != nil {
		return err
	}
	first, err := r.ReadI64()
	if err != nil {
		return err
	}
	n, err := r.ReadI16()
	if err != nil {
		return err
	}
	g.Methods, err = it.methods.Slice(first, int64(n))
	return err
}

func (it *genericItem) loadMethod(lc *image.LoadContext, r *image.Reader, m *kb.Method) error {
	var n int16
	var err error
	for _, f := range []*int16{&m.Index, &n, &m.MinArgs, &m.MaxArgs, &m.LocalVars} {
		if *f, err = r.ReadI16(); err != nil {
			return err
		}
	}
	if m.System, err = r.ReadBool(); err != nil {
		return err
	}
	first, err := r.ReadI64()
	if err != nil {
		return err
	}
	if m.Restrictions, err = it.restrictions.Slice(first, int64(n)); err != nil {
		return err
	}
	actions, err := r.ReadI64()
	if err != nil {
		return err
	}
	m.Actions, err = lc.Expression(actions)
	m.PPForm = ""
	return err
}

func (it *genericItem) loadRestriction(lc *image.LoadContext, r *image.Reader, rs *kb.Restriction) error {
	first, err := r.ReadI64()
	if err != nil {
		return err
	}
	query, err := r.ReadI64()
	if err != nil {
		return err
	}
	n, err := r.ReadI16()
	if err != nil {
		return err
	}
	if rs.Types, err = it.types.Slice(first, int64(n)); err != nil {
		return err
	}
	rs.Query, err = lc.Expression(query)
	return err
}

// typeCode substitutes OBJECT for user-defined class codes, which need an
// object system this build does not have.
func (it *genericItem) typeCode(lc *image.LoadContext, i int, code int64) (int64, error) {
	if code < 0 {
		return 0, errors.Format(DefgenericName, "type %d has negative code %d", i, code)
	}
	if code <= kb.TypeCodeObject {
		return code, nil
	}
	detail := fmt.Sprintf("restriction type %d names user class %d; using OBJECT", i, code)
	if err := lc.Capability(DefgenericName, detail); err != nil {
		return 0, err
	}
	return kb.TypeCodeObject, nil
}

func (it *genericItem) Clear(lc *image.LoadContext) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for i := range it.generics.Items() {
		g := &it.generics.Items()[i]
		keep(lc.ReleaseHeader(g))
		g.Methods = nil
	}
	for i, t := range it.types.Items() {
		keep(lc.Release(t))
		it.types.Items()[i] = nil
	}
	lc.UnregisterKind(kb.KindGeneric)
	image.ReleaseModuleItems(&it.items, kb.KindGeneric)
	it.generics.Free()
	it.methods.Free()
	it.restrictions.Free()
	it.types.Free()
	return first
}
