package image

import (
	"fmt"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/kb"
)

// ExpressionRecordSize is the encoded size of one expression record:
// type, value, args and next as int64.
const ExpressionRecordSize = 32

const exprItem = "expressions"

// ExpressionSize returns the number of nodes reachable from e, counting
// arguments and following siblings.
func ExpressionSize(e *kb.Expr) int64 {
	var n int64
	e.Walk(func(*kb.Expr) bool {
		n++
		return true
	})
	return n
}

// checkNode verifies that a node's value variant matches its type.
func checkNode(e *kb.Expr) error {
	if !e.Type.Valid() {
		return errors.Internal(errors.PhaseSave, exprItem, "invalid node type %d", e.Type)
	}
	ok := false
	switch v := e.Value.(type) {
	case kb.AtomValue:
		k, atomic := e.Type.AtomKind()
		ok = atomic && v.Atom != nil && v.Atom.Kind() == k
	case kb.FunctionRef:
		ok = e.Type == kb.NodeFunctionCall
	case kb.GenericRef:
		ok = e.Type == kb.NodeGenericCall
	case kb.GlobalRef:
		ok = e.Type == kb.NodeGlobalRef
	case kb.AddressValue:
		ok = e.Type.IsAddress()
	}
	if !ok {
		return errors.Internal(errors.PhaseSave, exprItem, "%s node carries %T", e.Type, e.Value)
	}
	return nil
}

// MarkExpression flags every atom reachable from e for the atom pool and
// adds its node count to the expression total.
func (c *SaveContext) MarkExpression(e *kb.Expr) error {
	var err error
	e.Walk(func(x *kb.Expr) bool {
		if err = checkNode(x); err != nil {
			return false
		}
		c.MarkAtom(x.Atom())
		c.exprTotal++
		return true
	})
	return err
}

// WriteExpression appends e's records to w in pre-order. Roots must be
// written in the order their owners later reserve them.
func (c *SaveContext) WriteExpression(w *Writer, e *kb.Expr) error {
	if e == nil {
		return nil
	}
	c.roots = append(c.roots, e)
	return c.writeExpr(w, e)
}

func (c *SaveContext) writeExpr(w *Writer, e *kb.Expr) error {
	for ; e != nil; e = e.Next {
		value, err := c.expressionValue(e)
		if err != nil {
			return err
		}
		c.exprSerial++

		args := int64(-1)
		if e.Args != nil {
			args = c.exprSerial
		}
		next := int64(-1)
		if e.Next != nil {
			next = c.exprSerial + ExpressionSize(e.Args)
		}

		w.WriteI64(int64(e.Type))
		w.WriteI64(value)
		w.WriteI64(args)
		w.WriteI64(next)

		if err := c.writeExpr(w, e.Args); err != nil {
			return err
		}
	}
	return nil
}

func (c *SaveContext) expressionValue(e *kb.Expr) (int64, error) {
	switch v := e.Value.(type) {
	case kb.AtomValue:
		return c.AtomIndex(v.Atom)
	case kb.FunctionRef, kb.GenericRef, kb.GlobalRef:
		callee := e.Callee()
		if callee == nil {
			return -1, nil
		}
		h := callee.ConstructHeader()
		if h.BsaveID < 0 {
			return -1, errors.New(errors.PhaseSave, errors.KindCapability).
				Item(exprItem).
				Detail("%s references %s %q, which is not part of the image", e.Type, callee.Kind(), h.NameText()).
				Build()
		}
		return h.BsaveID, nil
	case kb.AddressValue:
		return -1, nil
	}
	return -1, errors.Internal(errors.PhaseSave, exprItem, "%s node carries %T", e.Type, e.Value)
}

// ReserveExpression returns the image index of e's first node during the
// Data phase, or -1 for nil. Owners reserve their roots in exactly the
// order they wrote them.
func (c *SaveContext) ReserveExpression(e *kb.Expr) (int64, error) {
	if e == nil {
		return -1, nil
	}
	if c.reserved >= len(c.roots) || c.roots[c.reserved] != e {
		return -1, errors.Internal(errors.PhaseSave, exprItem, "expression %d reserved out of write order", c.reserved)
	}
	c.reserved++
	i := c.exprCursor
	c.exprCursor += ExpressionSize(e)
	return i, nil
}

type exprRecord struct {
	typ, value, args, next int64
}

func readExprRecord(r *Reader) (exprRecord, error) {
	var rec exprRecord
	var err error
	for _, f := range []*int64{&rec.typ, &rec.value, &rec.args, &rec.next} {
		if *f, err = r.ReadI64(); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// allocateExpressions sizes the shared expression arena.
func (lc *LoadContext) allocateExpressions(count int64) error {
	if err := lc.CheckAlloc(exprItem, count); err != nil {
		return err
	}
	lc.exprs = NewArena[kb.Expr](exprItem, count)
	lc.populated = 0
	return nil
}

// populate relocates expression record i into the arena.
func (lc *LoadContext) populate(i int64, rec exprRecord) error {
	e, err := lc.exprs.At(i)
	if err != nil {
		return err
	}
	path := []string{exprItem, fmt.Sprint(i)}

	t := kb.NodeType(rec.typ)
	if int64(t) != rec.typ || !t.Valid() {
		return errors.InvalidData(errors.PhaseLoad, path, fmt.Sprintf("unknown node type %d", rec.typ))
	}
	// Pre-order records only point forward, which also keeps corrupt
	// images from forming cycles.
	if (rec.args != -1 && rec.args <= i) || (rec.next != -1 && rec.next <= i) {
		return errors.InvalidData(errors.PhaseLoad, path, "link points backwards")
	}
	if e.Args, err = lc.exprs.Ref(rec.args); err != nil {
		return err
	}
	if e.Next, err = lc.exprs.Ref(rec.next); err != nil {
		return err
	}

	switch {
	case t.IsAddress():
		p := lc.env.Placeholder(t)
		p.Increment()
		e.Value = kb.AddressValue{Placeholder: p}
	default:
		if kind, ok := t.AtomKind(); ok {
			a, err := lc.Atom(kind, rec.value)
			if err != nil {
				return err
			}
			e.Value = kb.AtomValue{Atom: a}
			break
		}
		v, err := lc.callable(t, rec.value)
		if err != nil {
			return err
		}
		e.Value = v
	}
	e.Type = t
	lc.populated = i + 1
	return nil
}

// callable resolves a callable value through its kind's resolver. A kind
// this build did not load is a capability mismatch.
func (lc *LoadContext) callable(t kb.NodeType, index int64) (kb.Value, error) {
	kind, _ := t.CallableKind()
	var c kb.Construct
	if index != -1 {
		resolve, ok := lc.resolvers[kind]
		if !ok {
			if err := lc.Capability(exprItem, fmt.Sprintf("%s references %s %d, which this build did not load", t, kind, index)); err != nil {
				return nil, err
			}
		} else {
			var err error
			if c, err = resolve(index); err != nil {
				return nil, err
			}
		}
	}
	switch t {
	case kb.NodeFunctionCall:
		f, _ := c.(*kb.Function)
		return kb.FunctionRef{Function: f}, nil
	case kb.NodeGenericCall:
		g, _ := c.(*kb.Generic)
		return kb.GenericRef{Generic: g}, nil
	default:
		g, _ := c.(*kb.Global)
		return kb.GlobalRef{Global: g}, nil
	}
}

// releaseExpressions drops every reference the populated records hold
// and frees the arena.
func (lc *LoadContext) releaseExpressions() error {
	var first error
	for i := range lc.exprs.Items() {
		e := &lc.exprs.Items()[i]
		switch v := e.Value.(type) {
		case kb.AtomValue:
			if err := lc.Release(v.Atom); err != nil && first == nil {
				first = err
			}
		case kb.AddressValue:
			if !v.Placeholder.Decrement() && first == nil {
				first = errors.Internal(errors.PhaseClear, exprItem, "%s placeholder underflow", v.Placeholder.Name())
			}
		}
		*e = kb.Expr{}
	}
	lc.exprs.Free()
	lc.populated = 0
	return first
}
