package kinds

import (
	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kb"
)

// Item names as they appear in image segments.
const (
	DeffunctionName  = "deffunction"
	DefgenericName   = "defgeneric"
	DefglobalName    = "defglobal"
	DefinstancesName = "definstances"
)

// Deffunctions returns the deffunction item. A deffunction record carries
// its argument bounds and local-variable count before the body index.
func Deffunctions() image.Item {
	return &ownerItem[kb.Function, *kb.Function]{
		name:     DeffunctionName,
		kind:     kb.KindFunction,
		priority: image.PriorityDeffunction,
		payload:  6,
		expr:     func(f *kb.Function) **kb.Expr { return &f.Code },
		write: func(w *image.Writer, f *kb.Function) {
			w.WriteI16(f.MinArgs)
			w.WriteI16(f.MaxArgs)
			w.WriteI16(f.LocalVars)
		},
		read: func(r *image.Reader, f *kb.Function) error {
			var err error
			if f.MinArgs, err = r.ReadI16(); err != nil {
				return err
			}
			if f.MaxArgs, err = r.ReadI16(); err != nil {
				return err
			}
			f.LocalVars, err = r.ReadI16()
			return err
		},
	}
}

// Defglobals returns the defglobal item.
func Defglobals() image.Item {
	return &ownerItem[kb.Global, *kb.Global]{
		name:     DefglobalName,
		kind:     kb.KindGlobal,
		priority: image.PriorityDefglobal,
		expr:     func(g *kb.Global) **kb.Expr { return &g.Initial },
		write:    func(*image.Writer, *kb.Global) {},
		read:     func(*image.Reader, *kb.Global) error { return nil },
	}
}

// Definstances returns the definstances item.
func Definstances() image.Item {
	return &ownerItem[kb.Instances, *kb.Instances]{
		name:     DefinstancesName,
		kind:     kb.KindInstances,
		priority: image.PriorityDefinstances,
		expr:     func(d *kb.Instances) **kb.Expr { return &d.Template },
		write:    func(*image.Writer, *kb.Instances) {},
		read:     func(*image.Reader, *kb.Instances) error { return nil },
	}
}
