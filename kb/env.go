package kb

import (
	"fmt"

	"github.com/wippyai/kbimage/atom"
)

// Module is a namespace owning one ordered construct list per kind.
type Module struct {
	Name    *atom.Atom
	Items   [NumKinds]*ModuleItem
	BsaveID int64
}

// NameText returns the module's name.
func (m *Module) NameText() string {
	if m.Name == nil {
		return ""
	}
	return m.Name.Text()
}

// Item returns the module's list for a kind, creating an empty one if the
// module has none yet.
func (m *Module) Item(kind Kind) *ModuleItem {
	if m.Items[kind] == nil {
		m.Items[kind] = &ModuleItem{Module: m}
	}
	return m.Items[kind]
}

// ModuleItem is a module's list of constructs of one kind. First and Last
// are nil when the module owns none of that kind.
type ModuleItem struct {
	Module *Module
	First  Construct
	Last   Construct
}

// Each calls fn for every construct in the list in link order.
func (mi *ModuleItem) Each(fn func(Construct) error) error {
	if mi == nil {
		return nil
	}
	for c := mi.First; c != nil; c = c.ConstructHeader().Next {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of constructs in the list.
func (mi *ModuleItem) Len() int {
	n := 0
	_ = mi.Each(func(Construct) error { n++; return nil })
	return n
}

// Env is a knowledge base: an atom table, the module list in enumeration
// order, and the shared runtime placeholders.
type Env struct {
	atoms    *atom.Table
	fact     *Placeholder
	instance *Placeholder
	modules  []*Module
}

// NewEnv creates an empty knowledge base over atoms. A nil table gets a
// fresh one.
func NewEnv(atoms *atom.Table) *Env {
	if atoms == nil {
		atoms = atom.NewTable()
	}
	return &Env{
		atoms:    atoms,
		fact:     &Placeholder{name: "fact-address"},
		instance: &Placeholder{name: "instance-address"},
	}
}

// Atoms returns the knowledge base's atom table.
func (env *Env) Atoms() *atom.Table { return env.atoms }

// FactPlaceholder returns the shared fact-address stand-in.
func (env *Env) FactPlaceholder() *Placeholder { return env.fact }

// InstancePlaceholder returns the shared instance-address stand-in.
func (env *Env) InstancePlaceholder() *Placeholder { return env.instance }

// Placeholder returns the stand-in for an address node type.
func (env *Env) Placeholder(t NodeType) *Placeholder {
	switch t {
	case NodeFactAddress:
		return env.fact
	case NodeInstanceAddress:
		return env.instance
	}
	return nil
}

// Modules returns the modules in enumeration order.
func (env *Env) Modules() []*Module { return env.modules }

// Empty reports whether the knowledge base has no modules.
func (env *Env) Empty() bool { return len(env.modules) == 0 }

// AddModule defines a new module at the end of the enumeration order.
func (env *Env) AddModule(name string) (*Module, error) {
	if env.FindModule(name) != nil {
		return nil, fmt.Errorf("module %q already defined", name)
	}
	sym := env.atoms.Symbol(name)
	env.atoms.Increment(sym)
	m := &Module{Name: sym, BsaveID: -1}
	env.modules = append(env.modules, m)
	return m, nil
}

// FindModule returns the module with the given name, or nil.
func (env *Env) FindModule(name string) *Module {
	for _, m := range env.modules {
		if m.NameText() == name {
			return m
		}
	}
	return nil
}

// InstallModules replaces the module list. Loaded images install the
// modules they rebuilt; every kind slot is given a list so definitions
// can be enumerated uniformly.
func (env *Env) InstallModules(mods []*Module) {
	for _, m := range mods {
		for _, k := range Kinds {
			m.Item(k)
		}
	}
	env.modules = mods
}

// Each calls fn for every construct of a kind, module by module in
// enumeration order and in link order within each module.
func (env *Env) Each(kind Kind, fn func(Construct) error) error {
	for _, m := range env.modules {
		if err := m.Items[kind].Each(fn); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of constructs of a kind.
func (env *Env) Count(kind Kind) int {
	n := 0
	for _, m := range env.modules {
		n += m.Items[kind].Len()
	}
	return n
}

// Find returns the construct of a kind with the given name in the named
// module, or nil.
func (env *Env) Find(kind Kind, module, name string) Construct {
	m := env.FindModule(module)
	if m == nil {
		return nil
	}
	var found Construct
	_ = m.Items[kind].Each(func(c Construct) error {
		if c.ConstructHeader().NameText() == name {
			found = c
		}
		return nil
	})
	return found
}

// Define appends c to its module's list for c's kind and takes a reference
// to its name.
func (env *Env) Define(m *Module, name string, c Construct) error {
	if env.Find(c.Kind(), m.NameText(), name) != nil {
		return fmt.Errorf("%s %s::%s already defined", c.Kind(), m.NameText(), name)
	}
	h := c.ConstructHeader()
	h.Name = env.atoms.Symbol(name)
	env.atoms.Increment(h.Name)

	item := m.Item(c.Kind())
	h.Module = item
	h.Next = nil
	h.BsaveID = -1
	if item.Last == nil {
		item.First = c
	} else {
		item.Last.ConstructHeader().Next = c
	}
	item.Last = c
	return nil
}

// DefineFunction defines a deffunction.
func (env *Env) DefineFunction(m *Module, name string, minArgs, maxArgs, localVars int16, code *Expr) (*Function, error) {
	f := &Function{MinArgs: minArgs, MaxArgs: maxArgs, LocalVars: localVars, Code: code}
	if err := env.Define(m, name, f); err != nil {
		return nil, err
	}
	return f, nil
}

// DefineGeneric defines a defgeneric with its method table.
func (env *Env) DefineGeneric(m *Module, name string, methods ...Method) (*Generic, error) {
	g := &Generic{Methods: methods}
	if err := env.Define(m, name, g); err != nil {
		return nil, err
	}
	return g, nil
}

// DefineGlobal defines a defglobal.
func (env *Env) DefineGlobal(m *Module, name string, initial *Expr) (*Global, error) {
	g := &Global{Initial: initial}
	if err := env.Define(m, name, g); err != nil {
		return nil, err
	}
	return g, nil
}

// DefineInstances defines a definstances.
func (env *Env) DefineInstances(m *Module, name string, template *Expr) (*Instances, error) {
	d := &Instances{Template: template}
	if err := env.Define(m, name, d); err != nil {
		return nil, err
	}
	return d, nil
}
