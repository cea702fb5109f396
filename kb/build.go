package kb

import "github.com/wippyai/kbimage/atom"

// Expression constructors. Each takes the references a parsed expression
// would hold, so trees built here can be released symmetrically.

func (env *Env) atomNode(t NodeType, a *atom.Atom) *Expr {
	env.atoms.Increment(a)
	return &Expr{Type: t, Value: AtomValue{Atom: a}}
}

// Sym returns a symbol node.
func (env *Env) Sym(s string) *Expr { return env.atomNode(NodeSymbol, env.atoms.Symbol(s)) }

// Str returns a string node.
func (env *Env) Str(s string) *Expr { return env.atomNode(NodeString, env.atoms.String(s)) }

// InstName returns an instance-name node.
func (env *Env) InstName(s string) *Expr {
	return env.atomNode(NodeInstanceName, env.atoms.InstanceName(s))
}

// Int returns an integer node.
func (env *Env) Int(i int64) *Expr { return env.atomNode(NodeInteger, env.atoms.Integer(i)) }

// Float returns a float node.
func (env *Env) Float(f float64) *Expr { return env.atomNode(NodeFloat, env.atoms.Float(f)) }

// Bits returns a bitmap node.
func (env *Env) Bits(b []byte) *Expr { return env.atomNode(NodeBitMap, env.atoms.BitMap(b)) }

// LocalVar returns a reference to a local variable slot.
func (env *Env) LocalVar(slot int64) *Expr {
	return env.atomNode(NodeLocalVar, env.atoms.Integer(slot))
}

// Call returns a call of a system function with the given arguments.
func (env *Env) Call(name string, args ...*Expr) *Expr {
	e := env.atomNode(NodeSystemCall, env.atoms.Symbol(name))
	e.Args = Chain(args...)
	return e
}

// CallFunction returns a call of a deffunction. f may be nil.
func (env *Env) CallFunction(f *Function, args ...*Expr) *Expr {
	return &Expr{Type: NodeFunctionCall, Value: FunctionRef{Function: f}, Args: Chain(args...)}
}

// CallGeneric returns a call of a defgeneric. g may be nil.
func (env *Env) CallGeneric(g *Generic, args ...*Expr) *Expr {
	return &Expr{Type: NodeGenericCall, Value: GenericRef{Generic: g}, Args: Chain(args...)}
}

// GlobalValue returns a reference to a defglobal's value.
func (env *Env) GlobalValue(g *Global) *Expr {
	return &Expr{Type: NodeGlobalRef, Value: GlobalRef{Global: g}}
}

// Address returns a runtime-only address node bound to the shared
// placeholder for t.
func (env *Env) Address(t NodeType) *Expr {
	p := env.Placeholder(t)
	if p == nil {
		return nil
	}
	p.Increment()
	return &Expr{Type: t, Value: AddressValue{Placeholder: p}}
}

// TypeCode returns an integer atom for a restriction type code, holding
// one reference.
func (env *Env) TypeCode(code int64) *atom.Atom {
	a := env.atoms.Integer(code)
	env.atoms.Increment(a)
	return a
}

// TypeCodes returns TypeCode for each code.
func (env *Env) TypeCodes(codes ...int64) []*atom.Atom {
	out := make([]*atom.Atom, len(codes))
	for i, c := range codes {
		out[i] = env.TypeCode(c)
	}
	return out
}
