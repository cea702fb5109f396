// Package kbtest builds deterministic knowledge bases and structural
// snapshots for tests and demonstrations.
package kbtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/kb"
)

// Sample is a knowledge base exercising every construct kind and every
// expression node type across two modules.
type Sample struct {
	Env       *kb.Env
	Main      *kb.Module
	Util      *kb.Module
	Square    *kb.Function
	Greet     *kb.Function
	Countdown *kb.Function
	Noop      *kb.Function
	Describe  *kb.Generic
	Empty     *kb.Generic
	Limit     *kb.Global
	Label     *kb.Global
	Seed      *kb.Instances
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// NewSample builds the sample knowledge base over a fresh atom table.
func NewSample() *Sample {
	env := kb.NewEnv(nil)
	s := &Sample{Env: env}
	s.Main = must(env.AddModule("MAIN"))
	s.Util = must(env.AddModule("UTIL"))

	s.Limit = must(env.DefineGlobal(s.Main, "limit", env.Int(10)))
	s.Label = must(env.DefineGlobal(s.Main, "label", env.Str("kb")))

	s.Square = must(env.DefineFunction(s.Main, "square", 1, 1, 1,
		env.Call("*", env.LocalVar(0), env.LocalVar(0))))
	s.Greet = must(env.DefineFunction(s.Main, "greet", 1, 1, 1,
		env.Call("str-cat", env.Str("hi "), env.LocalVar(0), env.GlobalValue(s.Label))))

	s.Describe = must(env.DefineGeneric(s.Main, "describe",
		kb.Method{
			Index: 1, MinArgs: 1, MaxArgs: 1, LocalVars: 1,
			Restrictions: []kb.Restriction{
				{Types: env.TypeCodes(kb.TypeCodeInteger, kb.TypeCodeFloat)},
			},
			Actions: env.CallFunction(s.Square, env.LocalVar(0)),
		},
		kb.Method{
			Index: 2, MinArgs: 1, MaxArgs: 1, LocalVars: 1,
			Restrictions: []kb.Restriction{
				{
					Types: env.TypeCodes(kb.TypeCodeSymbol, kb.TypeCodeString),
					Query: env.Call("neq", env.LocalVar(0), env.Str("")),
				},
			},
			Actions: kb.Chain(
				env.Call("printout", env.Sym("t"), env.LocalVar(0)),
				env.Call("sym-cat", env.LocalVar(0), env.Float(1.5)),
			),
		},
		kb.Method{Index: 3, MinArgs: 0, MaxArgs: -1, System: true},
	))

	s.Noop = must(env.DefineFunction(s.Util, "noop", 0, 0, 0, nil))
	s.Countdown = must(env.DefineFunction(s.Util, "countdown", 1, 1, 1, nil))
	s.Countdown.Code = env.Call("if",
		env.Call(">", env.LocalVar(0), env.Int(0)),
		env.Sym("then"),
		env.CallFunction(s.Countdown, env.Call("-", env.LocalVar(0), env.Int(1))),
		env.CallGeneric(s.Describe, env.Address(kb.NodeFactAddress)),
	)
	s.Empty = must(env.DefineGeneric(s.Util, "empty"))
	s.Seed = must(env.DefineInstances(s.Util, "seed", env.Call("make-instance",
		env.InstName("a"), env.Sym("of"), env.Sym("THING"),
		env.Bits([]byte{0xde, 0xad}),
		env.Address(kb.NodeInstanceAddress),
	)))
	return s
}

// TwoFunctions builds one module holding two deffunctions: the first with a
// three-node body, the second with none.
func TwoFunctions() (*kb.Env, *kb.Function, *kb.Function) {
	env := kb.NewEnv(nil)
	m := must(env.AddModule("MAIN"))
	first := must(env.DefineFunction(m, "first", 1, 1, 1, env.Call("+", env.LocalVar(0), env.Int(1))))
	second := must(env.DefineFunction(m, "second", 0, 0, 0, nil))
	return env, first, second
}

// GenericWithRestrictions builds a defgeneric with one method holding two
// restrictions of two and one type codes.
func GenericWithRestrictions() (*kb.Env, *kb.Generic) {
	env := kb.NewEnv(nil)
	m := must(env.AddModule("MAIN"))
	g := must(env.DefineGeneric(m, "area", kb.Method{
		Index: 1, MinArgs: 2, MaxArgs: 2, LocalVars: 2,
		Restrictions: []kb.Restriction{
			{Types: env.TypeCodes(kb.TypeCodeInteger, kb.TypeCodeFloat)},
			{Types: env.TypeCodes(kb.TypeCodeInteger), Query: env.Call(">", env.LocalVar(1), env.Int(0))},
		},
		Actions: env.Call("*", env.LocalVar(0), env.LocalVar(1)),
	}))
	return env, g
}

// Construct is a structural snapshot of one construct.
type Construct struct {
	Kind   string
	Module string
	Name   string
	Detail string
	Exprs  []string
}

// Snapshot describes every construct of env in enumeration order.
func Snapshot(env *kb.Env) []Construct {
	var out []Construct
	for _, k := range kb.Kinds {
		_ = env.Each(k, func(c kb.Construct) error {
			h := c.ConstructHeader()
			sc := Construct{Kind: k.String(), Name: h.NameText()}
			if h.Module != nil && h.Module.Module != nil {
				sc.Module = h.Module.Module.NameText()
			}
			switch v := c.(type) {
			case *kb.Function:
				sc.Detail = fmt.Sprintf("args %d..%d locals %d", v.MinArgs, v.MaxArgs, v.LocalVars)
				sc.Exprs = []string{Format(v.Code)}
			case *kb.Generic:
				for _, m := range v.Methods {
					sc.Exprs = append(sc.Exprs, formatMethod(m))
				}
			case *kb.Global:
				sc.Exprs = []string{Format(v.Initial)}
			case *kb.Instances:
				sc.Exprs = []string{Format(v.Template)}
			}
			out = append(out, sc)
			return nil
		})
	}
	return out
}

// ModuleMembers lists each module's constructs of a kind from the module's
// own first..last range.
func ModuleMembers(env *kb.Env, kind kb.Kind) map[string][]string {
	out := make(map[string][]string)
	for _, m := range env.Modules() {
		mi := m.Items[kind]
		var names []string
		if mi != nil && mi.First != nil {
			for c := mi.First; c != nil; c = c.ConstructHeader().Next {
				names = append(names, c.ConstructHeader().NameText())
				if c == mi.Last {
					break
				}
			}
		}
		out[m.NameText()] = names
	}
	return out
}

func formatMethod(m kb.Method) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d args %d..%d locals %d", m.Index, m.MinArgs, m.MaxArgs, m.LocalVars)
	if m.System {
		b.WriteString(" system")
	}
	for _, r := range m.Restrictions {
		b.WriteString(" (")
		for i, t := range r.Types {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatInt(t.Int(), 10))
		}
		if r.Query != nil {
			b.WriteString(" | ")
			b.WriteString(Format(r.Query))
		}
		b.WriteByte(')')
	}
	b.WriteString(" => ")
	b.WriteString(Format(m.Actions))
	return b.String()
}

// Format renders an expression chain as text.
func Format(e *kb.Expr) string {
	if e == nil {
		return "<none>"
	}
	var parts []string
	for ; e != nil; e = e.Next {
		parts = append(parts, formatNode(e))
	}
	return strings.Join(parts, " ")
}

func formatNode(e *kb.Expr) string {
	switch e.Type {
	case kb.NodeSystemCall, kb.NodeFunctionCall, kb.NodeGenericCall:
		head := calleeName(e)
		if e.Args == nil {
			return "(" + head + ")"
		}
		return "(" + head + " " + Format(e.Args) + ")"
	case kb.NodeGlobalRef:
		return "?*" + calleeName(e) + "*"
	case kb.NodeFactAddress, kb.NodeInstanceAddress:
		return "<" + e.Type.String() + ">"
	case kb.NodeLocalVar:
		return "?" + strconv.FormatInt(e.Atom().Int(), 10)
	}
	return formatAtom(e.Atom())
}

func calleeName(e *kb.Expr) string {
	if e.Type == kb.NodeSystemCall {
		return e.Atom().Text()
	}
	c := e.Callee()
	if c == nil {
		return e.Type.String() + ":<nil>"
	}
	return c.ConstructHeader().NameText()
}

func formatAtom(a *atom.Atom) string {
	if a == nil {
		return "<nil>"
	}
	switch a.Kind() {
	case atom.String:
		return strconv.Quote(a.Text())
	case atom.InstanceName:
		return "[" + a.Text() + "]"
	case atom.BitMap:
		return fmt.Sprintf("#%x", a.Bits())
	}
	return a.String()
}

// Audit tallies the net reference-count change of every atom while it is
// subscribed.
type Audit struct {
	net       map[*atom.Atom]int
	collected int
	stop      func()
}

// NewAudit subscribes an audit to t.
func NewAudit(t *atom.Table) *Audit {
	a := &Audit{net: make(map[*atom.Atom]int)}
	a.stop = t.Subscribe(atom.ObserverFunc(func(e atom.Event) {
		switch e.Type {
		case atom.EventIncrement:
			a.net[e.Atom]++
		case atom.EventDecrement:
			a.net[e.Atom]--
		case atom.EventCollected:
			a.collected++
		}
	}))
	return a
}

// Stop unsubscribes the audit.
func (a *Audit) Stop() { a.stop() }

// Unbalanced returns every atom whose increments and decrements differ,
// rendered with its net change.
func (a *Audit) Unbalanced() []string {
	var out []string
	for at, n := range a.net {
		if n != 0 {
			out = append(out, fmt.Sprintf("%s %s: %+d", at.Kind(), at, n))
		}
	}
	sort.Strings(out)
	return out
}

// Touched returns how many distinct atoms changed count.
func (a *Audit) Touched() int { return len(a.net) }

// Collected returns how many atoms the table collected.
func (a *Audit) Collected() int { return a.collected }
