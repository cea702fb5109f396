package kb

import (
	"strconv"

	"github.com/wippyai/kbimage/atom"
)

// Kind identifies a construct kind. Every module owns one list per kind.
type Kind uint8

const (
	KindFunction Kind = iota
	KindGeneric
	KindGlobal
	KindInstances

	NumKinds = 4
)

// Kinds lists every construct kind.
var Kinds = [NumKinds]Kind{KindFunction, KindGeneric, KindGlobal, KindInstances}

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "deffunction"
	case KindGeneric:
		return "defgeneric"
	case KindGlobal:
		return "defglobal"
	case KindInstances:
		return "definstances"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Construct is a named, module-owned definition.
type Construct interface {
	ConstructHeader() *Header
	Kind() Kind
}

// Header is the prefix every construct shares. PPForm, UserData and
// BsaveID are transient and never serialized.
type Header struct {
	Name     *atom.Atom
	Module   *ModuleItem
	Next     Construct
	UserData any
	PPForm   string
	BsaveID  int64
}

// ConstructHeader returns h.
func (h *Header) ConstructHeader() *Header { return h }

// NameText returns the construct's name, or "" if it has none yet.
func (h *Header) NameText() string {
	if h.Name == nil {
		return ""
	}
	return h.Name.Text()
}

// Function owns a single body expression.
type Function struct {
	Code *Expr
	Header
	MinArgs   int16
	MaxArgs   int16
	LocalVars int16
}

// Kind returns KindFunction.
func (*Function) Kind() Kind { return KindFunction }

// Generic owns a method table.
type Generic struct {
	Methods []Method
	Header
}

// Kind returns KindGeneric.
func (*Generic) Kind() Kind { return KindGeneric }

// Method is one implementation of a generic function.
type Method struct {
	Actions      *Expr
	Restrictions []Restriction
	PPForm       string
	Index        int16
	MinArgs      int16
	MaxArgs      int16
	LocalVars    int16
	System       bool
}

// Restriction constrains one method parameter by type codes and an
// optional query.
type Restriction struct {
	Query *Expr
	Types []*atom.Atom
}

// Global owns the initializer of a global variable.
type Global struct {
	Initial *Expr
	Header
}

// Kind returns KindGlobal.
func (*Global) Kind() Kind { return KindGlobal }

// Instances owns an instance-generation template.
type Instances struct {
	Template *Expr
	Header
}

// Kind returns KindInstances.
func (*Instances) Kind() Kind { return KindInstances }

// Restriction type codes. Codes above TypeCodeObject name user-defined
// classes, which only an object system can resolve.
const (
	TypeCodeFloat int64 = iota
	TypeCodeInteger
	TypeCodeSymbol
	TypeCodeString
	TypeCodeMultifield
	TypeCodeExternalAddress
	TypeCodeFactAddress
	TypeCodeInstanceAddress
	TypeCodeInstanceName
	TypeCodeObject
)
