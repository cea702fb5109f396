package kb

import (
	"strconv"

	"github.com/wippyai/kbimage/atom"
)

// NodeType identifies an expression node. The set is closed: every node
// type carries exactly one Value variant.
type NodeType uint8

const (
	NodeInvalid NodeType = iota

	// Atomic nodes carry an AtomValue.
	NodeSymbol
	NodeString
	NodeInstanceName
	NodeInteger
	NodeFloat
	NodeBitMap
	NodeSystemCall // value is the system function's name symbol
	NodeLocalVar   // value is the integer slot

	// Callable nodes reference another construct.
	NodeFunctionCall // FunctionRef
	NodeGenericCall  // GenericRef
	NodeGlobalRef    // GlobalRef

	// Runtime-only address nodes share a placeholder.
	NodeFactAddress     // AddressValue
	NodeInstanceAddress // AddressValue

	numNodeTypes
)

var nodeTypeNames = [...]string{
	NodeInvalid:         "invalid",
	NodeSymbol:          "symbol",
	NodeString:          "string",
	NodeInstanceName:    "instance-name",
	NodeInteger:         "integer",
	NodeFloat:           "float",
	NodeBitMap:          "bitmap",
	NodeSystemCall:      "system-call",
	NodeLocalVar:        "local-var",
	NodeFunctionCall:    "function-call",
	NodeGenericCall:     "generic-call",
	NodeGlobalRef:       "global-ref",
	NodeFactAddress:     "fact-address",
	NodeInstanceAddress: "instance-address",
}

func (t NodeType) String() string {
	if t < numNodeTypes {
		return nodeTypeNames[t]
	}
	return "node(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return t > NodeInvalid && t < numNodeTypes
}

// AtomKind returns the atom table an atomic node's value lives in.
func (t NodeType) AtomKind() (atom.Kind, bool) {
	switch t {
	case NodeSymbol, NodeSystemCall:
		return atom.Symbol, true
	case NodeString:
		return atom.String, true
	case NodeInstanceName:
		return atom.InstanceName, true
	case NodeInteger, NodeLocalVar:
		return atom.Integer, true
	case NodeFloat:
		return atom.Float, true
	case NodeBitMap:
		return atom.BitMap, true
	}
	return 0, false
}

// CallableKind returns the construct kind a callable node references.
func (t NodeType) CallableKind() (Kind, bool) {
	switch t {
	case NodeFunctionCall:
		return KindFunction, true
	case NodeGenericCall:
		return KindGeneric, true
	case NodeGlobalRef:
		return KindGlobal, true
	}
	return 0, false
}

// IsAddress reports whether t is a runtime-only address node.
func (t NodeType) IsAddress() bool {
	return t == NodeFactAddress || t == NodeInstanceAddress
}

// Value is the payload of an expression node.
type Value interface {
	isValue()
}

// AtomValue is the payload of atomic nodes.
type AtomValue struct {
	Atom *atom.Atom
}

// FunctionRef is the payload of NodeFunctionCall. Function is nil when the
// call has no backing deffunction.
type FunctionRef struct {
	Function *Function
}

// GenericRef is the payload of NodeGenericCall.
type GenericRef struct {
	Generic *Generic
}

// GlobalRef is the payload of NodeGlobalRef.
type GlobalRef struct {
	Global *Global
}

// AddressValue is the payload of runtime-only address nodes.
type AddressValue struct {
	Placeholder *Placeholder
}

func (AtomValue) isValue()    {}
func (FunctionRef) isValue()  {}
func (GenericRef) isValue()   {}
func (GlobalRef) isValue()    {}
func (AddressValue) isValue() {}

// Expr is one node of an expression tree. Args is the first argument and
// Next the following sibling.
type Expr struct {
	Value Value
	Args  *Expr
	Next  *Expr
	Type  NodeType
}

// Callee returns the construct a callable node references, or nil.
func (e *Expr) Callee() Construct {
	switch v := e.Value.(type) {
	case FunctionRef:
		if v.Function != nil {
			return v.Function
		}
	case GenericRef:
		if v.Generic != nil {
			return v.Generic
		}
	case GlobalRef:
		if v.Global != nil {
			return v.Global
		}
	}
	return nil
}

// Atom returns the atom an atomic node carries, or nil.
func (e *Expr) Atom() *atom.Atom {
	if v, ok := e.Value.(AtomValue); ok {
		return v.Atom
	}
	return nil
}

// Walk visits e and everything reachable from it in pre-order: a node,
// then its arguments, then its next sibling.
func (e *Expr) Walk(fn func(*Expr) bool) bool {
	for ; e != nil; e = e.Next {
		if !fn(e) {
			return false
		}
		if !e.Args.Walk(fn) {
			return false
		}
	}
	return true
}

// Chain links exprs through their Next fields and returns the first one.
func Chain(exprs ...*Expr) *Expr {
	var head, tail *Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if head == nil {
			head = e
		} else {
			tail.Next = e
		}
		tail = e
		for tail.Next != nil {
			tail = tail.Next
		}
	}
	return head
}

// Placeholder is the shared stand-in for runtime-only addresses. It is
// reference counted like an atom so teardown can be audited.
type Placeholder struct {
	name  string
	count int
}

// Name returns the placeholder's label.
func (p *Placeholder) Name() string { return p.name }

// Count returns the current reference count.
func (p *Placeholder) Count() int { return p.count }

// Increment adds one reference.
func (p *Placeholder) Increment() { p.count++ }

// Decrement releases one reference.
func (p *Placeholder) Decrement() bool {
	if p.count == 0 {
		return false
	}
	p.count--
	return true
}
