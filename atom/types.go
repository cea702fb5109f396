package atom

import (
	"math"
	"strconv"
)

// Kind identifies which interning table an atom lives in.
// Each kind has its own bucket index space in a saved image.
type Kind uint8

const (
	Symbol Kind = iota
	String
	InstanceName
	Integer
	Float
	BitMap
)

// Kinds lists every atom kind in image order.
var Kinds = [...]Kind{Symbol, String, InstanceName, Integer, Float, BitMap}

const numKinds = len(Kinds)

func (k Kind) String() string {
	switch k {
	case Symbol:
		return "symbol"
	case String:
		return "string"
	case InstanceName:
		return "instance-name"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case BitMap:
		return "bitmap"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Valid reports whether k is a known atom kind.
func (k Kind) Valid() bool {
	return int(k) < numKinds
}

// Atom is an interned value with an engine-managed reference count.
type Atom struct {
	text   string
	i      int64
	f      float64
	seq    uint64
	bucket int64
	count  int
	kind   Kind
	needed bool
	pinned bool
}

// Kind returns the atom's table.
func (a *Atom) Kind() Kind { return a.kind }

// Text returns the contents of a symbol, string or instance name.
func (a *Atom) Text() string { return a.text }

// Int returns the contents of an integer atom.
func (a *Atom) Int() int64 { return a.i }

// Float returns the contents of a float atom.
func (a *Atom) Float() float64 { return a.f }

// Bits returns a copy of a bitmap atom's contents.
func (a *Atom) Bits() []byte { return []byte(a.text) }

// Count returns the current reference count.
func (a *Atom) Count() int { return a.count }

// Needed reports whether the atom is flagged for the next saved pool.
func (a *Atom) Needed() bool { return a.needed }

func (a *Atom) String() string {
	switch a.kind {
	case String:
		return strconv.Quote(a.text)
	case InstanceName:
		return "[" + a.text + "]"
	case Integer:
		return strconv.FormatInt(a.i, 10)
	case Float:
		return strconv.FormatFloat(a.f, 'g', -1, 64)
	case BitMap:
		return "<bitmap " + strconv.Itoa(len(a.text)) + " bytes>"
	default:
		return a.text
	}
}

type key struct {
	text string
	i    int64
	f    uint64
	kind Kind
}

func keyOf(a *Atom) key {
	return key{kind: a.kind, text: a.text, i: a.i, f: math.Float64bits(a.f)}
}

// EventType identifies an atom lifecycle event.
type EventType uint8

const (
	EventIncrement EventType = iota
	EventDecrement
	EventCollected
)

// Event represents an atom lifecycle event.
type Event struct {
	Atom  *Atom
	Count int
	Type  EventType
}

// Observer receives notifications about atom reference count changes.
type Observer interface {
	OnAtomEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnAtomEvent calls f(e).
func (f ObserverFunc) OnAtomEvent(e Event) { f(e) }
