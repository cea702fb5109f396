package atom

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrUnderflow is returned when an atom's reference count would drop below zero.
var ErrUnderflow = errors.New("atom: reference count underflow")

// Table interns atoms and tracks their reference counts.
//
// A Table is not safe for concurrent use. The image engine assumes exclusive
// ownership of the knowledge base, and therefore of its table, for the
// duration of a save or load.
type Table struct {
	atoms     map[key]*Atom
	observers []observerEntry
	buckets   [numKinds][]*Atom
	loaded    [numKinds][]*Atom
	seq       uint64
	nextObs   uint64
}

type observerEntry struct {
	o  Observer
	id uint64
}

// NewTable creates an empty atom table.
func NewTable() *Table {
	return &Table{atoms: make(map[key]*Atom)}
}

func (t *Table) intern(a *Atom) *Atom {
	k := keyOf(a)
	if existing, ok := t.atoms[k]; ok {
		return existing
	}
	t.seq++
	a.seq = t.seq
	a.bucket = -1
	t.atoms[k] = a
	return a
}

// Symbol interns a symbol.
func (t *Table) Symbol(s string) *Atom {
	return t.intern(&Atom{kind: Symbol, text: s})
}

// String interns a string.
func (t *Table) String(s string) *Atom {
	return t.intern(&Atom{kind: String, text: s})
}

// InstanceName interns an instance name.
func (t *Table) InstanceName(s string) *Atom {
	return t.intern(&Atom{kind: InstanceName, text: s})
}

// Integer interns an integer.
func (t *Table) Integer(i int64) *Atom {
	return t.intern(&Atom{kind: Integer, i: i})
}

// Float interns a float.
func (t *Table) Float(f float64) *Atom {
	return t.intern(&Atom{kind: Float, f: f})
}

// BitMap interns a bit pattern.
func (t *Table) BitMap(b []byte) *Atom {
	return t.intern(&Atom{kind: BitMap, text: string(b)})
}

// Lookup returns the interned atom with the given kind and value, if present.
func (t *Table) Lookup(kind Kind, text string, i int64, f float64) (*Atom, bool) {
	a, ok := t.atoms[key{kind: kind, text: text, i: i, f: math.Float64bits(f)}]
	return a, ok
}

// Len returns the number of interned atoms.
func (t *Table) Len() int {
	return len(t.atoms)
}

// Increment adds one reference to a.
func (t *Table) Increment(a *Atom) {
	a.count++
	t.notify(Event{Type: EventIncrement, Atom: a, Count: a.count})
}

// Decrement releases one reference to a. An unpinned atom whose count
// reaches zero is collected from the table.
func (t *Table) Decrement(a *Atom) error {
	if a.count == 0 {
		return fmt.Errorf("%w: %s %s", ErrUnderflow, a.kind, a)
	}
	a.count--
	t.notify(Event{Type: EventDecrement, Atom: a, Count: a.count})
	if a.count == 0 && !a.pinned && !a.needed {
		t.collect(a)
	}
	return nil
}

func (t *Table) collect(a *Atom) {
	k := keyOf(a)
	if t.atoms[k] == a {
		delete(t.atoms, k)
		t.notify(Event{Type: EventCollected, Atom: a})
	}
}

// Collect removes every unreferenced, unpinned atom and returns how many
// were removed.
func (t *Table) Collect() int {
	var dead []*Atom
	for _, a := range t.atoms {
		if a.count == 0 && !a.pinned && !a.needed {
			dead = append(dead, a)
		}
	}
	slices.SortFunc(dead, func(x, y *Atom) int { return compareSeq(x.seq, y.seq) })
	for _, a := range dead {
		t.collect(a)
	}
	return len(dead)
}

// MarkNeeded flags a for inclusion in the next saved pool.
func (t *Table) MarkNeeded(a *Atom) {
	a.needed = true
}

// AssignBuckets numbers every needed atom 0..n-1 per kind in interning
// order and returns the per-kind totals.
func (t *Table) AssignBuckets() [numKinds]int {
	var per [numKinds][]*Atom
	for _, a := range t.atoms {
		if a.needed {
			per[a.kind] = append(per[a.kind], a)
		}
	}
	var counts [numKinds]int
	for k := range per {
		slices.SortFunc(per[k], func(x, y *Atom) int { return compareSeq(x.seq, y.seq) })
		for i, a := range per[k] {
			a.bucket = int64(i)
		}
		t.buckets[k] = per[k]
		counts[k] = len(per[k])
	}
	return counts
}

// Needed returns the atoms of a kind in bucket order, as assigned by the
// last AssignBuckets call.
func (t *Table) Needed(kind Kind) []*Atom {
	return t.buckets[kind]
}

// Bucket returns the bucket index assigned to a needed atom.
func (t *Table) Bucket(a *Atom) (int64, bool) {
	if !a.needed || a.bucket < 0 {
		return -1, false
	}
	return a.bucket, true
}

// ResetNeeded clears every needed flag and bucket assignment left by a save.
func (t *Table) ResetNeeded() {
	for k := range t.buckets {
		for _, a := range t.buckets[k] {
			a.needed = false
			a.bucket = -1
		}
		t.buckets[k] = nil
	}
	for _, a := range t.atoms {
		a.needed = false
		a.bucket = -1
	}
}

// Install pins a loaded bucket array so AtBucket can resolve indices into it.
func (t *Table) Install(kind Kind, atoms []*Atom) {
	for _, a := range atoms {
		a.pinned = true
	}
	t.loaded[kind] = atoms
}

// AtBucket resolves a loaded bucket index.
func (t *Table) AtBucket(kind Kind, i int64) (*Atom, bool) {
	if !kind.Valid() || i < 0 || i >= int64(len(t.loaded[kind])) {
		return nil, false
	}
	return t.loaded[kind][i], true
}

// Loaded returns the size of a kind's installed bucket array.
func (t *Table) Loaded(kind Kind) int {
	return len(t.loaded[kind])
}

// DiscardBuckets unpins every installed bucket array and collects the
// atoms nothing ended up referencing.
func (t *Table) DiscardBuckets() {
	for k := range t.loaded {
		for _, a := range t.loaded[k] {
			a.pinned = false
		}
		t.loaded[k] = nil
	}
	t.Collect()
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it again.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.nextObs++
	id := t.nextObs
	t.observers = append(t.observers, observerEntry{id: id, o: o})
	return func() {
		for i, e := range t.observers {
			if e.id == id {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

func (t *Table) notify(e Event) {
	for _, entry := range t.observers {
		entry.o.OnAtomEvent(e)
	}
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
