package atom

import (
	"errors"
	"testing"
)

func TestInternDeduplicates(t *testing.T) {
	tab := NewTable()
	a := tab.Symbol("foo")
	b := tab.Symbol("foo")
	if a != b {
		t.Fatal("same symbol interned twice")
	}
	if tab.String("foo") == a {
		t.Error("string and symbol with the same text must be distinct atoms")
	}
	if tab.Integer(7) != tab.Integer(7) {
		t.Error("integers not deduplicated")
	}
	if tab.Float(1.5) != tab.Float(1.5) {
		t.Error("floats not deduplicated")
	}
	if tab.BitMap([]byte{1, 2}) != tab.BitMap([]byte{1, 2}) {
		t.Error("bitmaps not deduplicated")
	}
	if tab.Len() != 5 {
		t.Errorf("Len = %d, want 5", tab.Len())
	}
}

func TestLookup(t *testing.T) {
	tab := NewTable()
	want := tab.Integer(42)
	got, ok := tab.Lookup(Integer, "", 42, 0)
	if !ok || got != want {
		t.Errorf("Lookup(42) = %v, %v", got, ok)
	}
	if _, ok := tab.Lookup(Symbol, "missing", 0, 0); ok {
		t.Error("Lookup found an atom that was never interned")
	}
}

func TestDecrementCollects(t *testing.T) {
	tab := NewTable()
	a := tab.Symbol("x")
	tab.Increment(a)
	tab.Increment(a)

	if err := tab.Decrement(a); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 1 {
		t.Fatal("atom collected while still referenced")
	}
	if err := tab.Decrement(a); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 0 {
		t.Error("unreferenced atom not collected")
	}
	if err := tab.Decrement(a); !errors.Is(err, ErrUnderflow) {
		t.Errorf("Decrement at zero: got %v, want ErrUnderflow", err)
	}
}

func TestBucketsFollowInterningOrder(t *testing.T) {
	tab := NewTable()
	c := tab.Symbol("c")
	a := tab.Symbol("a")
	b := tab.Symbol("b")
	skip := tab.Symbol("unused")
	n := tab.Integer(3)

	for _, x := range []*Atom{b, a, c, n} {
		tab.MarkNeeded(x)
	}
	counts := tab.AssignBuckets()
	if counts[Symbol] != 3 || counts[Integer] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	for want, x := range []*Atom{c, a, b} {
		got, ok := tab.Bucket(x)
		if !ok || got != int64(want) {
			t.Errorf("Bucket(%s) = %d, %v; want %d", x, got, ok, want)
		}
	}
	if _, ok := tab.Bucket(skip); ok {
		t.Error("unmarked atom has a bucket")
	}
	if got := tab.Needed(Symbol); len(got) != 3 || got[0] != c {
		t.Errorf("Needed(Symbol) = %v", got)
	}

	tab.ResetNeeded()
	for _, x := range []*Atom{a, b, c, n} {
		if x.Needed() {
			t.Errorf("%s still needed after reset", x)
		}
		if _, ok := tab.Bucket(x); ok {
			t.Errorf("%s still has a bucket after reset", x)
		}
	}
	if len(tab.Needed(Symbol)) != 0 {
		t.Error("bucket array survived reset")
	}
}

func TestNeededAtomsSurviveDecrement(t *testing.T) {
	tab := NewTable()
	a := tab.String("keep")
	tab.Increment(a)
	tab.MarkNeeded(a)
	if err := tab.Decrement(a); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 1 {
		t.Error("needed atom collected mid-save")
	}
}

func TestInstallPinsUntilDiscard(t *testing.T) {
	tab := NewTable()
	x := tab.Symbol("x")
	y := tab.Symbol("y")
	tab.Install(Symbol, []*Atom{x, y})

	if tab.Loaded(Symbol) != 2 {
		t.Fatalf("Loaded = %d, want 2", tab.Loaded(Symbol))
	}
	got, ok := tab.AtBucket(Symbol, 1)
	if !ok || got != y {
		t.Errorf("AtBucket(1) = %v, %v", got, ok)
	}
	for _, tt := range []struct {
		kind Kind
		i    int64
	}{
		{Symbol, -1},
		{Symbol, 2},
		{Integer, 0},
		{Kind(99), 0},
	} {
		if _, ok := tab.AtBucket(tt.kind, tt.i); ok {
			t.Errorf("AtBucket(%s, %d) resolved", tt.kind, tt.i)
		}
	}

	tab.Increment(x)
	if err := tab.Decrement(x); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 2 {
		t.Fatal("pinned atom collected")
	}

	tab.Increment(y)
	tab.DiscardBuckets()
	if tab.Loaded(Symbol) != 0 {
		t.Error("bucket array survived discard")
	}
	if _, ok := tab.Lookup(Symbol, "x", 0, 0); ok {
		t.Error("unreferenced atom kept after discard")
	}
	if _, ok := tab.Lookup(Symbol, "y", 0, 0); !ok {
		t.Error("referenced atom collected by discard")
	}
}

func TestCollect(t *testing.T) {
	tab := NewTable()
	tab.Symbol("a")
	tab.Symbol("b")
	kept := tab.Symbol("c")
	tab.Increment(kept)

	if n := tab.Collect(); n != 2 {
		t.Errorf("Collect = %d, want 2", n)
	}
	if tab.Len() != 1 {
		t.Errorf("Len = %d, want 1", tab.Len())
	}
}

func TestObserver(t *testing.T) {
	tab := NewTable()
	var events []EventType
	stop := tab.Subscribe(ObserverFunc(func(e Event) {
		events = append(events, e.Type)
	}))

	a := tab.Integer(1)
	tab.Increment(a)
	_ = tab.Decrement(a)
	stop()
	tab.Increment(tab.Integer(2))

	want := []EventType{EventIncrement, EventDecrement, EventCollected}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestAtomString(t *testing.T) {
	tab := NewTable()
	tests := []struct {
		atom *Atom
		want string
	}{
		{tab.Symbol("sym"), "sym"},
		{tab.String("s"), `"s"`},
		{tab.InstanceName("i"), "[i]"},
		{tab.Integer(-4), "-4"},
		{tab.Float(2.5), "2.5"},
		{tab.BitMap([]byte{1, 2, 3}), "<bitmap 3 bytes>"},
	}
	for _, tt := range tests {
		if got := tt.atom.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if Kind(9).Valid() {
		t.Error("Kind(9) should be invalid")
	}
	if Kind(9).String() != "kind(9)" {
		t.Errorf("Kind(9).String() = %q", Kind(9).String())
	}
}
