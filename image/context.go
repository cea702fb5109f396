package image

import (
	"github.com/wippyai/kbimage/atom"
	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image/internal/binary"
	"github.com/wippyai/kbimage/kb"
	"go.uber.org/zap"
)

// Writer and Reader are the record codecs items encode segments with.
type (
	Writer = binary.Writer
	Reader = binary.Reader
)

// SaveContext carries the mutable state of one save through every phase
// of every item: the expression counters and per-item scratch.
type SaveContext struct {
	env   *kb.Env
	atoms *atom.Table
	log   *zap.Logger
	state map[string]any
	roots []*kb.Expr

	// exprTotal is the node count marked during Find, exprSerial the
	// running counter of the Expressions phase and exprCursor the running
	// counter of the Data phase.
	exprTotal  int64
	exprSerial int64
	exprCursor int64
	reserved   int
}

func newSaveContext(env *kb.Env, log *zap.Logger) *SaveContext {
	return &SaveContext{
		env:   env,
		atoms: env.Atoms(),
		log:   log,
		state: make(map[string]any),
	}
}

// Env returns the knowledge base being saved.
func (c *SaveContext) Env() *kb.Env { return c.env }

// Logger returns the save's logger.
func (c *SaveContext) Logger() *zap.Logger { return c.log }

// Modules returns the modules in enumeration order. Their BsaveIDs are
// assigned by the defmodule item's Find phase.
func (c *SaveContext) Modules() []*kb.Module { return c.env.Modules() }

// Expressions returns the number of expression nodes marked so far.
func (c *SaveContext) Expressions() int64 { return c.exprTotal }

// SaveState returns the scratch value an item keeps for the save in
// progress, creating it on first use.
func SaveState[T any](c *SaveContext, item string) *T {
	if v, ok := c.state[item].(*T); ok {
		return v
	}
	v := new(T)
	c.state[item] = v
	return v
}

// MarkAtom flags a for the saved atom pool.
func (c *SaveContext) MarkAtom(a *atom.Atom) {
	if a != nil {
		c.atoms.MarkNeeded(a)
	}
}

// AtomIndex returns a marked atom's bucket index.
func (c *SaveContext) AtomIndex(a *atom.Atom) (int64, error) {
	if a == nil {
		return -1, errors.Internal(errors.PhaseSave, "", "nil atom reference")
	}
	i, ok := c.atoms.Bucket(a)
	if !ok {
		return -1, errors.Internal(errors.PhaseSave, "", "%s %s was never marked", a.Kind(), a)
	}
	return i, nil
}

// Diagnostic is a recovered problem recorded during a load.
type Diagnostic struct {
	Item   string
	Detail string
	Kind   errors.Kind
}

func (d Diagnostic) String() string {
	if d.Item == "" {
		return string(d.Kind) + ": " + d.Detail
	}
	return d.Item + ": " + string(d.Kind) + ": " + d.Detail
}

// Resolver relocates a saved construct index of one kind.
type Resolver func(index int64) (kb.Construct, error)

// LoadContext carries the arenas and policy of one load. Items relocate
// references through it.
type LoadContext struct {
	env       *kb.Env
	atoms     *atom.Table
	log       *zap.Logger
	opts      Options
	exprs     Arena[kb.Expr]
	modules   *Arena[kb.Module]
	resolvers map[kb.Kind]Resolver
	diags     []Diagnostic
	populated int64
}

func newLoadContext(env *kb.Env, opts Options, log *zap.Logger) *LoadContext {
	return &LoadContext{
		env:       env,
		atoms:     env.Atoms(),
		log:       log,
		opts:      opts,
		resolvers: make(map[kb.Kind]Resolver),
	}
}

// Env returns the knowledge base being loaded into.
func (lc *LoadContext) Env() *kb.Env { return lc.env }

// Logger returns the load's logger.
func (lc *LoadContext) Logger() *zap.Logger { return lc.log }

// Diagnostics returns the problems recovered so far.
func (lc *LoadContext) Diagnostics() []Diagnostic { return lc.diags }

// CheckAlloc rejects record counts no arena can be allocated for.
func (lc *LoadContext) CheckAlloc(item string, count int64) error {
	if count < 0 || count > lc.opts.MaxRecords {
		return errors.AllocationFailed(item, count, lc.opts.MaxRecords)
	}
	return nil
}

// Expression relocates a saved expression index. -1 is nil.
func (lc *LoadContext) Expression(i int64) (*kb.Expr, error) {
	return lc.exprs.Ref(i)
}

// Module relocates a saved module index.
func (lc *LoadContext) Module(i int64) (*kb.Module, error) {
	if lc.modules == nil {
		return nil, errors.Format("defmodule", "module index %d with no module table loaded", i)
	}
	return lc.modules.At(i)
}

// RegisterKind makes a kind's constructs resolvable from callable
// expression values.
func (lc *LoadContext) RegisterKind(kind kb.Kind, r Resolver) {
	lc.resolvers[kind] = r
}

// UnregisterKind removes a kind's resolver.
func (lc *LoadContext) UnregisterKind(kind kb.Kind) {
	delete(lc.resolvers, kind)
}

// Atom resolves a bucket index of the loaded atom pool and takes a
// reference to the atom.
func (lc *LoadContext) Atom(kind atom.Kind, i int64) (*atom.Atom, error) {
	a, ok := lc.atoms.AtBucket(kind, i)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseLoad, []string{"atoms", kind.String()}, i, int64(lc.atoms.Loaded(kind)))
	}
	lc.atoms.Increment(a)
	return a, nil
}

// Integer interns an integer that is stored by value rather than through
// the atom pool, and takes a reference to it.
func (lc *LoadContext) Integer(v int64) *atom.Atom {
	a := lc.atoms.Integer(v)
	lc.atoms.Increment(a)
	return a
}

// Release drops one reference to a. Nil is ignored.
func (lc *LoadContext) Release(a *atom.Atom) error {
	if a == nil {
		return nil
	}
	if err := lc.atoms.Decrement(a); err != nil {
		return errors.Wrap(errors.PhaseClear, errors.KindInternal, err, "release atom")
	}
	return nil
}

// Capability handles a reference this build cannot represent. Under the
// substitute policy it records a diagnostic and returns nil, and the
// caller substitutes; under the fail policy it returns the error.
func (lc *LoadContext) Capability(item, detail string) error {
	if lc.opts.Capability == CapabilityFail {
		return errors.Capability(item, detail)
	}
	lc.log.Warn("capability mismatch substituted",
		zap.String("item", item),
		zap.String("detail", detail))
	lc.diags = append(lc.diags, Diagnostic{Item: item, Kind: errors.KindCapability, Detail: detail})
	return nil
}

func (lc *LoadContext) note(item string, kind errors.Kind, detail string) {
	lc.diags = append(lc.diags, Diagnostic{Item: item, Kind: kind, Detail: detail})
}
