package image

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"io"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image/internal/binary"
	"github.com/wippyai/kbimage/kb"
)

// Image framing.
const (
	Magic     = "KBIM"
	EndMarker = "KBND"
	Version   = uint32(1)

	// MaxNameBytes bounds an item name, and with it every segment name.
	MaxNameBytes = 255
)

// Report describes a completed load.
type Report struct {
	ID          uuid.UUID
	Items       []string
	Skipped     []string
	Diagnostics []Diagnostic
	Expressions int64
	Version     uint32
}

// Engine saves a knowledge base to a binary image and loads one back. An
// engine owns the arenas of at most one loaded image at a time.
type Engine struct {
	env    *kb.Env
	reg    *Registry
	log    *zap.Logger
	loaded *loadState
	opts   Options
}

type loadState struct {
	lc    *LoadContext
	items []Item
}

// New creates an engine over env using the items in reg. A nil registry
// holds only the defmodule item.
func New(env *kb.Env, reg *Registry, opts ...Option) (*Engine, error) {
	if env == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "nil knowledge base")
	}
	if reg == nil {
		reg = NewRegistry()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.Capability.Valid() {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(o.Capability).
			Detail("unknown capability policy %q", o.Capability).
			Build()
	}
	if o.MaxRecords <= 0 || o.MaxSegmentBytes <= 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "record and segment limits must be positive")
	}
	log := o.Logger
	if log == nil {
		log = Logger()
	}
	return &Engine{env: env, reg: reg, opts: o, log: log}, nil
}

// Env returns the engine's knowledge base.
func (e *Engine) Env() *kb.Env { return e.env }

// Registry returns the engine's items.
func (e *Engine) Registry() *Registry { return e.reg }

// Loaded reports whether the engine holds a loaded image.
func (e *Engine) Loaded() bool { return e.loaded != nil }

// Save writes the knowledge base as one image. Loaded arenas, if any,
// are left as they are.
func (e *Engine) Save(w io.Writer) error {
	c := newSaveContext(e.env, e.log)
	atoms := e.env.Atoms()
	defer atoms.ResetNeeded()

	e.resetSaveIDs()
	items := e.reg.Items()

	for _, it := range items {
		if err := it.Find(c); err != nil {
			return saveErr(it.Name(), err)
		}
	}
	counts := atoms.AssignBuckets()

	exprs := binary.NewWriter()
	for _, it := range items {
		if err := it.WriteExpressions(c, exprs); err != nil {
			return saveErr(it.Name(), err)
		}
	}
	if c.exprSerial != c.exprTotal {
		return errors.Internal(errors.PhaseSave, exprItem, "wrote %d expression nodes, marked %d", c.exprSerial, c.exprTotal)
	}

	out := binary.NewWriter()
	id := e.opts.ImageID
	if id == uuid.Nil {
		id = uuid.New()
	}
	out.WriteBytes([]byte(Magic))
	out.WriteU32LE(Version)
	out.WriteBytes(id[:])
	writeAtomPool(out, atoms)
	out.WriteI64(c.exprTotal)
	out.WriteU32LE(uint32(len(items)))

	for _, it := range items {
		body := binary.NewWriter()
		if err := it.WriteStorage(c, body); err != nil {
			return saveErr(it.Name(), err)
		}
		out.Section(it.Name(), body.Bytes())
	}
	for _, it := range items {
		body := binary.NewWriter()
		if err := it.WriteData(c, body); err != nil {
			return saveErr(it.Name(), err)
		}
		out.Section(it.Name(), body.Bytes())
	}
	if c.exprCursor != c.exprTotal || c.reserved != len(c.roots) {
		return errors.Internal(errors.PhaseSave, exprItem, "data reserved %d of %d expression nodes", c.exprCursor, c.exprTotal)
	}

	out.WriteI64(c.exprTotal)
	out.WriteBytes(exprs.Bytes())
	out.WriteBytes([]byte(EndMarker))

	if _, err := w.Write(out.Bytes()); err != nil {
		return errors.IO(errors.PhaseSave, "write image", err)
	}
	e.log.Debug("image saved",
		zap.Stringer("id", id),
		zap.Int("bytes", out.Len()),
		zap.Int64("expressions", c.exprTotal),
		zap.Ints("atoms", counts[:]))
	return nil
}

// resetSaveIDs invalidates save-time ids left by earlier saves so stale
// references cannot pass for live ones.
func (e *Engine) resetSaveIDs() {
	for _, m := range e.env.Modules() {
		m.BsaveID = -1
	}
	for _, k := range kb.Kinds {
		_ = e.env.Each(k, func(c kb.Construct) error {
			c.ConstructHeader().BsaveID = -1
			return nil
		})
	}
}

func saveErr(item string, err error) error {
	var ie *errors.Error
	if stderrors.As(err, &ie) {
		if ie.Item == "" {
			ie.Item = item
		}
		return ie
	}
	return errors.New(errors.PhaseSave, errors.KindInternal).Item(item).Cause(err).Build()
}

// Load reads an image into the knowledge base, which must be empty. On
// any failure every item already materialized is cleared in reverse
// registry order and the knowledge base is left empty.
func (e *Engine) Load(r io.Reader) (*Report, error) {
	if e.loaded != nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "an image is already loaded")
	}
	if !e.env.Empty() {
		return nil, errors.InvalidInput(errors.PhaseLoad, "knowledge base is not empty")
	}

	var br binary.ByteReader
	switch v := r.(type) {
	case *bytes.Reader:
		br = v
	case *bufio.Reader:
		br = v
	default:
		br = bufio.NewReader(r)
	}
	rd := binary.NewReader(br)

	lc := newLoadContext(e.env, e.opts, e.log)
	report := &Report{}
	var materialized []Item

	if err := e.load(rd, lc, report, &materialized); err != nil {
		return nil, e.rollback(lc, materialized, err)
	}

	e.env.InstallModules(lc.loadedModules())
	e.env.Atoms().DiscardBuckets()
	e.loaded = &loadState{lc: lc, items: materialized}
	report.Diagnostics = lc.Diagnostics()

	e.log.Info("image loaded",
		zap.Stringer("id", report.ID),
		zap.Strings("items", report.Items),
		zap.Strings("skipped", report.Skipped),
		zap.Int("diagnostics", len(report.Diagnostics)))
	return report, nil
}

func (e *Engine) load(rd *Reader, lc *LoadContext, report *Report, materialized *[]Item) error {
	p, err := readPrefix(rd)
	if err != nil {
		return err
	}
	report.ID, report.Version = p.id, p.version

	if err := readAtomPool(rd, lc, nil); err != nil {
		return loadErr("atoms", rd, err)
	}
	exprCount, err := rd.ReadI64()
	if err != nil {
		return loadErr(exprItem, rd, err)
	}
	if err := lc.allocateExpressions(exprCount); err != nil {
		return err
	}
	report.Expressions = exprCount

	n, err := rd.ReadU32LE()
	if err != nil {
		return loadErr("segments", rd, err)
	}

	stored := make(map[string]bool)
	for i := uint32(0); i < n; i++ {
		name, it, body, err := e.segment(rd, lc, "storage")
		if err != nil {
			return err
		}
		if it == nil || body == nil {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if stored[it.Name()] {
			return errors.Format(it.Name(), "duplicate storage segment")
		}
		*materialized = append(*materialized, it)
		stored[it.Name()] = true
		if err := runSegment(it.Name(), body, func(sub *Reader) error {
			return it.LoadStorage(lc, sub, uint64(len(body)))
		}); err != nil {
			return err
		}
	}

	for i := uint32(0); i < n; i++ {
		_, it, body, err := e.segment(rd, lc, "data")
		if err != nil {
			return err
		}
		if it == nil {
			continue
		}
		if !stored[it.Name()] {
			if body == nil {
				continue
			}
			lc.note(it.Name(), errors.KindFormat, "data segment without storage segment skipped")
			e.log.Warn("data segment without storage segment", zap.String("item", it.Name()))
			continue
		}
		if containsItem(report.Items, it.Name()) {
			return errors.Format(it.Name(), "duplicate data segment")
		}
		if err := runSegment(it.Name(), body, func(sub *Reader) error {
			return it.LoadData(lc, sub, uint64(len(body)))
		}); err != nil {
			return err
		}
		report.Items = append(report.Items, it.Name())
	}

	count, err := rd.ReadI64()
	if err != nil {
		return loadErr(exprItem, rd, err)
	}
	if count != exprCount {
		return errors.Format(exprItem, "segment holds %d records, prefix declared %d", count, exprCount)
	}
	for i := int64(0); i < count; i++ {
		rec, err := readExprRecord(rd)
		if err != nil {
			return loadErr(exprItem, rd, err)
		}
		if err := lc.populate(i, rec); err != nil {
			return err
		}
	}

	end, err := rd.ReadBytes(len(EndMarker))
	if err != nil {
		return loadErr("end", rd, err)
	}
	if string(end) != EndMarker {
		return errors.Format("end", "bad end marker %q", end)
	}
	return nil
}

// segment reads one segment. It returns a nil item for segments claimed
// by no registered item and a nil body for empty ones.
func (e *Engine) segment(rd *Reader, lc *LoadContext, tier string) (string, Item, []byte, error) {
	name, err := rd.ReadName(MaxNameBytes)
	if err != nil {
		return "", nil, nil, loadErr(tier, rd, err)
	}
	size, err := rd.ReadU64LE()
	if err != nil {
		return name, nil, nil, loadErr(name, rd, err)
	}
	if size == 0 {
		debugf("%s segment %s is empty", tier, name)
		it, _ := e.reg.Lookup(name)
		return name, it, nil, nil
	}
	it, ok := e.reg.Lookup(name)
	if !ok {
		// Skipping streams the body, so no size limit applies.
		if size > math.MaxInt64 {
			return name, nil, nil, errors.Format(name, "%s segment size %d overflows", tier, size)
		}
		if err := rd.Skip(int64(size)); err != nil {
			return name, nil, nil, loadErr(name, rd, err)
		}
		if tier == "storage" {
			lc.note(name, errors.KindNotFound, "no registered item, segments skipped")
			e.log.Warn("skipped unknown item", zap.String("item", name), zap.Uint64("bytes", size))
		}
		return name, nil, nil, nil
	}
	if size > uint64(e.opts.MaxSegmentBytes) {
		return name, nil, nil, errors.New(errors.PhaseLoad, errors.KindAllocation).
			Item(name).
			Offset(rd.Position()).
			Detail("%s segment of %d bytes exceeds limit %d", tier, size, e.opts.MaxSegmentBytes).
			Build()
	}
	body, err := rd.ReadBytes(int(size))
	if err != nil {
		return name, nil, nil, loadErr(name, rd, err)
	}
	return name, it, body, nil
}

// runSegment hands body to fn and requires it to consume every byte.
func runSegment(item string, body []byte, fn func(*Reader) error) error {
	sub := binary.NewBytesReader(body)
	if err := fn(sub); err != nil {
		return loadErr(item, sub, err)
	}
	if rem := sub.Remaining(); rem != 0 {
		return errors.Format(item, "%d trailing bytes in segment", rem)
	}
	return nil
}

func containsItem(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func loadErr(item string, rd *Reader, err error) error {
	var ie *errors.Error
	if stderrors.As(err, &ie) {
		if ie.Item == "" {
			ie.Item = item
		}
		return ie
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF) {
		return errors.Truncated(item, rd.Position(), err)
	}
	var pe *binary.ParseError
	if stderrors.As(err, &pe) {
		return errors.New(errors.PhaseLoad, errors.KindFormat).
			Item(item).
			Offset(pe.Position).
			Cause(pe.Err).
			Build()
	}
	return errors.New(errors.PhaseLoad, errors.KindFormat).
		Item(item).
		Offset(rd.Position()).
		Cause(err).
		Build()
}

// rollback clears every materialized item in reverse order, then the
// expression arena and the atom pool.
func (e *Engine) rollback(lc *LoadContext, items []Item, cause error) error {
	rb := errors.NewRollbackError(cause)
	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i].Clear(lc); err != nil {
			rb.Add(items[i].Name(), err)
		}
	}
	if err := lc.releaseExpressions(); err != nil {
		rb.Add(exprItem, err)
	}
	e.env.InstallModules(nil)
	e.env.Atoms().DiscardBuckets()

	e.log.Warn("image load rolled back",
		zap.Error(cause),
		zap.Int("items", len(items)),
		zap.Int("teardown_failures", len(rb.Order)))
	if rb.Empty() {
		return cause
	}
	return rb
}

// Clear unloads the loaded image: every item in reverse registry order,
// then the expression arena. The knowledge base is left empty.
func (e *Engine) Clear() error {
	if e.loaded == nil {
		return nil
	}
	st := e.loaded
	e.loaded = nil

	var first error
	for i := len(st.items) - 1; i >= 0; i-- {
		if err := st.items[i].Clear(st.lc); err != nil {
			e.log.Error("clear failed", zap.String("item", st.items[i].Name()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	if err := st.lc.releaseExpressions(); err != nil && first == nil {
		first = err
	}
	e.env.InstallModules(nil)
	return first
}

type prefix struct {
	id      uuid.UUID
	version uint32
}

func readPrefix(rd *Reader) (prefix, error) {
	var p prefix
	magic, err := rd.ReadBytes(len(Magic))
	if err != nil {
		return p, loadErr("prefix", rd, err)
	}
	if string(magic) != Magic {
		return p, errors.Format("prefix", "bad magic %q", magic)
	}
	if p.version, err = rd.ReadU32LE(); err != nil {
		return p, loadErr("prefix", rd, err)
	}
	if p.version != Version {
		return p, errors.New(errors.PhaseLoad, errors.KindFormat).
			Item("prefix").
			Value(p.version).
			Detail("unsupported image version %d", p.version).
			Build()
	}
	id, err := rd.ReadBytes(16)
	if err != nil {
		return p, loadErr("prefix", rd, err)
	}
	copy(p.id[:], id)
	return p, nil
}
