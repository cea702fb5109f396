package image_test

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kb"
	"github.com/wippyai/kbimage/kbtest"
	"github.com/wippyai/kbimage/kinds"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedID = uuid.MustParse("6f1c1a1e-8d1b-4e55-9c41-0b7e2b8f0a11")

func newEngine(t *testing.T, env *kb.Env, reg *image.Registry, opts ...image.Option) *image.Engine {
	t.Helper()
	if reg == nil {
		var err error
		if reg, err = kinds.NewRegistry(); err != nil {
			t.Fatal(err)
		}
	}
	opts = append([]image.Option{image.WithLogger(zaptest.NewLogger(t)), image.WithImageID(fixedID)}, opts...)
	eng, err := image.New(env, reg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func save(t *testing.T, eng *image.Engine) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := eng.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return buf.Bytes()
}

func sampleImage(t *testing.T) []byte {
	t.Helper()
	return save(t, newEngine(t, kbtest.NewSample().Env, nil))
}

func isKind(err error, kind errors.Kind) bool {
	var ie *errors.Error
	return stderrors.As(err, &ie) && ie.Kind == kind
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := image.New(nil, nil); err == nil {
		t.Error("nil knowledge base accepted")
	}
	env := kb.NewEnv(nil)
	if _, err := image.New(env, nil, image.WithCapabilityPolicy("ignore")); !isKind(err, errors.KindInvalidInput) {
		t.Errorf("unknown policy: got %v", err)
	}
	if _, err := image.New(env, nil, image.WithMaxRecords(0)); !isKind(err, errors.KindInvalidInput) {
		t.Errorf("zero record limit: got %v", err)
	}
	eng, err := image.New(env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{image.ModulesItemName}, eng.Registry().Names()); diff != "" {
		t.Errorf("default registry (-want +got):\n%s", diff)
	}
}

func TestEmptyKnowledgeBase(t *testing.T) {
	data := save(t, newEngine(t, kb.NewEnv(nil), nil))

	eng := newEngine(t, kb.NewEnv(nil), nil)
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Expressions != 0 || report.ID != fixedID || report.Version != image.Version {
		t.Errorf("report = %+v", report)
	}
	if len(eng.Env().Modules()) != 0 {
		t.Errorf("modules = %v", eng.Env().Modules())
	}
	if err := eng.Clear(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPreconditions(t *testing.T) {
	data := sampleImage(t)

	s := kbtest.NewSample()
	eng := newEngine(t, s.Env, nil)
	if _, err := eng.Load(bytes.NewReader(data)); !isKind(err, errors.KindInvalidInput) {
		t.Errorf("load into populated knowledge base: got %v", err)
	}

	eng = newEngine(t, kb.NewEnv(nil), nil)
	if _, err := eng.Load(bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	if !eng.Loaded() {
		t.Error("Loaded() = false after load")
	}
	if _, err := eng.Load(bytes.NewReader(data)); !isKind(err, errors.KindInvalidInput) {
		t.Errorf("second load: got %v", err)
	}
	if err := eng.Clear(); err != nil {
		t.Fatal(err)
	}
	if eng.Loaded() || !eng.Env().Empty() {
		t.Error("Clear left the image loaded")
	}
	if err := eng.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestLoadStreamingReader(t *testing.T) {
	data := sampleImage(t)
	eng := newEngine(t, kb.NewEnv(nil), nil)
	// Readers other than bytes.Reader and bufio.Reader are buffered.
	if _, err := eng.Load(struct{ *bytes.Buffer }{bytes.NewBuffer(data)}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer eng.Clear()
	if eng.Env().Count(kb.KindFunction) != 4 {
		t.Errorf("functions = %d, want 4", eng.Env().Count(kb.KindFunction))
	}
}

func TestFraming(t *testing.T) {
	data := sampleImage(t)
	corrupt := func(at int, b ...byte) []byte {
		out := bytes.Clone(data)
		copy(out[at:], b)
		return out
	}

	tests := []struct {
		name string
		data []byte
		kind errors.Kind
	}{
		{"bad magic", corrupt(0, 'X'), errors.KindFormat},
		{"bad version", corrupt(4, 9), errors.KindFormat},
		{"bad end marker", corrupt(len(data)-1, 'x'), errors.KindFormat},
		{"empty", nil, errors.KindTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := kb.NewEnv(nil)
			eng := newEngine(t, env, nil)
			_, err := eng.Load(bytes.NewReader(tt.data))
			if !isKind(err, tt.kind) {
				t.Fatalf("got %v, want %s", err, tt.kind)
			}
			if !env.Empty() || eng.Loaded() {
				t.Error("failed load left state behind")
			}
			if env.Atoms().Len() != 0 {
				t.Errorf("%d atoms left after rollback", env.Atoms().Len())
			}
		})
	}
}

func TestTruncatedImageRollsBack(t *testing.T) {
	data := sampleImage(t)
	for n := 0; n < len(data); n++ {
		env := kb.NewEnv(nil)
		audit := kbtest.NewAudit(env.Atoms())
		eng := newEngine(t, env, nil)

		_, err := eng.Load(bytes.NewReader(data[:n]))
		audit.Stop()
		if !isKind(err, errors.KindTruncated) {
			t.Fatalf("cut at %d: got %v, want truncated", n, err)
		}
		if !env.Empty() {
			t.Fatalf("cut at %d: modules left installed", n)
		}
		if bad := audit.Unbalanced(); len(bad) > 0 {
			t.Fatalf("cut at %d: unbalanced %v", n, bad)
		}
		if env.Atoms().Len() != 0 {
			t.Fatalf("cut at %d: %d atoms left", n, env.Atoms().Len())
		}
		if p := env.FactPlaceholder().Count() + env.InstancePlaceholder().Count(); p != 0 {
			t.Fatalf("cut at %d: placeholders hold %d references", n, p)
		}
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	s := kbtest.NewSample()
	eng := newEngine(t, s.Env, nil)
	first := save(t, eng)
	second := save(t, eng)
	if !bytes.Equal(first, second) {
		t.Error("saving the same knowledge base twice produced different images")
	}
	if s.Square.BsaveID != 0 || s.Main.BsaveID != 0 || s.Util.BsaveID != 1 {
		t.Errorf("save ids: square %d main %d util %d", s.Square.BsaveID, s.Main.BsaveID, s.Util.BsaveID)
	}
	for _, a := range []string{"square", "MAIN"} {
		if sym := s.Env.Atoms().Symbol(a); sym.Needed() {
			t.Errorf("%s still marked after save", a)
		}
	}
}

func TestSaveWhileLoadedReproducesImage(t *testing.T) {
	data := sampleImage(t)
	eng := newEngine(t, kb.NewEnv(nil), nil)
	if _, err := eng.Load(bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	defer eng.Clear()

	again := save(t, eng)
	if !bytes.Equal(data, again) {
		t.Errorf("re-saved image differs: %d bytes vs %d", len(again), len(data))
	}
	if !eng.Loaded() {
		t.Error("Save dropped the loaded image")
	}
}

func TestSaveRejectsForeignCallee(t *testing.T) {
	other := kb.NewEnv(nil)
	om, _ := other.AddModule("OTHER")
	foreign, _ := other.DefineFunction(om, "elsewhere", 0, 0, 0, nil)

	env := kb.NewEnv(nil)
	m, _ := env.AddModule("MAIN")
	if _, err := env.DefineFunction(m, "caller", 0, 0, 0, env.CallFunction(foreign)); err != nil {
		t.Fatal(err)
	}
	err := newEngine(t, env, nil).Save(&bytes.Buffer{})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSave, Kind: errors.KindCapability}) {
		t.Errorf("got %v, want save capability error", err)
	}
	if env.Atoms().Symbol("caller").Needed() {
		t.Error("failed save left atoms marked")
	}
}

func TestUnknownItemsSkipped(t *testing.T) {
	data := sampleImage(t)
	reg, err := kinds.Only(kinds.DefglobalName)
	if err != nil {
		t.Fatal(err)
	}

	env := kb.NewEnv(nil)
	audit := kbtest.NewAudit(env.Atoms())
	defer audit.Stop()
	eng := newEngine(t, env, reg)
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{kinds.DeffunctionName, kinds.DefgenericName, kinds.DefinstancesName}
	if diff := cmp.Diff(want, report.Skipped); diff != "" {
		t.Errorf("skipped (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{image.ModulesItemName, kinds.DefglobalName}, report.Items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}

	var notFound, capability int
	for _, d := range report.Diagnostics {
		switch d.Kind {
		case errors.KindNotFound:
			notFound++
		case errors.KindCapability:
			capability++
		}
	}
	// square from describe, countdown from itself, describe from countdown.
	if notFound != 3 || capability != 3 {
		t.Errorf("diagnostics: %d not found, %d capability; %v", notFound, capability, report.Diagnostics)
	}

	if env.Count(kb.KindGlobal) != 2 || env.Count(kb.KindFunction) != 0 {
		t.Errorf("globals %d functions %d", env.Count(kb.KindGlobal), env.Count(kb.KindFunction))
	}
	if err := eng.Clear(); err != nil {
		t.Fatal(err)
	}
	if bad := audit.Unbalanced(); len(bad) > 0 {
		t.Errorf("unbalanced after clear: %v", bad)
	}
}

func TestCapabilityFailPolicy(t *testing.T) {
	data := sampleImage(t)
	reg, err := kinds.Only(kinds.DefglobalName)
	if err != nil {
		t.Fatal(err)
	}
	env := kb.NewEnv(nil)
	eng := newEngine(t, env, reg, image.WithCapabilityPolicy(image.CapabilityFail))
	_, err = eng.Load(bytes.NewReader(data))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindCapability}) {
		t.Fatalf("got %v, want capability error", err)
	}
	if !env.Empty() || env.Atoms().Len() != 0 {
		t.Error("failed load left state behind")
	}
}

func TestLimits(t *testing.T) {
	data := sampleImage(t)

	eng := newEngine(t, kb.NewEnv(nil), nil, image.WithMaxRecords(2))
	if _, err := eng.Load(bytes.NewReader(data)); !isKind(err, errors.KindAllocation) {
		t.Errorf("record limit: got %v", err)
	}

	eng = newEngine(t, kb.NewEnv(nil), nil, image.WithMaxSegmentBytes(16))
	if _, err := eng.Load(bytes.NewReader(data)); !isKind(err, errors.KindAllocation) {
		t.Errorf("segment limit: got %v", err)
	}
}

func TestOversizedAtomRejectedBeforeAllocation(t *testing.T) {
	img := []byte(image.Magic)
	img = binary.LittleEndian.AppendUint32(img, image.Version)
	img = append(img, fixedID[:]...)
	img = binary.LittleEndian.AppendUint64(img, 1) // one symbol
	img = binary.AppendUvarint(img, 512<<20)
	img = append(img, "short"...)

	env := kb.NewEnv(nil)
	eng := newEngine(t, env, nil, image.WithMaxSegmentBytes(1024))
	_, err := eng.Load(io.MultiReader(bytes.NewReader(img)))

	var ie *errors.Error
	if !stderrors.As(err, &ie) || ie.Kind != errors.KindFormat || ie.Item != "atoms" {
		t.Fatalf("got %v, want atoms format error", err)
	}
	if ie.Offset != int64(len(img)-len("short")) {
		t.Errorf("offset %d, want %d", ie.Offset, len(img)-len("short"))
	}
	if ie.Cause == nil || !strings.Contains(ie.Cause.Error(), "exceeds limit") {
		t.Errorf("cause = %v", ie.Cause)
	}
	if !env.Empty() {
		t.Error("knowledge base not empty after rejected load")
	}
}

func TestRegisterRejectsLongName(t *testing.T) {
	reg, err := kinds.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	err = reg.Register(&stubItem{name: strings.Repeat("x", image.MaxNameBytes+1)})
	if !isKind(err, errors.KindInvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}
	if err := reg.Register(&stubItem{name: strings.Repeat("x", image.MaxNameBytes)}); err != nil {
		t.Errorf("name at the limit: %v", err)
	}
}

func TestUnknownSegmentsSkippedRegardlessOfSize(t *testing.T) {
	const bulkSize = 64 << 10
	s := kbtest.NewSample()
	data := save(t, newEngine(t, s.Env, registryWith(t, &bulkItem{stubItem{name: "bulk"}, bulkSize})))

	m, err := image.ReadManifest(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	var largest uint64
	for _, seg := range append(m.Storage, m.Data...) {
		if seg.Name != "bulk" && seg.Size > largest {
			largest = seg.Size
		}
	}
	seg, ok := m.DataSegment("bulk")
	if !ok || seg.Size <= largest {
		t.Fatalf("bulk segment %+v not larger than %d", seg, largest)
	}

	eng := newEngine(t, kb.NewEnv(nil), nil, image.WithMaxSegmentBytes(int64(largest)))
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer eng.Clear()
	if diff := cmp.Diff([]string{"bulk"}, report.Skipped); diff != "" {
		t.Errorf("skipped (-want +got):\n%s", diff)
	}

	eng = newEngine(t, kb.NewEnv(nil), nil, image.WithMaxSegmentBytes(int64(largest)-1))
	if _, err := eng.Load(bytes.NewReader(data)); !isKind(err, errors.KindAllocation) {
		t.Errorf("registered segment over the limit: got %v", err)
	}
}

// bulkItem writes a data segment of n zero bytes.
type bulkItem struct {
	stubItem
	n int
}

func (b *bulkItem) WriteData(_ *image.SaveContext, w *image.Writer) error {
	w.WriteBytes(make([]byte, b.n))
	return nil
}

// stubItem writes empty segments, or fails its load when broken is set.
type stubItem struct {
	name   string
	broken bool
}

func (s *stubItem) Name() string                                           { return s.name }
func (*stubItem) Priority() int                                            { return 1000 }
func (*stubItem) Find(*image.SaveContext) error                            { return nil }
func (*stubItem) WriteExpressions(*image.SaveContext, *image.Writer) error { return nil }

func (s *stubItem) WriteStorage(_ *image.SaveContext, w *image.Writer) error {
	if s.broken {
		w.WriteI64(1)
	}
	return nil
}

func (*stubItem) WriteData(*image.SaveContext, *image.Writer) error { return nil }

func (*stubItem) LoadStorage(_ *image.LoadContext, r *image.Reader, _ uint64) error {
	_, err := r.ReadI64()
	return err
}

func (s *stubItem) LoadData(*image.LoadContext, *image.Reader, uint64) error {
	return errors.Format(s.name, "refusing to load")
}

func (s *stubItem) Clear(*image.LoadContext) error {
	if s.broken {
		return stderrors.New("teardown failed")
	}
	return nil
}

func registryWith(t *testing.T, it image.Item) *image.Registry {
	t.Helper()
	reg, err := kinds.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(it); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestEmptySegmentsSkipped(t *testing.T) {
	s := kbtest.NewSample()
	data := save(t, newEngine(t, s.Env, registryWith(t, &stubItem{name: "stub"})))

	eng := newEngine(t, kb.NewEnv(nil), registryWith(t, &stubItem{name: "stub"}))
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer eng.Clear()
	if diff := cmp.Diff([]string{"stub"}, report.Skipped); diff != "" {
		t.Errorf("skipped (-want +got):\n%s", diff)
	}
}

func TestRollbackReportsTeardownFailures(t *testing.T) {
	s := kbtest.NewSample()
	data := save(t, newEngine(t, s.Env, registryWith(t, &stubItem{name: "broken", broken: true})))

	env := kb.NewEnv(nil)
	audit := kbtest.NewAudit(env.Atoms())
	defer audit.Stop()
	eng := newEngine(t, env, registryWith(t, &stubItem{name: "broken", broken: true}))
	_, err := eng.Load(bytes.NewReader(data))

	var rb *errors.RollbackError
	if !stderrors.As(err, &rb) {
		t.Fatalf("got %v, want rollback error", err)
	}
	if diff := cmp.Diff([]string{"broken"}, rb.Order); diff != "" {
		t.Errorf("failed teardowns (-want +got):\n%s", diff)
	}
	if !isKind(err, errors.KindFormat) {
		t.Errorf("rollback error does not carry the cause: %v", err)
	}
	if bad := audit.Unbalanced(); len(bad) > 0 {
		t.Errorf("unbalanced after rollback: %v", bad)
	}
	if !env.Empty() {
		t.Error("modules left installed")
	}
}

func TestManifest(t *testing.T) {
	s := kbtest.NewSample()
	data := save(t, newEngine(t, s.Env, nil))

	m, err := image.ReadManifest(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.ID != fixedID || m.Version != image.Version || m.Size != int64(len(data)) {
		t.Errorf("manifest header = %v %d %d", m.ID, m.Version, m.Size)
	}

	names := make([]string, len(m.Storage))
	for i, seg := range m.Storage {
		names[i] = seg.Name
	}
	want := []string{image.ModulesItemName, kinds.DeffunctionName, kinds.DefgenericName, kinds.DefglobalName, kinds.DefinstancesName}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("storage segments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{2, 4}, m.Counts(kinds.DeffunctionName)); diff != "" {
		t.Errorf("deffunction counts (-want +got):\n%s", diff)
	}
	// modules, generics, methods, restrictions, types
	if diff := cmp.Diff([]int64{2, 2, 3, 2, 4}, m.Counts(kinds.DefgenericName)); diff != "" {
		t.Errorf("defgeneric counts (-want +got):\n%s", diff)
	}
	if m.Atoms["symbol"] == 0 || m.Atoms["bitmap"] != 1 || m.Atoms["instance-name"] != 1 {
		t.Errorf("atom counts = %v", m.Atoms)
	}

	seg, ok := m.DataSegment(kinds.DefglobalName)
	if !ok || seg.Offset <= 0 || seg.Offset+int64(seg.Size) > m.ExpressionOffset {
		t.Errorf("defglobal data segment = %+v", seg)
	}
	if got := int64(len(data)) - m.ExpressionOffset - 8 - int64(len(image.EndMarker)); got != m.Expressions*image.ExpressionRecordSize {
		t.Errorf("expression segment holds %d bytes for %d records", got, m.Expressions)
	}

	eng := newEngine(t, kb.NewEnv(nil), nil)
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Clear()
	if report.Expressions != m.Expressions {
		t.Errorf("report expressions %d, manifest %d", report.Expressions, m.Expressions)
	}
}

func TestManifestErrors(t *testing.T) {
	data := sampleImage(t)
	for _, n := range []int{0, 10, len(data) / 2, len(data) - 1} {
		_, err := image.ReadManifest(bytes.NewReader(data[:n]))
		var ie *errors.Error
		if !stderrors.As(err, &ie) || ie.Phase != errors.PhaseInspect || ie.Kind != errors.KindTruncated {
			t.Errorf("cut at %d: got %v, want inspect truncation", n, err)
		}
	}
}
