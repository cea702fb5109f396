package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseSave    Phase = "save"    // image write
	PhaseLoad    Phase = "load"    // image read and relocation
	PhaseClear   Phase = "clear"   // teardown of loaded arrays
	PhaseConfig  Phase = "config"  // configuration loading
	PhaseCatalog Phase = "catalog" // image catalog storage
	PhaseInspect Phase = "inspect" // manifest and listing
)

// Kind categorizes the error
type Kind string

const (
	KindFormat       Kind = "format"
	KindTruncated    Kind = "truncated"
	KindCapability   Kind = "capability"
	KindAllocation   Kind = "allocation"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindInvalidData  Kind = "invalid_data"
	KindInvalidInput Kind = "invalid_input"
	KindIO           Kind = "io"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

// Error is the structured error type used throughout the image engine
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Item   string
	Detail string
	Path   []string
	Offset int64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Item != "" {
		b.WriteString(" in ")
		b.WriteString(e.Item)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Offset > 0 {
		fmt.Fprintf(&b, " (offset %d)", e.Offset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Item sets the binary item the error belongs to
func (b *Builder) Item(name string) *Builder {
	b.err.Item = name
	return b
}

// Path sets the record path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Offset sets the byte offset in the image
func (b *Builder) Offset(off int64) *Builder {
	b.err.Offset = off
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Format creates a malformed-image error for the named item
func Format(item string, detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindFormat,
		Item:   item,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// SizeMismatch creates a format error for a segment whose byte-count
// disagrees with the record sizes implied by its counts
func SizeMismatch(item string, got, want uint64) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindFormat,
		Item:   item,
		Detail: fmt.Sprintf("segment is %d bytes, records need %d", got, want),
		Value:  got,
	}
}

// Truncated creates a truncated-stream error
func Truncated(item string, offset int64, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindTruncated,
		Item:   item,
		Offset: offset,
		Detail: "unexpected end of image",
		Cause:  cause,
	}
}

// Capability creates a capability-mismatch error: the image references
// something this build does not support
func Capability(item string, what string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindCapability,
		Item:   item,
		Detail: what,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(item string, count, limit int64) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindAllocation,
		Item:   item,
		Detail: fmt.Sprintf("cannot allocate %d records (limit %d)", count, limit),
		Value:  count,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// IO wraps a stream failure
func IO(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Internal reports an engine bug
func Internal(phase Phase, item string, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Item:   item,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// RollbackError is returned when a failed load also failed to tear down
// one or more items it had already materialized.
type RollbackError struct {
	Cause  error
	Failed map[string]error
	Order  []string
}

// NewRollbackError creates a rollback error over the load failure cause
func NewRollbackError(cause error) *RollbackError {
	return &RollbackError{
		Cause:  cause,
		Failed: make(map[string]error),
	}
}

// Add records a teardown failure for an item
func (e *RollbackError) Add(item string, err error) {
	if _, exists := e.Failed[item]; !exists {
		e.Order = append(e.Order, item)
	}
	e.Failed[item] = err
}

// Empty reports whether every item was torn down cleanly
func (e *RollbackError) Empty() bool {
	return len(e.Order) == 0
}

func (e *RollbackError) Error() string {
	var b strings.Builder
	b.WriteString("[load] rollback incomplete after: ")
	if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	}
	for _, item := range e.Order {
		b.WriteString("\n  ")
		b.WriteString(item)
		b.WriteString(": ")
		b.WriteString(e.Failed[item].Error())
	}
	return b.String()
}

// Unwrap returns the original load failure
func (e *RollbackError) Unwrap() error {
	return e.Cause
}
