package image

import (
	"strconv"

	"github.com/wippyai/kbimage/errors"
)

// Arena is one contiguous block of records of a single type. Saved
// indices are relocated through Ref, which replaces base+index*stride
// pointer arithmetic with a checked slice access.
type Arena[T any] struct {
	name  string
	items []T
}

// NewArena allocates n zeroed records as one block.
func NewArena[T any](name string, n int64) Arena[T] {
	if n <= 0 {
		return Arena[T]{name: name}
	}
	return Arena[T]{name: name, items: make([]T, n)}
}

// Len returns the number of records.
func (a *Arena[T]) Len() int64 {
	return int64(len(a.items))
}

// At returns the record at index i.
func (a *Arena[T]) At(i int64) (*T, error) {
	if i < 0 || i >= int64(len(a.items)) {
		return nil, errors.OutOfBounds(errors.PhaseLoad, []string{a.name, strconv.FormatInt(i, 10)}, i, int64(len(a.items)))
	}
	return &a.items[i], nil
}

// Ref relocates a saved index: -1 is the null reference, anything else
// must address a record.
func (a *Arena[T]) Ref(i int64) (*T, error) {
	if i == -1 {
		return nil, nil
	}
	return a.At(i)
}

// Slice returns n records starting at i, or nil for -1.
func (a *Arena[T]) Slice(i int64, n int64) ([]T, error) {
	if i == -1 {
		return nil, nil
	}
	if i < 0 || n < 0 || i+n > int64(len(a.items)) {
		return nil, errors.OutOfBounds(errors.PhaseLoad, []string{a.name, strconv.FormatInt(i, 10)}, i+n, int64(len(a.items)))
	}
	return a.items[i : i+n : i+n], nil
}

// Items returns the backing block.
func (a *Arena[T]) Items() []T {
	return a.items
}

// Free drops the block.
func (a *Arena[T]) Free() {
	a.items = nil
}
