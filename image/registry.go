package image

import (
	"slices"

	"github.com/wippyai/kbimage/errors"
)

// Item is one binary item: a kind plug-in taking part in every save and
// load. Save phases run in registry order, one phase across all items at
// a time. Load runs LoadStorage then LoadData for every item whose
// segments are present, and Clear, in reverse order, on unload or
// failure.
type Item interface {
	// Name tags the item's segments in the image.
	Name() string

	// Priority orders the registry, lowest first.
	Priority() int

	// Find numbers the item's constructs and marks everything they need.
	Find(c *SaveContext) error

	// WriteExpressions writes every expression tree the item owns, in the
	// order WriteData later reserves them.
	WriteExpressions(c *SaveContext, w *Writer) error

	// WriteStorage writes the counts the loader sizes arenas from.
	WriteStorage(c *SaveContext, w *Writer) error

	// WriteData writes module-item headers, construct records and nested
	// payload records.
	WriteData(c *SaveContext, w *Writer) error

	// LoadStorage reads the counts and allocates the item's arenas.
	LoadStorage(lc *LoadContext, r *Reader, size uint64) error

	// LoadData reads and relocates the records.
	LoadData(lc *LoadContext, r *Reader, size uint64) error

	// Clear releases every reference the loaded records hold and frees the
	// arenas. It must tolerate partially loaded state.
	Clear(lc *LoadContext) error
}

// Registry priorities of the built-in and standard items.
const (
	PriorityModules      = 0
	PriorityDeffunction  = 100
	PriorityDefgeneric   = 200
	PriorityDefglobal    = 300
	PriorityDefinstances = 400
)

// Registry holds the items of an engine in priority order.
type Registry struct {
	byName map[string]Item
	items  []Item
}

// NewRegistry returns a registry holding only the defmodule item.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Item)}
	_ = r.Register(&modulesItem{})
	return r
}

// Register adds an item after every item of lower or equal priority.
func (r *Registry) Register(it Item) error {
	name := it.Name()
	if name == "" {
		return errors.InvalidInput(errors.PhaseConfig, "binary item has no name")
	}
	if len(name) > MaxNameBytes {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Item(name).
			Detail("binary item name longer than %d bytes", MaxNameBytes).
			Build()
	}
	if _, dup := r.byName[name]; dup {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Item(name).
			Detail("binary item already registered").
			Build()
	}
	at := len(r.items)
	for i, existing := range r.items {
		if existing.Priority() > it.Priority() {
			at = i
			break
		}
	}
	r.items = slices.Insert(r.items, at, it)
	r.byName[name] = it
	debugf("registered item %s at %d", name, at)
	return nil
}

// Lookup returns the item with the given name.
func (r *Registry) Lookup(name string) (Item, bool) {
	it, ok := r.byName[name]
	return it, ok
}

// Items returns the items in registry order.
func (r *Registry) Items() []Item {
	return slices.Clone(r.items)
}

// Names returns the item names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.items))
	for i, it := range r.items {
		names[i] = it.Name()
	}
	return names
}
