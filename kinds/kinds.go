// Package kinds provides the binary items of the standard construct kinds:
// deffunction, defgeneric, defglobal and definstances.
//
// Each item is built from the image package's codecs. Register adds all of
// them to a registry:
//
//	reg, err := kinds.NewRegistry()
//	eng, err := image.New(env, reg)
package kinds

import (
	"github.com/wippyai/kbimage/image"
)

// All returns a fresh instance of every standard item. Items hold the
// arenas of a loaded image, so each engine needs its own.
func All() []image.Item {
	return []image.Item{
		Deffunctions(),
		Defgenerics(),
		Defglobals(),
		Definstances(),
	}
}

// Register adds every standard item to reg.
func Register(reg *image.Registry) error {
	for _, it := range All() {
		if err := reg.Register(it); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the defmodule item and every
// standard item.
func NewRegistry() (*image.Registry, error) {
	reg := image.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Only returns a registry holding the defmodule item and the named items.
// Unknown names are ignored, so an image saved with more kinds than a
// build supports can still be loaded.
func Only(names ...string) (*image.Registry, error) {
	reg := image.NewRegistry()
	for _, it := range All() {
		for _, n := range names {
			if it.Name() != n {
				continue
			}
			if err := reg.Register(it); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}
