package kbimage

import (
	"bufio"
	"io"
	"os"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kb"
	"github.com/wippyai/kbimage/kinds"
)

// NewEngine returns an engine over env with every standard item
// registered.
func NewEngine(env *kb.Env, opts ...image.Option) (*image.Engine, error) {
	reg, err := kinds.NewRegistry()
	if err != nil {
		return nil, err
	}
	return image.New(env, reg, opts...)
}

// Save writes env as an image to w.
func Save(env *kb.Env, w io.Writer, opts ...image.Option) error {
	eng, err := NewEngine(env, opts...)
	if err != nil {
		return err
	}
	return eng.Save(w)
}

// SaveFile writes env as an image to path. A partially written file is
// removed.
func SaveFile(env *kb.Env, path string, opts ...image.Option) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.IO(errors.PhaseSave, "create "+path, err)
	}
	bw := bufio.NewWriter(f)
	err = Save(env, bw, opts...)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// Load loads an image from r into env, which must be empty. The returned
// engine holds the loaded constructs; Clear releases them.
func Load(env *kb.Env, r io.Reader, opts ...image.Option) (*image.Engine, *image.Report, error) {
	eng, err := NewEngine(env, opts...)
	if err != nil {
		return nil, nil, err
	}
	report, err := eng.Load(r)
	if err != nil {
		return nil, nil, err
	}
	return eng, report, nil
}

// LoadFile loads the image at path into env.
func LoadFile(env *kb.Env, path string, opts ...image.Option) (*image.Engine, *image.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.IO(errors.PhaseLoad, "open "+path, err)
	}
	defer f.Close()
	return Load(env, f, opts...)
}
