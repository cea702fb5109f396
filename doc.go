// Package kbimage saves and loads binary knowledge-base images.
//
// An image is a snapshot of the modules, deffunctions, defgenerics,
// defglobals and definstances of a knowledge base. Loading one rebuilds
// every construct without re-parsing source: atoms are interned into the
// target's atom table, expressions are rebuilt in one arena, and every
// saved index is relocated to a live reference.
//
// # Architecture Overview
//
//	kbimage/          SaveFile and LoadFile over the standard items
//	├── atom/         Reference-counted atom table with save buckets
//	├── kb/           Knowledge-base model: modules, constructs, expressions
//	├── image/        Image engine, item registry, expression codec, manifest
//	├── kinds/        Items for deffunction, defgeneric, defglobal, definstances
//	├── catalog/      SQLite store of saved images
//	├── config/       YAML configuration with environment overrides
//	├── errors/       Structured error types
//	└── cmd/kbimage/  Command-line tool
//
// # Quick Start
//
//	env := kb.NewEnv(nil)
//	mod, _ := env.AddModule("MAIN")
//	env.DefineFunction(mod, "inc", 1, 1, 1,
//	    env.Call("+", env.LocalVar(0), env.Int(1)))
//
//	if err := kbimage.SaveFile(env, "kb.bin"); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, report, err := kbimage.LoadFile(kb.NewEnv(nil), "kb.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Clear()
//
// # Loading
//
// A load either completes or leaves the target exactly as it found it. On
// any failure every item already materialized is torn down in reverse
// order and every atom reference it took is released.
//
// Items the build does not register are skipped. References the build
// cannot represent are substituted with a diagnostic, or fail the load
// under image.CapabilityFail.
//
// # Thread Safety
//
// An Engine and the knowledge base it serves are not safe for concurrent
// use.
package kbimage
