// Package image saves a knowledge base as one binary image and rebuilds a
// pointer-linked knowledge base from it without parsing source text.
//
// # Phases
//
// A save runs four phases, each across every registered item before the
// next begins:
//
//	Find         number constructs, mark atoms, count expression nodes
//	Expressions  linearize every owned expression tree
//	Storage      write the counts arenas are sized from
//	Data         write module-item headers, construct and payload records
//
// A load mirrors it: LoadStorage allocates every arena, LoadData relocates
// records into them, then the shared expression segment is relocated. A
// failed load clears every item it touched, in reverse registry order.
//
// # Layout
//
//	"KBIM" version:u32 id:[16]byte
//	atom pool: per atom kind, count:i64 then the atoms
//	expression count:i64
//	segment count:u32
//	storage segments: name, size:u64, body
//	data segments: name, size:u64, body
//	expression count:i64, then records of (type, value, args, next):i64
//	"KBND"
//
// Every saved reference is an index into an arena, -1 meaning none.
// Expressions are linearized in pre-order: a node's args index is the slot
// right after it, its next index the slot after its whole argument
// subtree.
//
// # Items
//
// An Item plugs one construct kind into the engine. The defmodule item is
// built in and always first; the standard kinds live in package kinds.
// Segments whose name no registered item claims are skipped, as are empty
// segments.
package image
