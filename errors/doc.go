// Package errors provides structured error types for the image engine.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the binary item being processed, a record path, the
// stream offset and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
//		Item("deffunction").
//		Path("constructs", "12").
//		Detail("next index %d", idx).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Format("defglobal", "count %d is negative", n)
//	err := errors.OutOfBounds(errors.PhaseLoad, path, 10, 5)
//
// A load that fails and then fails to tear down returns a RollbackError
// wrapping the original cause.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
