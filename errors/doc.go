// Package errors provides structured error types for the unwind encoder.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a location path, the unwind operation name, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindInvariant).
//		Path("function", "memcpy", "code", "2").
//		Op("ALLOC_SMALL").
//		Detail("allocation size %d is below one slot", 4).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unsupported(errors.PhaseSize, "chained unwind info")
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
