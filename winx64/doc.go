// Package winx64 encodes Windows x64 unwind information.
//
// The exception dispatcher on 64-bit Windows walks stack frames using the
// UNWIND_INFO structure referenced from a function's RUNTIME_FUNCTION entry.
// This package computes the exact size of that structure and serializes it
// from a list of unwind codes describing the function prologue:
//
//	info, err := winx64.NewBuilder().
//		PushRegister(1, winx64.RBP).
//		StackAlloc(5, 0x28).
//		SaveXmm(10, winx64.XMM6, 0x10).
//		Build()
//	if err != nil {
//	    return err
//	}
//	buf, err := info.Encode()
//
// Layout (all multi-byte fields little-endian):
//
//	offset 0: Version (3 bits) | Flags (5 bits)
//	offset 1: Size of prologue
//	offset 2: Count of unwind code nodes
//	offset 3: Frame register (4 bits) | Frame register offset (4 bits)
//	offset 4: nodes, 2 bytes each, descending prologue offset
//	          2 bytes of zero padding when the node count is odd
//
// Codes are supplied in ascending prologue-offset order and emitted in
// reverse. Only flags == 0 is supported: exception handler data and chained
// unwind info are rejected.
//
// # Errors
//
// Contract violations in the input (non-zero flags, misaligned allocation
// sizes, too many nodes, short output buffers) are returned as *errors.Error
// before any byte is written. A mismatch between the computed size and the
// number of bytes actually written is an internal fault and panics.
//
// # Thread Safety
//
// UnwindInfo is immutable after construction and safe for concurrent use.
// Concurrent Emit calls must target distinct buffers.
package winx64
