// Package unwind encodes Windows x64 structured exception handling unwind data.
//
// A function that adjusts the stack in its prologue must describe those
// adjustments to the operating system so the stack can be unwound during
// exception dispatch. The description is an UNWIND_INFO record in the .xdata
// section, referenced from a RUNTIME_FUNCTION entry in .pdata.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	unwind/
//	├── winx64/          UNWIND_INFO model, encoder, decoder and listing
//	├── prologue/        Infer unwind codes by disassembling prologue bytes
//	├── xdata/           Lay out .xdata and .pdata for many functions
//	├── manifest/        TOML description of functions and their codes
//	├── errors/          Structured error types for debugging
//	├── internal/binary/ Little-endian cursor over a fixed buffer
//	└── cmd/unwind/      Command line and interactive front end
//
// # Quick Start
//
// Describe a prologue and encode it:
//
//	info, err := winx64.NewBuilder().
//	    PushRegister(1, winx64.RBP).
//	    StackAlloc(5, 0x28).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	data, err := info.Encode()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Infer the codes from machine code instead:
//
//	res, err := prologue.Analyze(code, prologue.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data, err := res.Info.Encode()
//
// Build sections for a whole image:
//
//	sec, err := xdata.Build(ctx, funcs, xdata.WithXDataRVA(0x3000))
//
// # Error Handling
//
// Errors are returned as *errors.Error carrying the phase (size, emit,
// decode, validate, parse, analyze, link) and kind of failure:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseEmit, Kind: errors.KindUnsupported}) {
//	    // exception handler flags requested
//	}
//
// Inconsistencies inside the encoder itself, such as writing past the
// computed size, panic instead.
//
// # Thread Safety
//
// UnwindInfo values are immutable and may be shared between goroutines.
// Builder is not safe for concurrent use. xdata.Build encodes functions
// concurrently.
package unwind
