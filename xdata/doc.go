// Package xdata lays out the unwind data of many functions as the .xdata and
// .pdata sections of a PE image.
//
// Each function's UNWIND_INFO is placed at a 4-byte aligned offset in one
// .xdata buffer. The .pdata table holds one RUNTIME_FUNCTION per function,
// sorted by start address as the exception dispatcher expects:
//
//	offset 0: BeginAddress       (RVA)
//	offset 4: EndAddress         (RVA)
//	offset 8: UnwindInfoAddress  (RVA of the UNWIND_INFO in .xdata)
//
// Sizes are computed up front, so functions are encoded concurrently into
// disjoint sub-slices of the output without locking.
package xdata
