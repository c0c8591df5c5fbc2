// Package prologue derives Windows x64 unwind info from prologue machine code.
//
// Analyze decodes instructions from the start of a function until the first
// one that is not part of a recognized prologue:
//
//	push r64                    PUSH_NONVOL
//	sub rsp, imm                ALLOC_SMALL / ALLOC_LARGE
//	movaps/movups/movdqa/movdqu
//	    [rsp+disp], xmmN        SAVE_XMM128 / SAVE_XMM128_FAR
//	mov reg, rsp                frame register, offset 0
//	lea reg, [rsp+disp]         frame register, offset disp
//	mov [rsp+disp], volatile    parameter homing, no code
//
// It is a tool for inspecting existing code, not a replacement for unwind
// codes produced by the code generator that emitted the prologue.
package prologue
