package winx64

import (
	"fmt"
	"math"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/internal/binary"
)

// UnwindCode is one prologue effect to be reversed during unwinding.
// The set of implementations is closed: PushRegister, SaveXmm and StackAlloc.
type UnwindCode interface {
	// PrologueOffset is the offset of the end of the instruction
	// performing the operation, relative to the function start.
	PrologueOffset() uint8
	// OpCode is the operation selected for the encoding.
	OpCode() OpCode
	// NodeCount is the number of 2-byte slots the encoding occupies.
	NodeCount() int
	// Validate reports a contract violation in the operation's operands.
	Validate() error
	String() string

	emit(w *binary.Writer)
}

// PushRegister records a non-volatile register pushed onto the stack.
type PushRegister struct {
	Offset uint8
	Reg    Register
}

func (c PushRegister) PrologueOffset() uint8 { return c.Offset }
func (c PushRegister) OpCode() OpCode        { return OpPushNonvol }
func (c PushRegister) NodeCount() int        { return 1 }

func (c PushRegister) Validate() error {
	if !c.Reg.Valid() {
		return errors.New(errors.PhaseValidate, errors.KindOutOfBounds).
			Op(c.OpCode().String()).
			Value(uint8(c.Reg)).
			Detail("register %d does not fit 4 bits", uint8(c.Reg)).
			Build()
	}
	return nil
}

func (c PushRegister) String() string {
	return fmt.Sprintf("%s %s", c.OpCode(), c.Reg)
}

func (c PushRegister) emit(w *binary.Writer) {
	w.WriteU8(c.Offset)
	w.WriteU8(uint8(c.Reg)<<4 | uint8(OpPushNonvol))
}

// SaveXmm records a non-volatile XMM register stored at StackOffset bytes
// above the stack pointer. StackOffset must be 16-byte aligned.
type SaveXmm struct {
	Offset      uint8
	Reg         XMM
	StackOffset uint32
}

func (c SaveXmm) PrologueOffset() uint8 { return c.Offset }

func (c SaveXmm) scaled() uint32 {
	return c.StackOffset / XMMSlotSize
}

func (c SaveXmm) far() bool {
	return c.scaled() > math.MaxUint16
}

func (c SaveXmm) OpCode() OpCode {
	if c.far() {
		return OpSaveXMM128Far
	}
	return OpSaveXMM128
}

func (c SaveXmm) NodeCount() int {
	if c.far() {
		return 3
	}
	return 2
}

func (c SaveXmm) Validate() error {
	if !c.Reg.Valid() {
		return errors.New(errors.PhaseValidate, errors.KindOutOfBounds).
			Op(c.OpCode().String()).
			Value(uint8(c.Reg)).
			Detail("register %d does not fit 4 bits", uint8(c.Reg)).
			Build()
	}
	if c.StackOffset%XMMSlotSize != 0 {
		return errors.Misaligned(errors.PhaseValidate, c.OpCode().String(), uint64(c.StackOffset), uint64(XMMSlotSize))
	}
	return nil
}

func (c SaveXmm) String() string {
	return fmt.Sprintf("%s %s, 0x%x", c.OpCode(), c.Reg, c.StackOffset)
}

func (c SaveXmm) emit(w *binary.Writer) {
	w.WriteU8(c.Offset)
	scaled := c.scaled()
	if !c.far() {
		w.WriteU8(uint8(c.Reg)<<4 | uint8(OpSaveXMM128))
		w.WriteU16(uint16(scaled))
		return
	}
	w.WriteU8(uint8(c.Reg)<<4 | uint8(OpSaveXMM128Far))
	w.WriteU16(uint16(scaled))
	w.WriteU16(uint16(scaled >> 16))
}

// StackAlloc records a fixed-size stack allocation. Size must be a
// non-zero multiple of 8.
type StackAlloc struct {
	Offset uint8
	Size   uint32
}

// allocation size classes, carried in the operation info nibble of ALLOC_LARGE
const (
	allocLarge16 uint8 = 0
	allocLarge32 uint8 = 1
)

func (c StackAlloc) PrologueOffset() uint8 { return c.Offset }

func (c StackAlloc) OpCode() OpCode {
	if c.Size <= SmallAllocMaxSize {
		return OpAllocSmall
	}
	return OpAllocLarge
}

func (c StackAlloc) NodeCount() int {
	switch {
	case c.Size <= SmallAllocMaxSize:
		return 1
	case c.Size <= LargeAlloc16MaxSize:
		return 2
	default:
		return 3
	}
}

func (c StackAlloc) Validate() error {
	if c.Size < StackSlotSize {
		return errors.New(errors.PhaseValidate, errors.KindInvariant).
			Op(c.OpCode().String()).
			Value(c.Size).
			Detail("allocation of %d bytes is smaller than one %d-byte slot", c.Size, StackSlotSize).
			Build()
	}
	if c.Size%StackSlotSize != 0 {
		return errors.Misaligned(errors.PhaseValidate, c.OpCode().String(), uint64(c.Size), uint64(StackSlotSize))
	}
	return nil
}

func (c StackAlloc) String() string {
	return fmt.Sprintf("%s 0x%x", c.OpCode(), c.Size)
}

func (c StackAlloc) emit(w *binary.Writer) {
	w.WriteU8(c.Offset)
	switch {
	case c.Size <= SmallAllocMaxSize:
		slots := uint8((c.Size - StackSlotSize) / StackSlotSize)
		w.WriteU8(slots<<4 | uint8(OpAllocSmall))
	case c.Size <= LargeAlloc16MaxSize:
		w.WriteU8(allocLarge16<<4 | uint8(OpAllocLarge))
		w.WriteU16(uint16(c.Size / StackSlotSize))
	default:
		w.WriteU8(allocLarge32<<4 | uint8(OpAllocLarge))
		w.WriteU32(c.Size)
	}
}
