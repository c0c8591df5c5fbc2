package winx64

import "fmt"

// Version is the UNWIND_INFO structure version.
const Version uint8 = 1

// HeaderSize is the size of the fixed UNWIND_INFO header.
const HeaderSize = 4

// NodeSize is the size of a single UNWIND_CODE slot.
const NodeSize = 2

// MaxNodes is the largest node count representable in the header.
const MaxNodes = 255

const (
	// SmallAllocMaxSize is the largest allocation encoded as UWOP_ALLOC_SMALL.
	SmallAllocMaxSize uint32 = 128
	// LargeAlloc16MaxSize is the largest allocation whose size/8 fits 16 bits.
	LargeAlloc16MaxSize uint32 = 0xFFFF * 8

	// StackSlotSize is the granularity of stack allocations.
	StackSlotSize uint32 = 8
	// XMMSlotSize is the alignment of saved XMM registers.
	XMMSlotSize uint32 = 16

	// MaxFrameOffset is the largest frame register offset in bytes.
	MaxFrameOffset uint32 = 15 * 16
)

// OpCode is an UNWIND_CODE operation, stored in the low nibble of the
// second node byte.
type OpCode uint8

// https://learn.microsoft.com/en-us/cpp/build/exception-handling-x64#unwind-operation-code
const (
	OpPushNonvol    OpCode = 0
	OpAllocLarge    OpCode = 1
	OpAllocSmall    OpCode = 2
	OpSetFPReg      OpCode = 3
	OpSaveNonvol    OpCode = 4
	OpSaveNonvolFar OpCode = 5
	OpEpilog        OpCode = 6
	OpSpareCode     OpCode = 7
	OpSaveXMM128    OpCode = 8
	OpSaveXMM128Far OpCode = 9
	OpPushMachFrame OpCode = 10
)

var opNames = [...]string{
	OpPushNonvol:    "PUSH_NONVOL",
	OpAllocLarge:    "ALLOC_LARGE",
	OpAllocSmall:    "ALLOC_SMALL",
	OpSetFPReg:      "SET_FPREG",
	OpSaveNonvol:    "SAVE_NONVOL",
	OpSaveNonvolFar: "SAVE_NONVOL_FAR",
	OpEpilog:        "EPILOG",
	OpSpareCode:     "SPARE_CODE",
	OpSaveXMM128:    "SAVE_XMM128",
	OpSaveXMM128Far: "SAVE_XMM128_FAR",
	OpPushMachFrame: "PUSH_MACHFRAME",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP_%d", uint8(op))
}

// Register is a general-purpose register number as used by the unwind codes.
type Register uint8

// https://learn.microsoft.com/en-us/cpp/build/exception-handling-x64#operation-info
const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var gprNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Register) String() string {
	if int(r) < len(gprNames) {
		return gprNames[r]
	}
	return fmt.Sprintf("gpr%d", uint8(r))
}

// Valid reports whether r fits the 4-bit register field.
func (r Register) Valid() bool {
	return r <= R15
}

// XMM is a vector register number.
type XMM uint8

const (
	XMM0 XMM = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

func (x XMM) String() string {
	return fmt.Sprintf("xmm%d", uint8(x))
}

// Valid reports whether x fits the 4-bit register field.
func (x XMM) Valid() bool {
	return x <= XMM15
}

// ParseRegister resolves a general-purpose register name such as "rbp" or "r12".
func ParseRegister(name string) (Register, bool) {
	for i, n := range gprNames {
		if n == name {
			return Register(i), true
		}
	}
	return 0, false
}

// ParseXMM resolves a vector register name such as "xmm6".
func ParseXMM(name string) (XMM, bool) {
	var n uint8
	if _, err := fmt.Sscanf(name, "xmm%d", &n); err != nil {
		return 0, false
	}
	if fmt.Sprintf("xmm%d", n) != name || !XMM(n).Valid() {
		return 0, false
	}
	return XMM(n), true
}
