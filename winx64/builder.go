package winx64

import (
	"strconv"

	"github.com/wippyai/unwind/errors"
)

// Builder assembles UnwindInfo from codes added in prologue order.
type Builder struct {
	err          error
	frame        *Frame
	codes        []UnwindCode
	flags        uint8
	prologueSize uint8
	sizeSet      bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Flags sets the UNW_FLAG_* bits. Non-zero flags are accepted here and
// rejected by EmitSize and Emit.
func (b *Builder) Flags(flags uint8) *Builder {
	b.flags = flags
	return b
}

// PrologueSize sets the prologue length. When unset, Build uses the largest
// prologue offset among the codes.
func (b *Builder) PrologueSize(n uint8) *Builder {
	b.prologueSize = n
	b.sizeSet = true
	return b
}

// Frame designates reg as frame register holding RSP + byteOffset.
// byteOffset must be a multiple of 16 no larger than 240.
func (b *Builder) Frame(reg Register, byteOffset uint32) *Builder {
	if byteOffset%16 != 0 {
		b.fail(errors.Misaligned(errors.PhaseValidate, "frame", uint64(byteOffset), 16))
		return b
	}
	if byteOffset > MaxFrameOffset {
		b.fail(errors.Overflow(errors.PhaseValidate, []string{"frame"}, byteOffset, "frame offset (max 240)"))
		return b
	}
	b.frame = &Frame{Reg: reg, Offset: uint8(byteOffset / 16)}
	return b
}

// PushRegister adds a PUSH_NONVOL code.
func (b *Builder) PushRegister(offset uint8, reg Register) *Builder {
	return b.Add(PushRegister{Offset: offset, Reg: reg})
}

// SaveXmm adds a SAVE_XMM128 code.
func (b *Builder) SaveXmm(offset uint8, reg XMM, stackOffset uint32) *Builder {
	return b.Add(SaveXmm{Offset: offset, Reg: reg, StackOffset: stackOffset})
}

// StackAlloc adds an ALLOC_SMALL or ALLOC_LARGE code.
func (b *Builder) StackAlloc(offset uint8, size uint32) *Builder {
	return b.Add(StackAlloc{Offset: offset, Size: size})
}

// Add appends a code. Codes must arrive in non-decreasing prologue offset.
func (b *Builder) Add(code UnwindCode) *Builder {
	b.codes = append(b.codes, code)
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the collected codes and returns the unwind info.
func (b *Builder) Build() (*UnwindInfo, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.frame != nil {
		if err := b.frame.Validate(); err != nil {
			return nil, err
		}
	}

	var last uint8
	for i, c := range b.codes {
		if err := c.Validate(); err != nil {
			return nil, errors.WithPath(errors.PhaseValidate, err, "code", strconv.Itoa(i))
		}
		if c.PrologueOffset() < last {
			return nil, errors.New(errors.PhaseValidate, errors.KindInvariant).
				Path("code", strconv.Itoa(i)).
				Op(c.OpCode().String()).
				Value(c.PrologueOffset()).
				Detail("prologue offset %d precedes previous offset %d", c.PrologueOffset(), last).
				Build()
		}
		last = c.PrologueOffset()
	}

	size := b.prologueSize
	if !b.sizeSet {
		size = last
	} else if last > size {
		return nil, errors.New(errors.PhaseValidate, errors.KindOutOfBounds).
			Path("prologue").
			Value(last).
			Detail("code at offset %d lies outside the %d-byte prologue", last, size).
			Build()
	}

	info := New(b.flags, size, b.frame, b.codes)
	if n := info.NodeCount(); n > MaxNodes {
		return nil, errors.Overflow(errors.PhaseValidate, []string{"nodes"}, n, "u8 node count")
	}
	return info, nil
}
