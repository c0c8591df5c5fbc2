package winx64

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/internal/binary"
)

// Frame designates the register used as a frame pointer.
// Offset is scaled by 16: the frame register holds RSP + 16*Offset.
type Frame struct {
	Reg    Register
	Offset uint8
}

// Validate checks that the frame register fits the header byte.
func (f Frame) Validate() error {
	if f.Reg == RAX || !f.Reg.Valid() {
		return errors.New(errors.PhaseValidate, errors.KindOutOfBounds).
			Path("frame").
			Value(uint8(f.Reg)).
			Detail("frame register %d is not in 1..15", uint8(f.Reg)).
			Build()
	}
	if f.Offset > 15 {
		return errors.Overflow(errors.PhaseValidate, []string{"frame"}, f.Offset, "4-bit scaled offset")
	}
	return nil
}

func (f Frame) encode() uint8 {
	return f.Offset<<4 | uint8(f.Reg)
}

// UnwindInfo is the unwind information of a single function.
// It is immutable once constructed.
type UnwindInfo struct {
	codes        []UnwindCode
	frame        *Frame
	flags        uint8
	prologueSize uint8
}

// New creates unwind info from codes listed in ascending prologue-offset
// order. The slice is copied. No validation is performed here; see Validate.
func New(flags, prologueSize uint8, frame *Frame, codes []UnwindCode) *UnwindInfo {
	info := &UnwindInfo{
		flags:        flags,
		prologueSize: prologueSize,
		codes:        append([]UnwindCode(nil), codes...),
	}
	if frame != nil {
		f := *frame
		info.frame = &f
	}
	return info
}

// Flags returns the UNW_FLAG_* bits. Only zero is encodable.
func (u *UnwindInfo) Flags() uint8 { return u.flags }

// PrologueSize returns the prologue length in bytes.
func (u *UnwindInfo) PrologueSize() uint8 { return u.prologueSize }

// Frame returns the frame register, if one is designated.
func (u *UnwindInfo) Frame() (Frame, bool) {
	if u.frame == nil {
		return Frame{}, false
	}
	return *u.frame, true
}

// Codes returns a copy of the codes in ascending prologue-offset order.
func (u *UnwindInfo) Codes() []UnwindCode {
	return append([]UnwindCode(nil), u.codes...)
}

// NodeCount returns the total number of unwind code nodes.
func (u *UnwindInfo) NodeCount() int {
	n := 0
	for _, c := range u.codes {
		n += c.NodeCount()
	}
	return n
}

// EmitSize returns the encoded size in bytes. It fails when flags request
// exception handler or chained info, which this encoder does not produce.
func (u *UnwindInfo) EmitSize() (int, error) {
	if err := u.checkFlags(errors.PhaseSize); err != nil {
		return 0, err
	}
	return sizeForNodes(u.NodeCount()), nil
}

func sizeForNodes(n int) int {
	size := HeaderSize + n*NodeSize
	// the code array keeps the structure 32-bit aligned
	if n&1 == 1 {
		size += NodeSize
	}
	return size
}

func (u *UnwindInfo) checkFlags(phase errors.Phase) error {
	if u.flags != 0 {
		return errors.New(phase, errors.KindUnsupported).
			Value(u.flags).
			Detail("flags 0x%x: exception handler and chained unwind info are not supported", u.flags).
			Build()
	}
	return nil
}

// Validate reports the first contract violation: unsupported flags, an
// invalid code or frame register, or more nodes than the header can count.
func (u *UnwindInfo) Validate() error {
	if err := u.checkFlags(errors.PhaseValidate); err != nil {
		return err
	}
	if u.frame != nil {
		if err := u.frame.Validate(); err != nil {
			return err
		}
	}
	for i, c := range u.codes {
		if err := c.Validate(); err != nil {
			return errors.WithPath(errors.PhaseValidate, err, "code", strconv.Itoa(i))
		}
	}
	if n := u.NodeCount(); n > MaxNodes {
		return errors.Overflow(errors.PhaseValidate, []string{"nodes"}, n, "u8 node count")
	}
	return nil
}

// Emit serializes the unwind info into buf, which must hold at least
// EmitSize bytes. Bytes past EmitSize are left untouched. Nothing is written
// when an error is returned.
func (u *UnwindInfo) Emit(buf []byte) error {
	if err := u.checkFlags(errors.PhaseEmit); err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return err
	}

	nodes := u.NodeCount()
	size := sizeForNodes(nodes)
	if len(buf) < size {
		return errors.New(errors.PhaseEmit, errors.KindOutOfBounds).
			Path("buffer").
			Value(len(buf)).
			Detail("buffer of %d bytes cannot hold %d bytes of unwind info", len(buf), size).
			Build()
	}

	w := binary.NewWriter(buf[:size])
	w.WriteU8(u.flags<<3 | Version)
	w.WriteU8(u.prologueSize)
	w.WriteU8(uint8(nodes))
	if u.frame != nil {
		w.WriteU8(u.frame.encode())
	} else {
		w.WriteU8(0)
	}

	// codes are stored by descending prologue offset
	for i := len(u.codes) - 1; i >= 0; i-- {
		u.codes[i].emit(w)
	}

	if nodes&1 == 1 {
		w.WriteU16(0)
	}

	if w.Offset() != size {
		panic(errors.New(errors.PhaseEmit, errors.KindInvariant).
			Value(w.Offset()).
			Detail("emitted %d bytes, computed size is %d", w.Offset(), size).
			Build())
	}

	Logger().Debug("emitted unwind info",
		zap.Int("size", size),
		zap.Int("nodes", nodes),
		zap.Int("codes", len(u.codes)),
		zap.Uint8("prologue", u.prologueSize))
	return nil
}

// Encode allocates a buffer of exactly EmitSize bytes and emits into it.
func (u *UnwindInfo) Encode() ([]byte, error) {
	size, err := u.EmitSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := u.Emit(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// String returns a one-line summary.
func (u *UnwindInfo) String() string {
	frame := "none"
	if u.frame != nil {
		frame = fmt.Sprintf("%s+0x%x", u.frame.Reg, uint32(u.frame.Offset)*16)
	}
	return fmt.Sprintf("unwind info: prologue %d bytes, %d codes, %d nodes, frame %s",
		u.prologueSize, len(u.codes), u.NodeCount(), frame)
}
