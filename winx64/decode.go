package winx64

import (
	"math"
	"strconv"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/internal/binary"
)

// Decode parses an UNWIND_INFO structure from the start of data.
// Trailing bytes are ignored. Codes are returned in ascending prologue-offset
// order, so re-encoding a canonical structure reproduces it exactly.
func Decode(data []byte) (*UnwindInfo, error) {
	r := binary.NewReader(data)

	header, err := r.ReadU8()
	if err != nil {
		return nil, truncated("header", r, err)
	}
	if v := header & 0x7; v != Version {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("header").
			Value(v).
			Detail("unwind info version %d, want %d", v, Version).
			Build()
	}
	if flags := header >> 3; flags != 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Path("header").
			Value(flags).
			Detail("flags 0x%x: exception handler and chained unwind info are not supported", flags).
			Build()
	}

	prologueSize, err := r.ReadU8()
	if err != nil {
		return nil, truncated("prologue size", r, err)
	}
	count, err := r.ReadU8()
	if err != nil {
		return nil, truncated("node count", r, err)
	}
	fr, err := r.ReadU8()
	if err != nil {
		return nil, truncated("frame register", r, err)
	}

	var frame *Frame
	if reg := Register(fr & 0xf); reg != RAX {
		frame = &Frame{Reg: reg, Offset: fr >> 4}
	} else if fr != 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, []string{"frame"}, "frame offset set without a frame register")
	}

	nodes := int(count)
	padded := nodes
	if nodes&1 == 1 {
		padded++
	}
	if need := padded * NodeSize; r.Remaining() < need {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path("codes").
			Value(HeaderSize+need).
			Detail("%d nodes need %d bytes, %d available", nodes, need, r.Remaining()).
			Build()
	}

	var codes []UnwindCode
	for used := 0; used < nodes; {
		code, err := decodeCode(r, nodes-used)
		if err != nil {
			return nil, errors.WithPath(errors.PhaseDecode, err, "node", strconv.Itoa(used))
		}
		if err := code.Validate(); err != nil {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path("node", strconv.Itoa(used)).
				Op(code.OpCode().String()).
				Cause(err).
				Build()
		}
		codes = append(codes, code)
		used += code.NodeCount()
	}

	// stored descending, kept ascending
	for i, j := 0, len(codes)-1; i < j; i, j = i+1, j-1 {
		codes[i], codes[j] = codes[j], codes[i]
	}

	return &UnwindInfo{
		prologueSize: prologueSize,
		frame:        frame,
		codes:        codes,
	}, nil
}

func decodeCode(r *binary.Reader, left int) (UnwindCode, error) {
	offset, _ := r.ReadU8()
	b, _ := r.ReadU8()
	op := OpCode(b & 0xf)
	info := b >> 4

	need := func(n int) error {
		if n > left {
			return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
				Op(op.String()).
				Detail("operation needs %d nodes, %d left", n, left).
				Build()
		}
		return nil
	}

	switch op {
	case OpPushNonvol:
		return PushRegister{Offset: offset, Reg: Register(info)}, nil

	case OpAllocSmall:
		return StackAlloc{Offset: offset, Size: uint32(info)*StackSlotSize + StackSlotSize}, nil

	case OpAllocLarge:
		switch info {
		case allocLarge16:
			if err := need(2); err != nil {
				return nil, err
			}
			v, _ := r.ReadU16()
			code := StackAlloc{Offset: offset, Size: uint32(v) * StackSlotSize}
			if code.NodeCount() != 2 {
				return nil, nonCanonical(op, code.Size)
			}
			return code, nil
		case allocLarge32:
			if err := need(3); err != nil {
				return nil, err
			}
			v, _ := r.ReadU32()
			code := StackAlloc{Offset: offset, Size: v}
			if code.NodeCount() != 3 {
				return nil, nonCanonical(op, code.Size)
			}
			return code, nil
		default:
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Op(op.String()).
				Value(info).
				Detail("unknown allocation size class %d", info).
				Build()
		}

	case OpSaveXMM128:
		if err := need(2); err != nil {
			return nil, err
		}
		v, _ := r.ReadU16()
		return SaveXmm{Offset: offset, Reg: XMM(info), StackOffset: uint32(v) * XMMSlotSize}, nil

	case OpSaveXMM128Far:
		if err := need(3); err != nil {
			return nil, err
		}
		lo, _ := r.ReadU16()
		hi, _ := r.ReadU16()
		scaled := uint64(hi)<<16 | uint64(lo)
		if scaled*uint64(XMMSlotSize) > math.MaxUint32 {
			return nil, errors.Overflow(errors.PhaseDecode, nil, scaled*uint64(XMMSlotSize), "u32 stack offset")
		}
		code := SaveXmm{Offset: offset, Reg: XMM(info), StackOffset: uint32(scaled) * XMMSlotSize}
		if code.NodeCount() != 3 {
			return nil, nonCanonical(op, code.StackOffset)
		}
		return code, nil
	}

	return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
		Op(op.String()).
		Value(uint8(op)).
		Detail("operation is not produced by this encoder").
		Build()
}

// nonCanonical reports a value stored in a wider form than Encode would use.
func nonCanonical(op OpCode, v uint32) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Op(op.String()).
		Value(v).
		Detail("value 0x%x uses a wider encoding than needed", v).
		Build()
}

func truncated(field string, r *binary.Reader, cause error) error {
	return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
		Path(field).
		Value(r.Position()).
		Cause(cause).
		Detail("truncated at byte %d", r.Position()).
		Build()
}
