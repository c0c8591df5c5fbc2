package prologue

import (
	"math"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/arch/x86/x86asm"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/winx64"
)

// Options controls prologue analysis.
type Options struct {
	MaxBytes int // bytes to examine; 0 = 255, the largest encodable prologue
}

const defaultMaxBytes = math.MaxUint8

func (o Options) effectiveMax() int {
	if o.MaxBytes > 0 && o.MaxBytes < defaultMaxBytes {
		return o.MaxBytes
	}
	return defaultMaxBytes
}

// Inst is a decoded prologue instruction.
type Inst struct {
	Code   winx64.UnwindCode // nil when the instruction has no unwind effect
	Text   string
	Offset int
	Len    int
}

// End returns the offset just past the instruction.
func (i Inst) End() int {
	return i.Offset + i.Len
}

// Result holds the analyzed prologue.
type Result struct {
	Info  *winx64.UnwindInfo
	Insts []Inst
	// Stop describes the instruction that ended the prologue.
	Stop string
}

var gprs = map[x86asm.Reg]winx64.Register{
	x86asm.RAX: winx64.RAX,
	x86asm.RCX: winx64.RCX,
	x86asm.RDX: winx64.RDX,
	x86asm.RBX: winx64.RBX,
	x86asm.RSP: winx64.RSP,
	x86asm.RBP: winx64.RBP,
	x86asm.RSI: winx64.RSI,
	x86asm.RDI: winx64.RDI,
	x86asm.R8:  winx64.R8,
	x86asm.R9:  winx64.R9,
	x86asm.R10: winx64.R10,
	x86asm.R11: winx64.R11,
	x86asm.R12: winx64.R12,
	x86asm.R13: winx64.R13,
	x86asm.R14: winx64.R14,
	x86asm.R15: winx64.R15,
}

var xmms = map[x86asm.Reg]winx64.XMM{
	x86asm.X0:  winx64.XMM0,
	x86asm.X1:  winx64.XMM1,
	x86asm.X2:  winx64.XMM2,
	x86asm.X3:  winx64.XMM3,
	x86asm.X4:  winx64.XMM4,
	x86asm.X5:  winx64.XMM5,
	x86asm.X6:  winx64.XMM6,
	x86asm.X7:  winx64.XMM7,
	x86asm.X8:  winx64.XMM8,
	x86asm.X9:  winx64.XMM9,
	x86asm.X10: winx64.XMM10,
	x86asm.X11: winx64.XMM11,
	x86asm.X12: winx64.XMM12,
	x86asm.X13: winx64.XMM13,
	x86asm.X14: winx64.XMM14,
	x86asm.X15: winx64.XMM15,
}

// volatile registers may be homed to their shadow slots without unwind codes
var volatile = map[winx64.Register]bool{
	winx64.RAX: true,
	winx64.RCX: true,
	winx64.RDX: true,
	winx64.R8:  true,
	winx64.R9:  true,
	winx64.R10: true,
	winx64.R11: true,
}

// Analyze decodes the prologue at the start of code.
func Analyze(code []byte, opts Options) (*Result, error) {
	limit := opts.effectiveMax()
	if len(code) < limit {
		limit = len(code)
	}

	res := &Result{}
	b := winx64.NewBuilder()
	var frame bool
	off := 0

	for off < limit {
		inst, err := x86asm.Decode(code[off:limit], 64)
		if err != nil {
			res.Stop = "undecodable bytes at offset " + strconv.Itoa(off)
			break
		}
		text := x86asm.IntelSyntax(inst, uint64(off), nil)
		end := off + inst.Len

		step, err := classify(inst, uint8(end))
		if err != nil {
			return nil, errors.WithPath(errors.PhaseAnalyze, err, "inst", strconv.Itoa(off))
		}
		if step.stop {
			res.Stop = text
			break
		}
		if step.frame != nil {
			if frame {
				res.Stop = text
				break
			}
			frame = true
			b.Frame(step.frame.reg, step.frame.offset)
		}
		if step.code != nil {
			b.Add(step.code)
		}

		res.Insts = append(res.Insts, Inst{Code: step.code, Text: text, Offset: off, Len: inst.Len})
		off = end
	}

	if res.Stop == "" && off >= limit && limit < len(code) {
		res.Stop = "analysis limit of " + strconv.Itoa(limit) + " bytes"
	}

	b.PrologueSize(uint8(off))
	info, err := b.Build()
	if err != nil {
		return nil, errors.WithPath(errors.PhaseAnalyze, err, "prologue")
	}
	res.Info = info

	Logger().Debug("analyzed prologue",
		zap.Int("size", off),
		zap.Int("instructions", len(res.Insts)),
		zap.Int("nodes", info.NodeCount()),
		zap.String("stop", res.Stop))
	return res, nil
}

type frameSetup struct {
	reg    winx64.Register
	offset uint32
}

type step struct {
	code  winx64.UnwindCode
	frame *frameSetup
	stop  bool
}

func classify(inst x86asm.Inst, end uint8) (step, error) {
	switch inst.Op {
	case x86asm.PUSH:
		if reg, ok := gpr(inst.Args[0]); ok {
			return step{code: winx64.PushRegister{Offset: end, Reg: reg}}, nil
		}

	case x86asm.SUB:
		if isReg(inst.Args[0], x86asm.RSP) {
			imm, ok := inst.Args[1].(x86asm.Imm)
			if !ok {
				break
			}
			if imm <= 0 || imm > math.MaxUint32 {
				return step{}, errors.Overflow(errors.PhaseAnalyze, nil, int64(imm), "stack allocation")
			}
			return step{code: winx64.StackAlloc{Offset: end, Size: uint32(imm)}}, nil
		}

	case x86asm.MOVAPS, x86asm.MOVUPS, x86asm.MOVDQA, x86asm.MOVDQU:
		disp, ok := rspSlot(inst.Args[0])
		if !ok {
			break
		}
		x, ok := xmms[regOf(inst.Args[1])]
		if !ok {
			break
		}
		return step{code: winx64.SaveXmm{Offset: end, Reg: x, StackOffset: disp}}, nil

	case x86asm.MOV:
		if reg, ok := gpr(inst.Args[0]); ok && isReg(inst.Args[1], x86asm.RSP) && reg != winx64.RSP {
			return step{frame: &frameSetup{reg: reg}}, nil
		}
		if _, ok := rspSlot(inst.Args[0]); ok {
			reg, ok := gpr(inst.Args[1])
			if !ok {
				break
			}
			if volatile[reg] {
				return step{}, nil
			}
			return step{}, errors.New(errors.PhaseAnalyze, errors.KindUnsupported).
				Op(winx64.OpSaveNonvol.String()).
				Detail("store of non-volatile %s needs SAVE_NONVOL", reg).
				Build()
		}

	case x86asm.LEA:
		reg, ok := gpr(inst.Args[0])
		if !ok {
			break
		}
		if disp, ok := rspSlot(inst.Args[1]); ok {
			return step{frame: &frameSetup{reg: reg, offset: disp}}, nil
		}
	}
	return step{stop: true}, nil
}

func regOf(a x86asm.Arg) x86asm.Reg {
	r, _ := a.(x86asm.Reg)
	return r
}

func isReg(a x86asm.Arg, want x86asm.Reg) bool {
	r, ok := a.(x86asm.Reg)
	return ok && r == want
}

func gpr(a x86asm.Arg) (winx64.Register, bool) {
	r, ok := a.(x86asm.Reg)
	if !ok {
		return 0, false
	}
	reg, ok := gprs[r]
	return reg, ok
}

// rspSlot matches a [rsp+disp] operand with a non-negative displacement.
func rspSlot(a x86asm.Arg) (uint32, bool) {
	m, ok := a.(x86asm.Mem)
	if !ok || m.Base != x86asm.RSP || m.Index != 0 || m.Segment != 0 {
		return 0, false
	}
	if m.Disp < 0 || m.Disp > math.MaxUint32 {
		return 0, false
	}
	return uint32(m.Disp), true
}
