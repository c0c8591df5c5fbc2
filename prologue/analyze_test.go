package prologue

import (
	"bytes"
	stderrors "errors"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/winx64"
)

func TestAnalyzeFramePointerPrologue(t *testing.T) {
	SetLogger(zaptest.NewLogger(t))
	defer SetLogger(zap.NewNop())

	code := []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xe5, // mov rbp, rsp
		0x48, 0x83, 0xec, 0x20, // sub rsp, 0x20
		0xc3, // ret
	}

	res, err := Analyze(code, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	want := []winx64.UnwindCode{
		winx64.PushRegister{Offset: 1, Reg: winx64.RBP},
		winx64.StackAlloc{Offset: 8, Size: 0x20},
	}
	if !reflect.DeepEqual(res.Info.Codes(), want) {
		t.Errorf("codes:\n got %v\nwant %v", res.Info.Codes(), want)
	}
	if res.Info.PrologueSize() != 8 {
		t.Errorf("PrologueSize = %d, want 8", res.Info.PrologueSize())
	}
	if f, ok := res.Info.Frame(); !ok || f.Reg != winx64.RBP || f.Offset != 0 {
		t.Errorf("Frame = %v, %v", f, ok)
	}
	if len(res.Insts) != 3 {
		t.Fatalf("Insts = %d, want 3", len(res.Insts))
	}
	if res.Insts[1].Code != nil {
		t.Errorf("mov rbp, rsp should carry no code, got %v", res.Insts[1].Code)
	}
	if res.Insts[2].End() != 8 {
		t.Errorf("last End = %d, want 8", res.Insts[2].End())
	}
	if !strings.Contains(res.Stop, "ret") {
		t.Errorf("Stop = %q, want ret", res.Stop)
	}

	enc, err := res.Info.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantBytes := []byte{0x01, 0x08, 0x02, 0x05, 0x08, 0x32, 0x01, 0x50}
	if !bytes.Equal(enc, wantBytes) {
		t.Errorf("Encode:\n got % x\nwant % x", enc, wantBytes)
	}
}

func TestAnalyzeLeafWithSavesPrologue(t *testing.T) {
	code := []byte{
		0x48, 0x89, 0x4c, 0x24, 0x08, // mov [rsp+8], rcx
		0x53,       // push rbx
		0x57,       // push rdi
		0x41, 0x56, // push r14
		0x48, 0x81, 0xec, 0x00, 0x10, 0x00, 0x00, // sub rsp, 0x1000
		0x0f, 0x29, 0x74, 0x24, 0x20, // movaps [rsp+0x20], xmm6
		0x66, 0x0f, 0x7f, 0x7c, 0x24, 0x30, // movdqa [rsp+0x30], xmm7
		0x33, 0xc0, // xor eax, eax
	}

	res, err := Analyze(code, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	want := []winx64.UnwindCode{
		winx64.PushRegister{Offset: 6, Reg: winx64.RBX},
		winx64.PushRegister{Offset: 7, Reg: winx64.RDI},
		winx64.PushRegister{Offset: 9, Reg: winx64.R14},
		winx64.StackAlloc{Offset: 16, Size: 0x1000},
		winx64.SaveXmm{Offset: 21, Reg: winx64.XMM6, StackOffset: 0x20},
		winx64.SaveXmm{Offset: 27, Reg: winx64.XMM7, StackOffset: 0x30},
	}
	if !reflect.DeepEqual(res.Info.Codes(), want) {
		t.Errorf("codes:\n got %v\nwant %v", res.Info.Codes(), want)
	}
	if res.Info.PrologueSize() != 27 {
		t.Errorf("PrologueSize = %d, want 27", res.Info.PrologueSize())
	}
	if _, ok := res.Info.Frame(); ok {
		t.Error("unexpected frame register")
	}
	if res.Info.NodeCount() != 9 {
		t.Errorf("NodeCount = %d, want 9", res.Info.NodeCount())
	}
	if len(res.Insts) != 7 {
		t.Errorf("Insts = %d, want 7", len(res.Insts))
	}
}

func TestAnalyzeLeaFrame(t *testing.T) {
	code := []byte{
		0x55,                         // push rbp
		0x48, 0x8d, 0x6c, 0x24, 0x20, // lea rbp, [rsp+0x20]
		0xc3,
	}
	res, err := Analyze(code, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	f, ok := res.Info.Frame()
	if !ok || f.Reg != winx64.RBP || f.Offset != 2 {
		t.Errorf("Frame = %v, %v", f, ok)
	}
	if res.Info.PrologueSize() != 6 {
		t.Errorf("PrologueSize = %d, want 6", res.Info.PrologueSize())
	}
}

func TestAnalyzeLargeAllocation(t *testing.T) {
	code := []byte{0x48, 0x81, 0xec, 0x00, 0x00, 0x10, 0x00} // sub rsp, 0x100000
	res, err := Analyze(code, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	codes := res.Info.Codes()
	if len(codes) != 1 || codes[0].NodeCount() != 3 {
		t.Fatalf("codes = %v", codes)
	}
	if res.Stop != "" {
		t.Errorf("Stop = %q, want empty at end of code", res.Stop)
	}
}

func TestAnalyzeLimit(t *testing.T) {
	code := []byte{0x53, 0x53, 0x53, 0x53} // push rbx x4
	res, err := Analyze(code, Options{MaxBytes: 2})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Info.Codes()) != 2 {
		t.Errorf("codes = %v, want 2 pushes", res.Info.Codes())
	}
	if !strings.Contains(res.Stop, "limit") {
		t.Errorf("Stop = %q", res.Stop)
	}
}

func TestAnalyzeStops(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		codes int
		stop  string
	}{
		{"empty", nil, 0, ""},
		{"undecodable", []byte{0x53, 0x48}, 1, "undecodable"},
		{"second frame setup", []byte{0x48, 0x89, 0xe5, 0x48, 0x89, 0xe3}, 0, "mov"},
		{"push of 16-bit register", []byte{0x53, 0x66, 0x55}, 1, "push"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Analyze(tt.code, Options{})
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if len(res.Info.Codes()) != tt.codes {
				t.Errorf("codes = %v, want %d", res.Info.Codes(), tt.codes)
			}
			if !strings.Contains(res.Stop, tt.stop) {
				t.Errorf("Stop = %q, want it to contain %q", res.Stop, tt.stop)
			}
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		kind errors.Kind
	}{
		{"non-volatile store", []byte{0x48, 0x89, 0x5c, 0x24, 0x08}, errors.KindUnsupported},
		{"negative allocation", []byte{0x48, 0x83, 0xec, 0xf0}, errors.KindOverflow},
		{"misaligned allocation", []byte{0x48, 0x83, 0xec, 0x0c}, errors.KindMisaligned},
		{"misaligned frame", []byte{0x48, 0x8d, 0x6c, 0x24, 0x08}, errors.KindMisaligned},
		{"misaligned xmm save", []byte{0x0f, 0x11, 0x74, 0x24, 0x08}, errors.KindMisaligned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.code, Options{})
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v: %v", e.Kind, tt.kind, e)
			}
		})
	}
}
