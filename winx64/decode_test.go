package winx64

import (
	"bytes"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/wippyai/unwind/errors"
)

func TestDecodeSample(t *testing.T) {
	info, err := Decode(samplePrologueBytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := samplePrologue()
	if info.PrologueSize() != want.PrologueSize() {
		t.Errorf("PrologueSize = %d, want %d", info.PrologueSize(), want.PrologueSize())
	}
	if !reflect.DeepEqual(info.Codes(), want.Codes()) {
		t.Errorf("Codes:\n got %v\nwant %v", info.Codes(), want.Codes())
	}
	if _, ok := info.Frame(); ok {
		t.Error("unexpected frame register")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	infos := []*UnwindInfo{
		New(0, 0, nil, nil),
		samplePrologue(),
		New(0, 0x20, &Frame{Reg: RBP, Offset: 3}, []UnwindCode{
			PushRegister{Offset: 1, Reg: RBP},
			PushRegister{Offset: 3, Reg: R12},
			StackAlloc{Offset: 10, Size: 524280},
			StackAlloc{Offset: 17, Size: 524288},
			SaveXmm{Offset: 24, Reg: XMM15, StackOffset: 0xFFFF0},
			SaveXmm{Offset: 32, Reg: XMM7, StackOffset: 0x100000},
		}),
	}

	for i, info := range infos {
		enc, err := info.Encode()
		if err != nil {
			t.Fatalf("%d: Encode: %v", i, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("%d: Decode: %v", i, err)
		}
		if !reflect.DeepEqual(dec.Codes(), info.Codes()) {
			t.Errorf("%d: codes\n got %v\nwant %v", i, dec.Codes(), info.Codes())
		}
		f1, ok1 := dec.Frame()
		f2, ok2 := info.Frame()
		if f1 != f2 || ok1 != ok2 {
			t.Errorf("%d: frame %v/%v, want %v/%v", i, f1, ok1, f2, ok2)
		}
		again, err := dec.Encode()
		if err != nil {
			t.Fatalf("%d: re-Encode: %v", i, err)
		}
		if !bytes.Equal(again, enc) {
			t.Errorf("%d: re-encoded\n got % x\nwant % x", i, again, enc)
		}
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := append(append([]byte(nil), samplePrologueBytes...), 0xde, 0xad, 0xbe, 0xef)
	if _, err := Decode(data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		phase errors.Phase
		kind  errors.Kind
	}{
		{"empty", nil, errors.PhaseDecode, errors.KindOutOfBounds},
		{"header only", []byte{0x01, 0x04}, errors.PhaseDecode, errors.KindOutOfBounds},
		{"bad version", []byte{0x02, 0x00, 0x00, 0x00}, errors.PhaseDecode, errors.KindInvalidData},
		{"exception handler flag", []byte{0x09, 0x00, 0x00, 0x00}, errors.PhaseDecode, errors.KindUnsupported},
		{"chained info flag", []byte{0x21, 0x00, 0x00, 0x00}, errors.PhaseDecode, errors.KindUnsupported},
		{"frame offset without register", []byte{0x01, 0x00, 0x00, 0x30}, errors.PhaseDecode, errors.KindInvalidData},
		{"nodes truncated", []byte{0x01, 0x04, 0x02, 0x00, 0x01, 0x50}, errors.PhaseDecode, errors.KindOutOfBounds},
		{"missing padding", []byte{0x01, 0x04, 0x01, 0x00, 0x01, 0x50}, errors.PhaseDecode, errors.KindOutOfBounds},
		{"set fpreg", []byte{0x01, 0x04, 0x01, 0x05, 0x04, 0x03, 0x00, 0x00}, errors.PhaseDecode, errors.KindUnsupported},
		{"save nonvol", []byte{0x01, 0x04, 0x02, 0x00, 0x04, 0x34, 0x01, 0x00}, errors.PhaseDecode, errors.KindUnsupported},
		{"large alloc split by count", []byte{0x01, 0x08, 0x01, 0x00, 0x07, 0x01, 0x00, 0x02}, errors.PhaseDecode, errors.KindOutOfBounds},
		{"unknown alloc class", []byte{0x01, 0x08, 0x02, 0x00, 0x07, 0x21, 0x00, 0x02}, errors.PhaseDecode, errors.KindInvalidData},
		{"non canonical large16", []byte{0x01, 0x08, 0x02, 0x00, 0x07, 0x01, 0x08, 0x00}, errors.PhaseDecode, errors.KindInvalidData},
		{"non canonical large32", []byte{0x01, 0x08, 0x03, 0x00, 0x07, 0x11, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00}, errors.PhaseDecode, errors.KindInvalidData},
		{"large32 misaligned", []byte{0x01, 0x08, 0x03, 0x00, 0x07, 0x11, 0x01, 0x00, 0x08, 0x00, 0x00, 0x00}, errors.PhaseDecode, errors.KindInvalidData},
		{"non canonical far xmm", []byte{0x01, 0x08, 0x03, 0x00, 0x07, 0x69, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}, errors.PhaseDecode, errors.KindInvalidData},
		{"far xmm overflow", []byte{0x01, 0x08, 0x03, 0x00, 0x07, 0x69, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00}, errors.PhaseDecode, errors.KindOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Phase != tt.phase || e.Kind != tt.kind {
				t.Errorf("got [%s] %s, want [%s] %s: %v", e.Phase, e.Kind, tt.phase, tt.kind, e)
			}
		})
	}
}
