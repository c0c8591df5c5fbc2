package xdata

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/internal/binary"
	"github.com/wippyai/unwind/winx64"
)

func pushes(n int) *winx64.UnwindInfo {
	codes := make([]winx64.UnwindCode, n)
	for i := range codes {
		codes[i] = winx64.PushRegister{Offset: uint8(i + 1), Reg: winx64.RBX}
	}
	return winx64.New(0, uint8(n), nil, codes)
}

func TestBuildLayout(t *testing.T) {
	funcs := []Function{
		{Name: "b", Begin: 0x1100, End: 0x1180, Info: pushes(1)}, // 4 + 2 + 2
		{Name: "a", Begin: 0x1000, End: 0x1040, Info: pushes(2)}, // 4 + 4
		{Name: "c", Begin: 0x1180, End: 0x1200, Info: pushes(0)}, // 4
	}

	sec, err := Build(context.Background(), funcs, WithXDataRVA(0x3000))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantOrder := []string{"a", "b", "c"}
	wantOffsets := []uint32{0, 8, 16}
	for i, e := range sec.Entries {
		if e.Name != wantOrder[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Name, wantOrder[i])
		}
		if e.Offset != wantOffsets[i] {
			t.Errorf("entry %s offset = %d, want %d", e.Name, e.Offset, wantOffsets[i])
		}
	}
	if len(sec.XData) != 20 {
		t.Errorf("len(XData) = %d, want 20", len(sec.XData))
	}
	if len(sec.PData) != 3*RuntimeFunctionSize {
		t.Fatalf("len(PData) = %d, want %d", len(sec.PData), 3*RuntimeFunctionSize)
	}

	r := binary.NewReader(sec.PData)
	for _, e := range sec.Entries {
		begin, _ := r.ReadU32()
		end, _ := r.ReadU32()
		addr, _ := r.ReadU32()
		if begin != e.Begin || end != e.End || addr != 0x3000+e.Offset {
			t.Errorf("%s: pdata {0x%x 0x%x 0x%x}, want {0x%x 0x%x 0x%x}",
				e.Name, begin, end, addr, e.Begin, e.End, 0x3000+e.Offset)
		}
	}

	for i, f := range []Function{funcs[1], funcs[0], funcs[2]} {
		want, err := f.Info.Encode()
		if err != nil {
			t.Fatal(err)
		}
		e := sec.Entries[i]
		got := sec.XData[e.Offset : int(e.Offset)+e.Size]
		if !bytes.Equal(got, want) {
			t.Errorf("%s: xdata % x, want % x", e.Name, got, want)
		}
	}
}

func TestBuildWorkersDeterministic(t *testing.T) {
	var funcs []Function
	for i := 0; i < 64; i++ {
		funcs = append(funcs, Function{
			Name:  fmt.Sprintf("f%d", i),
			Begin: uint32(0x1000 + i*0x100),
			End:   uint32(0x1000 + i*0x100 + 0x80),
			Info:  pushes(i % 7),
		})
	}

	ref, err := Build(context.Background(), funcs, WithWorkers(1))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, n := range []int{0, 2, 8, 100} {
		sec, err := Build(context.Background(), funcs, WithWorkers(n))
		if err != nil {
			t.Fatalf("workers %d: %v", n, err)
		}
		if !bytes.Equal(sec.XData, ref.XData) || !bytes.Equal(sec.PData, ref.PData) {
			t.Errorf("workers %d: output differs from sequential build", n)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	sec, err := Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sec.XData) != 0 || len(sec.PData) != 0 || len(sec.Entries) != 0 {
		t.Errorf("expected empty sections, got %+v", sec)
	}
}

func TestBuildRangeErrors(t *testing.T) {
	tests := []struct {
		name  string
		funcs []Function
	}{
		{"missing info", []Function{{Name: "f", Begin: 0, End: 4}}},
		{"empty range", []Function{{Name: "f", Begin: 4, End: 4, Info: pushes(1)}}},
		{"inverted range", []Function{{Name: "f", Begin: 8, End: 4, Info: pushes(1)}}},
		{"overlap", []Function{
			{Name: "f", Begin: 0, End: 0x20, Info: pushes(1)},
			{Name: "g", Begin: 0x10, End: 0x30, Info: pushes(1)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), tt.funcs)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Phase != errors.PhaseLink || e.Kind != errors.KindInvalidInput {
				t.Errorf("got [%s] %s, want [link] invalid_input", e.Phase, e.Kind)
			}
		})
	}
}

func TestBuildCollectsAllFailures(t *testing.T) {
	bad := winx64.New(0, 4, nil, []winx64.UnwindCode{winx64.StackAlloc{Offset: 4, Size: 12}})
	funcs := []Function{
		{Name: "ok", Begin: 0x00, End: 0x10, Info: pushes(1)},
		{Name: "bad1", Begin: 0x10, End: 0x20, Info: bad},
		{Name: "bad2", Begin: 0x20, End: 0x30, Info: bad},
	}

	_, err := Build(context.Background(), funcs)
	var merr *multierror.Error
	if !stderrors.As(err, &merr) {
		t.Fatalf("expected *multierror.Error, got %T: %v", err, err)
	}
	if len(merr.Errors) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(merr.Errors), err)
	}
	for i, name := range []string{"bad1", "bad2"} {
		var e *errors.Error
		if !stderrors.As(merr.Errors[i], &e) {
			t.Fatalf("error %d is %T", i, merr.Errors[i])
		}
		if len(e.Path) < 2 || e.Path[0] != "function" || e.Path[1] != name {
			t.Errorf("error %d path = %v, want function.%s", i, e.Path, name)
		}
		if e.Kind != errors.KindMisaligned {
			t.Errorf("error %d kind = %s, want misaligned", i, e.Kind)
		}
	}
}

func TestBuildFlagsRejectedAtLayout(t *testing.T) {
	funcs := []Function{
		{Name: "eh", Begin: 0, End: 0x10, Info: winx64.New(1, 0, nil, nil)},
	}
	_, err := Build(context.Background(), funcs)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSize, Kind: errors.KindUnsupported}) {
		t.Errorf("expected size/unsupported error, got %v", err)
	}
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	funcs := []Function{{Name: "f", Begin: 0, End: 0x10, Info: pushes(1)}}
	_, err := Build(ctx, funcs)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindCanceled}) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestBuildRVAOverflow(t *testing.T) {
	funcs := []Function{{Name: "f", Begin: 0, End: 0x10, Info: pushes(1)}}
	_, err := Build(context.Background(), funcs, WithXDataRVA(0xFFFFFFFC))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindOverflow}) {
		t.Errorf("expected overflow error, got %v", err)
	}
}

func TestAlignUp(t *testing.T) {
	for _, tt := range []struct{ in, want int }{{0, 0}, {1, 4}, {4, 4}, {6, 8}, {8, 8}} {
		if got := alignUp(tt.in, 4); got != tt.want {
			t.Errorf("alignUp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
