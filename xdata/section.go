package xdata

import (
	"context"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/internal/binary"
	"github.com/wippyai/unwind/winx64"
)

// RuntimeFunctionSize is the size of a .pdata RUNTIME_FUNCTION entry.
const RuntimeFunctionSize = 12

// Alignment of each UNWIND_INFO within .xdata.
const Alignment = 4

// Function is a code range with its unwind info.
type Function struct {
	Info  *winx64.UnwindInfo
	Name  string
	Begin uint32 // RVA of the first byte
	End   uint32 // RVA one past the last byte
}

// Entry locates one function's data in the built sections.
type Entry struct {
	Name   string
	Begin  uint32
	End    uint32
	Offset uint32 // offset of the UNWIND_INFO within .xdata
	Size   int
}

// Section is the result of Build.
type Section struct {
	XData   []byte
	PData   []byte
	Entries []Entry // sorted by Begin
}

// Build encodes funcs into .xdata and .pdata. All per-function encoding
// failures are reported together; layout errors abort immediately.
func Build(ctx context.Context, funcs []Function, opts ...Option) (*Section, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sorted := append([]Function(nil), funcs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Begin < sorted[j].Begin })

	if err := checkRanges(sorted); err != nil {
		return nil, err
	}

	entries, total, err := layout(sorted)
	if err != nil {
		return nil, err
	}
	if uint64(cfg.xdataRVA)+uint64(total) > math.MaxUint32 {
		return nil, errors.Overflow(errors.PhaseLink, []string{"xdata"}, uint64(cfg.xdataRVA)+uint64(total), "u32 RVA")
	}

	xdata := make([]byte, total)
	failures := make([]error, len(sorted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i := range sorted {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e := entries[i]
			end := int(e.Offset) + e.Size
			if err := sorted[i].Info.Emit(xdata[e.Offset:end:end]); err != nil {
				failures[i] = errors.WithPath(errors.PhaseLink, err, "function", e.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Canceled(errors.PhaseLink, err)
	}

	var result *multierror.Error
	for _, err := range failures {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	pdata := make([]byte, len(entries)*RuntimeFunctionSize)
	w := binary.NewWriter(pdata)
	for _, e := range entries {
		w.WriteU32(e.Begin)
		w.WriteU32(e.End)
		w.WriteU32(cfg.xdataRVA + e.Offset)
	}

	Logger().Debug("built unwind sections",
		zap.Int("functions", len(entries)),
		zap.Int("xdata", len(xdata)),
		zap.Int("pdata", len(pdata)),
		zap.Int("workers", cfg.workers))

	return &Section{XData: xdata, PData: pdata, Entries: entries}, nil
}

func checkRanges(sorted []Function) error {
	for i, f := range sorted {
		if f.Info == nil {
			return errors.New(errors.PhaseLink, errors.KindInvalidInput).
				Path("function", f.Name).
				Detail("missing unwind info").
				Build()
		}
		if f.End <= f.Begin {
			return errors.New(errors.PhaseLink, errors.KindInvalidInput).
				Path("function", f.Name).
				Value(f.End).
				Detail("empty range [0x%x, 0x%x)", f.Begin, f.End).
				Build()
		}
		if i > 0 && sorted[i-1].End > f.Begin {
			prev := sorted[i-1]
			return errors.New(errors.PhaseLink, errors.KindInvalidInput).
				Path("function", f.Name).
				Value(f.Begin).
				Detail("range [0x%x, 0x%x) overlaps %s [0x%x, 0x%x)", f.Begin, f.End, prev.Name, prev.Begin, prev.End).
				Build()
		}
	}
	return nil
}

// layout computes each function's offset in .xdata. Every EmitSize failure
// is collected before returning.
func layout(sorted []Function) ([]Entry, int, error) {
	entries := make([]Entry, len(sorted))
	var result *multierror.Error
	off := 0
	for i, f := range sorted {
		size, err := f.Info.EmitSize()
		if err != nil {
			result = multierror.Append(result, errors.WithPath(errors.PhaseLink, err, "function", f.Name))
			continue
		}
		off = alignUp(off, Alignment)
		entries[i] = Entry{
			Name:   f.Name,
			Begin:  f.Begin,
			End:    f.End,
			Offset: uint32(off),
			Size:   size,
		}
		off += size
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, 0, err
	}
	return entries, alignUp(off, Alignment), nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
