// Package manifest reads TOML descriptions of functions and their unwind
// codes and turns them into inputs for xdata.Build.
//
// A manifest looks like:
//
//	xdata_rva = 0x3000
//	workers = 4
//
//	[[function]]
//	name = "main"
//	begin = 0x1000
//	end = 0x1080
//	prologue_size = 12
//
//	[function.frame]
//	register = "rbp"
//	offset = 32
//
//	[[function.code]]
//	op = "push"
//	offset = 1
//	register = "rbp"
//
//	[[function.code]]
//	op = "alloc"
//	offset = 6
//	size = 40
//
// Instead of listing codes, a function may give the raw prologue bytes as
// hex in a prologue key; the codes are then inferred by prologue.Analyze.
package manifest

import (
	"encoding/hex"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/unwind/errors"
	"github.com/wippyai/unwind/prologue"
	"github.com/wippyai/unwind/winx64"
	"github.com/wippyai/unwind/xdata"
)

// Manifest is a parsed manifest file.
type Manifest struct {
	Functions []Function `toml:"function"`
	XDataRVA  uint32     `toml:"xdata_rva"`
	Workers   int        `toml:"workers"`
}

// Function describes one function's code range and unwind data.
type Function struct {
	Frame        *Frame `toml:"frame"`
	PrologueSize *int64 `toml:"prologue_size"`
	Name         string `toml:"name"`
	Prologue     string `toml:"prologue"`
	Codes        []Code `toml:"code"`
	Begin        uint32 `toml:"begin"`
	End          uint32 `toml:"end"`
	Flags        uint8  `toml:"flags"`
}

// Frame names the frame register and its offset from RSP in bytes.
type Frame struct {
	Register string `toml:"register"`
	Offset   uint32 `toml:"offset"`
}

// Code is one unwind operation. Op selects which of the remaining fields
// apply: push uses Register, alloc uses Size, save_xmm uses Register and
// StackOffset.
type Code struct {
	Op          string `toml:"op"`
	Register    string `toml:"register"`
	Offset      int64  `toml:"offset"`
	Size        int64  `toml:"size"`
	StackOffset int64  `toml:"stack_offset"`
}

// Parse decodes manifest text.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, errors.ParseFailed("manifest", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).
			Path(strings.Split(undecoded[0].String(), ".")...).
			Detail("unknown key %q", undecoded[0].String()).
			Build()
	}
	if m.Workers < 0 {
		return nil, errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Path("workers").
			Value(m.Workers).
			Detail("workers must not be negative").
			Build()
	}
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "read "+path)
	}
	return Parse(data)
}

// Options returns the xdata.Build options the manifest configures.
func (m *Manifest) Options() []xdata.Option {
	opts := []xdata.Option{xdata.WithXDataRVA(m.XDataRVA)}
	if m.Workers > 0 {
		opts = append(opts, xdata.WithWorkers(m.Workers))
	}
	return opts
}

// Resolve converts every function to unwind info. The first failing
// function's error is returned, with its name in the path.
func (m *Manifest) Resolve() ([]xdata.Function, error) {
	out := make([]xdata.Function, 0, len(m.Functions))
	for i, f := range m.Functions {
		name := f.Name
		if name == "" {
			name = "#" + strconv.Itoa(i)
		}
		info, err := f.Info()
		if err != nil {
			return nil, errors.WithPath(errors.PhaseParse, err, "function", name)
		}
		out = append(out, xdata.Function{
			Name:  name,
			Begin: f.Begin,
			End:   f.End,
			Info:  info,
		})
	}
	return out, nil
}

// Info builds the function's unwind info from its code list or prologue bytes.
func (f *Function) Info() (*winx64.UnwindInfo, error) {
	if f.Prologue != "" {
		if len(f.Codes) > 0 || f.Frame != nil {
			return nil, errors.InvalidInput(errors.PhaseParse, "prologue cannot be combined with code or frame entries")
		}
		return f.analyzed()
	}

	b := winx64.NewBuilder().Flags(f.Flags)
	if f.PrologueSize != nil {
		size, err := u8(*f.PrologueSize, "prologue_size")
		if err != nil {
			return nil, err
		}
		b.PrologueSize(size)
	}
	if f.Frame != nil {
		reg, ok := winx64.ParseRegister(f.Frame.Register)
		if !ok {
			return nil, unknownRegister([]string{"frame"}, f.Frame.Register)
		}
		b.Frame(reg, f.Frame.Offset)
	}
	for i, c := range f.Codes {
		code, err := c.unwindCode()
		if err != nil {
			return nil, errors.WithPath(errors.PhaseParse, err, "code", strconv.Itoa(i))
		}
		b.Add(code)
	}
	return b.Build()
}

func (f *Function) analyzed() (*winx64.UnwindInfo, error) {
	raw, err := ParseHex(f.Prologue)
	if err != nil {
		return nil, errors.WithPath(errors.PhaseParse, err, "prologue")
	}
	res, err := prologue.Analyze(raw, prologue.Options{})
	if err != nil {
		return nil, err
	}
	info := res.Info
	if f.Flags == 0 && f.PrologueSize == nil {
		return info, nil
	}

	size := info.PrologueSize()
	if f.PrologueSize != nil {
		if size, err = u8(*f.PrologueSize, "prologue_size"); err != nil {
			return nil, err
		}
	}
	b := winx64.NewBuilder().Flags(f.Flags).PrologueSize(size)
	if fr, ok := info.Frame(); ok {
		b.Frame(fr.Reg, uint32(fr.Offset)*16)
	}
	for _, c := range info.Codes() {
		b.Add(c)
	}
	return b.Build()
}

func (c Code) unwindCode() (winx64.UnwindCode, error) {
	offset, err := u8(c.Offset, "offset")
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case "push":
		reg, ok := winx64.ParseRegister(c.Register)
		if !ok {
			return nil, unknownRegister([]string{"register"}, c.Register)
		}
		return winx64.PushRegister{Offset: offset, Reg: reg}, nil

	case "alloc":
		size, err := u32(c.Size, "size")
		if err != nil {
			return nil, err
		}
		return winx64.StackAlloc{Offset: offset, Size: size}, nil

	case "save_xmm":
		reg, ok := winx64.ParseXMM(c.Register)
		if !ok {
			return nil, unknownRegister([]string{"register"}, c.Register)
		}
		stackOffset, err := u32(c.StackOffset, "stack_offset")
		if err != nil {
			return nil, err
		}
		return winx64.SaveXmm{Offset: offset, Reg: reg, StackOffset: stackOffset}, nil
	}

	return nil, errors.New(errors.PhaseParse, errors.KindUnsupported).
		Path("op").
		Value(c.Op).
		Detail("unknown op %q (want push, alloc or save_xmm)", c.Op).
		Build()
}

// ParseHex decodes hex bytes, ignoring whitespace between them.
func ParseHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, errors.ParseFailed("hex", err)
	}
	return raw, nil
}

func u8(v int64, field string) (uint8, error) {
	if v < 0 || v > math.MaxUint8 {
		return 0, errors.Overflow(errors.PhaseParse, []string{field}, v, "u8")
	}
	return uint8(v), nil
}

func u32(v int64, field string) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseParse, []string{field}, v, "u32")
	}
	return uint32(v), nil
}

func unknownRegister(path []string, name string) error {
	return errors.New(errors.PhaseParse, errors.KindInvalidInput).
		Path(path...).
		Value(name).
		Detail("unknown register %q", name).
		Build()
}
