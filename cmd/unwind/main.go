package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/unwind/manifest"
	"github.com/wippyai/unwind/prologue"
	"github.com/wippyai/unwind/winx64"
	"github.com/wippyai/unwind/xdata"
)

func main() {
	var (
		manifestFile = flag.String("manifest", "", "Path to TOML manifest describing functions")
		xdataFile    = flag.String("xdata", "", "Write the .xdata section to this file")
		pdataFile    = flag.String("pdata", "", "Write the .pdata section to this file")
		decodeHex    = flag.String("decode", "", "Decode UNWIND_INFO given as hex")
		prologueHex  = flag.String("prologue", "", "Infer unwind codes from x64 prologue bytes given as hex")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		verbose      = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	if *verbose {
		if err := installLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	out := newPrinter(os.Stdout)

	var err error
	switch {
	case *interactive:
		err = runInteractive(*manifestFile)
	case *decodeHex != "":
		err = runDecode(out, *decodeHex)
	case *prologueHex != "":
		err = runPrologue(out, *prologueHex)
	case *manifestFile != "":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = runManifest(ctx, out, *manifestFile, *xdataFile, *pdataFile)
		stop()
	default:
		fmt.Fprintln(os.Stderr, "Usage: unwind -manifest <file.toml> [-xdata out] [-pdata out]")
		fmt.Fprintln(os.Stderr, "       unwind -decode <hex>")
		fmt.Fprintln(os.Stderr, "       unwind -prologue <hex>")
		fmt.Fprintln(os.Stderr, "       unwind [-manifest <file.toml>] -i  (interactive mode)")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func installLogger() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	winx64.SetLogger(l.Named("winx64"))
	prologue.SetLogger(l.Named("prologue"))
	xdata.SetLogger(l.Named("xdata"))
	return nil
}

func runDecode(out *printer, s string) error {
	data, err := manifest.ParseHex(s)
	if err != nil {
		return err
	}
	info, err := winx64.Decode(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	out.listing(info)
	return nil
}

func runPrologue(out *printer, s string) error {
	code, err := manifest.ParseHex(s)
	if err != nil {
		return err
	}
	res, err := prologue.Analyze(code, prologue.Options{})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	out.title("Prologue")
	for _, inst := range res.Insts {
		out.inst(inst)
	}
	if res.Stop != "" {
		out.dim(fmt.Sprintf("stopped at: %s", res.Stop))
	}
	out.blank()

	enc, err := res.Info.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	out.title("Unwind info")
	out.listing(res.Info)
	out.hex(enc)
	return nil
}

func runManifest(ctx context.Context, out *printer, path, xdataPath, pdataPath string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	funcs, err := m.Resolve()
	if err != nil {
		return err
	}
	sec, err := xdata.Build(ctx, funcs, m.Options()...)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	out.title(fmt.Sprintf("%d functions, .xdata %d bytes, .pdata %d bytes",
		len(sec.Entries), len(sec.XData), len(sec.PData)))
	for _, e := range sec.Entries {
		out.entry(e, sec.XData[e.Offset:int(e.Offset)+e.Size])
	}

	if xdataPath != "" {
		if err := os.WriteFile(xdataPath, sec.XData, 0o644); err != nil {
			return fmt.Errorf("write xdata: %w", err)
		}
	}
	if pdataPath != "" {
		if err := os.WriteFile(pdataPath, sec.PData, 0o644); err != nil {
			return fmt.Errorf("write pdata: %w", err)
		}
	}
	return nil
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i := 0; i < len(b); i += 16 {
		end := min(i+16, len(b))
		if i > 0 {
			sb.WriteByte('\n')
		}
		enc := hex.EncodeToString(b[i:end])
		for j := 0; j < len(enc); j += 2 {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(enc[j : j+2])
		}
	}
	return sb.String()
}
