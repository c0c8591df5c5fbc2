package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/unwind/prologue"
	"github.com/wippyai/unwind/winx64"
	"github.com/wippyai/unwind/xdata"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	bytesStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// printer writes command output, styled only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, color: term.IsTerminal(int(f.Fd()))}
}

func (p *printer) paint(st lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return st.Render(s)
}

func (p *printer) title(s string) {
	fmt.Fprintln(p.w, p.paint(titleStyle, s))
}

func (p *printer) dim(s string) {
	fmt.Fprintln(p.w, p.paint(helpStyle, s))
}

func (p *printer) blank() {
	fmt.Fprintln(p.w)
}

func (p *printer) listing(info *winx64.UnwindInfo) {
	for _, line := range strings.Split(strings.TrimRight(winx64.Format(info), "\n"), "\n") {
		fmt.Fprintln(p.w, p.paint(codeStyle, line))
	}
}

func (p *printer) hex(b []byte) {
	fmt.Fprintln(p.w, p.paint(bytesStyle, hexBytes(b)))
}

func (p *printer) inst(inst prologue.Inst) {
	line := fmt.Sprintf("  %02x: %-32s", inst.Offset, inst.Text)
	if inst.Code != nil {
		line += p.paint(codeStyle, inst.Code.String())
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) entry(e xdata.Entry, data []byte) {
	fmt.Fprintf(p.w, "%s [0x%x, 0x%x) xdata+0x%x\n",
		p.paint(funcStyle, e.Name), e.Begin, e.End, e.Offset)
	fmt.Fprintln(p.w, p.paint(bytesStyle, "  "+hexBytes(data)))
}
