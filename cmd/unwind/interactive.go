package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/unwind/manifest"
	"github.com/wippyai/unwind/prologue"
	"github.com/wippyai/unwind/winx64"
	"github.com/wippyai/unwind/xdata"
)

var selectedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4"))

type interactiveModel struct {
	err      error
	analysis *prologue.Result
	input    textinput.Model
	filename string
	funcs    []xdata.Function
	selected int
	state    modelState
	loaded   bool
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateShowFunc
	stateInputPrologue
	stateShowPrologue
)

func newInteractiveModel(filename string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "55 48 89 e5 48 83 ec 20"
	ti.Prompt = "prologue hex: "
	ti.Width = 60

	m := &interactiveModel{
		filename: filename,
		input:    ti,
		state:    stateSelectFunc,
	}
	if filename == "" {
		m.loaded = true
		m.enterInput()
	}
	return m
}

type loadedMsg struct {
	err   error
	funcs []xdata.Function
}

type analyzedMsg struct {
	err error
	res *prologue.Result
}

func (m *interactiveModel) Init() tea.Cmd {
	if m.filename == "" {
		return textinput.Blink
	}
	return m.loadManifest
}

func (m *interactiveModel) loadManifest() tea.Msg {
	man, err := manifest.Load(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	funcs, err := man.Resolve()
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{funcs: funcs}
}

func (m *interactiveModel) analyze() tea.Msg {
	code, err := manifest.ParseHex(m.input.Value())
	if err != nil {
		return analyzedMsg{err: err}
	}
	res, err := prologue.Analyze(code, prologue.Options{})
	return analyzedMsg{res: res, err: err}
}

func (m *interactiveModel) enterInput() {
	m.state = stateInputPrologue
	m.input.SetValue("")
	m.input.Focus()
}

func (m *interactiveModel) back() {
	m.err = nil
	m.analysis = nil
	m.input.Blur()
	if len(m.funcs) > 0 {
		m.state = stateSelectFunc
		return
	}
	m.enterInput()
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// q is text while typing a prologue
		if msg.String() == "ctrl+c" || (msg.String() == "q" && m.state != stateInputPrologue) {
			return m, tea.Quit
		}

		switch msg.String() {
		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "p":
			if m.state == stateSelectFunc || m.state == stateShowFunc || m.state == stateShowPrologue {
				m.err = nil
				m.enterInput()
				return m, textinput.Blink
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) > 0 {
					m.state = stateShowFunc
				}
			case stateInputPrologue:
				return m, m.analyze
			case stateShowFunc, stateShowPrologue:
				m.back()
			}

		case "esc":
			m.back()
			if m.state == stateInputPrologue {
				return m, textinput.Blink
			}
		}

	case loadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		if len(m.funcs) == 0 {
			m.enterInput()
			return m, textinput.Blink
		}

	case analyzedMsg:
		m.analysis = msg.res
		m.err = msg.err
		m.input.Blur()
		m.state = stateShowPrologue
	}

	if m.state == stateInputPrologue {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowPrologue {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if !m.loaded {
		return "Loading manifest..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Unwind"))
	if m.filename != "" {
		b.WriteString(" ")
		b.WriteString(m.filename)
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function:\n\n")
		for i, f := range m.funcs {
			line := fmt.Sprintf("%-24s [0x%x, 0x%x) %d nodes", f.Name, f.Begin, f.End, f.Info.NodeCount())
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter show • p prologue • q quit"))

	case stateShowFunc:
		f := m.funcs[m.selected]
		b.WriteString(funcStyle.Render(f.Name))
		b.WriteString("\n\n")
		writeInfo(&b, f.Info)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter back • p prologue • q quit"))

	case stateInputPrologue:
		b.WriteString("Paste x64 prologue bytes:\n\n")
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter analyze • esc back • ctrl+c quit"))

	case stateShowPrologue:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		} else {
			for _, inst := range m.analysis.Insts {
				line := fmt.Sprintf("  %02x: %-32s", inst.Offset, inst.Text)
				if inst.Code != nil {
					line += codeStyle.Render(inst.Code.String())
				}
				b.WriteString(line)
				b.WriteString("\n")
			}
			if m.analysis.Stop != "" {
				b.WriteString(helpStyle.Render("  stopped at: " + m.analysis.Stop))
				b.WriteString("\n")
			}
			b.WriteString("\n")
			writeInfo(&b, m.analysis.Info)
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter back • p another • q quit"))
	}

	return b.String()
}

func writeInfo(b *strings.Builder, info *winx64.UnwindInfo) {
	b.WriteString(codeStyle.Render(strings.TrimRight(winx64.Format(info), "\n")))
	b.WriteString("\n\n")
	enc, err := info.Encode()
	if err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
	} else {
		b.WriteString(bytesStyle.Render(hexBytes(enc)))
	}
	b.WriteString("\n")
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newInteractiveModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
