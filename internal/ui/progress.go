// Package ui renders lazyscc output on the terminal: the blocking progress
// spinner, message boxes, and file status listings.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/chmouel/lazyscc/internal/theme"
)

type progressDoneMsg struct{}

// progressModel is the bubbletea model behind Progress.
type progressModel struct {
	spinner   spinner.Model
	label     string
	cancelled *atomic.Bool
	labelSty  lipgloss.Style
	mutedSty  lipgloss.Style
	done      bool
}

func newProgressModel(label string, thm *theme.Theme, cancelled *atomic.Bool) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(thm.Accent)
	return progressModel{
		spinner:   s,
		label:     label,
		cancelled: cancelled,
		labelSty:  lipgloss.NewStyle().Foreground(thm.TextFg).Bold(true),
		mutedSty:  lipgloss.NewStyle().Foreground(thm.MutedFg),
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			m.cancelled.Store(true)
		}
		return m, nil
	case progressDoneMsg:
		m.done = true
		return m, tea.Quit
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	hint := "esc to cancel"
	if m.cancelled.Load() {
		hint = "cancelling..."
	}
	return fmt.Sprintf("%s %s %s\n", m.spinner.View(), m.labelSty.Render(m.label), m.mutedSty.Render(hint))
}

// Progress shows a spinner while a synchronous command waits on the server.
// Pressing esc or ctrl+c marks it cancelled. On a non-terminal output it
// prints the label once instead.
type Progress struct {
	out         io.Writer
	in          io.Reader
	thm         *theme.Theme
	interactive bool

	mu        sync.Mutex
	program   *tea.Program
	finished  chan struct{}
	cancelled atomic.Bool
}

// ProgressOption customizes a Progress.
type ProgressOption func(*Progress)

// WithProgressIO sets the streams used by the spinner.
func WithProgressIO(in io.Reader, out io.Writer) ProgressOption {
	return func(p *Progress) {
		p.in = in
		p.out = out
	}
}

// WithInteractive forces the spinner on or off.
func WithInteractive(on bool) ProgressOption {
	return func(p *Progress) {
		p.interactive = on
	}
}

// NewProgress returns a Progress writing to stderr.
func NewProgress(thm *theme.Theme, opts ...ProgressOption) *Progress {
	p := &Progress{
		out:         os.Stderr,
		in:          os.Stdin,
		thm:         thm,
		interactive: IsTerminal(os.Stderr) && IsTerminal(os.Stdin),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Begin starts showing label.
func (p *Progress) Begin(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled.Store(false)
	if p.program != nil {
		return
	}
	if !p.interactive {
		_, _ = fmt.Fprintf(p.out, "%s...\n", label)
		return
	}

	p.program = tea.NewProgram(
		newProgressModel(label, p.thm, &p.cancelled),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithoutSignalHandler(),
	)
	p.finished = make(chan struct{})
	go func(prog *tea.Program, finished chan struct{}) {
		defer close(finished)
		_, _ = prog.Run()
	}(p.program, p.finished)
}

// Cancelled reports whether the user asked to stop waiting.
func (p *Progress) Cancelled() bool {
	return p.cancelled.Load()
}

// End stops the spinner and waits for the terminal to be restored.
func (p *Progress) End() {
	p.mu.Lock()
	prog, finished := p.program, p.finished
	p.program, p.finished = nil, nil
	p.mu.Unlock()

	if prog == nil {
		return
	}
	prog.Send(progressDoneMsg{})
	<-finished
}
