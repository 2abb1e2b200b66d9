package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/chmouel/lazyscc/internal/theme"
	"github.com/muesli/reflow/wrap"
)

// MessageBox shows modal messages as bordered boxes on a writer.
type MessageBox struct {
	mu  sync.Mutex
	out io.Writer
	thm *theme.Theme
}

// NewMessageBox returns a MessageBox writing to out, or stderr when nil.
func NewMessageBox(out io.Writer, thm *theme.Theme) *MessageBox {
	if out == nil {
		out = os.Stderr
	}
	return &MessageBox{out: out, thm: thm}
}

// ShowMessage renders title and body in a box sized to the terminal.
func (b *MessageBox) ShowMessage(title, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = fmt.Fprintln(b.out, b.render(title, body, Width(b.out)))
}

func (b *MessageBox) render(title, body string, width int) string {
	inner := min(width, 100) - 6
	if inner < 20 {
		inner = 20
	}

	titleStyle := lipgloss.NewStyle().Foreground(b.thm.WarnFg).Bold(true)
	bodyStyle := lipgloss.NewStyle().Foreground(b.thm.TextFg)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(b.thm.Border).
		Padding(0, 1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		"",
		bodyStyle.Render(wrap.String(body, inner)),
	)
	return box.Render(content)
}
