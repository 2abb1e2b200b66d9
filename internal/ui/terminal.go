package ui

import (
	"io"
	"os"

	"golang.org/x/term"
)

const defaultWidth = 80

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f any) bool {
	file, ok := f.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd())) // #nosec G115 -- fd fits in int
}

// Width returns the terminal width for w, or 80 when w is not a terminal.
func Width(w io.Writer) int {
	file, ok := w.(*os.File)
	if !ok || !IsTerminal(file) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(file.Fd())) // #nosec G115 -- fd fits in int
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
