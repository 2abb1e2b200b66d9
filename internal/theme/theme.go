// Package theme provides the colour palettes used by the terminal UI.
package theme

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/chmouel/lazyscc/internal/models"
)

// Theme defines all colors used in the application UI.
type Theme struct {
	Accent    lipgloss.Color
	AccentFg  lipgloss.Color // Foreground color for text on Accent background
	Border    lipgloss.Color
	MutedFg   lipgloss.Color
	TextFg    lipgloss.Color
	SuccessFg lipgloss.Color
	WarnFg    lipgloss.Color
	ErrorFg   lipgloss.Color
	Cyan      lipgloss.Color
	Pink      lipgloss.Color
	Light     bool
}

// Theme names.
const (
	DraculaName         = "dracula"
	DraculaLightName    = "dracula-light"
	SolarizedDarkName   = "solarized-dark"
	SolarizedLightName  = "solarized-light"
	NordName            = "nord"
	CatppuccinMochaName = "catppuccin-mocha"
)

var palettes = map[string]Theme{
	DraculaName: {
		Accent:    "#BD93F9",
		AccentFg:  "#282A36",
		Border:    "#6272A4",
		MutedFg:   "#6272A4",
		TextFg:    "#F8F8F2",
		SuccessFg: "#50FA7B",
		WarnFg:    "#FFB86C",
		ErrorFg:   "#FF5555",
		Cyan:      "#8BE9FD",
		Pink:      "#FF79C6",
	},
	DraculaLightName: {
		Accent:    "#c6dbe5",
		AccentFg:  "#24292F",
		Border:    "#D0D7DE",
		MutedFg:   "#6E7781",
		TextFg:    "#24292F",
		SuccessFg: "#059669",
		WarnFg:    "#D97706",
		ErrorFg:   "#DC2626",
		Cyan:      "#0891B2",
		Pink:      "#DB2777",
		Light:     true,
	},
	SolarizedDarkName: {
		Accent:    "#268BD2",
		AccentFg:  "#FDF6E3",
		Border:    "#586E75",
		MutedFg:   "#586E75",
		TextFg:    "#EEE8D5",
		SuccessFg: "#859900",
		WarnFg:    "#B58900",
		ErrorFg:   "#DC322F",
		Cyan:      "#2AA198",
		Pink:      "#D33682",
	},
	SolarizedLightName: {
		Accent:    "#268BD2",
		AccentFg:  "#FDF6E3",
		Border:    "#93A1A1",
		MutedFg:   "#93A1A1",
		TextFg:    "#586E75",
		SuccessFg: "#859900",
		WarnFg:    "#B58900",
		ErrorFg:   "#DC322F",
		Cyan:      "#2AA198",
		Pink:      "#D33682",
		Light:     true,
	},
	NordName: {
		Accent:    "#88C0D0",
		AccentFg:  "#2E3440",
		Border:    "#4C566A",
		MutedFg:   "#81A1C1",
		TextFg:    "#E5E9F0",
		SuccessFg: "#A3BE8C",
		WarnFg:    "#EBCB8B",
		ErrorFg:   "#BF616A",
		Cyan:      "#88C0D0",
		Pink:      "#B48EAD",
	},
	CatppuccinMochaName: {
		Accent:    "#CBA6F7",
		AccentFg:  "#1E1E2E",
		Border:    "#585B70",
		MutedFg:   "#6C7086",
		TextFg:    "#CDD6F4",
		SuccessFg: "#A6E3A1",
		WarnFg:    "#FAB387",
		ErrorFg:   "#F38BA8",
		Cyan:      "#89DCEB",
		Pink:      "#F5C2E7",
	},
}

// GetTheme returns a theme by name, or Dracula if not found.
func GetTheme(name string) *Theme {
	t, ok := palettes[name]
	if !ok {
		t = palettes[DraculaName]
	}
	return &t
}

// IsLight returns true if the theme is a light theme.
func IsLight(name string) bool {
	return palettes[name].Light
}

// DefaultDark returns the default dark theme name.
func DefaultDark() string {
	return DraculaName
}

// DefaultLight returns the default light theme name.
func DefaultLight() string {
	return DraculaLightName
}

// hasDarkBackground is replaced in tests.
var hasDarkBackground = lipgloss.HasDarkBackground

// Detect picks the default theme matching the terminal background.
func Detect() string {
	if hasDarkBackground() {
		return DefaultDark()
	}
	return DefaultLight()
}

// AvailableThemes returns the sorted theme names.
func AvailableThemes() []string {
	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StateColor is the colour used to render a file in the given state.
func (t *Theme) StateColor(kind models.FileStateKind) lipgloss.Color {
	switch kind {
	case models.StateCheckedOut, models.StateAdded:
		return t.SuccessFg
	case models.StateDeleted:
		return t.Pink
	case models.StateCheckedOutOther:
		return t.ErrorFg
	case models.StateNotCurrent:
		return t.WarnFg
	case models.StateNotInDepot:
		return t.Cyan
	case models.StateReadOnly:
		return t.TextFg
	default:
		return t.MutedFg
	}
}
