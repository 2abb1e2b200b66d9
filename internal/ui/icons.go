package ui

import (
	"os"
	"path/filepath"
	"time"

	"github.com/chmouel/lazyscc/internal/models"
	devicons "github.com/epilande/go-devicons"
)

type iconFileInfo struct {
	name string
}

func (i iconFileInfo) Name() string       { return i.name }
func (i iconFileInfo) Size() int64        { return 0 }
func (i iconFileInfo) Mode() os.FileMode  { return 0 }
func (i iconFileInfo) ModTime() time.Time { return time.Time{} }
func (i iconFileInfo) IsDir() bool        { return false }
func (i iconFileInfo) Sys() any           { return nil }

func fileIcon(path string) string {
	if path == "" {
		return ""
	}
	return devicons.IconForInfo(iconFileInfo{name: filepath.Base(path)}).Icon
}

// stateIcon is a Nerd Font glyph for a file state.
func stateIcon(kind models.FileStateKind) string {
	switch kind {
	case models.StateCheckedOut:
		return "\uf044"
	case models.StateCheckedOutOther:
		return "\uf023"
	case models.StateAdded:
		return "\uf067"
	case models.StateDeleted:
		return "\uf014"
	case models.StateNotCurrent:
		return "\uf021"
	case models.StateNotInDepot:
		return "\uf128"
	case models.StateReadOnly:
		return "\uf00c"
	default:
		return "\uf059"
	}
}

// stateMarker is the plain text equivalent of stateIcon.
func stateMarker(kind models.FileStateKind) string {
	switch kind {
	case models.StateCheckedOut:
		return "E"
	case models.StateCheckedOutOther:
		return "L"
	case models.StateAdded:
		return "A"
	case models.StateDeleted:
		return "D"
	case models.StateNotCurrent:
		return "O"
	case models.StateNotInDepot:
		return "?"
	case models.StateReadOnly:
		return " "
	default:
		return "-"
	}
}

func iconWithSpace(icon string) string {
	if icon == "" {
		return ""
	}
	return icon + " "
}
