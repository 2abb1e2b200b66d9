package git

import (
	"strings"

	"github.com/chmouel/lazyscc/internal/models"
)

// parseStatusFiles parses git status --porcelain=v2 output.
func parseStatusFiles(statusRaw string) []models.StatusFile {
	statusRaw = strings.TrimRight(statusRaw, "\n")
	if strings.TrimSpace(statusRaw) == "" {
		return nil
	}

	lines := strings.Split(statusRaw, "\n")
	parsed := make([]models.StatusFile, 0, len(lines))
	for _, line := range lines {
		if len(line) < 3 || strings.HasPrefix(line, "#") {
			continue
		}

		var file models.StatusFile
		switch line[0] {
		case '1': // 1 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <path>
			parts := strings.SplitN(line, " ", 9)
			if len(parts) < 9 {
				continue
			}
			file = models.StatusFile{Status: parts[1], Filename: parts[8]}
		case '2': // 2 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <X><score> <path>\t<origPath>
			parts := strings.SplitN(line, " ", 10)
			if len(parts) < 10 {
				continue
			}
			path, _, _ := strings.Cut(parts[9], "\t")
			file = models.StatusFile{Status: parts[1], Filename: path}
		case '?':
			file = models.StatusFile{Status: " ?", Filename: line[2:], IsUntracked: true}
		case '!':
			file = models.StatusFile{Status: " !", Filename: line[2:], IsIgnored: true}
		default:
			continue
		}
		parsed = append(parsed, file)
	}
	return parsed
}

// fileState maps a git status entry to a depot state. opened says whether
// the file is in the local opened set, tracked whether git knows it.
func fileState(st models.StatusFile, found, opened, tracked bool) (models.FileStateKind, bool) {
	switch {
	case found && st.IsIgnored:
		return models.StateIgnored, false
	case found && st.IsUntracked:
		return models.StateNotInDepot, true
	case found && len(st.Status) == 2 && st.Status[0] == 'A':
		return models.StateAdded, true
	case found && len(st.Status) == 2 && (st.Status[0] == 'D' || (opened && st.Status[1] == 'D')):
		return models.StateDeleted, true
	case !tracked:
		return models.StateNotInDepot, false
	case opened:
		return models.StateCheckedOut, found
	default:
		return models.StateReadOnly, found
	}
}
