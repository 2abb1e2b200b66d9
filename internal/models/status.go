package models

import "strings"

// StatusFile represents a file entry from git status.
type StatusFile struct {
	Filename    string
	Status      string // XY status code (e.g., ".M", "M.", " ?")
	IsUntracked bool
	IsIgnored   bool
}

// FileStateKind is the source control state of a single file.
type FileStateKind int

// File states, ordered roughly by how "owned" the file is.
const (
	StateUnknown FileStateKind = iota
	StateNotInDepot
	StateReadOnly // checked in, not opened by anyone
	StateCheckedOut
	StateCheckedOutOther
	StateAdded
	StateDeleted
	StateNotCurrent
	StateIgnored
)

var fileStateNames = []string{
	StateUnknown:         "unknown",
	StateNotInDepot:      "not_in_depot",
	StateReadOnly:        "read_only",
	StateCheckedOut:      "checked_out",
	StateCheckedOutOther: "checked_out_other",
	StateAdded:           "added",
	StateDeleted:         "deleted",
	StateNotCurrent:      "not_current",
	StateIgnored:         "ignored",
}

// String returns the name stored in result maps.
func (k FileStateKind) String() string {
	if k < 0 || int(k) >= len(fileStateNames) {
		return fileStateNames[StateUnknown]
	}
	return fileStateNames[k]
}

// ParseFileStateKind is the inverse of FileStateKind.String.
func ParseFileStateKind(name string) FileStateKind {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range fileStateNames {
		if n == name {
			return FileStateKind(i)
		}
	}
	return StateUnknown
}

// OpenedByMe reports whether the local user already has the file open.
func (k FileStateKind) OpenedByMe() bool {
	return k == StateCheckedOut || k == StateAdded || k == StateDeleted
}

// FileState is the cached status of one file.
type FileState struct {
	Path       string
	DepotPath  string
	State      FileStateKind
	OtherUsers []string
	HaveRev    string
	HeadRev    string
	Modified   bool
}

// FileStateFromResult builds a FileState from a per-file result map.
func FileStateFromResult(path string, result map[string]string) FileState {
	st := FileState{
		Path:      path,
		DepotPath: result[KeyDepotPath],
		State:     ParseFileStateKind(result[KeyState]),
		HaveRev:   result[KeyHaveRev],
		HeadRev:   result[KeyHeadRev],
		Modified:  result[KeyModified] == "true",
	}
	if users := strings.TrimSpace(result[KeyOtherUsers]); users != "" {
		for _, u := range strings.Split(users, ",") {
			if u = strings.TrimSpace(u); u != "" {
				st.OtherUsers = append(st.OtherUsers, u)
			}
		}
	}
	return st
}
