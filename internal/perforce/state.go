package perforce

import (
	"strings"

	"github.com/chmouel/lazyscc/internal/models"
)

// stateFromFstat maps an fstat record to a file state and the users that
// have the file open elsewhere.
func stateFromFstat(r record) (models.FileStateKind, []string) {
	if r == nil {
		return models.StateNotInDepot, nil
	}
	switch r["action"] {
	case "add", "move/add", "branch":
		return models.StateAdded, nil
	case "delete", "move/delete":
		return models.StateDeleted, nil
	case "":
	default:
		return models.StateCheckedOut, nil
	}

	if others := r.indexed("otherOpen"); len(others) > 0 {
		users := make([]string, 0, len(others))
		for _, o := range others {
			user, _, _ := strings.Cut(o, "@")
			users = append(users, user)
		}
		return models.StateCheckedOutOther, users
	}
	if _, ok := r["otherLock"]; ok {
		return models.StateCheckedOutOther, nil
	}

	switch {
	case strings.HasSuffix(r["headAction"], "delete"):
		return models.StateNotInDepot, nil
	case r["headRev"] == "":
		return models.StateNotInDepot, nil
	case r["haveRev"] != r["headRev"]:
		return models.StateNotCurrent, nil
	default:
		return models.StateReadOnly, nil
	}
}

var connectionFailures = []string{
	"connect to server failed",
	"tcp connect to",
	"check $p4port",
	"connection refused",
	"ssl connect to",
	"your session has expired",
	"perforce password (p4passwd) invalid or unset",
}

// isConnectionFailure reports whether p4 stderr describes a server or login
// problem rather than a per-file rejection.
func isConnectionFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range connectionFailures {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
