// Package models defines the data objects shared across lazyscc packages.
package models

import (
	"strings"
	"time"
)

// CommandType identifies the source control operation a command performs.
type CommandType int

// Command types understood by every provider.
const (
	CommandCheckOut CommandType = iota
	CommandCheckIn
	CommandAdd
	CommandDelete
	CommandRevert
	CommandRevertUnchanged
	CommandUpdateStatus
	CommandHistory
	CommandGetModifiedFiles
	CommandGetUnmodifiedFiles
	CommandInfo
)

var commandTypeNames = []string{
	CommandCheckOut:           "checkout",
	CommandCheckIn:            "checkin",
	CommandAdd:                "add",
	CommandDelete:             "delete",
	CommandRevert:             "revert",
	CommandRevertUnchanged:    "revert_unchanged",
	CommandUpdateStatus:       "update_status",
	CommandHistory:            "history",
	CommandGetModifiedFiles:   "modified_files",
	CommandGetUnmodifiedFiles: "unmodified_files",
	CommandInfo:               "info",
}

// String returns the snake_case name of the command type.
func (c CommandType) String() string {
	if c < 0 || int(c) >= len(commandTypeNames) {
		return "unknown"
	}
	return commandTypeNames[c]
}

// ParseCommandType is the inverse of CommandType.String.
func ParseCommandType(name string) (CommandType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range commandTypeNames {
		if n == name {
			return CommandType(i), true
		}
	}
	return 0, false
}

// ErrorType classifies why a command failed.
type ErrorType int

// Error types reported on a completed command.
const (
	ErrorNone ErrorType = iota
	ErrorConnection
	ErrorCommand
)

// String returns a short name for the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorConnection:
		return "connection"
	case ErrorCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ParseErrorType is the inverse of ErrorType.String.
func ParseErrorType(name string) ErrorType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "connection":
		return ErrorConnection
	case "command":
		return ErrorCommand
	default:
		return ErrorNone
	}
}

// Keys used in a command's per-file result maps.
const (
	KeyState      = "state"
	KeyDepotPath  = "depotPath"
	KeyOtherUsers = "otherUsers"
	KeyHaveRev    = "haveRev"
	KeyHeadRev    = "headRev"
	KeyModified   = "modified"
	KeyRevisions  = "revisions"
	KeyChangelist = "change"

	// Per revision keys in History results carry a numeric suffix, newest
	// first: rev0, user0, date0, change0, action0, size0, desc0.
	KeyRevPrefix    = "rev"
	KeyUserPrefix   = "user"
	KeyDatePrefix   = "date"
	KeyChangePrefix = "change"
	KeyActionPrefix = "action"
	KeySizePrefix   = "size"
	KeyDescPrefix   = "desc"

	KeyServerAddress = "serverAddress"
	KeyServerVersion = "serverVersion"
	KeyUserName      = "userName"
	KeyClientName    = "clientName"
	KeyClientRoot    = "clientRoot"
)

// InfoResultKey is the Results entry that holds the output of an Info command.
const InfoResultKey = "@info"

// FileRevision describes one revision of a file.
type FileRevision struct {
	Revision    int
	Changelist  string
	User        string
	Date        time.Time
	Action      string
	Size        int64
	Description string
}

// FileHistory is the revision history of one file, newest first.
type FileHistory struct {
	Path      string
	DepotPath string
	Revisions []FileRevision
}

// CommandRecord is a flattened copy of a completed command, used for events
// and the command journal.
type CommandRecord struct {
	ID          uint64
	Type        CommandType
	Description string
	Files       []string
	Succeeded   bool
	ErrorType   ErrorType
	Errors      []string
	IssuedAt    time.Time
	CompletedAt time.Time
}

// Duration is the wall time between issue and completion.
func (r CommandRecord) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.IssuedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.IssuedAt)
}

const (
	// OpenedFilename stores files opened for edit by the git provider,
	// relative to the git directory.
	OpenedFilename = "lazyscc-opened"
	// JournalFilename is the default sqlite command journal name.
	JournalFilename = "journal.db"
)
