package scc

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
)

// CheckOut refreshes the status of files and opens them for edit. Files
// already opened by this user are skipped, files opened by somebody else are refused and listed in a message
// box unless silent is set. The checkout runs synchronously; a status refresh
// for every file is then queued with listener attached.
//
// CheckOut reports whether anything was checked out successfully.
func (s *Service) CheckOut(ctx context.Context, listener Listener, files []string, silent bool) bool {
	files = normalizeFiles(files)
	if len(files) == 0 {
		return false
	}
	if !s.ForceGetStatus(ctx, files) {
		return false
	}

	var toCheckOut []string
	blocked := make(map[string][]string)
	for _, f := range files {
		st := s.FileState(f)
		switch {
		case st.State.OpenedByMe():
			continue
		case s.forceCheckout:
			toCheckOut = append(toCheckOut, f)
		case st.State == models.StateCheckedOutOther:
			blocked[f] = st.OtherUsers
		case st.State == models.StateReadOnly:
			toCheckOut = append(toCheckOut, f)
		}
	}

	if len(blocked) > 0 {
		log.Warn().Int("files", len(blocked)).Msg("files checked out by other users")
		if !silent {
			s.prompter.ShowMessage("Check out", blockedMessage(blocked))
		}
	}

	ok := false
	if len(toCheckOut) > 0 {
		cmd := s.NewCommand(models.CommandCheckOut, nil, toCheckOut)
		ok = s.ExecuteSynchronousCommand(ctx, cmd, "Checking out files")
	}

	s.UpdateStatus(ctx, listener, files)
	return ok
}

func blockedMessage(blocked map[string][]string) string {
	paths := make([]string, 0, len(blocked))
	for p := range blocked {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("The following files are checked out by other users and were not checked out:\n")
	for _, p := range paths {
		users := strings.Join(blocked[p], ", ")
		if users == "" {
			users = "unknown user"
		}
		fmt.Fprintf(&b, "\n%s (%s)", filepath.Base(p), users)
	}
	return b.String()
}

// CheckIn submits files with description.
func (s *Service) CheckIn(ctx context.Context, listener Listener, files []string, description string) bool {
	if strings.TrimSpace(description) == "" {
		s.prompter.ShowMessage("Check in", "A description is required to check files in.")
		return false
	}
	return s.runThenRefresh(ctx, listener, models.CommandCheckIn, files, description, "Checking in files")
}

// Add marks files for addition.
func (s *Service) Add(ctx context.Context, listener Listener, files []string) bool {
	return s.runThenRefresh(ctx, listener, models.CommandAdd, files, "", "Adding files")
}

// Delete marks files for deletion.
func (s *Service) Delete(ctx context.Context, listener Listener, files []string) bool {
	return s.runThenRefresh(ctx, listener, models.CommandDelete, files, "", "Deleting files")
}

// Revert discards local changes and closes files.
func (s *Service) Revert(ctx context.Context, listener Listener, files []string) bool {
	return s.runThenRefresh(ctx, listener, models.CommandRevert, files, "", "Reverting files")
}

// RevertUnchanged closes files that were opened but never modified.
func (s *Service) RevertUnchanged(ctx context.Context, listener Listener, files []string) bool {
	return s.runThenRefresh(ctx, listener, models.CommandRevertUnchanged, files, "", "Reverting unchanged files")
}

func (s *Service) runThenRefresh(ctx context.Context, listener Listener, cmdType models.CommandType, files []string, description, label string) bool {
	files = normalizeFiles(files)
	if len(files) == 0 {
		return false
	}
	cmd := s.NewCommand(cmdType, nil, files)
	cmd.Description = description
	ok := s.ExecuteSynchronousCommand(ctx, cmd, label)
	s.UpdateStatus(ctx, listener, files)
	return ok
}

// UpdateStatus queues a status refresh. listener is called from Tick.
func (s *Service) UpdateStatus(ctx context.Context, listener Listener, files []string) bool {
	files = normalizeFiles(files)
	if len(files) == 0 {
		return false
	}
	return s.IssueCommand(ctx, s.NewCommand(models.CommandUpdateStatus, listener, files), false)
}

// GetHistory returns the revision history of files, newest revision first.
func (s *Service) GetHistory(ctx context.Context, files []string) ([]models.FileHistory, bool) {
	files = normalizeFiles(files)
	if len(files) == 0 {
		return nil, false
	}
	cmd := s.NewCommand(models.CommandHistory, nil, files)
	if !s.ExecuteSynchronousCommand(ctx, cmd, "Retrieving file history") {
		return nil, false
	}
	out := make([]models.FileHistory, 0, len(files))
	for _, f := range files {
		out = append(out, historyFromResult(f, cmd.Results[f]))
	}
	return out, true
}

func historyFromResult(path string, result map[string]string) models.FileHistory {
	h := models.FileHistory{Path: path, DepotPath: result[models.KeyDepotPath]}
	n, _ := strconv.Atoi(result[models.KeyRevisions])
	for i := range n {
		idx := strconv.Itoa(i)
		rev := models.FileRevision{
			Changelist:  result[models.KeyChangePrefix+idx],
			User:        result[models.KeyUserPrefix+idx],
			Action:      result[models.KeyActionPrefix+idx],
			Description: result[models.KeyDescPrefix+idx],
		}
		rev.Revision, _ = strconv.Atoi(result[models.KeyRevPrefix+idx])
		rev.Size, _ = strconv.ParseInt(result[models.KeySizePrefix+idx], 10, 64)
		if unix, err := strconv.ParseInt(result[models.KeyDatePrefix+idx], 10, 64); err == nil {
			rev.Date = time.Unix(unix, 0)
		}
		h.Revisions = append(h.Revisions, rev)
	}
	return h
}

// GetModifiedFiles returns the files among files whose content differs from
// the depot.
func (s *Service) GetModifiedFiles(ctx context.Context, files []string) ([]string, bool) {
	return s.filterByModified(ctx, models.CommandGetModifiedFiles, files, "Finding modified files")
}

// GetUnmodifiedFiles returns the opened files among files whose content
// matches the depot.
func (s *Service) GetUnmodifiedFiles(ctx context.Context, files []string) ([]string, bool) {
	return s.filterByModified(ctx, models.CommandGetUnmodifiedFiles, files, "Finding unmodified files")
}

func (s *Service) filterByModified(ctx context.Context, cmdType models.CommandType, files []string, label string) ([]string, bool) {
	files = normalizeFiles(files)
	if len(files) == 0 {
		return nil, true
	}
	cmd := s.NewCommand(cmdType, nil, files)
	if !s.ExecuteSynchronousCommand(ctx, cmd, label) {
		return nil, false
	}
	want := cmdType == models.CommandGetModifiedFiles
	var out []string
	for _, f := range files {
		v, ok := cmd.Results[f][models.KeyModified]
		if !ok {
			continue
		}
		if (v == "true") == want {
			out = append(out, f)
		}
	}
	return out, true
}

// Info asks the server about itself and the current client. It does not
// probe first; the Info command is its own probe.
func (s *Service) Info(ctx context.Context) (map[string]string, bool) {
	cmd := s.NewCommand(models.CommandInfo, nil, nil)
	ok := s.IssueCommand(ctx, cmd, true)
	info := make(map[string]string, len(cmd.Results[models.InfoResultKey]))
	for k, v := range cmd.Results[models.InfoResultKey] {
		info[k] = v
	}
	return info, ok
}

// ConvertPackageNamesToSourceControlPaths resolves package names to file
// paths through the package cache. Names that resolve to nothing are
// returned in missing.
func (s *Service) ConvertPackageNamesToSourceControlPaths(names []string) (paths, missing []string) {
	for _, name := range names {
		if p, ok := s.packages.Lookup(name); ok {
			paths = append(paths, p)
			continue
		}
		missing = append(missing, name)
	}
	return paths, missing
}
