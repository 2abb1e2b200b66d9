package scc

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chmouel/lazyscc/internal/models"
)

// FileState returns the cached state of path, or StateUnknown.
func (s *Service) FileState(path string) models.FileState {
	path = normalizePath(path)
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if st, ok := s.states[path]; ok {
		return st
	}
	return models.FileState{Path: path, State: models.StateUnknown}
}

// FileStates returns cached states for files in the given order.
func (s *Service) FileStates(files []string) []models.FileState {
	out := make([]models.FileState, 0, len(files))
	for _, f := range normalizeFiles(files) {
		out = append(out, s.FileState(f))
	}
	return out
}

// InvalidateStatus drops cached state for the given files.
func (s *Service) InvalidateStatus(files ...string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for _, f := range files {
		delete(s.states, normalizePath(f))
	}
}

func normalizePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

// applyResults folds any per-file state the provider reported into the
// status cache.
func (s *Service) applyResults(cmd *Command) {
	if len(cmd.Results) == 0 {
		return
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for file, result := range cmd.Results {
		if file == models.InfoResultKey {
			continue
		}
		if _, ok := result[models.KeyState]; !ok {
			continue
		}
		st := models.FileStateFromResult(file, result)
		if prev, ok := s.states[file]; ok && st.DepotPath == "" {
			st.DepotPath = prev.DepotPath
		}
		s.states[file] = st
	}
}

// ForceGetStatus synchronously refreshes the state of files. Concurrent
// calls for the same file set share one command.
func (s *Service) ForceGetStatus(ctx context.Context, files []string) bool {
	files = normalizeFiles(files)
	if len(files) == 0 {
		return true
	}
	key := slices.Clone(files)
	slices.Sort(key)
	v, _, _ := s.refresh.Do(strings.Join(key, "\x00"), func() (any, error) {
		cmd := s.NewCommand(models.CommandUpdateStatus, nil, files)
		return s.ExecuteSynchronousCommand(ctx, cmd, "Updating file status"), nil
	})
	ok, _ := v.(bool)
	return ok
}
