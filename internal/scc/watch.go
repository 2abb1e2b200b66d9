package scc

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
	"github.com/fsnotify/fsnotify"
)

// WatchDebounce suppresses repeated events for the same path.
const WatchDebounce = 600 * time.Millisecond

// Watcher follows a workspace on disk. New files are queued for Add when the
// provider asks for it, and changed files drop out of the status cache.
type Watcher struct {
	svc      *Service
	root     string
	listener Listener

	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	mu       sync.Mutex
	paths    map[string]struct{}
	lastSeen map[string]time.Time
}

// StartWatcher watches root recursively. Commands the watcher issues report
// to listener through Tick.
func (s *Service) StartWatcher(ctx context.Context, root string, listener Listener) (*Watcher, error) {
	if s.watcher != nil {
		return nil, errors.New("watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		svc:      s,
		root:     normalizePath(root),
		listener: listener,
		fs:       fw,
		done:     make(chan struct{}),
		paths:    make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
	w.addWatchTree(w.root)
	s.watcher = w

	w.wg.Add(1)
	go w.run(ctx)
	log.Info().Str("root", w.root).Int("dirs", len(w.paths)).Msg("watching workspace")
	return w, nil
}

// Stop ends the watch goroutine and releases the OS watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		_ = w.fs.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("workspace watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if isGitPath(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if !info.IsDir() {
			w.newFile(ctx, event.Name)
			return
		}
		// files may land before the new directory is watched
		w.addWatchTree(event.Name)
		_ = filepath.WalkDir(event.Name, func(path string, d fs.DirEntry, err error) error {
			if err == nil && d.Type().IsRegular() {
				w.newFile(ctx, path)
			}
			return nil
		})
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.svc.packages.Remove(event.Name)
		w.svc.InvalidateStatus(event.Name)
		w.mu.Lock()
		delete(w.paths, event.Name)
		w.mu.Unlock()
	default:
		w.svc.InvalidateStatus(event.Name)
	}
}

func (w *Watcher) newFile(ctx context.Context, path string) {
	w.svc.packages.Add(path)
	if !w.svc.provider.State().AutoAddNewFiles || !w.shouldHandle(path, time.Now()) {
		return
	}
	cmd := w.svc.NewCommand(models.CommandAdd, w.listener, []string{path})
	w.svc.IssueCommand(ctx, cmd, false)
}

func (w *Watcher) shouldHandle(path string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < WatchDebounce {
		return false
	}
	w.lastSeen[path] = now
	return true
}

func (w *Watcher) addWatchDir(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[path]; ok {
		return
	}
	if err := w.fs.Add(path); err != nil {
		log.Debug().Str("dir", path).Err(err).Msg("workspace watcher add failed")
		return
	}
	w.paths[path] = struct{}{}
}

func (w *Watcher) addWatchTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		w.addWatchDir(path)
		return nil
	})
}

func isGitPath(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+".git"+sep) || strings.HasSuffix(path, sep+".git")
}
