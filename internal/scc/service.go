// Package scc is the source control command dispatcher.
//
// A Service turns file-batch requests into Commands and either runs them on
// the calling goroutine, after a liveness probe against the server, or queues
// them to a worker pool. Completed asynchronous commands are handed back one
// per Tick so listener callbacks never run concurrently.
package scc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chmouel/lazyscc/internal/events"
	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultProbeTimeout bounds how long a synchronous command waits for the
	// server to answer the liveness probe.
	DefaultProbeTimeout = 10 * time.Second
	// DefaultProbeInterval is the poll period while waiting for the probe.
	DefaultProbeInterval = 100 * time.Millisecond
)

// Progress is the blocking progress indicator shown during synchronous
// commands. Cancelled is polled while the probe is outstanding.
type Progress interface {
	Begin(label string)
	Cancelled() bool
	End()
}

// Prompter shows modal messages to the user.
type Prompter interface {
	ShowMessage(title, body string)
}

type noProgress struct{}

func (noProgress) Begin(string)    {}
func (noProgress) Cancelled() bool { return false }
func (noProgress) End()            {}

type logPrompter struct{}

func (logPrompter) ShowMessage(title, body string) {
	log.Warn().Str("title", title).Msg(body)
}

// Options configures a Service. Only Provider is required.
type Options struct {
	Provider Provider
	Executor Executor
	Progress Progress
	Prompter Prompter
	Bus      *events.Bus
	Packages *PackageCache

	Workers       int
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	// ForceCheckout checks files out regardless of their reported state,
	// for unattended build tooling.
	ForceCheckout bool
}

// Service dispatches source control commands.
type Service struct {
	provider      Provider
	pool          Executor
	progress      Progress
	prompter      Prompter
	bus           *events.Bus
	packages      *PackageCache
	probeTimeout  time.Duration
	probeInterval time.Duration
	forceCheckout bool

	nextID  atomic.Uint64
	pending atomic.Int64

	// completed is appended to from pool goroutines and drained by Tick.
	queueMu   sync.Mutex
	completed []*Command

	statusMu sync.RWMutex
	states   map[string]models.FileState
	refresh  singleflight.Group

	locks   *fileLocks
	watcher *Watcher

	shutdownOnce sync.Once
}

// New builds a Service. The provider is not initialized; call Init.
func New(opts Options) *Service {
	s := &Service{
		provider:      opts.Provider,
		pool:          opts.Executor,
		progress:      opts.Progress,
		prompter:      opts.Prompter,
		bus:           opts.Bus,
		packages:      opts.Packages,
		probeTimeout:  opts.ProbeTimeout,
		probeInterval: opts.ProbeInterval,
		forceCheckout: opts.ForceCheckout,
		states:        make(map[string]models.FileState),
		locks:         newFileLocks(),
	}
	if s.pool == nil {
		workers := opts.Workers
		if workers <= 0 {
			workers = DefaultWorkers()
		}
		s.pool = NewPool(workers, workers*8)
	}
	if s.progress == nil {
		s.progress = noProgress{}
	}
	if s.prompter == nil {
		s.prompter = logPrompter{}
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = DefaultProbeTimeout
	}
	if s.probeInterval <= 0 {
		s.probeInterval = DefaultProbeInterval
	}
	if s.packages == nil {
		s.packages = NewPackageCache(nil, nil)
	}
	return s
}

// Init initializes the provider and publishes its resulting state.
func (s *Service) Init(ctx context.Context) error {
	if s.provider == nil {
		return fmt.Errorf("no source control provider configured")
	}
	err := s.provider.Init(ctx)
	st := s.provider.State()
	log.Info().
		Str("provider", s.provider.Name()).
		Bool("server_available", st.ServerAvailable).
		Bool("project_open", st.ProjectOpen).
		Bool("disabled", st.Disabled).
		Err(err).
		Msg("source control initialized")
	s.publishState()
	return err
}

// Provider returns the backend in use.
func (s *Service) Provider() Provider {
	return s.provider
}

func (s *Service) publishState() {
	if s.bus == nil || s.provider == nil {
		return
	}
	st := s.provider.State()
	s.bus.Publish(events.EventProviderState, map[string]any{
		"provider":          s.provider.Name(),
		"server_available":  st.ServerAvailable,
		"project_open":      st.ProjectOpen,
		"disabled":          st.Disabled,
		"auto_add_new_file": st.AutoAddNewFiles,
	})
}

// NewCommand allocates a command bound to this service's provider.
// Relative file paths are made absolute.
func (s *Service) NewCommand(cmdType models.CommandType, listener Listener, files []string) *Command {
	cmd := NewCommand(cmdType, normalizeFiles(files))
	cmd.ID = s.nextID.Add(1)
	cmd.Listener = listener
	cmd.Provider = s.provider
	return cmd
}

func normalizeFiles(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		if abs, err := filepath.Abs(f); err == nil {
			f = abs
		}
		out = append(out, filepath.Clean(f))
	}
	return out
}

// execute runs cmd on the current goroutine while holding its file locks.
func (s *Service) execute(ctx context.Context, cmd *Command) {
	unlock := s.locks.lockAll(cmd.Files)
	defer unlock()

	start := time.Now()
	if !cmd.DoWork(ctx) {
		log.Error().Uint64("command", cmd.ID).Msg("command already claimed by another worker")
		return
	}
	log.Debug().
		Uint64("command", cmd.ID).
		Str("type", cmd.Type.String()).
		Int("files", len(cmd.Files)).
		Bool("succeeded", cmd.Succeeded).
		Dur("took", time.Since(start)).
		Msg("command executed")
	s.bus.Publish(events.EventCommandCompleted, map[string]any{"record": cmd.Record()})
}

// IssueCommand runs cmd inline when synchronous is true, otherwise queues it
// to the worker pool. Inline commands get their error response and message
// dump immediately; queued ones get them from Tick. For queued commands the
// return value only says whether the command was accepted.
func (s *Service) IssueCommand(ctx context.Context, cmd *Command, synchronous bool) bool {
	cmd.IssuedAt = time.Now()
	s.bus.Publish(events.EventCommandIssued, map[string]any{
		"id":          cmd.ID,
		"type":        cmd.Type.String(),
		"files":       len(cmd.Files),
		"synchronous": synchronous,
	})

	if synchronous {
		s.execute(ctx, cmd)
		s.finish(cmd)
		return cmd.Succeeded
	}

	// queued work always runs to completion
	workCtx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	err := s.pool.Submit(func() {
		defer func() {
			s.queueMu.Lock()
			s.completed = append(s.completed, cmd)
			s.queueMu.Unlock()
		}()
		s.execute(workCtx, cmd)
	})
	if err != nil {
		s.pending.Add(-1)
		s.abandon(cmd, models.ErrorCommand, err)
		return false
	}
	return true
}

// abandon fails a command that will never run and reports it like any other
// completion.
func (s *Service) abandon(cmd *Command, errType models.ErrorType, err error) {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	cmd.abandon(errType, err)
	s.bus.Publish(events.EventCommandCompleted, map[string]any{"record": cmd.Record()})
	s.finish(cmd)
}

// finish is the main-goroutine half of command completion.
func (s *Service) finish(cmd *Command) {
	before := s.provider.State()
	s.provider.RespondToCommandErrorType(cmd)
	s.provider.DumpMessages(cmd)
	s.applyResults(cmd)
	if s.provider.State() != before {
		s.publishState()
	}
}

// ExecuteSynchronousCommand runs cmd on the calling goroutine, guarded by a
// liveness probe: an Info command is sent on its own goroutine first and the
// real command is abandoned if the probe fails, does not answer within the
// probe timeout, or the user cancels.
func (s *Service) ExecuteSynchronousCommand(ctx context.Context, cmd *Command, taskLabel string) bool {
	s.progress.Begin(taskLabel)
	endProgress := sync.OnceFunc(s.progress.End)
	defer endProgress()

	probe := s.NewCommand(models.CommandInfo, nil, nil)
	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()

	probe.IssuedAt = time.Now()
	go probe.DoWork(probeCtx)

	if err := s.waitForProbe(ctx, probe); err != nil {
		cancelProbe()
		errType := models.ErrorConnection
		if errors.Is(err, ErrCanceled) {
			errType = models.ErrorCommand
		}
		s.abandon(cmd, errType, err)
		log.Warn().Uint64("command", cmd.ID).Str("task", taskLabel).Err(err).Msg("synchronous command abandoned")
		if errors.Is(err, ErrProbeTimeout) {
			endProgress()
			s.prompter.ShowMessage("Source control",
				fmt.Sprintf("The source control server did not respond within %s.\n%q was not performed.", s.probeTimeout, taskLabel))
		}
		return false
	}

	s.provider.RespondToCommandErrorType(probe)
	if !probe.Succeeded {
		s.abandon(cmd, probe.ErrorType, fmt.Errorf("server probe failed: %w", firstError(probe)))
		return false
	}

	return s.IssueCommand(ctx, cmd, true)
}

func firstError(cmd *Command) error {
	if len(cmd.ErrorMessages) > 0 {
		return errors.New(cmd.ErrorMessages[0])
	}
	return ErrServerUnavailable
}

func (s *Service) waitForProbe(ctx context.Context, probe *Command) error {
	deadline := time.NewTimer(s.probeTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-probe.Done():
			return nil
		case <-deadline.C:
			return fmt.Errorf("%w within %s", ErrProbeTimeout, s.probeTimeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		case <-ticker.C:
			if s.progress.Cancelled() {
				return ErrCanceled
			}
		}
	}
}

// Tick delivers at most one completed asynchronous command: the provider
// reacts to its error type, its messages are logged, its results are folded
// into the status cache and its listener is called. Tick reports whether a
// command was delivered. Call it from a single goroutine.
func (s *Service) Tick() bool {
	s.queueMu.Lock()
	if len(s.completed) == 0 {
		s.queueMu.Unlock()
		return false
	}
	cmd := s.completed[0]
	s.completed[0] = nil
	s.completed = s.completed[1:]
	s.queueMu.Unlock()

	s.pending.Add(-1)
	s.finish(cmd)
	if cmd.Listener != nil {
		cmd.Listener.SourceControlCallback(cmd)
	}
	return true
}

// Pending returns the number of queued commands not yet delivered by Tick.
func (s *Service) Pending() int {
	return int(s.pending.Load())
}

// Completed returns the number of commands waiting for Tick.
func (s *Service) Completed() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.completed)
}

// WaitIdle ticks until every queued command has been delivered or ctx ends.
func (s *Service) WaitIdle(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.probeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for s.Pending() > 0 {
		if s.Tick() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Shutdown stops the watcher, waits for queued work, delivers what is left
// and closes the provider.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
		s.pool.Close()
		for s.Tick() {
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if s.provider != nil {
			if cerr := s.provider.Close(); cerr != nil && err == nil {
				err = cerr
			}
			s.publishState()
		}
	})
	return err
}
