package scc

import (
	"context"
	"sync"

	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
)

// Provider is a source control backend.
//
// Init moves the provider from uninitialized to either disabled or
// available; Close returns it to uninitialized. ExecuteCommand is only
// meaningful while available and must fill cmd.Results for the files it
// touched.
type Provider interface {
	Name() string
	Init(ctx context.Context) error
	Close() error
	State() ProviderState
	ExecuteCommand(ctx context.Context, cmd *Command) error
	// RespondToCommandErrorType reacts to a failed command, for example by
	// marking the server unavailable after a connection error.
	RespondToCommandErrorType(cmd *Command)
	// DumpMessages logs the command's diagnostics.
	DumpMessages(cmd *Command)
}

// ProviderState holds the provider flags.
type ProviderState struct {
	Initialized     bool
	ServerAvailable bool
	ProjectOpen     bool
	Disabled        bool
	AutoAddNewFiles bool
}

// Available reports whether commands may be sent to the backend.
func (s ProviderState) Available() bool {
	return s.Initialized && !s.Disabled && s.ServerAvailable
}

// BaseProvider implements the flag bookkeeping and the default error
// responder shared by the concrete providers. Embed it and set Label.
type BaseProvider struct {
	Label string

	mu    sync.RWMutex
	state ProviderState
}

// Name returns the provider name.
func (b *BaseProvider) Name() string {
	return b.Label
}

// State returns a snapshot of the provider flags.
func (b *BaseProvider) State() ProviderState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// UpdateState mutates the flags under the provider lock.
func (b *BaseProvider) UpdateState(fn func(*ProviderState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

// CheckAvailable returns the error a command should fail with when the
// provider cannot accept it. Info commands are let through while the server
// is marked unavailable so a probe can bring it back.
func (b *BaseProvider) CheckAvailable(cmd *Command) error {
	st := b.State()
	switch {
	case !st.Initialized || st.Disabled:
		return NewConnectionError(b.Label, ErrDisabled)
	case !st.ServerAvailable && cmd.Type != models.CommandInfo:
		return NewConnectionError(b.Label, ErrServerUnavailable)
	}
	return nil
}

// RespondToCommandErrorType marks the server unavailable after a connection
// error and available again after a successful Info.
func (b *BaseProvider) RespondToCommandErrorType(cmd *Command) {
	switch {
	case cmd.ErrorType == models.ErrorConnection:
		b.UpdateState(func(s *ProviderState) {
			if s.ServerAvailable {
				log.Warn().Str("provider", b.Label).Uint64("command", cmd.ID).Msg("connection error, marking server unavailable")
			}
			s.ServerAvailable = false
		})
	case cmd.Type == models.CommandInfo && cmd.Succeeded:
		b.UpdateState(func(s *ProviderState) {
			if s.Initialized && !s.Disabled {
				s.ServerAvailable = true
			}
		})
	}
}

// DumpMessages writes every error message of cmd to the log.
func (b *BaseProvider) DumpMessages(cmd *Command) {
	for _, msg := range cmd.ErrorMessages {
		ev := log.Warn()
		if cmd.Succeeded {
			ev = log.Info()
		}
		ev.Str("provider", b.Label).
			Uint64("command", cmd.ID).
			Str("type", cmd.Type.String()).
			Str("error_type", cmd.ErrorType.String()).
			Msg(msg)
	}
}
