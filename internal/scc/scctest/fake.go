// Package scctest provides an in-memory source control provider for tests.
package scctest

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/scc"
)

// Provider is a scripted scc.Provider. File state lives in memory and every
// executed command type is recorded.
type Provider struct {
	scc.BaseProvider

	// InitErr is returned from Init, which then leaves the provider disabled.
	InitErr error
	// Delay is slept before every command.
	Delay time.Duration
	// AutoAdd is copied into the provider state by Init.
	AutoAdd bool

	mu       sync.Mutex
	states   map[string]models.FileStateKind
	others   map[string][]string
	modified map[string]bool
	history  map[string][]models.FileRevision
	fail     map[models.CommandType]error
	hang     map[models.CommandType]chan struct{}
	calls    []models.CommandType
	info     map[string]string
}

// New returns an uninitialized fake provider.
func New() *Provider {
	return &Provider{
		BaseProvider: scc.BaseProvider{Label: "fake"},
		states:       make(map[string]models.FileStateKind),
		others:       make(map[string][]string),
		modified:     make(map[string]bool),
		history:      make(map[string][]models.FileRevision),
		fail:         make(map[models.CommandType]error),
		hang:         make(map[models.CommandType]chan struct{}),
		info: map[string]string{
			models.KeyServerAddress: "fake:1666",
			models.KeyServerVersion: "fake/1.0",
			models.KeyUserName:      "me",
			models.KeyClientName:    "me-workspace",
		},
	}
}

func abs(path string) string {
	if p, err := filepath.Abs(path); err == nil {
		return filepath.Clean(p)
	}
	return path
}

// SetState scripts the depot state of path.
func (p *Provider) SetState(path string, state models.FileStateKind, otherUsers ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path = abs(path)
	p.states[path] = state
	p.others[path] = otherUsers
}

// StateOf returns the scripted state of path.
func (p *Provider) StateOf(path string) models.FileStateKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[abs(path)]; ok {
		return st
	}
	return models.StateNotInDepot
}

// SetModified scripts whether path differs from the depot.
func (p *Provider) SetModified(path string, modified bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modified[abs(path)] = modified
}

// SetHistory scripts the revisions of path, newest first.
func (p *Provider) SetHistory(path string, revs ...models.FileRevision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[abs(path)] = revs
}

// FailWith makes every command of type t fail with err. A nil err clears it.
func (p *Provider) FailWith(t models.CommandType, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, t)
		return
	}
	p.fail[t] = err
}

// Hang blocks commands of type t until the returned release function is
// called or their context ends.
func (p *Provider) Hang(t models.CommandType) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.hang[t] = ch
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.hang, t)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns the executed command types in order.
func (p *Provider) Calls() []models.CommandType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CallCount returns how many commands of type t were executed.
func (p *Provider) CallCount(t models.CommandType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == t {
			n++
		}
	}
	return n
}

// Init implements scc.Provider.
func (p *Provider) Init(context.Context) error {
	p.UpdateState(func(s *scc.ProviderState) {
		s.Initialized = true
		s.Disabled = p.InitErr != nil
		s.ServerAvailable = p.InitErr == nil
		s.ProjectOpen = p.InitErr == nil
		s.AutoAddNewFiles = p.AutoAdd
	})
	return p.InitErr
}

// Close implements scc.Provider.
func (p *Provider) Close() error {
	p.UpdateState(func(s *scc.ProviderState) {
		*s = scc.ProviderState{}
	})
	return nil
}

// MarkServerDown simulates a lost connection.
func (p *Provider) MarkServerDown() {
	p.UpdateState(func(s *scc.ProviderState) { s.ServerAvailable = false })
}

// ExecuteCommand implements scc.Provider.
func (p *Provider) ExecuteCommand(ctx context.Context, cmd *scc.Command) error {
	if err := p.CheckAvailable(cmd); err != nil {
		return err
	}

	p.mu.Lock()
	p.calls = append(p.calls, cmd.Type)
	hang := p.hang[cmd.Type]
	failErr := p.fail[cmd.Type]
	p.mu.Unlock()

	if hang != nil {
		select {
		case <-hang:
		case <-ctx.Done():
			return scc.NewConnectionError(p.Label, ctx.Err())
		}
	}
	if p.Delay > 0 {
		time.Sleep(p.Delay)
	}
	if failErr != nil {
		return failErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.Type {
	case models.CommandInfo:
		for k, v := range p.info {
			cmd.SetResult(models.InfoResultKey, k, v)
		}
		return nil
	case models.CommandHistory:
		for _, f := range cmd.Files {
			p.writeHistory(cmd, f)
		}
		return nil
	case models.CommandGetModifiedFiles, models.CommandGetUnmodifiedFiles:
		for _, f := range cmd.Files {
			if p.states[f].OpenedByMe() || cmd.Type == models.CommandGetModifiedFiles {
				cmd.SetResult(f, models.KeyModified, strconv.FormatBool(p.modified[f]))
			}
		}
		return nil
	}

	var rejected []string
	for _, f := range cmd.Files {
		st, known := p.states[f]
		if !known {
			st = models.StateNotInDepot
		}
		switch cmd.Type {
		case models.CommandCheckOut:
			if st == models.StateNotInDepot {
				rejected = append(rejected, f+" - file(s) not on client")
				break
			}
			st = models.StateCheckedOut
		case models.CommandCheckIn:
			if !st.OpenedByMe() {
				rejected = append(rejected, f+" - file(s) not opened on this client")
				break
			}
			if st == models.StateDeleted {
				st = models.StateNotInDepot
			} else {
				st = models.StateReadOnly
			}
			p.modified[f] = false
		case models.CommandAdd:
			if st == models.StateNotInDepot {
				st = models.StateAdded
			}
		case models.CommandDelete:
			st = models.StateDeleted
		case models.CommandRevert:
			if st == models.StateAdded {
				st = models.StateNotInDepot
			} else if st.OpenedByMe() {
				st = models.StateReadOnly
			}
			p.modified[f] = false
		case models.CommandRevertUnchanged:
			if st.OpenedByMe() && st != models.StateAdded && !p.modified[f] {
				st = models.StateReadOnly
			}
		case models.CommandUpdateStatus:
		default:
			return scc.ErrUnsupported
		}
		p.states[f] = st
		p.writeState(cmd, f, st)
	}
	if len(rejected) > 0 {
		return scc.NewCommandError(p.Label+" "+cmd.Type.String(), rejected...)
	}
	return nil
}

func (p *Provider) writeState(cmd *scc.Command, f string, st models.FileStateKind) {
	cmd.SetResult(f, models.KeyState, st.String())
	cmd.SetResult(f, models.KeyDepotPath, "//depot/"+filepath.Base(f))
	if users := p.others[f]; len(users) > 0 && st == models.StateCheckedOutOther {
		cmd.SetResult(f, models.KeyOtherUsers, strings.Join(users, ","))
	}
	cmd.SetResult(f, models.KeyModified, strconv.FormatBool(p.modified[f]))
}

func (p *Provider) writeHistory(cmd *scc.Command, f string) {
	revs := p.history[f]
	cmd.SetResult(f, models.KeyDepotPath, "//depot/"+filepath.Base(f))
	cmd.SetResult(f, models.KeyRevisions, strconv.Itoa(len(revs)))
	for i, r := range revs {
		idx := strconv.Itoa(i)
		cmd.SetResult(f, models.KeyRevPrefix+idx, strconv.Itoa(r.Revision))
		cmd.SetResult(f, models.KeyChangePrefix+idx, r.Changelist)
		cmd.SetResult(f, models.KeyUserPrefix+idx, r.User)
		cmd.SetResult(f, models.KeyDatePrefix+idx, strconv.FormatInt(r.Date.Unix(), 10))
		cmd.SetResult(f, models.KeyActionPrefix+idx, r.Action)
		cmd.SetResult(f, models.KeySizePrefix+idx, strconv.FormatInt(r.Size, 10))
		cmd.SetResult(f, models.KeyDescPrefix+idx, r.Description)
	}
}
