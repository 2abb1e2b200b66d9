package scc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	BaseProvider
	runs atomic.Int32
	err  error
}

func (p *countingProvider) Init(context.Context) error { return nil }
func (p *countingProvider) Close() error               { return nil }

func (p *countingProvider) ExecuteCommand(_ context.Context, cmd *Command) error {
	p.runs.Add(1)
	if p.err != nil {
		return p.err
	}
	cmd.SetResult("/ws/A.txt", models.KeyState, "read_only")
	return nil
}

func TestCommandDoWorkRunsOnce(t *testing.T) {
	p := &countingProvider{BaseProvider: BaseProvider{Label: "count"}}
	cmd := NewCommand(models.CommandUpdateStatus, []string{"/ws/A.txt"})
	cmd.Provider = p

	var wg sync.WaitGroup
	var claimed atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cmd.DoWork(context.Background()) {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
	assert.Equal(t, int32(1), p.runs.Load())
	assert.True(t, cmd.Succeeded)
	assert.Equal(t, "read_only", cmd.Result("/ws/A.txt", models.KeyState))
	select {
	case <-cmd.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCommandFailureClassified(t *testing.T) {
	p := &countingProvider{
		BaseProvider: BaseProvider{Label: "count"},
		err:          NewCommandError("count checkout", "A.txt - file(s) not on client"),
	}
	cmd := NewCommand(models.CommandCheckOut, []string{"/ws/A.txt"})
	cmd.Provider = p

	require.True(t, cmd.DoWork(context.Background()))
	assert.False(t, cmd.Succeeded)
	assert.Equal(t, models.ErrorCommand, cmd.ErrorType)
	assert.Equal(t, []string{"A.txt - file(s) not on client"}, cmd.ErrorMessages)
	assert.False(t, cmd.CompletedAt.IsZero())
}

func TestAbandonedCommandNeverRuns(t *testing.T) {
	p := &countingProvider{BaseProvider: BaseProvider{Label: "count"}}
	cmd := NewCommand(models.CommandCheckIn, []string{"/ws/A.txt"})
	cmd.Provider = p

	cmd.abandon(models.ErrorConnection, ErrProbeTimeout)
	assert.False(t, cmd.DoWork(context.Background()))
	assert.Zero(t, p.runs.Load())
	assert.Equal(t, models.ErrorConnection, cmd.ErrorType)

	rec := cmd.Record()
	assert.False(t, rec.Succeeded)
	assert.Equal(t, []string{ErrProbeTimeout.Error()}, rec.Errors)
}

func TestErrorTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorType
	}{
		{"nil", nil, models.ErrorNone},
		{"connection", NewConnectionError("p4", errors.New("refused")), models.ErrorConnection},
		{"wrapped command", errors.Join(errors.New("ctx"), NewCommandError("p4", "bad")), models.ErrorCommand},
		{"disabled", ErrDisabled, models.ErrorConnection},
		{"deadline", context.DeadlineExceeded, models.ErrorConnection},
		{"plain", errors.New("boom"), models.ErrorCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorTypeOf(tt.err))
		})
	}
}

func TestCommandErrorMessages(t *testing.T) {
	err := WrapCommandError("git commit", errors.New("exit status 1"), "nothing to commit")
	assert.Equal(t, "git commit: exit status 1", err.Error())
	assert.Equal(t, []string{"git commit: exit status 1", "nothing to commit"}, errorMessages(err))
	assert.Equal(t, "p4: first", NewCommandError("p4", "first", "second").Error())
}

func TestBaseProviderAvailability(t *testing.T) {
	b := &BaseProvider{Label: "base"}
	info := NewCommand(models.CommandInfo, nil)
	edit := NewCommand(models.CommandCheckOut, nil)

	assert.ErrorIs(t, b.CheckAvailable(info), ErrDisabled)

	b.UpdateState(func(s *ProviderState) { s.Initialized = true })
	assert.NoError(t, b.CheckAvailable(info))
	assert.ErrorIs(t, b.CheckAvailable(edit), ErrServerUnavailable)

	info.Succeeded = true
	b.RespondToCommandErrorType(info)
	assert.True(t, b.State().Available())
	assert.NoError(t, b.CheckAvailable(edit))

	edit.ErrorType = models.ErrorConnection
	b.RespondToCommandErrorType(edit)
	assert.False(t, b.State().ServerAvailable)
}
