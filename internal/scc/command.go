package scc

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/chmouel/lazyscc/internal/models"
)

// Listener receives asynchronous commands once Tick delivers them.
type Listener interface {
	SourceControlCallback(cmd *Command)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(cmd *Command)

// SourceControlCallback calls f(cmd).
func (f ListenerFunc) SourceControlCallback(cmd *Command) {
	f(cmd)
}

// Command is one unit of source control work. It is built by the Service,
// executed exactly once by a worker (or inline), and handed back through the
// completion queue.
type Command struct {
	ID          uint64
	Type        models.CommandType
	Description string
	Files       []string

	// Results maps a file (or models.InfoResultKey) to provider key/values.
	Results       map[string]map[string]string
	ErrorMessages []string
	Succeeded     bool
	ErrorType     models.ErrorType

	Listener Listener
	Provider Provider

	IssuedAt    time.Time
	CompletedAt time.Time

	claimed atomic.Bool
	done    chan struct{}
}

// NewCommand builds an unissued command. Files are copied.
func NewCommand(cmdType models.CommandType, files []string) *Command {
	return &Command{
		Type:    cmdType,
		Files:   slices.Clone(files),
		Results: make(map[string]map[string]string),
		done:    make(chan struct{}),
	}
}

// SetResult stores one key/value for file.
func (c *Command) SetResult(file, key, value string) {
	m, ok := c.Results[file]
	if !ok {
		m = make(map[string]string)
		c.Results[file] = m
	}
	m[key] = value
}

// Result returns the stored value or "".
func (c *Command) Result(file, key string) string {
	return c.Results[file][key]
}

// AddError appends a formatted error message.
func (c *Command) AddError(format string, args ...any) {
	c.ErrorMessages = append(c.ErrorMessages, fmt.Sprintf(format, args...))
}

// Fail marks the command as failed without running it.
func (c *Command) Fail(errType models.ErrorType, err error) {
	c.Succeeded = false
	c.ErrorType = errType
	if err != nil {
		for _, msg := range errorMessages(err) {
			if !slices.Contains(c.ErrorMessages, msg) {
				c.ErrorMessages = append(c.ErrorMessages, msg)
			}
		}
	}
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now()
	}
}

// DoWork runs the command through its provider. It returns false without
// doing anything if another goroutine already claimed the command.
func (c *Command) DoWork(ctx context.Context) bool {
	if !c.claimed.CompareAndSwap(false, true) {
		return false
	}
	defer close(c.done)

	if c.Provider == nil {
		c.Fail(models.ErrorConnection, ErrDisabled)
		return true
	}

	err := c.Provider.ExecuteCommand(ctx, c)
	c.CompletedAt = time.Now()
	if err != nil {
		c.Fail(ErrorTypeOf(err), err)
		return true
	}
	c.Succeeded = true
	c.ErrorType = models.ErrorNone
	return true
}

// Done is closed when DoWork has finished.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Claimed reports whether a worker has started the command.
func (c *Command) Claimed() bool {
	return c.claimed.Load()
}

// Record flattens the command for events and the journal.
func (c *Command) Record() models.CommandRecord {
	return models.CommandRecord{
		ID:          c.ID,
		Type:        c.Type,
		Description: c.Description,
		Files:       slices.Clone(c.Files),
		Succeeded:   c.Succeeded,
		ErrorType:   c.ErrorType,
		Errors:      slices.Clone(c.ErrorMessages),
		IssuedAt:    c.IssuedAt,
		CompletedAt: c.CompletedAt,
	}
}

// abandon fails an unclaimed command so it can never be executed later.
func (c *Command) abandon(errType models.ErrorType, err error) {
	if !c.claimed.CompareAndSwap(false, true) {
		return
	}
	c.Fail(errType, err)
	close(c.done)
}
