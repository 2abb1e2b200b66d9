package scc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chmouel/lazyscc/internal/models"
)

var (
	// ErrDisabled is returned by providers that were never enabled.
	ErrDisabled = errors.New("source control is disabled")
	// ErrServerUnavailable is returned after a connection failure until the
	// next successful Info command.
	ErrServerUnavailable = errors.New("source control server is unavailable")
	// ErrUnsupported is returned for command types a provider cannot run.
	ErrUnsupported = errors.New("command not supported by provider")
	// ErrPoolClosed is returned when work is submitted after shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrProbeTimeout marks a command abandoned because the server did not
	// answer the liveness probe in time.
	ErrProbeTimeout = errors.New("source control server did not respond")
	// ErrCanceled marks a command abandoned by the user.
	ErrCanceled = errors.New("source control operation canceled")
)

// CommandError carries the error classification of a failed provider call
// together with any per-file messages the backend produced.
type CommandError struct {
	Type     models.ErrorType
	Op       string
	Messages []string
	Err      error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case len(e.Messages) > 0:
		b.WriteString(e.Messages[0])
	default:
		b.WriteString(e.Type.String() + " error")
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps err as a connection failure.
func NewConnectionError(op string, err error) *CommandError {
	return &CommandError{Type: models.ErrorConnection, Op: op, Err: err}
}

// NewCommandError reports a backend rejection with the backend's messages.
func NewCommandError(op string, messages ...string) *CommandError {
	return &CommandError{Type: models.ErrorCommand, Op: op, Messages: messages}
}

// WrapCommandError wraps err as a command failure.
func WrapCommandError(op string, err error, messages ...string) *CommandError {
	return &CommandError{Type: models.ErrorCommand, Op: op, Err: err, Messages: messages}
}

// ErrorTypeOf classifies an arbitrary error.
func ErrorTypeOf(err error) models.ErrorType {
	if err == nil {
		return models.ErrorNone
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Type
	}
	switch {
	case errors.Is(err, ErrDisabled),
		errors.Is(err, ErrServerUnavailable),
		errors.Is(err, ErrProbeTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return models.ErrorConnection
	default:
		return models.ErrorCommand
	}
}

func errorMessages(err error) []string {
	var ce *CommandError
	if errors.As(err, &ce) && len(ce.Messages) > 0 {
		msgs := make([]string, 0, len(ce.Messages)+1)
		if ce.Err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", ce.Op, ce.Err))
		}
		return append(msgs, ce.Messages...)
	}
	return []string{err.Error()}
}
