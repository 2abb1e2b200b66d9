// Package cmdrun runs the external source control clients.
package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/scc"
)

// LookupPath is used to find executables in PATH. Tests replace it to avoid
// depending on installed clients.
var LookupPath = exec.LookPath

// Request is one client invocation.
type Request struct {
	Args    []string
	Dir     string
	Env     map[string]string
	Stdin   string
	OKCodes []int
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned when the client exits with a code not listed in
// Request.OKCodes.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.Code)
}

// Runner executes allowed clients with bounded concurrency.
type Runner struct {
	semaphore chan struct{}
	env       map[string]string
}

// New returns a Runner allowing limit concurrent processes. limit <= 0
// uses scc.DefaultWorkers.
func New(limit int, env map[string]string) *Runner {
	if limit <= 0 {
		limit = scc.DefaultWorkers()
	}
	return &Runner{semaphore: make(chan struct{}, limit), env: env}
}

func prepareAllowedCommand(ctx context.Context, args []string) (*exec.Cmd, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command provided")
	}

	switch args[0] {
	case "git":
		// #nosec G204 -- git arguments are built by the provider, never shell interpolated
		return exec.CommandContext(ctx, "git", args[1:]...), nil
	case "p4":
		// #nosec G204 -- p4 arguments are built by the provider, never shell interpolated
		return exec.CommandContext(ctx, "p4", args[1:]...), nil
	default:
		return nil, fmt.Errorf("unsupported command %q", args[0])
	}
}

// Available reports whether the named client is installed.
func Available(name string) bool {
	_, err := LookupPath(name)
	return err == nil
}

// Run executes req. A missing binary or an expired context is a connection
// error; a disallowed exit code is an *ExitError.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	command := strings.Join(req.Args, " ")
	if command == "" {
		command = "<empty>"
	}

	cmd, err := prepareAllowedCommand(ctx, req.Args)
	if err != nil {
		return Result{}, scc.WrapCommandError("run", err)
	}
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if len(r.env) > 0 || len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), formatEnv(r.env)...)
		cmd.Env = append(cmd.Env, formatEnv(req.Env)...)
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	select {
	case r.semaphore <- struct{}{}:
	case <-ctx.Done():
		return Result{}, scc.NewConnectionError(req.Args[0], ctx.Err())
	}
	log.Debug().Str("cmd", command).Str("cwd", req.Dir).Msg("run")
	err = cmd.Run()
	<-r.semaphore

	res := Result{Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String())}
	if err == nil {
		log.Debug().Str("cmd", command).Msg("ok")
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return res, scc.NewConnectionError(req.Args[0], ctx.Err())
		}
		res.ExitCode = exitErr.ExitCode()
		if slices.Contains(req.OKCodes, res.ExitCode) {
			return res, nil
		}
		log.Debug().Str("cmd", command).Int("exit", res.ExitCode).Str("stderr", res.Stderr).Msg("failed")
		return res, &ExitError{Command: command, Code: res.ExitCode, Stderr: res.Stderr}
	}

	log.Debug().Str("cmd", command).Err(err).Msg("could not start")
	return res, scc.NewConnectionError(req.Args[0], err)
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	formatted := make([]string, 0, len(env))
	for k, v := range env {
		formatted = append(formatted, fmt.Sprintf("%s=%s", k, v))
	}
	slices.Sort(formatted)
	return formatted
}
