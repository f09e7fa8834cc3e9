package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/oshokin/montauk-installer/internal/config"
	"github.com/oshokin/montauk-installer/internal/logger"
)

// Executor runs commands with os/exec, escalating privileged ones through sudo when needed.
type Executor struct {
	escalate bool
	timeout  time.Duration
	stdout   io.Writer
	stderr   io.Writer
	tools    *toolResolver
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEscalation controls whether privileged commands are prefixed with sudo.
func WithEscalation(escalate bool) ExecutorOption {
	return func(e *Executor) {
		e.escalate = escalate
	}
}

// WithTimeout bounds each command; zero disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithOutput sets where streamed commands mirror their output.
func WithOutput(stdout, stderr io.Writer) ExecutorOption {
	return func(e *Executor) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		stdout: os.Stdout,
		stderr: os.Stderr,
		tools:  newToolResolver(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NeedsEscalation decides whether privileged commands go through sudo.
func NeedsEscalation(mode config.Privilege, isRoot bool) bool {
	switch mode {
	case config.PrivilegeSudo:
		return true
	case config.PrivilegeNone:
		return false
	default:
		return !isRoot
	}
}

// Run executes cmd and captures its output.
func (e *Executor) Run(ctx context.Context, cmd Command) (Result, error) {
	name, args := e.tools.resolve(cmd.Name), cmd.Args
	if cmd.Privileged && e.escalate {
		args = append([]string{name}, args...)
		name = "sudo"
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger.DebugKV(ctx, "Running command", "command", cmd.String(), "privileged", cmd.Privileged)

	var stdout, stderr bytes.Buffer

	proc := exec.CommandContext(ctx, name, args...)
	proc.Dir = cmd.Dir
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if cmd.Stream {
		proc.Stdout = io.MultiWriter(&stdout, e.stdout)
		proc.Stderr = io.MultiWriter(&stderr, e.stderr)
	}

	if cmd.Stdin != nil {
		proc.Stdin = bytes.NewReader(cmd.Stdin)
	}

	err := proc.Run()

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		logger.DebugKV(ctx, "Command failed", "command", cmd.String(), "exit_code", result.ExitCode)

		return result, nil
	}

	if err != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("start %s: %w", cmd.Name, err)
	}

	return result, nil
}
