package shell

import (
	"context"
	"strings"
)

// Command describes one external tool invocation.
type Command struct {
	// Name is the executable name or path.
	Name string
	// Args are the arguments passed to Name.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Stdin is written to the process standard input when non-nil.
	Stdin []byte
	// Privileged marks commands that need elevated rights.
	Privileged bool
	// Stream mirrors output to the console while it is captured.
	Stream bool
}

// String renders the command the way an operator would type it.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	parts = append(parts, c.Args...)

	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Diagnostics returns stderr, or stdout when stderr is empty.
func (r Result) Diagnostics() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return r.Stderr
	}

	return r.Stdout
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Privileged returns a privileged command.
func Privileged(name string, args ...string) Command {
	return Command{Name: name, Args: args, Privileged: true}
}

// Plain returns an unprivileged command.
func Plain(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}
