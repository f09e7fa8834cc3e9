// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/oshokin/montauk-installer/internal/shell"
)

// Handler answers one command.
type Handler func(ctx context.Context, cmd shell.Command) (shell.Result, error)

// Fake is a shell.Runner that dispatches commands to handlers by name and records every call.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	fallback Handler
	calls    []shell.Command
}

// New creates a Fake whose unhandled commands succeed with empty output.
func New() *Fake {
	return &Fake{
		handlers: make(map[string]Handler),
		fallback: func(context.Context, shell.Command) (shell.Result, error) {
			return shell.Result{}, nil
		},
	}
}

// Handle registers h for commands named name.
func (f *Fake) Handle(name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[name] = h
}

// Fallback replaces the handler for unregistered commands.
func (f *Fake) Fallback(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fallback = h
}

// Respond registers a fixed result for commands named name.
func (f *Fake) Respond(name string, result shell.Result) {
	f.Handle(name, func(context.Context, shell.Command) (shell.Result, error) {
		return result, nil
	})
}

// Fail makes commands named name exit with status 1 and the given stderr.
func (f *Fake) Fail(name, stderr string) {
	f.Respond(name, shell.Result{ExitCode: 1, Stderr: stderr})
}

// Run implements shell.Runner.
func (f *Fake) Run(ctx context.Context, cmd shell.Command) (shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return shell.Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h, ok := f.handlers[cmd.Name]

	if !ok {
		h = f.fallback
	}
	f.mu.Unlock()

	return h(ctx, cmd)
}

// Calls returns a copy of the recorded commands.
func (f *Fake) Calls() []shell.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

// Names returns the recorded command names in call order.
func (f *Fake) Names() []string {
	calls := f.Calls()
	names := make([]string, 0, len(calls))

	for _, c := range calls {
		names = append(names, c.Name)
	}

	return names
}

// Count returns how many times a command named name was run.
func (f *Fake) Count(name string) int {
	n := 0

	for _, c := range f.Calls() {
		if c.Name == name {
			n++
		}
	}

	return n
}

// Reset forgets the recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = nil
}
