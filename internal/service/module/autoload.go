package module

import (
	"context"
	"fmt"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// Autoload manages the boot autoload declaration of the module.
type Autoload struct {
	runner shell.Runner
	layout kmod.Layout
}

// NewAutoload creates an Autoload registrar.
func NewAutoload(runner shell.Runner, layout kmod.Layout) *Autoload {
	return &Autoload{
		runner: runner,
		layout: layout,
	}
}

// Register writes the declaration. Failures are autoload warnings.
func (a *Autoload) Register(ctx context.Context) error {
	path := a.layout.AutoloadPath()

	logger.InfoKV(ctx, "Registering module for boot autoload", "path", path)

	write := shell.Privileged("tee", path)
	write.Stdin = []byte(a.layout.AutoloadContent())

	for _, step := range []shell.Command{shell.Privileged("mkdir", "-p", a.layout.AutoloadDir), write} {
		if err := runStep(ctx, a.runner, step); err != nil {
			return &kmod.Error{
				Kind:   kmod.KindAutoloadWarning,
				Stage:  kmod.StageAutoload,
				Reason: fmt.Sprintf("cannot write %s, the module will not load at boot", path),
				Remediation: []string{
					fmt.Sprintf("echo %s | sudo tee %s", a.layout.ModuleName, path),
				},
				Output: outputOf(err),
				Err:    err,
			}
		}
	}

	return nil
}

// Deregister removes the declaration when present and reports whether it did.
func (a *Autoload) Deregister(ctx context.Context, present bool) (bool, error) {
	if !present {
		return false, nil
	}

	path := a.layout.AutoloadPath()

	logger.InfoKV(ctx, "Removing boot autoload declaration", "path", path)

	if err := runStep(ctx, a.runner, shell.Privileged("rm", "-f", path)); err != nil {
		return false, removalWarning("cannot remove "+path, err)
	}

	return true, nil
}

func removalWarning(reason string, err error) error {
	return &kmod.Error{
		Kind:   kmod.KindRemovalWarning,
		Stage:  kmod.StageUninstall,
		Reason: reason,
		Output: outputOf(err),
		Err:    err,
	}
}
