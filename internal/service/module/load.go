package module

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// LoadController manages whether the module is resident in the running kernel.
type LoadController struct {
	runner shell.Runner
	name   string
}

// NewLoadController creates a LoadController for module name.
func NewLoadController(runner shell.Runner, name string) *LoadController {
	return &LoadController{
		runner: runner,
		name:   name,
	}
}

// State queries the live module registry.
func (l *LoadController) State(ctx context.Context) (kmod.ActiveModuleState, error) {
	result, err := l.runner.Run(ctx, shell.Plain("lsmod"))
	if err != nil {
		return kmod.ActiveUnknown, err
	}

	if !result.OK() {
		return kmod.ActiveUnknown, &stepError{cmd: "lsmod", result: result}
	}

	if Listed(result.Stdout, l.name) {
		return kmod.ActiveLoaded, nil
	}

	return kmod.ActiveNotLoaded, nil
}

// IsActive reports whether the module is loaded.
func (l *LoadController) IsActive(ctx context.Context) (bool, error) {
	state, err := l.State(ctx)
	if err != nil {
		return false, err
	}

	return state == kmod.ActiveLoaded, nil
}

// Listed reports whether name is the first field of any lsmod line.
func Listed(listing, name string) bool {
	scanner := bufio.NewScanner(strings.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == name {
			return true
		}
	}

	return false
}

// Activate reloads the module by name and verifies it is resident afterwards.
func (l *LoadController) Activate(ctx context.Context) error {
	state, err := l.State(ctx)
	if err != nil {
		return l.loadFailure("cannot query loaded modules", err)
	}

	if state == kmod.ActiveLoaded {
		logger.InfoKV(ctx, "Module already loaded, unloading it first", "module", l.name)

		if err = runStep(ctx, l.runner, shell.Privileged("rmmod", l.name)); err != nil {
			return l.loadFailure("cannot unload the previous module instance", err)
		}
	}

	logger.InfoKV(ctx, "Loading kernel module", "module", l.name)

	if err = runStep(ctx, l.runner, shell.Privileged("modprobe", l.name)); err != nil {
		return l.loadFailure("modprobe failed", err)
	}

	if state, err = l.State(ctx); err != nil {
		return l.loadFailure("cannot query loaded modules", err)
	}

	if state != kmod.ActiveLoaded {
		return l.loadFailure(fmt.Sprintf("%s is not listed as loaded after modprobe", l.name), nil)
	}

	logger.InfoKV(ctx, "Kernel module active", "module", l.name)

	return nil
}

// Deactivate unloads the module when it is loaded. It does not verify the result.
func (l *LoadController) Deactivate(ctx context.Context) error {
	state, err := l.State(ctx)
	if err != nil {
		return removalWarning("cannot query loaded modules", err)
	}

	if state != kmod.ActiveLoaded {
		logger.DebugKV(ctx, "Module not loaded", "module", l.name)
		return nil
	}

	logger.InfoKV(ctx, "Unloading kernel module", "module", l.name)

	if err = runStep(ctx, l.runner, shell.Privileged("rmmod", l.name)); err != nil {
		return removalWarning("cannot unload "+l.name, err)
	}

	return nil
}

func (l *LoadController) loadFailure(reason string, err error) error {
	return &kmod.Error{
		Kind:   kmod.KindLoadFailure,
		Stage:  kmod.StageLoad,
		Reason: reason,
		Remediation: []string{
			"Check the kernel log: sudo dmesg | tail",
			"If Secure Boot is enabled, sign the module or enroll a MOK key",
		},
		Output: outputOf(err),
		Err:    err,
	}
}
