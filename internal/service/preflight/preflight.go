package preflight

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/kernel"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// Compilers are the C++ compilers accepted by the userspace build, in lookup order.
//
//nolint:gochecknoglobals // Fixed lookup order.
var Compilers = []string{"g++", "clang++"}

// Checker probes the host for build tools and kernel headers.
type Checker struct {
	runner shell.Runner
	// lookPath answers when the host has no which(1).
	lookPath func(file string) (string, error)
}

// New creates a Checker.
func New(runner shell.Runner) *Checker {
	return &Checker{
		runner:   runner,
		lookPath: exec.LookPath,
	}
}

// Toolchain checks that cmake and a C++ compiler are installed.
func (c *Checker) Toolchain(ctx context.Context) error {
	logger.Info(ctx, "Checking dependencies")

	found, err := c.which(ctx, "cmake")
	if err != nil {
		return err
	}

	if !found {
		return missing("cmake not found", []string{
			"Arch Linux:    sudo pacman -S cmake",
			"Debian/Ubuntu: sudo apt install cmake build-essential",
			"Fedora:        sudo dnf install cmake gcc-c++",
		})
	}

	logger.Info(ctx, "cmake found")

	for _, compiler := range Compilers {
		if found, err = c.which(ctx, compiler); err != nil {
			return err
		}

		if found {
			logger.InfoKV(ctx, "C++ compiler found", "compiler", compiler)
			return nil
		}
	}

	return missing("C++ compiler not found", []string{
		"Arch Linux:    sudo pacman -S gcc",
		"Debian/Ubuntu: sudo apt install build-essential",
		"Fedora:        sudo dnf install gcc-c++",
	})
}

// Headers checks that the build tree for release is installed.
func (c *Checker) Headers(layout kmod.Layout, release kmod.KernelRelease) error {
	if kernel.HeadersPresent(layout, release) {
		return nil
	}

	return missing(
		fmt.Sprintf("kernel headers not found in %s", layout.HeadersDir(release)),
		HeadersRemediation(release),
	)
}

// HeadersRemediation lists per-distribution commands installing headers for release.
func HeadersRemediation(release kmod.KernelRelease) []string {
	return []string{
		fmt.Sprintf("Arch Linux:    sudo pacman -S linux-headers  (kernel %s)", release),
		"Debian/Ubuntu: sudo apt install linux-headers-" + release.String(),
		"Fedora:        sudo dnf install kernel-devel",
	}
}

func (c *Checker) which(ctx context.Context, name string) (bool, error) {
	result, err := c.runner.Run(ctx, shell.Plain("which", name))
	if err == nil {
		return result.OK(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}

	logger.DebugKV(ctx, "which is unavailable, searching PATH directly", "tool", name, "error", err)

	_, err = c.lookPath(name)

	return err == nil, nil
}

func missing(reason string, remediation []string) error {
	return &kmod.Error{
		Kind:        kmod.KindMissingDependency,
		Stage:       kmod.StagePreflight,
		Reason:      reason,
		Remediation: remediation,
	}
}
