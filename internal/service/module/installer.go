package module

import (
	"context"
	"fmt"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// Installer places a verified artifact into the module tree of a release.
type Installer struct {
	runner shell.Runner
	layout kmod.Layout
}

// NewInstaller creates an Installer.
func NewInstaller(runner shell.Runner, layout kmod.Layout) *Installer {
	return &Installer{
		runner: runner,
		layout: layout,
	}
}

// Install copies artifact under the release module tree, overwriting any
// previous copy, and refreshes the dependency index.
func (i *Installer) Install(ctx context.Context, artifact kmod.ModuleArtifact, release kmod.KernelRelease) (string, error) {
	var (
		installDir = i.layout.InstallDir(release)
		target     = i.layout.ArtifactPath(release)
	)

	logger.InfoKV(ctx, "Installing kernel module", "target", target)

	steps := []shell.Command{
		shell.Privileged("mkdir", "-p", installDir),
		shell.Privileged("cp", artifact.Path, target),
		DepmodCommand(),
	}

	for _, step := range steps {
		if err := runStep(ctx, i.runner, step); err != nil {
			return target, &kmod.Error{
				Kind:   kmod.KindInstallFailure,
				Stage:  kmod.StageInstall,
				Reason: fmt.Sprintf("%q failed", step.String()),
				Remediation: []string{
					"Make sure you can run privileged commands (sudo)",
					"Check that " + installDir + " is writable by root",
				},
				Output: outputOf(err),
				Err:    err,
			}
		}
	}

	return target, nil
}

// DepmodCommand regenerates the module dependency index.
func DepmodCommand() shell.Command {
	return shell.Privileged("depmod", "-a")
}

// stepError carries diagnostics of a failed command.
type stepError struct {
	cmd    string
	result shell.Result
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.cmd, e.result.ExitCode)
}

// runStep runs cmd and turns a non-zero exit into a stepError.
func runStep(ctx context.Context, runner shell.Runner, cmd shell.Command) error {
	result, err := runner.Run(ctx, cmd)
	if err != nil {
		return err
	}

	if !result.OK() {
		return &stepError{cmd: cmd.String(), result: result}
	}

	return nil
}

// outputOf returns captured diagnostics from a stepError.
func outputOf(err error) string {
	if se, ok := err.(*stepError); ok { //nolint:errorlint // runStep returns it unwrapped.
		return se.result.Diagnostics()
	}

	return ""
}
