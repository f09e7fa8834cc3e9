package module

import (
	"context"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/repository/record"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// Uninstaller reverses activation, installation and autoload registration.
type Uninstaller struct {
	runner   shell.Runner
	records  record.Repository
	loader   *LoadController
	autoload *Autoload
	layout   kmod.Layout
}

// NewUninstaller creates an Uninstaller.
func NewUninstaller(runner shell.Runner, records record.Repository, loader *LoadController, autoload *Autoload) *Uninstaller {
	return &Uninstaller{
		runner:   runner,
		records:  records,
		loader:   loader,
		autoload: autoload,
		layout:   autoload.layout,
	}
}

// Uninstall removes whatever part of the module is present and returns the
// warnings it collected. It never stops early.
func (u *Uninstaller) Uninstall(ctx context.Context, release kmod.KernelRelease) []error {
	var warnings []error

	warn := func(err error) {
		logger.WarnKV(ctx, "Uninstall step failed", "error", err)
		warnings = append(warnings, err)
	}

	if err := u.loader.Deactivate(ctx); err != nil {
		warn(err)
	}

	rec, err := u.records.Inspect(ctx, release)

	switch {
	case err != nil:
		warn(removalWarning("cannot inspect installed files, removing the fixed paths", err))

		// Unknown state: rm -f on both paths is harmless when they are absent.
		rec = kmod.InstalledModuleRecord{
			ArtifactPath:    u.layout.ArtifactPath(release),
			ArtifactPresent: true,
			AutoloadPath:    u.layout.AutoloadPath(),
			AutoloadPresent: true,
		}
	case !rec.Consistent():
		logger.WarnKV(ctx, "Installed module record is inconsistent",
			"artifact_present", rec.ArtifactPresent,
			"autoload_present", rec.AutoloadPresent,
		)
	}

	removed := false

	if rec.ArtifactPresent {
		logger.InfoKV(ctx, "Removing installed module", "path", rec.ArtifactPath)

		if err = runStep(ctx, u.runner, shell.Privileged("rm", "-f", rec.ArtifactPath)); err != nil {
			warn(removalWarning("cannot remove "+rec.ArtifactPath, err))
		} else {
			removed = true
		}
	}

	deregistered, err := u.autoload.Deregister(ctx, rec.AutoloadPresent)
	if err != nil {
		warn(err)
	}

	if !removed && !deregistered {
		logger.Info(ctx, "Nothing to remove from the module tree")
		return warnings
	}

	if err = runStep(ctx, u.runner, DepmodCommand()); err != nil {
		warn(removalWarning("cannot refresh the module dependency index", err))
	}

	return warnings
}
