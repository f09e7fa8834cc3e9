package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/kernel"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// install builds everything, installs the binary and verifies the kernel data path.
func (r *runner) install(ctx context.Context) error {
	if err := r.prepare(ctx); err != nil {
		return err
	}

	target := r.cfg.BinaryInstallPath()
	r.report.InstalledBinary = target

	buildCfg := r.buildConfig()
	buildCfg.CleanFirst = true

	if r.report.Kernel {
		warning, err := r.dependent.RebuildWithFeature(ctx, buildCfg, target, r.cfg.FeatureMarker)
		if err != nil {
			return err
		}

		r.report.Binary = filepath.Join(buildCfg.BuildDir, buildCfg.BinaryName)

		if err = r.warn(ctx, warning); err != nil {
			return err
		}
	} else {
		binary, err := r.dependent.Build(ctx, buildCfg)
		if err != nil {
			return err
		}

		r.report.Binary = binary

		if err = r.dependent.Install(ctx, binary, target); err != nil {
			return err
		}
	}

	return r.initMonitorConfig(ctx, target)
}

// build compiles without installing the userspace binary.
func (r *runner) build(ctx context.Context) error {
	if err := r.prepare(ctx); err != nil {
		return err
	}

	binary, err := r.dependent.Build(ctx, r.buildConfig())
	if err != nil {
		return err
	}

	r.report.Binary = binary

	return nil
}

// prepare runs preflight, settles the kernel decision and deploys the module when chosen.
func (r *runner) prepare(ctx context.Context) error {
	if err := r.checker.Toolchain(ctx); err != nil {
		return err
	}

	useKernel, err := r.decideKernel(ctx)
	if err != nil {
		return err
	}

	r.report.Kernel = useKernel

	if !useKernel {
		return nil
	}

	return r.deployModule(logger.WithName(ctx, "module"))
}

// deployModule stages, builds, gates, installs, registers and activates the module.
func (r *runner) deployModule(ctx context.Context) error {
	release, err := r.release()
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Building kernel module", "kernel", release)

	source, err := r.stager.Stage(ctx, r.cfg.KernelSourceDir())
	if err != nil {
		return err
	}

	r.report.Source = source

	if source.Staged {
		logger.InfoKV(ctx, "Staged copy is kept for manual cleanup", "path", source.Dir)
	}

	artifact, err := r.builder.Build(ctx, source, r.layout.HeadersDir(release))
	if err != nil {
		return err
	}

	artifact, err = r.gate.Verify(ctx, artifact, release)
	r.report.Artifact = artifact

	if err != nil {
		return err
	}

	if r.report.ModulePath, err = r.installer.Install(ctx, artifact, release); err != nil {
		return err
	}

	if err = r.warn(ctx, r.autoload.Register(ctx)); err != nil {
		return err
	}

	return r.loader.Activate(ctx)
}

func (r *runner) buildConfig() kmod.DependentBuildConfig {
	buildType := kmod.BuildRelease
	if r.opts.Debug {
		buildType = kmod.BuildDebug
	}

	buildCfg := kmod.DependentBuildConfig{
		Root:       r.cfg.SourceDir,
		BuildDir:   r.cfg.BuildPath(),
		BuildType:  buildType,
		Prefix:     r.cfg.Prefix,
		BinaryName: r.cfg.BinaryName,
	}

	if r.report.Kernel {
		buildCfg.FeatureFlag = r.cfg.FeatureFlag
	}

	return buildCfg
}

func (r *runner) initMonitorConfig(ctx context.Context, binary string) error {
	configFile, err := r.monitorConfig()
	if err != nil {
		return r.warn(ctx, &kmod.Error{
			Kind:   kmod.KindConfigWarning,
			Stage:  kmod.StageFirstRun,
			Reason: "cannot locate the monitor configuration directory",
			Err:    err,
		})
	}

	r.report.ConfigWritten, err = r.firstRun.Init(ctx, binary, configFile)

	return r.warn(ctx, err)
}

// clean removes the userspace build directory.
func (r *runner) clean(ctx context.Context) error {
	dir := r.cfg.BuildPath()

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Info(ctx, "Nothing to clean")
		return nil
	}

	logger.InfoKV(ctx, "Removing build directory", "path", dir)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}

	r.report.Cleaned = true

	return nil
}

// uninstall removes the binary, then reverses the kernel module installation.
func (r *runner) uninstall(ctx context.Context) error {
	release, err := r.release()
	if err != nil {
		return err
	}

	target := r.cfg.BinaryInstallPath()
	r.report.InstalledBinary = target

	var binaryErr error

	if _, statErr := os.Stat(target); statErr == nil {
		logger.InfoKV(ctx, "Removing binary", "path", target)

		result, runErr := r.shell.Run(ctx, shell.Privileged("rm", "-f", target))

		switch {
		case runErr != nil:
			binaryErr = fmt.Errorf("%w: %w", errBinaryRemoval, runErr)
		case !result.OK():
			binaryErr = fmt.Errorf("%w: %s", errBinaryRemoval, result.Diagnostics())
		}
	} else {
		logger.WarnKV(ctx, "Binary not found", "path", target)
	}

	warnings := r.uninstaller.Uninstall(logger.WithName(ctx, "module"), release)
	r.report.Warnings = append(r.report.Warnings, warnings...)

	if err = ctx.Err(); err != nil {
		return err
	}

	return binaryErr
}

// test builds the test target when missing and runs it.
func (r *runner) test(ctx context.Context) error {
	if err := r.checker.Toolchain(ctx); err != nil {
		return err
	}

	testsBinary := filepath.Join(r.cfg.BuildPath(), TestsBinary)

	if _, err := os.Stat(testsBinary); err != nil {
		logger.Info(ctx, "Tests not built, building with tests enabled")

		buildCfg := r.buildConfig()
		buildCfg.Prefix = ""
		buildCfg.ExtraDefines = []string{TestsDefine}

		if _, err = r.dependent.Build(ctx, buildCfg); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Executing tests", "path", testsBinary)

	cmd := shell.Plain(testsBinary)
	cmd.Stream = true

	result, err := r.shell.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("run %s: %w", testsBinary, err)
	}

	if !result.OK() {
		return fmt.Errorf("%w: exit status %d", errTestsFailed, result.ExitCode)
	}

	logger.Info(ctx, "All tests passed")

	return nil
}

// status queries the installation state without changing anything.
func (r *runner) status(ctx context.Context) error {
	release, err := r.release()
	if err != nil {
		return err
	}

	status := &Status{
		Release:        release,
		HeadersPresent: kernel.HeadersPresent(r.layout, release),
		BinaryPath:     r.cfg.BinaryInstallPath(),
	}

	if status.Record, err = r.records.Inspect(ctx, release); err != nil {
		return err
	}

	if status.Active, err = r.loader.State(ctx); err != nil {
		logger.WarnKV(ctx, "Cannot query loaded modules", "error", err)
	}

	_, err = os.Stat(status.BinaryPath)
	status.BinaryPresent = err == nil

	r.report.Status = status

	return nil
}
