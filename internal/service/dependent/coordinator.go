package dependent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// processLister lists running processes.
type processLister func() ([]ps.Process, error)

// Coordinator configures, builds, installs and verifies the userspace binary.
type Coordinator struct {
	runner    shell.Runner
	placer    Placer
	processes processLister
	jobs      int
}

// NewCoordinator creates a Coordinator that installs binaries through placer.
func NewCoordinator(runner shell.Runner, placer Placer) *Coordinator {
	return &Coordinator{
		runner:    runner,
		placer:    placer,
		processes: ps.Processes,
		jobs:      runtime.NumCPU(),
	}
}

// ConfigureArgs returns the cmake configure arguments for cfg.
func ConfigureArgs(cfg kmod.DependentBuildConfig) []string {
	buildType := cfg.BuildType
	if buildType == "" {
		buildType = kmod.BuildRelease
	}

	args := []string{
		"-S", cfg.Root,
		"-B", cfg.BuildDir,
		"-DCMAKE_BUILD_TYPE=" + string(buildType),
	}

	if cfg.FeatureEnabled() {
		args = append(args, "-D"+cfg.FeatureFlag+"=ON")
	}

	if cfg.Prefix != "" {
		args = append(args, "-DCMAKE_INSTALL_PREFIX="+cfg.Prefix)
	}

	for _, define := range cfg.ExtraDefines {
		args = append(args, "-D"+define)
	}

	return args
}

// BuildArgs returns the cmake build arguments for cfg.
// Enabling the feature flag always forces a full rebuild.
func BuildArgs(cfg kmod.DependentBuildConfig, jobs int) []string {
	args := []string{"--build", cfg.BuildDir}

	if cfg.CleanFirst || cfg.FeatureEnabled() {
		args = append(args, "--clean-first")
	}

	return append(args, "-j"+strconv.Itoa(max(jobs, 1)))
}

// Build configures and builds the project and returns the produced binary path.
func (c *Coordinator) Build(ctx context.Context, cfg kmod.DependentBuildConfig) (string, error) {
	logger.InfoKV(ctx, "Configuring build",
		"build_type", cfg.BuildType,
		"kernel_collector", cfg.FeatureEnabled(),
		"prefix", cfg.Prefix,
	)

	if err := c.cmake(ctx, "configure", ConfigureArgs(cfg)); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Building", "jobs", c.jobs, "clean_first", cfg.CleanFirst || cfg.FeatureEnabled())

	if err := c.cmake(ctx, "build", BuildArgs(cfg, c.jobs)); err != nil {
		return "", err
	}

	binary := filepath.Join(cfg.BuildDir, cfg.BinaryName)

	info, err := os.Stat(binary)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}

		return "", rebuildFailure(kmod.KindBuildFailure, cfg.BinaryName+" binary not found after build", "", err)
	}

	logger.InfoKV(ctx, "Built binary", "path", binary, "bytes", info.Size())

	return binary, nil
}

func (c *Coordinator) cmake(ctx context.Context, step string, args []string) error {
	cmd := shell.Plain("cmake", args...)
	cmd.Stream = true

	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return rebuildFailure(kmod.KindBuildFailure, "cmake "+step+" could not run", "", err)
	}

	if !result.OK() {
		return rebuildFailure(
			kmod.KindBuildFailure,
			fmt.Sprintf("cmake %s exited with status %d", step, result.ExitCode),
			result.Diagnostics(),
			nil,
		)
	}

	return nil
}

// Install places binary at target, warning about running instances that keep the old one.
func (c *Coordinator) Install(ctx context.Context, binary, target string) error {
	logger.InfoKV(ctx, "Installing binary", "destination", target)

	c.warnRunning(ctx, filepath.Base(target))

	if err := c.placer.Place(ctx, binary, target); err != nil {
		return rebuildFailure(kmod.KindInstallFailure, "cannot install "+target, "", err)
	}

	if info, err := os.Stat(target); err == nil {
		logger.InfoKV(ctx, "Installed binary", "path", target, "bytes", info.Size())
	}

	return nil
}

func (c *Coordinator) warnRunning(ctx context.Context, name string) {
	processList, err := c.processes()
	if err != nil {
		logger.DebugKV(ctx, "Cannot list processes", "error", err)
		return
	}

	self := os.Getpid()

	for _, process := range processList {
		if process.Pid() == self || process.Executable() != name {
			continue
		}

		logger.WarnKV(ctx, "A running instance keeps the previous binary until restarted",
			"pid", process.Pid(),
			"executable", name,
		)
	}
}

// VerifyFeature checks that marker is among the embedded strings of binary.
// A missing marker is a warning.
func (c *Coordinator) VerifyFeature(ctx context.Context, binary, marker string) error {
	result, err := c.runner.Run(ctx, shell.Plain("strings", binary))
	if err != nil || !result.OK() {
		if err == nil {
			err = fmt.Errorf("strings: exit status %d", result.ExitCode)
		}

		return featureWarning("cannot read embedded strings of "+binary, err)
	}

	if !strings.Contains(result.Stdout, marker) {
		return featureWarning("kernel collector may not be compiled in: "+marker+" not found", nil)
	}

	logger.Info(ctx, "Kernel collector support verified")

	return nil
}

// RebuildWithFeature performs a full flag-on rebuild, installs the binary at
// target and verifies the marker. The returned warning is non-nil only when
// the marker check failed.
func (c *Coordinator) RebuildWithFeature(
	ctx context.Context,
	cfg kmod.DependentBuildConfig,
	target, marker string,
) (warning, err error) {
	if !cfg.FeatureEnabled() {
		return nil, rebuildFailure(kmod.KindBuildFailure, "no feature flag given", "", nil)
	}

	cfg.CleanFirst = true

	binary, err := c.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err = c.Install(ctx, binary, target); err != nil {
		return nil, err
	}

	return c.VerifyFeature(ctx, target, marker), nil
}

func rebuildFailure(kind kmod.Kind, reason, output string, err error) error {
	return &kmod.Error{
		Kind:   kind,
		Stage:  kmod.StageRebuild,
		Reason: reason,
		Remediation: []string{
			"Check the build output above",
			"Run the clean command and try again",
		},
		Output: output,
		Err:    err,
	}
}

func featureWarning(reason string, err error) error {
	return &kmod.Error{
		Kind:   kmod.KindFeatureVerificationWarning,
		Stage:  kmod.StageRebuild,
		Reason: reason,
		Remediation: []string{
			"Rebuild with the kernel collector enabled: install --kernel",
		},
		Err: err,
	}
}
