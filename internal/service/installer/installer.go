package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oshokin/montauk-installer/internal/config"
	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/kernel"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/repository/record"
	"github.com/oshokin/montauk-installer/internal/service/dependent"
	"github.com/oshokin/montauk-installer/internal/service/module"
	"github.com/oshokin/montauk-installer/internal/service/preflight"
	"github.com/oshokin/montauk-installer/internal/shell"
)

var (
	errOptionsNotSet  = errors.New("installer options are not set")
	errUnknownCommand = errors.New("unknown command")
	errTestsFailed    = errors.New("tests failed")
	errBinaryRemoval  = errors.New("cannot remove the installed binary")
)

// runner holds the components and state of a single workflow execution.
type runner struct {
	opts   *Options
	cfg    *config.Config
	layout kmod.Layout
	shell  shell.Runner
	report *Report

	checker     *preflight.Checker
	stager      *module.Stager
	builder     *module.Builder
	gate        *module.Gate
	installer   *module.Installer
	autoload    *module.Autoload
	loader      *module.LoadController
	uninstaller *module.Uninstaller
	records     record.Repository
	dependent   *dependent.Coordinator
	firstRun    *dependent.FirstRun
}

// Run executes the workflow named by opts.Command and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) (*Report, error) {
	ctx = logger.WithName(ctx, "montauk-installer")

	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	logger.InfoKV(ctx, "Running workflow", "command", r.report.Command, "source", r.cfg.SourceDir)

	if err = r.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Workflow failed", "command", r.report.Command, "error", err)
		return r.report, err
	}

	logger.InfoKV(ctx, "Workflow completed",
		"command", r.report.Command,
		"warnings", len(r.report.Warnings),
		"elapsed", logger.Elapsed(start),
	)

	return r.report, nil
}

func newRunner(opts *Options) (*runner, error) {
	if opts == nil {
		return nil, errOptionsNotSet
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	command := opts.Command
	if command == "" {
		command = CommandInstall
	}

	run := opts.Runner
	if run == nil {
		run = shell.NewExecutor(
			shell.WithEscalation(shell.NeedsEscalation(cfg.Privilege, kernel.IsRoot())),
			shell.WithTimeout(cfg.ToolTimeout),
		)
	}

	placer := opts.Placer
	if placer == nil {
		placer = defaultPlacer(cfg, run)
	}

	var (
		layout   = cfg.Layout()
		records  = record.NewFileRepository(layout)
		loader   = module.NewLoadController(run, layout.ModuleName)
		autoload = module.NewAutoload(run, layout)
	)

	return &runner{
		opts:   opts,
		cfg:    cfg,
		layout: layout,
		shell:  run,
		report: &Report{
			Command: command,
		},
		checker:     preflight.New(run),
		stager:      module.NewStager(cfg.StagingDir),
		builder:     module.NewBuilder(run, layout),
		gate:        module.NewGate(run),
		installer:   module.NewInstaller(run, layout),
		autoload:    autoload,
		loader:      loader,
		uninstaller: module.NewUninstaller(run, records, loader, autoload),
		records:     records,
		dependent:   dependent.NewCoordinator(run, placer),
		firstRun:    dependent.NewFirstRun(run),
	}, nil
}

// defaultPlacer writes the binary directly when no escalation is needed.
func defaultPlacer(cfg *config.Config, run shell.Runner) dependent.Placer {
	if shell.NeedsEscalation(cfg.Privilege, kernel.IsRoot()) {
		return dependent.CommandPlacer{Runner: run}
	}

	return dependent.UpdatePlacer{}
}

func (r *runner) run(ctx context.Context) error {
	switch r.report.Command {
	case CommandInstall:
		return r.install(ctx)
	case CommandBuild:
		return r.build(ctx)
	case CommandClean:
		return r.clean(ctx)
	case CommandUninstall:
		return r.uninstall(ctx)
	case CommandTest:
		return r.test(ctx)
	case CommandStatus:
		return r.status(ctx)
	default:
		return fmt.Errorf("%q: %w", r.report.Command, errUnknownCommand)
	}
}

// release reads the running kernel release once per run.
func (r *runner) release() (kmod.KernelRelease, error) {
	if r.report.Release != "" {
		return r.report.Release, nil
	}

	release := r.opts.Release
	if release == "" {
		var err error

		if release, err = kernel.Release(); err != nil {
			return "", fmt.Errorf("read kernel release: %w", err)
		}
	}

	r.report.Release = release

	return release, nil
}

// warn records a non-fatal error, or returns a fatal one.
func (r *runner) warn(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if kmod.IsFatal(err) {
		return err
	}

	logger.WarnKV(ctx, "Continuing after warning", "error", err)

	r.report.Warnings = append(r.report.Warnings, err)

	return nil
}

// monitorConfig returns the monitor config.toml path.
func (r *runner) monitorConfig() (string, error) {
	if r.opts.MonitorConfig != "" {
		return r.opts.MonitorConfig, nil
	}

	dir, err := dependent.ConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, dependent.ConfigFilename), nil
}
