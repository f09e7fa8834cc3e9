package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/montauk-installer/internal/config"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/service/installer"
	"github.com/oshokin/montauk-installer/internal/version"
)

const (
	// exitFailure is returned for any fatal workflow error.
	exitFailure = 1
	// exitInterrupted follows the shell convention for SIGINT.
	exitInterrupted = 130

	// logLevelEnv overrides the default log level.
	logLevelEnv = "MONTAUK_INSTALLER_LOG_LEVEL"
)

//nolint:gochecknoglobals // Log level names accepted by --log-level.
var logLevelIdentifiers = map[zapcore.Level][]string{
	zapcore.DebugLevel: {"debug"},
	zapcore.InfoLevel:  {"info"},
	zapcore.WarnLevel:  {"warn", "warning"},
	zapcore.ErrorLevel: {"error"},
}

//nolint:gochecknoglobals // Cobra flag bindings.
var (
	// configPath to the configuration YAML file.
	configPath string
	// withKernel requires the kernel module.
	withKernel bool
	// withoutKernel skips the kernel module.
	withoutKernel bool
	// debugBuild builds with debug symbols.
	debugBuild bool
	// prefix overrides the installation prefix.
	prefix string
	// sourceDir overrides the montauk source tree.
	sourceDir string
	// privilege overrides the privilege escalation mode.
	privilege string
	// logLevel is the minimum level printed.
	logLevel = zapcore.InfoLevel

	// rootCmd builds and installs by default.
	rootCmd = &cobra.Command{
		Use:   "montauk-installer",
		Short: "Build and install the montauk system monitor",
		Long: "Build and install the montauk system monitor and, optionally, its kernel module.\n" +
			"Without a command it builds and installs, asking about the kernel module when headers are present.",
		Example: "  montauk-installer                 # build and install\n" +
			"  montauk-installer --kernel        # with the kernel module, no prompt\n" +
			"  montauk-installer --no-kernel     # without the kernel module, no prompt\n" +
			"  montauk-installer --prefix /usr   # install to /usr/bin\n" +
			"  montauk-installer uninstall       # remove the binary and the kernel module",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.SetLevel(logLevel)
		},
		RunE: workflow(installer.CommandInstall),
	}
)

// Execute runs the montauk-installer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	renderError(os.Stderr, err)

	if errors.Is(err, context.Canceled) {
		os.Exit(exitInterrupted)
	}

	os.Exit(exitFailure)
}

// workflow returns a RunE running command.
func workflow(command installer.Command) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		options, err := buildOptions(cmd, command)
		if err != nil {
			return err
		}

		report, err := installer.Run(ctx, options)
		if report != nil {
			renderReport(cmd.OutOrStdout(), report)
		}

		return err
	}
}

func buildOptions(cmd *cobra.Command, command installer.Command) (*installer.Options, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("prefix") {
		settings.Prefix = prefix
	}

	if flags.Changed("source") {
		settings.SourceDir = sourceDir
	}

	if flags.Changed("privilege") {
		settings.Privilege = config.Privilege(privilege)
	}

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	mode := installer.KernelAuto

	switch {
	case withKernel:
		mode = installer.KernelOn
	case withoutKernel:
		mode = installer.KernelOff
	}

	return &installer.Options{
		Command: command,
		Config:  settings,
		Kernel:  mode,
		Debug:   debugBuild,
		Prompt:  os.Stdin,
		Out:     cmd.OutOrStdout(),
	}, nil
}

// configCmd writes the effective settings so they can be edited.
//
//nolint:gochecknoglobals // Cobra command.
var configCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the effective settings to the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		options, err := buildOptions(cmd, installer.CommandStatus)
		if err != nil {
			return err
		}

		if err = config.Save(configPath, options.Config); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Wrote "+configPath)

		return nil
	},
}

func newWorkflowCommand(command installer.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(command),
		Short: short,
		Args:  cobra.NoArgs,
		RunE:  workflow(command),
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	if level, ok := logger.ParseLogLevel(os.Getenv(logLevelEnv)); ok {
		logLevel = level
	}

	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.BoolVar(&withKernel, "kernel", false, "build and install the kernel module (no prompt)")
	flags.BoolVar(&withoutKernel, "no-kernel", false, "skip the kernel module (no prompt)")
	flags.BoolVar(&debugBuild, "debug", false, "build with debug symbols")
	flags.StringVar(&prefix, "prefix", config.DefaultPrefix, "installation prefix")
	flags.StringVar(&sourceDir, "source", "", "montauk source tree (default: current directory)")
	flags.StringVar(&privilege, "privilege", string(config.PrivilegeAuto), "privilege escalation: auto, sudo or none")
	flags.Var(
		enumflag.New(&logLevel, "level", logLevelIdentifiers, enumflag.EnumCaseInsensitive),
		"log-level",
		"minimum log level: debug, info, warn or error",
	)

	rootCmd.MarkFlagsMutuallyExclusive("kernel", "no-kernel")

	rootCmd.AddCommand(
		newWorkflowCommand(installer.CommandInstall, "Build and install (default)"),
		newWorkflowCommand(installer.CommandBuild, "Build only"),
		newWorkflowCommand(installer.CommandClean, "Remove the build directory"),
		newWorkflowCommand(installer.CommandUninstall, "Remove the installed binary and kernel module"),
		newWorkflowCommand(installer.CommandTest, "Build and run the tests"),
		newWorkflowCommand(installer.CommandStatus, "Show what is installed and loaded"),
		configCmd,
	)
}
