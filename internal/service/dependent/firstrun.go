package dependent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

const (
	// ConfigFilename is the monitor configuration file written by --init-theme.
	ConfigFilename = "config.toml"

	// InitThemeFlag asks the monitor to detect the terminal palette and write its configuration.
	InitThemeFlag = "--init-theme"

	configSubdir = "montauk"
)

var errNoHome = errors.New("cannot determine the configuration directory")

// ConfigDir returns $XDG_CONFIG_HOME/montauk, falling back to ~/.config/montauk.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configSubdir), nil
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errors.Join(errNoHome, err)
	}

	return filepath.Join(home, ".config", configSubdir), nil
}

// FirstRun writes the monitor configuration on first install.
type FirstRun struct {
	runner shell.Runner
}

// NewFirstRun creates a FirstRun initializer.
func NewFirstRun(runner shell.Runner) *FirstRun {
	return &FirstRun{
		runner: runner,
	}
}

// Init runs "<binary> --init-theme" unless configFile exists, then checks the
// file parses as TOML. It reports whether the file was written; every problem
// is a configuration warning.
func (f *FirstRun) Init(ctx context.Context, binary, configFile string) (bool, error) {
	if _, err := os.Stat(configFile); err == nil {
		logger.DebugKV(ctx, "Monitor configuration already present", "path", configFile)
		return false, nil
	}

	logger.Info(ctx, "Detecting terminal palette")

	result, err := f.runner.Run(ctx, shell.Plain(binary, InitThemeFlag))
	if err != nil {
		return false, configWarning("cannot run "+binary+" "+InitThemeFlag, "", err)
	}

	if !result.OK() {
		return false, configWarning(
			fmt.Sprintf("%s %s exited with status %d", binary, InitThemeFlag, result.ExitCode),
			result.Diagnostics(),
			nil,
		)
	}

	if err = CheckConfig(configFile); err != nil {
		return false, configWarning("monitor configuration is not usable", "", err)
	}

	logger.InfoKV(ctx, "Wrote monitor configuration", "path", configFile)

	return true, nil
}

// CheckConfig decodes path as TOML.
func CheckConfig(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var doc map[string]any
	if err = toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

func configWarning(reason, output string, err error) error {
	return &kmod.Error{
		Kind:        kmod.KindConfigWarning,
		Stage:       kmod.StageFirstRun,
		Reason:      reason,
		Remediation: []string{"Run montauk " + InitThemeFlag + " manually"},
		Output:      output,
		Err:         err,
	}
}
