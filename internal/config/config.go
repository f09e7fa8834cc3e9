package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
)

// Privilege selects how privileged commands are executed.
type Privilege string

const (
	// PrivilegeAuto uses sudo unless the process already runs as root.
	PrivilegeAuto Privilege = "auto"
	// PrivilegeSudo always prefixes privileged commands with sudo.
	PrivilegeSudo Privilege = "sudo"
	// PrivilegeNone runs privileged commands as the current user.
	PrivilegeNone Privilege = "none"
)

// Config holds the settings shared by every installer workflow.
type Config struct {
	// ModuleName is the kernel module name used for load, unload and autoload.
	ModuleName string `yaml:"module_name"`
	// SourceDir is the project root holding the userspace sources.
	SourceDir string `yaml:"source_dir"`
	// KernelSourceSubdir is the kernel module source directory inside SourceDir.
	KernelSourceSubdir string `yaml:"kernel_source_subdir"`
	// StagingDir is the neutral mirror location used when the source path has whitespace.
	StagingDir string `yaml:"staging_dir"`
	// ModulesRoot is the root of the per-release module trees.
	ModulesRoot string `yaml:"modules_root"`
	// InstallSubdir is the directory under <ModulesRoot>/<release> receiving the artifact.
	InstallSubdir string `yaml:"install_subdir"`
	// AutoloadDir holds boot autoload declarations.
	AutoloadDir string `yaml:"autoload_dir"`
	// Prefix is the installation prefix of the userspace binary.
	Prefix string `yaml:"prefix"`
	// BinaryName is the userspace executable name.
	BinaryName string `yaml:"binary_name"`
	// BuildDir is the userspace build directory relative to SourceDir.
	BuildDir string `yaml:"build_dir"`
	// FeatureFlag is the configure switch enabling the kernel data path.
	FeatureFlag string `yaml:"feature_flag"`
	// FeatureMarker is the token proving the binary was built with FeatureFlag.
	FeatureMarker string `yaml:"feature_marker"`
	// Privilege selects the privilege escalation mode.
	Privilege Privilege `yaml:"privilege"`
	// ToolTimeout bounds a single external tool invocation; zero disables it.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

const (
	// DefaultConfigFilename is the default settings filename.
	DefaultConfigFilename = "montauk-installer.yaml"

	// DefaultModuleName is the kernel module name.
	DefaultModuleName = "montauk"

	// DefaultKernelSourceSubdir is the kernel module source directory name.
	DefaultKernelSourceSubdir = "montauk-kernel"

	// DefaultStagingDir is where sources are mirrored when their path has whitespace.
	DefaultStagingDir = "/tmp/montauk-kernel"

	// DefaultModulesRoot is the root of the kernel module trees.
	DefaultModulesRoot = "/lib/modules"

	// DefaultInstallSubdir receives out-of-tree modules.
	DefaultInstallSubdir = "extra"

	// DefaultAutoloadDir is the systemd modules-load.d directory.
	DefaultAutoloadDir = "/etc/modules-load.d"

	// DefaultPrefix is the userspace installation prefix.
	DefaultPrefix = "/usr/local"

	// DefaultBinaryName is the userspace executable name.
	DefaultBinaryName = "montauk"

	// DefaultBuildDir is the userspace build directory.
	DefaultBuildDir = "build"

	// DefaultFeatureFlag enables the kernel collector at configure time.
	DefaultFeatureFlag = "MONTAUK_KERNEL"

	// DefaultFeatureMarker is embedded in binaries built with the kernel collector.
	DefaultFeatureMarker = "KernelProcessCollector"

	// DefaultFilePermissions is the permission of the saved settings file.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidName is returned for a blank or malformed name.
	errInvalidName = errors.New("name must be non-empty without whitespace or slashes")
	// errRelativePath is returned when a system path is not absolute.
	errRelativePath = errors.New("path must be absolute")
	// errWhitespacePath is returned when the staging path would defeat its purpose.
	errWhitespacePath = errors.New("path must not contain whitespace")
	// errUnknownPrivilege is returned for an unsupported privilege mode.
	errUnknownPrivilege = errors.New("unknown privilege mode")
	// errNegativeTimeout is returned for a negative tool timeout.
	errNegativeTimeout = errors.New("tool timeout must not be negative")
)

// Default returns settings populated with the defaults.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)

	return cfg
}

// Load reads settings from path and validates them.
// When path is empty or is the default filename and the file does not exist,
// defaults are returned; an explicitly named missing file is an error.
func Load(path string) (*Config, error) {
	explicit := path != "" && path != DefaultConfigFilename
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills unset fields with defaults and checks the result.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	names := map[string]string{
		"module_name": cfg.ModuleName,
		"binary_name": cfg.BinaryName,
	}
	for key, value := range names {
		if strings.TrimSpace(value) == "" || strings.ContainsAny(value, " \t/") {
			return fmt.Errorf("%s %q: %w", key, value, errInvalidName)
		}
	}

	source, err := filepath.Abs(cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("source_dir %q: %w", cfg.SourceDir, err)
	}

	cfg.SourceDir = source

	systemPaths := map[string]string{
		"staging_dir":  cfg.StagingDir,
		"modules_root": cfg.ModulesRoot,
		"autoload_dir": cfg.AutoloadDir,
		"prefix":       cfg.Prefix,
	}
	for key, value := range systemPaths {
		if !filepath.IsAbs(value) {
			return fmt.Errorf("%s %q: %w", key, value, errRelativePath)
		}
	}

	if strings.IndexFunc(cfg.StagingDir, isSpace) >= 0 {
		return fmt.Errorf("staging_dir %q: %w", cfg.StagingDir, errWhitespacePath)
	}

	switch cfg.Privilege {
	case PrivilegeAuto, PrivilegeSudo, PrivilegeNone:
	default:
		return fmt.Errorf("privilege %q: %w", cfg.Privilege, errUnknownPrivilege)
	}

	if cfg.ToolTimeout < 0 {
		return errNegativeTimeout
	}

	return nil
}

// KernelSourceDir returns the absolute kernel module source directory.
func (c *Config) KernelSourceDir() string {
	return filepath.Join(c.SourceDir, c.KernelSourceSubdir)
}

// BuildPath returns the absolute userspace build directory.
func (c *Config) BuildPath() string {
	if filepath.IsAbs(c.BuildDir) {
		return c.BuildDir
	}

	return filepath.Join(c.SourceDir, c.BuildDir)
}

// BinaryInstallPath returns where the userspace binary is installed.
func (c *Config) BinaryInstallPath() string {
	return filepath.Join(c.Prefix, "bin", c.BinaryName)
}

// Layout returns the module path layout described by the settings.
func (c *Config) Layout() kmod.Layout {
	return kmod.Layout{
		ModuleName:    c.ModuleName,
		ModulesRoot:   c.ModulesRoot,
		InstallSubdir: c.InstallSubdir,
		AutoloadDir:   c.AutoloadDir,
	}
}

func applyDefaults(cfg *Config) {
	defaults := []struct {
		field *string
		value string
	}{
		{&cfg.ModuleName, DefaultModuleName},
		{&cfg.KernelSourceSubdir, DefaultKernelSourceSubdir},
		{&cfg.StagingDir, DefaultStagingDir},
		{&cfg.ModulesRoot, DefaultModulesRoot},
		{&cfg.InstallSubdir, DefaultInstallSubdir},
		{&cfg.AutoloadDir, DefaultAutoloadDir},
		{&cfg.Prefix, DefaultPrefix},
		{&cfg.BinaryName, DefaultBinaryName},
		{&cfg.BuildDir, DefaultBuildDir},
		{&cfg.FeatureFlag, DefaultFeatureFlag},
		{&cfg.FeatureMarker, DefaultFeatureMarker},
	}
	for _, d := range defaults {
		if strings.TrimSpace(*d.field) == "" {
			*d.field = d.value
		}
	}

	if cfg.SourceDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.SourceDir = wd
		}
	}

	if cfg.Privilege == "" {
		cfg.Privilege = PrivilegeAuto
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}
