package installer

import (
	"fmt"
	"io"

	"github.com/oshokin/montauk-installer/internal/config"
	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/service/dependent"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// Command names a workflow.
type Command string

const (
	// CommandInstall builds and installs everything. It is the default.
	CommandInstall Command = "install"
	// CommandBuild builds without installing the userspace binary.
	CommandBuild Command = "build"
	// CommandClean removes the userspace build directory.
	CommandClean Command = "clean"
	// CommandUninstall removes the binary and the kernel module.
	CommandUninstall Command = "uninstall"
	// CommandTest builds and runs the userspace test binary.
	CommandTest Command = "test"
	// CommandStatus reports the installation state.
	CommandStatus Command = "status"
)

// KernelMode selects whether the kernel module is built.
type KernelMode int

const (
	// KernelAuto asks when the sources and headers are available.
	KernelAuto KernelMode = iota
	// KernelOn requires the kernel module.
	KernelOn
	// KernelOff skips the kernel module.
	KernelOff
)

func (m KernelMode) String() string {
	switch m {
	case KernelAuto:
		return "auto"
	case KernelOn:
		return "on"
	case KernelOff:
		return "off"
	default:
		return fmt.Sprintf("KernelMode(%d)", m)
	}
}

// TestsDefine enables the userspace test target at configure time.
const TestsDefine = "MONTAUK_BUILD_TESTS=ON"

// TestsBinary is the test executable inside the build directory.
const TestsBinary = "montauk_tests"

// Options are inputs accepted by the installer entry point.
type Options struct {
	// Command is the workflow to run; empty means install.
	Command Command
	// Config holds the validated settings.
	Config *config.Config
	// Kernel selects the kernel module decision policy.
	Kernel KernelMode
	// Debug builds the userspace binary with debug symbols.
	Debug bool
	// Release overrides the running kernel release; empty reads it from the OS.
	Release kmod.KernelRelease
	// Runner executes external tools; nil uses a shell.Executor.
	Runner shell.Runner
	// Placer installs the userspace binary; nil picks one for the privilege mode.
	Placer dependent.Placer
	// Prompt answers the kernel module question; nil is non-interactive.
	Prompt io.Reader
	// Out receives the kernel module question.
	Out io.Writer
	// MonitorConfig is the monitor config.toml path; empty derives it from XDG.
	MonitorConfig string
}

// Status is the installation state reported by the status workflow.
type Status struct {
	// Release is the running kernel release.
	Release kmod.KernelRelease
	// HeadersPresent reports whether kernel headers for Release are installed.
	HeadersPresent bool
	// Record is the on-disk module footprint.
	Record kmod.InstalledModuleRecord
	// Active is the live module state.
	Active kmod.ActiveModuleState
	// BinaryPath is the userspace install location.
	BinaryPath string
	// BinaryPresent reports whether BinaryPath exists.
	BinaryPresent bool
}

// Report summarises a finished workflow.
type Report struct {
	// Command is the workflow that ran.
	Command Command
	// Release is the kernel release the run targeted.
	Release kmod.KernelRelease
	// Kernel is the kernel module decision.
	Kernel bool
	// Source is the directory the module was built from.
	Source kmod.BuildSource
	// Artifact is the built module.
	Artifact kmod.ModuleArtifact
	// ModulePath is the installed module location.
	ModulePath string
	// Binary is the userspace binary inside the build directory.
	Binary string
	// InstalledBinary is the userspace install location.
	InstalledBinary string
	// ConfigWritten reports whether first-run configuration happened.
	ConfigWritten bool
	// Cleaned reports whether the clean workflow removed anything.
	Cleaned bool
	// Status is filled by the status workflow.
	Status *Status
	// Warnings are the non-fatal stage errors.
	Warnings []error
}
