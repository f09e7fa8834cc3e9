package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/repository/record"
	"github.com/oshokin/montauk-installer/internal/testutil/fakehost"
)

func newOptions(host *fakehost.Host, command Command, mode KernelMode) *Options {
	return &Options{
		Command:       command,
		Config:        host.Config(),
		Kernel:        mode,
		Release:       host.Release,
		Runner:        host,
		MonitorConfig: host.ConfigFile,
	}
}

func inspect(t *testing.T, host *fakehost.Host) kmod.InstalledModuleRecord {
	t.Helper()

	rec, err := record.NewFileRepository(host.Layout()).Inspect(context.Background(), host.Release)
	require.NoError(t, err)

	return rec
}

func requireKind(t *testing.T, err error, kind kmod.Kind) {
	t.Helper()

	got, ok := kmod.KindOf(err)
	require.True(t, ok, "unclassified error: %v", err)
	require.Equal(t, kind, got, err)
}

// TestInstall_WithKernel checks the whole pipeline and its ordering.
func TestInstall_WithKernel(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	cfg := host.Config()

	report, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)
	require.Empty(t, report.Warnings)
	require.True(t, report.Kernel)
	require.Equal(t, host.Release, report.Release)
	require.Equal(t, string(host.Release), report.Artifact.VersionTag)
	require.True(t, report.ConfigWritten)

	rec := inspect(t, host)
	require.True(t, rec.Installed())
	require.Equal(t, "montauk\n", rec.AutoloadContent)
	require.True(t, host.Loaded("montauk"))

	binary, err := os.ReadFile(cfg.BinaryInstallPath())
	require.NoError(t, err)
	require.Contains(t, string(binary), cfg.FeatureMarker)

	require.Equal(t,
		[]string{"make", "make", "modinfo", "cp", "depmod", "tee", "modprobe", "cmake", "cmake", "strings"},
		host.Sequence("make", "modinfo", "cp", "depmod", "tee", "modprobe", "cmake", "strings"),
	)
}

// TestInstall_Idempotent checks that a second install reproduces the same record and reloads the module.
func TestInstall_Idempotent(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	_, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)

	first := inspect(t, host)

	host.Reset()

	report, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)
	require.Empty(t, report.Warnings)
	require.False(t, report.ConfigWritten)

	require.Equal(t, first, inspect(t, host))
	require.True(t, host.Loaded("montauk"))
	require.Equal(t, []string{"rmmod", "modprobe"}, host.Sequence("rmmod", "modprobe"))
}

// TestUninstall_NothingInstalled checks that uninstall on a clean system succeeds quietly.
func TestUninstall_NothingInstalled(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	report, err := Run(context.Background(), newOptions(host, CommandUninstall, KernelAuto))
	require.NoError(t, err)
	require.Empty(t, report.Warnings)
	require.Zero(t, host.Count("depmod"))
	require.Zero(t, host.Count("rm"))
}

// TestUninstall_InstallUninstall checks that the last uninstall leaves nothing behind.
func TestUninstall_InstallUninstall(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	cfg := host.Config()

	for _, command := range []Command{CommandUninstall, CommandInstall, CommandUninstall} {
		_, err := Run(context.Background(), newOptions(host, command, KernelOn))
		require.NoError(t, err, command)
	}

	require.True(t, inspect(t, host).Absent())
	require.NoFileExists(t, host.Layout().AutoloadPath())
	require.NoFileExists(t, cfg.BinaryInstallPath())
	require.False(t, host.Loaded("montauk"))
}

// TestInstall_VersionMismatch checks that a foreign vermagic aborts before any file is copied.
func TestInstall_VersionMismatch(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.VersionTag = "6.8.0-generic-custom"

	report, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	requireKind(t, err, kmod.KindVersionMismatch)
	require.Equal(t, "6.8.0-generic-custom", report.Artifact.VersionTag)

	require.Zero(t, host.Count("cp"))
	require.Zero(t, host.Count("mkdir"))
	require.Zero(t, host.Count("modprobe"))
	require.Zero(t, host.Count("cmake"))
	require.True(t, inspect(t, host).Absent())
}

// TestInstall_MatchingVersion checks that the gate passes an exact match.
func TestInstall_MatchingVersion(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.VersionTag = "6.8.0-generic"

	_, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)
	require.Equal(t, 1, host.Count("cp"))
}

// TestInstall_StagedSource checks that a source path with spaces is built from a clean mirror.
func TestInstall_StagedSource(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	opts := newOptions(host, CommandInstall, KernelOn)
	opts.Config.SourceDir = filepath.Join(host.Root, "My Projects", "montauk")

	kernelDir := opts.Config.KernelSourceDir()
	host.MustWrite(t, filepath.Join(kernelDir, "Makefile"), "obj-m += montauk.o\n")
	host.MustWrite(t, filepath.Join(kernelDir, "montauk.c"), "// module\n")
	host.MustWrite(t, filepath.Join(kernelDir, "montauk.ko"), "vermagic=5.15.0-old\n")
	host.MustWrite(t, filepath.Join(kernelDir, "montauk.o"), "stale\n")
	host.MustWrite(t, filepath.Join(opts.Config.SourceDir, "CMakeLists.txt"), "project(montauk)\n")

	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, report.Source.Staged)
	require.Equal(t, opts.Config.StagingDir, report.Source.Dir)
	require.NoFileExists(t, filepath.Join(opts.Config.StagingDir, "montauk.o"))
	require.FileExists(t, filepath.Join(kernelDir, "montauk.ko"))

	for _, call := range host.Calls() {
		if call.Name == "make" {
			require.Contains(t, call.Args, "M="+opts.Config.StagingDir)
		}
	}
}

// TestInstall_LoadFailure checks that a module missing after modprobe stops the workflow before the rebuild.
func TestInstall_LoadFailure(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.ModprobeSilent = true

	_, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	requireKind(t, err, kmod.KindLoadFailure)
	require.Zero(t, host.Count("cmake"))
}

// TestInstall_AutoloadWarning checks that a failed autoload registration only warns.
func TestInstall_AutoloadWarning(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.Fail("tee", "tee: Read-only file system")

	report, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	requireKind(t, report.Warnings[0], kmod.KindAutoloadWarning)
	require.True(t, host.Loaded("montauk"))
}

// TestInstall_KernelWithoutHeaders checks that --kernel needs headers before anything runs.
func TestInstall_KernelWithoutHeaders(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.RemoveHeaders(t)

	_, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	requireKind(t, err, kmod.KindMissingDependency)
	require.Zero(t, host.Count("make"))
}

// TestInstall_MissingToolchain checks that preflight stops before any work.
func TestInstall_MissingToolchain(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.Missing["cmake"] = true

	_, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	requireKind(t, err, kmod.KindMissingDependency)
	require.Equal(t, []string{"which"}, host.Names())
}

// TestInstall_Prompt checks the interactive kernel decision.
func TestInstall_Prompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer string
		kernel bool
	}{
		{name: "yes after noise", answer: "maybe\n\nYes\n", kernel: true},
		{name: "no", answer: "n\n", kernel: false},
		{name: "eof", answer: "", kernel: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host := fakehost.New(t)

			var out strings.Builder

			opts := newOptions(host, CommandInstall, KernelAuto)
			opts.Prompt = strings.NewReader(tt.answer)
			opts.Out = &out

			report, err := Run(context.Background(), opts)
			require.NoError(t, err)
			require.Equal(t, tt.kernel, report.Kernel)
			require.Contains(t, out.String(), "[Y/N]")
			require.Equal(t, tt.kernel, host.Loaded("montauk"))

			if !tt.kernel {
				require.Zero(t, host.Count("make"))
				require.Zero(t, host.Count("strings"))
			}
		})
	}
}

// TestInstall_AutoWithoutHeaders checks that missing headers skip the question.
func TestInstall_AutoWithoutHeaders(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.RemoveHeaders(t)

	var out strings.Builder

	opts := newOptions(host, CommandInstall, KernelAuto)
	opts.Prompt = strings.NewReader("y\n")
	opts.Out = &out

	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.False(t, report.Kernel)
	require.Empty(t, out.String())
	require.FileExists(t, host.Config().BinaryInstallPath())
}

// TestBuild_NoInstall checks that build leaves the prefix untouched.
func TestBuild_NoInstall(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	cfg := host.Config()

	report, err := Run(context.Background(), newOptions(host, CommandBuild, KernelOff))
	require.NoError(t, err)
	require.FileExists(t, report.Binary)
	require.NoFileExists(t, cfg.BinaryInstallPath())

	for _, call := range host.Calls() {
		if call.Name == "cmake" {
			require.NotContains(t, call.Args, "--clean-first")
		}
	}
}

// TestClean checks build directory removal and the nothing-to-clean case.
func TestClean(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	cfg := host.Config()

	_, err := Run(context.Background(), newOptions(host, CommandBuild, KernelOff))
	require.NoError(t, err)
	require.DirExists(t, cfg.BuildPath())

	report, err := Run(context.Background(), newOptions(host, CommandClean, KernelAuto))
	require.NoError(t, err)
	require.True(t, report.Cleaned)
	require.NoDirExists(t, cfg.BuildPath())

	report, err = Run(context.Background(), newOptions(host, CommandClean, KernelAuto))
	require.NoError(t, err)
	require.False(t, report.Cleaned)
}

// TestTest checks that the test target is built on demand and its status is reported.
func TestTest(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	_, err := Run(context.Background(), newOptions(host, CommandTest, KernelAuto))
	require.NoError(t, err)
	require.Contains(t, host.Calls()[2].Args, "-D"+TestsDefine)

	host.Reset()
	host.TestsFail = true

	_, err = Run(context.Background(), newOptions(host, CommandTest, KernelAuto))
	require.ErrorIs(t, err, errTestsFailed)
	require.Zero(t, host.Count("cmake"))
}

// TestStatus checks the state report after an install.
func TestStatus(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	report, err := Run(context.Background(), newOptions(host, CommandStatus, KernelAuto))
	require.NoError(t, err)
	require.True(t, report.Status.HeadersPresent)
	require.True(t, report.Status.Record.Absent())
	require.Equal(t, kmod.ActiveNotLoaded, report.Status.Active)
	require.False(t, report.Status.BinaryPresent)

	_, err = Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)

	report, err = Run(context.Background(), newOptions(host, CommandStatus, KernelAuto))
	require.NoError(t, err)
	require.True(t, report.Status.Record.Installed())
	require.Equal(t, kmod.ActiveLoaded, report.Status.Active)
	require.True(t, report.Status.BinaryPresent)
}

// TestUninstall_BinaryRemovalFailure checks that the module is still removed when the binary is not.
func TestUninstall_BinaryRemovalFailure(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	_, err := Run(context.Background(), newOptions(host, CommandInstall, KernelOn))
	require.NoError(t, err)

	host.Fail("rm", "rm: cannot remove: Operation not permitted")

	report, err := Run(context.Background(), newOptions(host, CommandUninstall, KernelAuto))
	require.ErrorIs(t, err, errBinaryRemoval)
	require.False(t, host.Loaded("montauk"))
	require.NotEmpty(t, report.Warnings)
}

// TestRun_Canceled checks that an interrupted run stops with the context error.
func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, newOptions(host, CommandInstall, KernelOn))
	require.ErrorIs(t, err, context.Canceled)
}

// TestRun_UnknownCommand checks command validation.
func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	_, err := Run(context.Background(), newOptions(host, "deploy", KernelAuto))
	require.ErrorIs(t, err, errUnknownCommand)
}

// TestInstall_RelativeSource checks that the module build receives an absolute source path.
func TestInstall_RelativeSource(t *testing.T) {
	host := fakehost.New(t)
	chdir(t, filepath.Join(host.Root, "src"))

	opts := newOptions(host, CommandInstall, KernelOn)
	opts.Config.SourceDir = "montauk"

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	want := "M=" + filepath.Join(host.Root, "src", "montauk", "montauk-kernel")

	for _, call := range host.Calls() {
		if call.Name == "make" {
			require.Contains(t, call.Args, want)
		}
	}

	require.Equal(t, 2, host.Count("make"))
	require.True(t, host.Loaded("montauk"))
}

// chdir changes the working directory for the duration of the test (t.Chdir before Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()

	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
