package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/service/installer"
)

// TestRenderError checks that stage, output and remediation are printed.
func TestRenderError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	renderError(&buf, &kmod.Error{
		Kind:        kmod.KindVersionMismatch,
		Stage:       kmod.StageVersionGate,
		Reason:      "module built for \"6.8.0-generic-custom\"",
		Remediation: []string{"Install headers for the running kernel"},
		Output:      "vermagic: 6.8.0-generic-custom\n",
	})

	out := buf.String()
	require.Contains(t, out, "version gate")
	require.Contains(t, out, "6.8.0-generic-custom")
	require.Contains(t, out, "Install headers for the running kernel")

	buf.Reset()
	renderError(&buf, errors.New("boom"))
	require.Contains(t, buf.String(), "boom")
}

// TestRenderReport_Status checks the status table lists every item.
func TestRenderReport_Status(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	renderReport(&buf, &installer.Report{
		Command: installer.CommandStatus,
		Status: &installer.Status{
			Release: "6.8.0-generic",
			Record: kmod.InstalledModuleRecord{
				ArtifactPath:    "/lib/modules/6.8.0-generic/extra/montauk.ko",
				ArtifactPresent: true,
				AutoloadPath:    "/etc/modules-load.d/montauk.conf",
			},
			Active:     kmod.ActiveLoaded,
			BinaryPath: "/usr/local/bin/montauk",
		},
		Warnings: []error{&kmod.Error{
			Kind:   kmod.KindAutoloadWarning,
			Stage:  kmod.StageAutoload,
			Reason: "cannot write declaration",
		}},
	})

	out := buf.String()
	for _, item := range []string{"kernel", "headers", "module", "autoload", "record", "active", "binary", "6.8.0-generic", "loaded"} {
		require.Contains(t, out, item)
	}

	require.Contains(t, out, "cannot write declaration")
}

// TestBuildOptions_KernelFlags checks that --kernel and --no-kernel map onto kernel modes.
func TestBuildOptions_KernelFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	command := newWorkflowCommand(installer.CommandBuild, "")
	command.Flags().AddFlagSet(rootCmd.PersistentFlags())

	require.NoError(t, command.Flags().Parse([]string{"--no-kernel", "--prefix", "/opt/montauk", "--source", "/src/montauk"}))

	options, err := buildOptions(command, installer.CommandBuild)
	require.NoError(t, err)
	require.Equal(t, installer.KernelOff, options.Kernel)
	require.Equal(t, "/opt/montauk", options.Config.Prefix)
	require.Equal(t, "/src/montauk", options.Config.SourceDir)
	require.Equal(t, installer.CommandBuild, options.Command)
}

// TestBuildOptions_RelativeSource checks that --source is resolved before any tool sees it.
func TestBuildOptions_RelativeSource(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(work, 0o750))
	chdir(t, work)

	command := newWorkflowCommand(installer.CommandBuild, "")
	command.Flags().AddFlagSet(rootCmd.PersistentFlags())

	require.NoError(t, command.Flags().Parse([]string{"--source", "../montauk"}))

	options, err := buildOptions(command, installer.CommandBuild)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "montauk"), options.Config.SourceDir)
	require.Equal(t, filepath.Join(dir, "montauk", "montauk-kernel"), options.Config.KernelSourceDir())
}

// chdir changes the working directory for the duration of the test (t.Chdir before Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()

	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
