package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/shell"
	"github.com/oshokin/montauk-installer/internal/shell/shelltest"
	"github.com/oshokin/montauk-installer/internal/testutil/fakehost"
)

// TestToolchain_AllPresent checks that the first compiler found ends the lookup.
func TestToolchain_AllPresent(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)

	require.NoError(t, New(host).Toolchain(context.Background()))
	require.Equal(t, 2, host.Count("which"))
}

// TestToolchain_ClangFallback checks that clang++ is accepted when g++ is absent.
func TestToolchain_ClangFallback(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	host.Missing["g++"] = true

	require.NoError(t, New(host).Toolchain(context.Background()))
	require.Equal(t, 3, host.Count("which"))
}

// TestToolchain_Missing checks the missing dependency classification and remediation.
func TestToolchain_Missing(t *testing.T) {
	t.Parallel()

	for _, tool := range []string{"cmake", "compiler"} {
		host := fakehost.New(t)
		if tool == "cmake" {
			host.Missing["cmake"] = true
		} else {
			host.Missing["g++"] = true
			host.Missing["clang++"] = true
		}

		err := New(host).Toolchain(context.Background())

		stageErr, ok := kmod.AsError(err)
		require.True(t, ok, tool)
		require.Equal(t, kmod.KindMissingDependency, stageErr.Kind)
		require.Equal(t, kmod.StagePreflight, stageErr.Stage)
		require.NotEmpty(t, stageErr.Remediation)
	}
}

// TestHeaders checks the kernel headers probe.
func TestHeaders(t *testing.T) {
	t.Parallel()

	host := fakehost.New(t)
	checker := New(host)

	require.NoError(t, checker.Headers(host.Layout(), host.Release))

	err := checker.Headers(host.Layout(), "6.9.0-other")

	stageErr, ok := kmod.AsError(err)
	require.True(t, ok)
	require.Equal(t, kmod.KindMissingDependency, stageErr.Kind)
	require.Contains(t, stageErr.Remediation[1], "linux-headers-6.9.0-other")
}

// TestToolchain_WithoutWhich checks that a host lacking which(1) falls back to a PATH search.
func TestToolchain_WithoutWhich(t *testing.T) {
	t.Parallel()

	noWhich := func(_ context.Context, cmd shell.Command) (shell.Result, error) {
		return shell.Result{ExitCode: -1}, fmt.Errorf("start %s: %w", cmd.Name, exec.ErrNotFound)
	}

	t.Run("tools present", func(t *testing.T) {
		t.Parallel()

		fake := shelltest.New()
		fake.Handle("which", noWhich)

		checker := New(fake)
		checker.lookPath = func(file string) (string, error) {
			return "/usr/bin/" + file, nil
		}

		require.NoError(t, checker.Toolchain(context.Background()))
	})

	t.Run("cmake missing", func(t *testing.T) {
		t.Parallel()

		fake := shelltest.New()
		fake.Handle("which", noWhich)

		checker := New(fake)
		checker.lookPath = func(file string) (string, error) {
			if file == "cmake" {
				return "", exec.ErrNotFound
			}

			return "/usr/bin/" + file, nil
		}

		err := checker.Toolchain(context.Background())

		stageErr, ok := kmod.AsError(err)
		require.True(t, ok)
		require.Equal(t, kmod.KindMissingDependency, stageErr.Kind)
		require.NotEmpty(t, stageErr.Remediation)
	})
}
