package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/shell"
	"github.com/oshokin/montauk-installer/internal/shell/shelltest"
)

const modinfoOutput = `filename:       /tmp/montauk-kernel/montauk.ko
description:    montauk process collector
license:        GPL
srcversion:     0A1B2C3D4E5F
depends:        
retpoline:      Y
name:           montauk
vermagic:       6.8.0-generic SMP preempt mod_unload modversions 
`

// TestParseVermagic checks extraction of the second field of the marker line.
func TestParseVermagic(t *testing.T) {
	t.Parallel()

	tag, err := ParseVermagic(modinfoOutput)
	require.NoError(t, err)
	require.Equal(t, "6.8.0-generic", tag)

	_, err = ParseVermagic("filename: x\nname: montauk\n")
	require.ErrorIs(t, err, errNoVermagic)

	_, err = ParseVermagic("vermagic:\n")
	require.ErrorIs(t, err, errMalformedVermagic)

	tag, err = ParseVermagic("vermagic: 6.1.0-1 SMP\nvermagic: 6.2.0 SMP\n")
	require.NoError(t, err)
	require.Equal(t, "6.1.0-1", tag)
}

// TestCheckVersion checks that only exact equality passes.
func TestCheckVersion(t *testing.T) {
	t.Parallel()

	const release kmod.KernelRelease = "6.8.0-generic"

	require.NoError(t, CheckVersion("6.8.0-generic", release))

	for _, tag := range []string{
		"6.8.0-generic-custom",
		"6.8.0",
		"6.8.0-generi",
		" 6.8.0-generic",
		"6.8.0-GENERIC",
		"",
	} {
		err := CheckVersion(tag, release)
		require.Error(t, err, tag)

		kind, ok := kmod.KindOf(err)
		require.True(t, ok)
		require.Equal(t, kmod.KindVersionMismatch, kind, tag)
	}
}

// TestGate_Verify checks that the gate fills the tag and distinguishes failure classes.
func TestGate_Verify(t *testing.T) {
	t.Parallel()

	artifact := kmod.ModuleArtifact{Path: "/tmp/montauk-kernel/montauk.ko"}

	t.Run("match", func(t *testing.T) {
		t.Parallel()

		fake := shelltest.New()
		fake.Respond("modinfo", shell.Result{Stdout: modinfoOutput})

		got, err := NewGate(fake).Verify(context.Background(), artifact, "6.8.0-generic")
		require.NoError(t, err)
		require.Equal(t, "6.8.0-generic", got.VersionTag)
		require.Equal(t, []string{"modinfo"}, fake.Names())
	})

	t.Run("mismatch", func(t *testing.T) {
		t.Parallel()

		fake := shelltest.New()
		fake.Respond("modinfo", shell.Result{Stdout: modinfoOutput})

		got, err := NewGate(fake).Verify(context.Background(), artifact, "6.8.0-generic-custom")
		require.Equal(t, "6.8.0-generic", got.VersionTag)

		kind, _ := kmod.KindOf(err)
		require.Equal(t, kmod.KindVersionMismatch, kind)
	})

	t.Run("unreadable", func(t *testing.T) {
		t.Parallel()

		fake := shelltest.New()
		fake.Respond("modinfo", shell.Result{Stdout: "filename: x\n"})

		_, err := NewGate(fake).Verify(context.Background(), artifact, "6.8.0-generic")

		kind, _ := kmod.KindOf(err)
		require.Equal(t, kmod.KindMetadataUnreadable, kind)
	})

	t.Run("modinfo fails", func(t *testing.T) {
		t.Parallel()

		fake := shelltest.New()
		fake.Fail("modinfo", "modinfo: ERROR: could not get modinfo")

		_, err := NewGate(fake).Verify(context.Background(), artifact, "6.8.0-generic")

		stageErr, ok := kmod.AsError(err)
		require.True(t, ok)
		require.Equal(t, kmod.KindMetadataUnreadable, stageErr.Kind)
		require.Contains(t, stageErr.Output, "could not get modinfo")
	})
}
