package record

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
)

const testRelease kmod.KernelRelease = "6.8.0-generic"

func testLayout(t *testing.T) kmod.Layout {
	t.Helper()

	root := t.TempDir()

	return kmod.Layout{
		ModuleName:    "montauk",
		ModulesRoot:   filepath.Join(root, "lib", "modules"),
		InstallSubdir: "extra",
		AutoloadDir:   filepath.Join(root, "etc", "modules-load.d"),
	}
}

// TestFileRepository_Absent verifies that nothing installed reports an absent, consistent record.
func TestFileRepository_Absent(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(testLayout(t))

	rec, err := repo.Inspect(context.Background(), testRelease)
	require.NoError(t, err)
	require.True(t, rec.Absent())
	require.True(t, rec.Consistent())
	require.Empty(t, rec.AutoloadContent)
}

// TestFileRepository_Installed verifies both halves are detected with the declaration content.
func TestFileRepository_Installed(t *testing.T) {
	t.Parallel()

	layout := testLayout(t)
	repo := NewFileRepository(layout)

	require.NoError(t, os.MkdirAll(layout.InstallDir(testRelease), 0o750))
	require.NoError(t, os.WriteFile(layout.ArtifactPath(testRelease), []byte("ko"), 0o600))
	require.NoError(t, os.MkdirAll(layout.AutoloadDir, 0o750))
	require.NoError(t, os.WriteFile(layout.AutoloadPath(), []byte(layout.AutoloadContent()), 0o600))

	rec, err := repo.Inspect(context.Background(), testRelease)
	require.NoError(t, err)
	require.True(t, rec.Installed())
	require.Equal(t, "montauk\n", rec.AutoloadContent)
	require.Equal(t, layout.ArtifactPath(testRelease), rec.ArtifactPath)
}

// TestFileRepository_Inconsistent verifies a half-installed record is reported as such.
func TestFileRepository_Inconsistent(t *testing.T) {
	t.Parallel()

	layout := testLayout(t)
	repo := NewFileRepository(layout)

	require.NoError(t, os.MkdirAll(layout.InstallDir(testRelease), 0o750))
	require.NoError(t, os.WriteFile(layout.ArtifactPath(testRelease), []byte("ko"), 0o600))

	rec, err := repo.Inspect(context.Background(), testRelease)
	require.NoError(t, err)
	require.True(t, rec.ArtifactPresent)
	require.False(t, rec.AutoloadPresent)
	require.False(t, rec.Consistent())
}

// TestFileRepository_OtherRelease verifies the artifact path is scoped to the release.
func TestFileRepository_OtherRelease(t *testing.T) {
	t.Parallel()

	layout := testLayout(t)
	repo := NewFileRepository(layout)

	require.NoError(t, os.MkdirAll(layout.InstallDir(testRelease), 0o750))
	require.NoError(t, os.WriteFile(layout.ArtifactPath(testRelease), []byte("ko"), 0o600))

	rec, err := repo.Inspect(context.Background(), "6.9.1-arch1")
	require.NoError(t, err)
	require.False(t, rec.ArtifactPresent)
}
