package record

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
)

// Repository defines state queries for the installed module.
type Repository interface {
	Inspect(ctx context.Context, release kmod.KernelRelease) (kmod.InstalledModuleRecord, error)
}

// FileRepository reads the installed module footprint from disk.
type FileRepository struct {
	// layout resolves the artifact and declaration paths.
	layout kmod.Layout
}

// NewFileRepository creates a repository over the given layout.
func NewFileRepository(layout kmod.Layout) *FileRepository {
	return &FileRepository{
		layout: layout,
	}
}

// Inspect reports which halves of the record exist for release.
func (r *FileRepository) Inspect(ctx context.Context, release kmod.KernelRelease) (kmod.InstalledModuleRecord, error) {
	if err := ctx.Err(); err != nil {
		return kmod.InstalledModuleRecord{}, err
	}

	record := kmod.InstalledModuleRecord{
		ArtifactPath: r.layout.ArtifactPath(release),
		AutoloadPath: r.layout.AutoloadPath(),
	}

	present, err := exists(record.ArtifactPath)
	if err != nil {
		return record, fmt.Errorf("inspect module artifact: %w", err)
	}

	record.ArtifactPresent = present

	contents, err := os.ReadFile(record.AutoloadPath)

	switch {
	case err == nil:
		record.AutoloadPresent = true
		record.AutoloadContent = string(contents)
	case errors.Is(err, os.ErrNotExist):
	case errors.Is(err, os.ErrPermission):
		// Existence is still knowable without read access.
		record.AutoloadPresent, err = exists(record.AutoloadPath)
		if err != nil {
			return record, fmt.Errorf("inspect autoload declaration: %w", err)
		}
	default:
		return record, fmt.Errorf("read autoload declaration: %w", err)
	}

	return record, nil
}

// exists reports whether path exists.
func exists(path string) (bool, error) {
	_, err := os.Stat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
