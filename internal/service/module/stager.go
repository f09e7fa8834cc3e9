package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
)

// DefaultExcludes are build byproducts never carried into a staged mirror.
//
//nolint:gochecknoglobals // Fixed pattern list.
var DefaultExcludes = []string{
	"*.pyc",
	"__pycache__",
	"*.ko",
	"*.o",
	"*.mod*",
	".*.cmd",
	".tmp*",
	"Module.symvers",
	"modules.order",
}

var errNotADirectory = errors.New("module source is not a directory")

// Stager mirrors module sources whose path the kernel build system cannot handle.
type Stager struct {
	stagingDir string
	excludes   []string
}

// NewStager creates a Stager mirroring into stagingDir.
func NewStager(stagingDir string) *Stager {
	return &Stager{
		stagingDir: stagingDir,
		excludes:   DefaultExcludes,
	}
}

// NeedsStaging reports whether path contains whitespace.
func NeedsStaging(path string) bool {
	return strings.IndexFunc(path, unicode.IsSpace) >= 0
}

// Stage returns a build source for dir, mirroring it when its path has whitespace.
// An existing mirror is removed first.
func (s *Stager) Stage(ctx context.Context, dir string) (kmod.BuildSource, error) {
	source := kmod.BuildSource{
		Dir:    dir,
		Origin: dir,
	}

	if !NeedsStaging(dir) {
		return source, nil
	}

	logger.InfoKV(ctx, "Source path contains whitespace, staging a copy", "from", dir, "to", s.stagingDir)

	if err := s.mirror(ctx, dir); err != nil {
		return source, &kmod.Error{
			Kind:   kmod.KindStagingFailure,
			Stage:  kmod.StageStaging,
			Reason: fmt.Sprintf("cannot copy %q to %q", dir, s.stagingDir),
			Remediation: []string{
				"Check free space and permissions of " + filepath.Dir(s.stagingDir),
				"Or move the source tree to a path without spaces",
			},
			Err: err,
		}
	}

	source.Dir = s.stagingDir
	source.Staged = true

	return source, nil
}

func (s *Stager) mirror(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, errNotADirectory)
	}

	if err = os.RemoveAll(s.stagingDir); err != nil {
		return fmt.Errorf("remove previous mirror: %w", err)
	}

	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if rel != "." && s.excluded(entry.Name()) {
			logger.DebugKV(ctx, "Skipping build byproduct", "path", rel)

			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(s.stagingDir, rel)

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, dirMode(entry))
		case entry.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}

			return os.Symlink(link, target)
		case entry.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func (s *Stager) excluded(name string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}

	return false
}

func dirMode(entry fs.DirEntry) fs.FileMode {
	info, err := entry.Info()
	if err != nil {
		return 0o755
	}

	return info.Mode().Perm() | 0o700
}

func copyFile(from, to string) error {
	in, err := os.Open(filepath.Clean(from))
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(to), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
