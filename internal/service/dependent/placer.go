package dependent

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// BinaryMode is the permission of installed executables.
	BinaryMode os.FileMode = 0o755

	// ChecksumFunction verifies binaries written by the UpdatePlacer.
	ChecksumFunction crypto.Hash = crypto.SHA512

	dirMode os.FileMode = 0o755
)

var errHashUnavailable = errors.New("hash function unavailable")

// Placer puts a built binary at its install location.
type Placer interface {
	Place(ctx context.Context, binary, target string) error
}

// UpdatePlacer replaces the target atomically with a checksum-verified copy.
// It needs direct write access to the target directory.
type UpdatePlacer struct{}

// Place implements Placer. The build output is hashed in its own pass, so a
// binary rewritten while it is being placed is rejected.
func (p UpdatePlacer) Place(ctx context.Context, binary, target string) error {
	sum, err := checksum(binary)
	if err != nil {
		return err
	}

	return p.apply(ctx, binary, target, sum)
}

func (UpdatePlacer) apply(ctx context.Context, binary, target string, sum []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create install directory: %w", err)
	}

	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(filepath.Clean(target))
		if createErr != nil {
			return createErr
		}

		if err = placeholder.Close(); err != nil {
			return err
		}
	}

	source, err := os.Open(filepath.Clean(binary))
	if err != nil {
		return fmt.Errorf("open built binary: %w", err)
	}
	defer source.Close()

	logger.DebugKV(ctx, "Applying binary", "checksum", hex.EncodeToString(sum))

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: BinaryMode,
		Checksum:   sum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(source, options); err != nil {
		return fmt.Errorf("apply binary: %w", err)
	}

	oldFileName := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".old")
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// checksum hashes the file at path with ChecksumFunction.
func checksum(path string) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, errHashUnavailable
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read built binary: %w", err)
	}
	defer file.Close()

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("hash built binary: %w", err)
	}

	return hasher.Sum(nil), nil
}

// CommandPlacer copies the binary with privileged install(1).
type CommandPlacer struct {
	Runner shell.Runner
}

// Place implements Placer.
func (p CommandPlacer) Place(ctx context.Context, binary, target string) error {
	steps := []shell.Command{
		shell.Privileged("mkdir", "-p", filepath.Dir(target)),
		shell.Privileged("install", "-m", "0755", binary, target),
	}

	for _, step := range steps {
		result, err := p.Runner.Run(ctx, step)
		if err != nil {
			return err
		}

		if !result.OK() {
			return fmt.Errorf("%s: exit status %d: %s", step, result.ExitCode, result.Diagnostics())
		}
	}

	return nil
}
