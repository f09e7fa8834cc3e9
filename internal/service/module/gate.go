package module

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// VermagicMarker starts the metadata line carrying the target kernel version.
const VermagicMarker = "vermagic:"

var (
	errNoVermagic        = errors.New("no vermagic line in module metadata")
	errMalformedVermagic = errors.New("vermagic line has no version field")
)

// ParseVermagic extracts the kernel version from a modinfo dump: the second
// field of the first line starting with the vermagic marker.
func ParseVermagic(metadata string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(metadata))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, VermagicMarker) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 { //nolint:mnd // Marker plus version.
			return "", errMalformedVermagic
		}

		return fields[1], nil
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan module metadata: %w", err)
	}

	return "", errNoVermagic
}

// CheckVersion compares tag and release verbatim.
func CheckVersion(tag string, release kmod.KernelRelease) error {
	if tag == release.String() {
		return nil
	}

	return &kmod.Error{
		Kind:   kmod.KindVersionMismatch,
		Stage:  kmod.StageVersionGate,
		Reason: fmt.Sprintf("module built for %q, running kernel is %q", tag, release),
		Remediation: []string{
			"Install headers for the running kernel, e.g. linux-headers-" + release.String(),
			"Or reboot into the kernel the headers belong to, then rebuild",
		},
	}
}

// Gate reads artifact metadata and enforces an exact kernel version match.
type Gate struct {
	runner shell.Runner
}

// NewGate creates a Gate.
func NewGate(runner shell.Runner) *Gate {
	return &Gate{
		runner: runner,
	}
}

// Verify fills artifact.VersionTag and fails unless it equals release.
func (g *Gate) Verify(ctx context.Context, artifact kmod.ModuleArtifact, release kmod.KernelRelease) (kmod.ModuleArtifact, error) {
	result, err := g.runner.Run(ctx, shell.Plain("modinfo", artifact.Path))
	if err != nil {
		return artifact, unreadable("modinfo could not run", "", err)
	}

	if !result.OK() {
		return artifact, unreadable(
			fmt.Sprintf("modinfo exited with status %d", result.ExitCode),
			result.Diagnostics(),
			nil,
		)
	}

	tag, err := ParseVermagic(result.Stdout)
	if err != nil {
		return artifact, unreadable("cannot read the module version tag", result.Stdout, err)
	}

	artifact.VersionTag = tag

	logger.InfoKV(ctx, "Module version tag", "vermagic", tag, "kernel", release)

	if err = CheckVersion(tag, release); err != nil {
		return artifact, err
	}

	return artifact, nil
}

func unreadable(reason, output string, err error) error {
	return &kmod.Error{
		Kind:   kmod.KindMetadataUnreadable,
		Stage:  kmod.StageVersionGate,
		Reason: reason,
		Remediation: []string{
			"The built module looks broken; run the clean command and build again",
		},
		Output: output,
		Err:    err,
	}
}
