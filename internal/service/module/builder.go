package module

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/shell"
)

// Builder compiles the module with the kernel build system.
type Builder struct {
	runner shell.Runner
	layout kmod.Layout
}

// NewBuilder creates a Builder.
func NewBuilder(runner shell.Runner, layout kmod.Layout) *Builder {
	return &Builder{
		runner: runner,
		layout: layout,
	}
}

// Build cleans and compiles source against headersDir and returns the produced artifact.
func (b *Builder) Build(ctx context.Context, source kmod.BuildSource, headersDir string) (kmod.ModuleArtifact, error) {
	logger.InfoKV(ctx, "Building kernel module", "source", source.Dir, "headers", headersDir)

	if err := b.make(ctx, source.Dir, headersDir, "clean"); err != nil {
		return kmod.ModuleArtifact{}, err
	}

	if err := b.make(ctx, source.Dir, headersDir, "modules"); err != nil {
		return kmod.ModuleArtifact{}, err
	}

	artifact := kmod.ModuleArtifact{
		Path: filepath.Join(source.Dir, b.layout.ArtifactName()),
	}

	if _, err := os.Stat(artifact.Path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return artifact, buildFailure("cannot inspect built module", "", err)
		}

		return artifact, buildFailure(
			fmt.Sprintf("toolchain reported success but %s was not produced", b.layout.ArtifactName()),
			"",
			nil,
		)
	}

	logger.InfoKV(ctx, "Kernel module built", "artifact", artifact.Path)

	return artifact, nil
}

func (b *Builder) make(ctx context.Context, sourceDir, headersDir, target string) error {
	cmd := shell.Plain("make", "-C", headersDir, "M="+sourceDir, target)
	cmd.Stream = true

	result, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return buildFailure("make "+target+" could not run", "", err)
	}

	if !result.OK() {
		return buildFailure(
			fmt.Sprintf("make %s exited with status %d", target, result.ExitCode),
			result.Diagnostics(),
			nil,
		)
	}

	return nil
}

func buildFailure(reason, output string, err error) error {
	return &kmod.Error{
		Kind:   kmod.KindBuildFailure,
		Stage:  kmod.StageBuild,
		Reason: reason,
		Remediation: []string{
			"Check the compiler output above",
			"Make sure the installed headers match the running kernel",
		},
		Output: output,
		Err:    err,
	}
}
