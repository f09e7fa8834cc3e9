package installer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/kernel"
	"github.com/oshokin/montauk-installer/internal/logger"
	"github.com/oshokin/montauk-installer/internal/service/preflight"
)

const kernelQuestion = "Install the montauk kernel module? [Y/N]: "

// decideKernel settles once per run whether the kernel module is built.
func (r *runner) decideKernel(ctx context.Context) (bool, error) {
	switch r.opts.Kernel {
	case KernelOff:
		return false, nil
	case KernelOn:
		release, err := r.release()
		if err != nil {
			return false, err
		}

		if err = r.checkKernelSource(); err != nil {
			return false, err
		}

		if err = r.checker.Headers(r.layout, release); err != nil {
			return false, err
		}

		return true, nil
	default:
		return r.detectKernel(ctx)
	}
}

func (r *runner) checkKernelSource() error {
	dir := r.cfg.KernelSourceDir()

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}

	return &kmod.Error{
		Kind:   kmod.KindMissingDependency,
		Stage:  kmod.StagePreflight,
		Reason: "kernel module source not found at " + dir,
		Remediation: []string{
			"Run the installer from the montauk source tree or pass --source",
		},
	}
}

func (r *runner) detectKernel(ctx context.Context) (bool, error) {
	if r.checkKernelSource() != nil {
		logger.Debug(ctx, "No kernel module source, skipping kernel module")
		return false, nil
	}

	release, err := r.release()
	if err != nil {
		return false, err
	}

	if !kernel.HeadersPresent(r.layout, release) {
		logger.Info(ctx, "montauk includes an optional kernel module for best performance")
		logger.Info(ctx, "To enable it, install your kernel development headers:")

		for _, line := range preflight.HeadersRemediation(release) {
			logger.Info(ctx, "  "+line)
		}

		logger.Info(ctx, "Then re-run with --kernel")
		logger.Info(ctx, "Continuing without kernel module support")

		return false, nil
	}

	logger.InfoKV(ctx, "Kernel headers found", "kernel", release)
	logger.Info(ctx, "The optional kernel module gives lower overhead and no /proc reads")

	return r.ask(ctx), nil
}

// ask reads yes or no answers until one is recognised. EOF means no.
func (r *runner) ask(ctx context.Context) bool {
	if r.opts.Prompt == nil {
		logger.Info(ctx, "No input (non-interactive), skipping kernel module")
		return false
	}

	out := r.opts.Out
	if out == nil {
		out = io.Discard
	}

	scanner := bufio.NewScanner(r.opts.Prompt)

	for {
		fmt.Fprint(out, kernelQuestion)

		if !scanner.Scan() {
			fmt.Fprintln(out)
			logger.Info(ctx, "No input (non-interactive), skipping kernel module")

			return false
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}
