package kmod

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names a step of a workflow, used when reporting where it stopped.
type Stage string

const (
	// StagePreflight covers dependency checks before any work.
	StagePreflight Stage = "preflight"
	// StageStaging covers mirroring sources to a build-safe path.
	StageStaging Stage = "staging"
	// StageBuild covers compiling the kernel module.
	StageBuild Stage = "module build"
	// StageVersionGate covers the vermagic comparison.
	StageVersionGate Stage = "version gate"
	// StageInstall covers placing the artifact and refreshing the index.
	StageInstall Stage = "module install"
	// StageAutoload covers the boot autoload declaration.
	StageAutoload Stage = "autoload"
	// StageLoad covers unloading, loading and verifying the module.
	StageLoad Stage = "module load"
	// StageRebuild covers the dependent userspace build and install.
	StageRebuild Stage = "dependent rebuild"
	// StageUninstall covers every removal step.
	StageUninstall Stage = "uninstall"
	// StageFirstRun covers first-run configuration of the dependent binary.
	StageFirstRun Stage = "first run"
)

// Kind classifies a stage failure.
type Kind int

const (
	// KindMissingDependency means a toolchain or kernel headers are absent.
	KindMissingDependency Kind = iota + 1
	// KindStagingFailure means the source mirror could not be produced.
	KindStagingFailure
	// KindBuildFailure means the toolchain failed or produced nothing.
	KindBuildFailure
	// KindMetadataUnreadable means the artifact carries no readable version tag.
	KindMetadataUnreadable
	// KindVersionMismatch means the artifact targets another kernel.
	KindVersionMismatch
	// KindInstallFailure means the artifact could not be placed or indexed.
	KindInstallFailure
	// KindAutoloadWarning means boot persistence could not be set up.
	KindAutoloadWarning
	// KindLoadFailure means the module is not active after loading.
	KindLoadFailure
	// KindFeatureVerificationWarning means the marker is missing from the dependent binary.
	KindFeatureVerificationWarning
	// KindRemovalWarning means a best-effort removal step failed.
	KindRemovalWarning
	// KindConfigWarning means first-run configuration of the dependent binary failed.
	KindConfigWarning
)

var kindNames = map[Kind]string{
	KindMissingDependency:          "missing dependency",
	KindStagingFailure:             "staging failure",
	KindBuildFailure:               "build failure",
	KindMetadataUnreadable:         "metadata unreadable",
	KindVersionMismatch:            "version mismatch",
	KindInstallFailure:             "install failure",
	KindAutoloadWarning:            "autoload warning",
	KindLoadFailure:                "load failure",
	KindFeatureVerificationWarning: "feature verification warning",
	KindRemovalWarning:             "removal warning",
	KindConfigWarning:              "configuration warning",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%d)", k)
}

// Fatal reports whether a failure of this kind aborts the workflow.
func (k Kind) Fatal() bool {
	switch k {
	case KindAutoloadWarning, KindFeatureVerificationWarning, KindRemovalWarning, KindConfigWarning:
		return false
	default:
		return true
	}
}

// Error is a classified stage failure with operator-facing remediation.
type Error struct {
	// Kind is the failure class; it decides whether the workflow stops.
	Kind Kind
	// Stage is where the failure happened.
	Stage Stage
	// Reason is a short human-readable description.
	Reason string
	// Remediation lists concrete steps the operator can take.
	Remediation []string
	// Output is raw toolchain diagnostics, kept unmodified.
	Output string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %s: %s", e.Stage, e.Kind, e.Reason)

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error aborts the workflow.
func (e *Error) Fatal() bool {
	return e.Kind.Fatal()
}

// KindOf extracts the failure class from an error chain.
func KindOf(err error) (Kind, bool) {
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return stageErr.Kind, true
	}

	return 0, false
}

// IsFatal reports whether err must stop the workflow.
// Unclassified errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	kind, ok := KindOf(err)
	if !ok {
		return true
	}

	return kind.Fatal()
}

// AsError returns the classified error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return stageErr, true
	}

	return nil, false
}
