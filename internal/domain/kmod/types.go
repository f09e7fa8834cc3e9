package kmod

import "fmt"

// KernelRelease identifies the running kernel, for example "6.8.0-generic".
// It is read once per run and compared verbatim.
type KernelRelease string

// String returns the release as a plain string.
func (r KernelRelease) String() string {
	return string(r)
}

// ModuleArtifact is a built kernel module binary.
type ModuleArtifact struct {
	// Path is the location of the built object.
	Path string
	// VersionTag is the kernel version embedded in the artifact metadata.
	// It stays empty until the version gate has read it.
	VersionTag string
}

// BuildSource is a directory holding kernel module sources.
type BuildSource struct {
	// Dir is the directory handed to the build toolchain.
	Dir string
	// Origin is the directory the sources were taken from.
	Origin string
	// Staged is true when Dir is a sanitized mirror of Origin.
	Staged bool
}

// InstalledModuleRecord describes the on-disk footprint of an installed module.
type InstalledModuleRecord struct {
	// ArtifactPath is the kernel-version-scoped install location.
	ArtifactPath string
	// ArtifactPresent reports whether ArtifactPath exists.
	ArtifactPresent bool
	// AutoloadPath is the boot autoload declaration file.
	AutoloadPath string
	// AutoloadPresent reports whether AutoloadPath exists.
	AutoloadPresent bool
	// AutoloadContent is the declaration content when present.
	AutoloadContent string
}

// Installed reports whether both halves of the record exist.
func (r InstalledModuleRecord) Installed() bool {
	return r.ArtifactPresent && r.AutoloadPresent
}

// Absent reports whether neither half of the record exists.
func (r InstalledModuleRecord) Absent() bool {
	return !r.ArtifactPresent && !r.AutoloadPresent
}

// Consistent reports whether the artifact and the declaration exist in tandem.
func (r InstalledModuleRecord) Consistent() bool {
	return r.ArtifactPresent == r.AutoloadPresent
}

// ActiveModuleState is the live state of a module in the kernel registry.
type ActiveModuleState int

const (
	// ActiveUnknown means the registry has not been queried.
	ActiveUnknown ActiveModuleState = iota
	// ActiveNotLoaded means the module name is absent from the registry.
	ActiveNotLoaded
	// ActiveLoaded means the module name is present in the registry.
	ActiveLoaded
)

func (s ActiveModuleState) String() string {
	switch s {
	case ActiveUnknown:
		return "unknown"
	case ActiveNotLoaded:
		return "not loaded"
	case ActiveLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("ActiveModuleState(%d)", s)
	}
}

// BuildType selects the optimisation profile of the dependent build.
type BuildType string

const (
	// BuildRelease is an optimised build.
	BuildRelease BuildType = "Release"
	// BuildDebug keeps debug symbols.
	BuildDebug BuildType = "Debug"
)

// DependentBuildConfig describes a configure+build of the userspace binary.
type DependentBuildConfig struct {
	// Root is the project root passed to the configure step.
	Root string
	// BuildDir is the out-of-tree build directory.
	BuildDir string
	// FeatureFlag is the configure switch turned ON; empty means the kernel
	// data path stays disabled.
	FeatureFlag string
	// BuildType is the configure build type.
	BuildType BuildType
	// Prefix is the install prefix passed at configure time, empty for default.
	Prefix string
	// CleanFirst forces a full rebuild.
	CleanFirst bool
	// BinaryName is the produced executable name inside BuildDir.
	BinaryName string
	// ExtraDefines are additional -D switches, e.g. enabling the test target.
	ExtraDefines []string
}

// FeatureEnabled reports whether the kernel feature flag is set.
func (c DependentBuildConfig) FeatureEnabled() bool {
	return c.FeatureFlag != ""
}
