package kmod

import "path/filepath"

// Layout computes the fixed, kernel-version-scoped paths of a module.
type Layout struct {
	// ModuleName is the module name without extension.
	ModuleName string
	// ModulesRoot is the root of the per-release module trees, usually /lib/modules.
	ModulesRoot string
	// InstallSubdir receives out-of-tree modules inside a release tree.
	InstallSubdir string
	// AutoloadDir holds boot autoload declarations.
	AutoloadDir string
}

// ArtifactName is the file name of the module binary.
func (l Layout) ArtifactName() string {
	return l.ModuleName + ".ko"
}

// HeadersDir is the kernel build tree for release.
func (l Layout) HeadersDir(release KernelRelease) string {
	return filepath.Join(l.ModulesRoot, release.String(), "build")
}

// InstallDir is the directory receiving the artifact for release.
func (l Layout) InstallDir(release KernelRelease) string {
	return filepath.Join(l.ModulesRoot, release.String(), l.InstallSubdir)
}

// ArtifactPath is the installed artifact location for release.
func (l Layout) ArtifactPath(release KernelRelease) string {
	return filepath.Join(l.InstallDir(release), l.ArtifactName())
}

// AutoloadPath is the boot autoload declaration file.
func (l Layout) AutoloadPath() string {
	return filepath.Join(l.AutoloadDir, l.ModuleName+".conf")
}

// AutoloadContent is the exact declaration written for the module.
func (l Layout) AutoloadContent() string {
	return l.ModuleName + "\n"
}
