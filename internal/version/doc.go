// Package version exposes build metadata for the installer.
//
// Version, Commit and BuildTime are injected at build time via Go ldflags.
// The version command also prints the running kernel release, since every
// module build targets exactly that release.
package version
