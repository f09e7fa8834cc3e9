// Package kmod defines the data model of a kernel module deployment:
// the running kernel release, built artifacts, build sources, the installed
// record and the dependent userspace build, plus the stage error taxonomy
// shared by every lifecycle component.
package kmod
