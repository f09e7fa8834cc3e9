//go:build linux

package kernel

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
)

// Release returns the running kernel release (e.g. "6.8.0-generic").
func Release() (kmod.KernelRelease, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}

	return kmod.KernelRelease(unix.ByteSliceToString(uname.Release[:])), nil
}

// IsRoot reports whether the effective user is root.
func IsRoot() bool {
	return unix.Geteuid() == 0
}
