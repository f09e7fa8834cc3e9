//go:build !linux

package kernel

import (
	"errors"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
)

// ErrUnsupportedPlatform is returned on platforms without Linux kernel modules.
var ErrUnsupportedPlatform = errors.New("kernel modules are only supported on linux")

// Release is unavailable outside Linux.
func Release() (kmod.KernelRelease, error) {
	return "", ErrUnsupportedPlatform
}

// IsRoot is always false outside Linux.
func IsRoot() bool {
	return false
}
