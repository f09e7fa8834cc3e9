package kernel

import (
	"os"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
)

// HeadersPresent reports whether the build tree for release exists under layout.
func HeadersPresent(layout kmod.Layout, release kmod.KernelRelease) bool {
	info, err := os.Stat(layout.HeadersDir(release))

	return err == nil && info.IsDir()
}
