// Package dependent rebuilds, installs and verifies the userspace monitor that
// consumes the kernel module, and runs its first-run configuration.
package dependent
