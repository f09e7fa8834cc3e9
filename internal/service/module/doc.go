// Package module implements the kernel module lifecycle: staging sources to a
// build-safe path, building against the running kernel headers, gating on the
// embedded vermagic, installing into the module tree, registering for boot
// autoload, and activating or deactivating the module in the running kernel.
//
// Every component talks to the host through a shell.Runner and takes the
// running kernel release as an explicit argument.
package module
