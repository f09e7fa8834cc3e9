// Package installer sequences the kernel module lifecycle and the dependent
// userspace build into the install, build, clean, uninstall, test and status
// workflows.
//
// Run is the entry point used by the CLI. Workflows stop at the first fatal
// stage error and collect non-fatal ones as warnings in the returned Report.
package installer
