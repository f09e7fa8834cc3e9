// Package kernel reads facts about the running kernel and process:
// the kernel release reported by uname(2), whether build headers for it are
// present, and whether the process already runs with root privileges.
package kernel
