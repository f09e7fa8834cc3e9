package shell

import (
	"os"
	"os/exec"
	"path/filepath"
)

// kmodTools live in sbin directories that are missing from PATH on some
// distributions (Debian for non-root users).
//
//nolint:gochecknoglobals // Fixed lookup table.
var kmodTools = map[string]struct{}{
	"modinfo":  {},
	"modprobe": {},
	"rmmod":    {},
	"lsmod":    {},
	"depmod":   {},
	"insmod":   {},
}

// toolResolver maps kmod tool names to absolute paths.
type toolResolver struct {
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	sbinDirs []string
}

func newToolResolver() *toolResolver {
	return &toolResolver{
		lookPath: exec.LookPath,
		stat:     os.Stat,
		sbinDirs: []string{"/usr/sbin", "/sbin"},
	}
}

// resolve returns the path of a kmod tool, or name unchanged.
func (r *toolResolver) resolve(name string) string {
	if _, ok := kmodTools[name]; !ok {
		return name
	}

	if path, err := r.lookPath(name); err == nil {
		return path
	}

	for _, dir := range r.sbinDirs {
		candidate := filepath.Join(dir, name)
		if info, err := r.stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}

	return name
}
