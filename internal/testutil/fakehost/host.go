// Package fakehost simulates a Linux host for workflow tests.
//
// A Host answers the kernel and build tools the installer shells out to
// (make, modinfo, depmod, lsmod, modprobe, rmmod, cmake, strings, which and
// the file utilities) against a temporary directory tree, and keeps the set
// of loaded modules in memory.
package fakehost

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/oshokin/montauk-installer/internal/config"
	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/shell"
	"github.com/oshokin/montauk-installer/internal/shell/shelltest"
)

// DefaultRelease is the kernel release a Host reports unless changed.
const DefaultRelease kmod.KernelRelease = "6.8.0-generic"

const (
	dirMode  = 0o750
	fileMode = 0o600
	execMode = 0o755
	testsBin = "montauk_tests"
)

// Host is a simulated machine over a shelltest.Fake.
type Host struct {
	*shelltest.Fake

	// Root is the temporary directory standing in for "/".
	Root string
	// Release is the running kernel release.
	Release kmod.KernelRelease
	// VersionTag is the vermagic embedded by module builds; empty means Release.
	VersionTag string
	// SkipArtifact makes "make modules" succeed without producing the module.
	SkipArtifact bool
	// ModprobeSilent makes modprobe succeed without loading anything.
	ModprobeSilent bool
	// TestsFail makes the test binary exit with status 1.
	TestsFail bool
	// Missing lists tools that which reports as absent.
	Missing map[string]bool
	// ConfigFile receives the monitor configuration written by --init-theme.
	ConfigFile string

	cfg *config.Config

	mu      sync.Mutex
	loaded  map[string]bool
	defines map[string]map[string]string
}

// New creates a Host with kernel headers, module sources and a userspace
// project laid out under a temporary root.
func New(t testing.TB) *Host {
	t.Helper()

	root := t.TempDir()

	h := &Host{
		Fake:       shelltest.New(),
		Root:       root,
		Release:    DefaultRelease,
		Missing:    make(map[string]bool),
		ConfigFile: filepath.Join(root, "home", ".config", "montauk", "config.toml"),
		loaded:     make(map[string]bool),
		defines:    make(map[string]map[string]string),
	}

	h.cfg = &config.Config{
		SourceDir:   filepath.Join(root, "src", "montauk"),
		StagingDir:  filepath.Join(root, "tmp", "montauk-kernel"),
		ModulesRoot: filepath.Join(root, "lib", "modules"),
		AutoloadDir: filepath.Join(root, "etc", "modules-load.d"),
		Prefix:      filepath.Join(root, "usr", "local"),
		Privilege:   config.PrivilegeNone,
	}

	if err := config.Validate(h.cfg); err != nil {
		t.Fatalf("validate host config: %v", err)
	}

	h.MustWrite(t, filepath.Join(h.cfg.KernelSourceDir(), "Makefile"), "obj-m += montauk.o\n")
	h.MustWrite(t, filepath.Join(h.cfg.KernelSourceDir(), "montauk.c"), "// module\n")
	h.MustWrite(t, filepath.Join(h.cfg.SourceDir, "CMakeLists.txt"), "project(montauk)\n")
	h.MustWrite(t, filepath.Join(h.Layout().HeadersDir(h.Release), "Makefile"), "# headers\n")

	h.install()

	return h
}

// Config returns a copy of the settings pointing into the host tree.
func (h *Host) Config() *config.Config {
	cfg := *h.cfg
	return &cfg
}

// Layout returns the module layout of the host.
func (h *Host) Layout() kmod.Layout {
	return h.cfg.Layout()
}

// MustWrite creates path with contents, including parent directories.
func (h *Host) MustWrite(t testing.TB, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, []byte(contents), fileMode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Exists reports whether path exists.
func (h *Host) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveHeaders deletes the kernel headers of the running release.
func (h *Host) RemoveHeaders(t testing.TB) {
	t.Helper()

	if err := os.RemoveAll(filepath.Dir(h.Layout().HeadersDir(h.Release))); err != nil {
		t.Fatalf("remove headers: %v", err)
	}
}

// SetLoaded marks a module as resident or not.
func (h *Host) SetLoaded(name string, loaded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.loaded[name] = loaded
}

// Loaded reports whether a module is resident.
func (h *Host) Loaded(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.loaded[name]
}

// Sequence returns the recorded command names that appear in names, in call order.
func (h *Host) Sequence(names ...string) []string {
	var out []string

	for _, name := range h.Names() {
		if slices.Contains(names, name) {
			out = append(out, name)
		}
	}

	return out
}

func (h *Host) install() {
	h.Handle("make", h.kbuild)
	h.Handle("modinfo", h.modinfo)
	h.Handle("mkdir", h.mkdir)
	h.Handle("cp", h.copyFile)
	h.Handle("install", h.copyFile)
	h.Handle("rm", h.rm)
	h.Handle("tee", h.tee)
	h.Handle("depmod", ok)
	h.Handle("lsmod", h.lsmod)
	h.Handle("modprobe", h.modprobe)
	h.Handle("rmmod", h.rmmod)
	h.Handle("cmake", h.cmake)
	h.Handle("strings", h.dumpStrings)
	h.Handle("which", h.which)
	h.Fallback(h.binary)
}

func ok(context.Context, shell.Command) (shell.Result, error) {
	return shell.Result{}, nil
}

func fail(format string, args ...any) (shell.Result, error) {
	return shell.Result{ExitCode: 1, Stderr: fmt.Sprintf(format, args...) + "\n"}, nil
}

func (h *Host) kbuild(_ context.Context, cmd shell.Command) (shell.Result, error) {
	var source, target, headers string

	for i, arg := range cmd.Args {
		switch {
		case arg == "-C" && i+1 < len(cmd.Args):
			headers = cmd.Args[i+1]
		case strings.HasPrefix(arg, "M="):
			source = strings.TrimPrefix(arg, "M=")
		case arg == "clean" || arg == "modules":
			target = arg
		}
	}

	if !h.Exists(filepath.Join(headers, "Makefile")) {
		return fail("make: *** %s: No such file or directory.  Stop.", headers)
	}

	if strings.ContainsAny(source, " \t") {
		return fail("make: *** No rule to make target '%s'.  Stop.", source)
	}

	artifact := filepath.Join(source, h.Layout().ArtifactName())

	switch target {
	case "clean":
		for _, pattern := range []string{"*.ko", "*.o"} {
			matches, _ := filepath.Glob(filepath.Join(source, pattern))
			for _, m := range matches {
				_ = os.Remove(m)
			}
		}

		return shell.Result{Stdout: "  CLEAN   " + source + "\n"}, nil
	case "modules":
		if h.SkipArtifact {
			return shell.Result{Stdout: "  LD [M]  " + artifact + "\n"}, nil
		}

		tag := h.VersionTag
		if tag == "" {
			tag = h.Release.String()
		}

		if err := os.WriteFile(artifact, []byte("vermagic="+tag+"\n"), fileMode); err != nil {
			return fail("ld: %v", err)
		}

		return shell.Result{Stdout: "  LD [M]  " + artifact + "\n"}, nil
	default:
		return fail("make: *** No rule to make target '%s'.  Stop.", target)
	}
}

func (h *Host) modinfo(_ context.Context, cmd shell.Command) (shell.Result, error) {
	path := cmd.Args[len(cmd.Args)-1]

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fail("modinfo: ERROR: Module %s not found.", path)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "filename:       %s\n", path)
	b.WriteString("license:        GPL\n")

	if tag, found := strings.CutPrefix(strings.TrimSpace(string(data)), "vermagic="); found {
		fmt.Fprintf(&b, "vermagic:       %s SMP preempt mod_unload modversions\n", tag)
	}

	fmt.Fprintf(&b, "name:           %s\n", h.Layout().ModuleName)

	return shell.Result{Stdout: b.String()}, nil
}

func (h *Host) mkdir(_ context.Context, cmd shell.Command) (shell.Result, error) {
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}

		if err := os.MkdirAll(arg, dirMode); err != nil {
			return fail("mkdir: %v", err)
		}
	}

	return shell.Result{}, nil
}

func (h *Host) copyFile(_ context.Context, cmd shell.Command) (shell.Result, error) {
	var paths []string

	for i := 0; i < len(cmd.Args); i++ {
		switch arg := cmd.Args[i]; {
		case arg == "-m":
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			paths = append(paths, arg)
		}
	}

	if len(paths) != 2 { //nolint:mnd // Source and destination.
		return fail("%s: missing file operand", cmd.Name)
	}

	from, to := paths[0], paths[1]

	in, err := os.Open(filepath.Clean(from))
	if err != nil {
		return fail("%s: cannot stat '%s': No such file or directory", cmd.Name, from)
	}
	defer in.Close()

	out, err := os.OpenFile(filepath.Clean(to), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, execMode)
	if err != nil {
		return fail("%s: cannot create regular file '%s': %v", cmd.Name, to, err)
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return fail("%s: %v", cmd.Name, err)
	}

	return shell.Result{}, nil
}

func (h *Host) rm(_ context.Context, cmd shell.Command) (shell.Result, error) {
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}

		if err := os.RemoveAll(arg); err != nil {
			return fail("rm: cannot remove '%s': %v", arg, err)
		}
	}

	return shell.Result{}, nil
}

func (h *Host) tee(_ context.Context, cmd shell.Command) (shell.Result, error) {
	path := cmd.Args[len(cmd.Args)-1]

	if err := os.WriteFile(path, cmd.Stdin, fileMode); err != nil {
		return fail("tee: %s: %v", path, err)
	}

	return shell.Result{Stdout: string(cmd.Stdin)}, nil
}

func (h *Host) lsmod(context.Context, shell.Command) (shell.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder

	b.WriteString("Module                  Size  Used by\n")
	b.WriteString("montauk_helper          12288  0\n")

	names := make([]string, 0, len(h.loaded))
	for name, loaded := range h.loaded {
		if loaded {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	for _, name := range names {
		fmt.Fprintf(&b, "%-23s %d  0\n", name, 16384) //nolint:mnd // Module size.
	}

	return shell.Result{Stdout: b.String()}, nil
}

func (h *Host) modprobe(_ context.Context, cmd shell.Command) (shell.Result, error) {
	name := cmd.Args[len(cmd.Args)-1]
	layout := h.Layout()

	if name != layout.ModuleName || !h.Exists(layout.ArtifactPath(h.Release)) {
		return fail("modprobe: FATAL: Module %s not found in directory %s",
			name, filepath.Join(layout.ModulesRoot, h.Release.String()))
	}

	if !h.ModprobeSilent {
		h.SetLoaded(name, true)
	}

	return shell.Result{}, nil
}

func (h *Host) rmmod(_ context.Context, cmd shell.Command) (shell.Result, error) {
	name := cmd.Args[len(cmd.Args)-1]

	if !h.Loaded(name) {
		return fail("rmmod: ERROR: Module %s is not currently loaded", name)
	}

	h.SetLoaded(name, false)

	return shell.Result{}, nil
}

func (h *Host) cmake(_ context.Context, cmd shell.Command) (shell.Result, error) {
	if len(cmd.Args) > 1 && cmd.Args[0] == "--build" {
		return h.cmakeBuild(cmd.Args[1])
	}

	var root, build string

	defines := make(map[string]string)

	for i := 0; i < len(cmd.Args); i++ {
		arg := cmd.Args[i]

		switch {
		case arg == "-S" && i+1 < len(cmd.Args):
			i++
			root = cmd.Args[i]
		case arg == "-B" && i+1 < len(cmd.Args):
			i++
			build = cmd.Args[i]
		case strings.HasPrefix(arg, "-D"):
			key, value, _ := strings.Cut(strings.TrimPrefix(arg, "-D"), "=")
			defines[key] = value
		}
	}

	if !h.Exists(filepath.Join(root, "CMakeLists.txt")) {
		return fail("CMake Error: The source directory %q does not appear to contain CMakeLists.txt.", root)
	}

	if err := os.MkdirAll(build, dirMode); err != nil {
		return fail("CMake Error: %v", err)
	}

	h.mu.Lock()
	h.defines[filepath.Clean(build)] = defines
	h.mu.Unlock()

	return shell.Result{Stdout: "-- Build files have been written to: " + build + "\n"}, nil
}

func (h *Host) cmakeBuild(build string) (shell.Result, error) {
	h.mu.Lock()
	defines, configured := h.defines[filepath.Clean(build)]
	h.mu.Unlock()

	if !configured {
		return fail("Error: %s is not a directory", build)
	}

	contents := "montauk userspace\n"
	if defines[h.cfg.FeatureFlag] == "ON" {
		contents += h.cfg.FeatureMarker + "\n"
	}

	binary := filepath.Join(build, h.cfg.BinaryName)
	if err := os.WriteFile(binary, []byte(contents), execMode); err != nil {
		return fail("ld: %v", err)
	}

	if defines["MONTAUK_BUILD_TESTS"] == "ON" {
		if err := os.WriteFile(filepath.Join(build, testsBin), []byte("tests\n"), execMode); err != nil {
			return fail("ld: %v", err)
		}
	}

	return shell.Result{Stdout: "[100%] Built target " + h.cfg.BinaryName + "\n"}, nil
}

func (h *Host) dumpStrings(_ context.Context, cmd shell.Command) (shell.Result, error) {
	path := cmd.Args[len(cmd.Args)-1]

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fail("strings: '%s': No such file", path)
	}

	return shell.Result{Stdout: string(data)}, nil
}

func (h *Host) which(_ context.Context, cmd shell.Command) (shell.Result, error) {
	name := cmd.Args[len(cmd.Args)-1]
	if h.Missing[name] {
		return shell.Result{ExitCode: 1}, nil
	}

	return shell.Result{Stdout: "/usr/bin/" + name + "\n"}, nil
}

// binary answers the installed monitor and the test binary.
func (h *Host) binary(_ context.Context, cmd shell.Command) (shell.Result, error) {
	if !h.Exists(cmd.Name) {
		return shell.Result{ExitCode: -1}, fmt.Errorf("start %s: %w", cmd.Name, os.ErrNotExist)
	}

	switch {
	case filepath.Base(cmd.Name) == testsBin:
		if h.TestsFail {
			return fail("1 of 42 tests failed")
		}

		return shell.Result{Stdout: "All tests passed (42 assertions)\n"}, nil
	case slices.Contains(cmd.Args, "--init-theme"):
		if err := os.MkdirAll(filepath.Dir(h.ConfigFile), dirMode); err != nil {
			return fail("montauk: %v", err)
		}

		theme := "[ui]\ntheme = \"auto\"\n\n[palette]\naccent = \"#5fafd7\"\n"
		if err := os.WriteFile(h.ConfigFile, []byte(theme), fileMode); err != nil {
			return fail("montauk: %v", err)
		}

		return shell.Result{Stdout: "Wrote " + h.ConfigFile + "\n"}, nil
	default:
		return shell.Result{}, nil
	}
}
