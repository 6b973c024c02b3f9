//go:build linux

package overlay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeLiveFS lets tests describe a live root layout without touching the
// real filesystem.
type fakeLiveFS struct {
	dirs     map[string]bool
	symlinks map[string]bool
}

func (f fakeLiveFS) IsDirectory(path string) bool { return f.dirs[path] }
func (f fakeLiveFS) IsSymlink(path string) bool   { return f.symlinks[path] }

func newTestContext(t *testing.T, moduleDir string) *Context {
	t.Helper()

	ctx := NewContext()
	ctx.ModuleDir = moduleDir
	ctx.Log = NopLogger{}

	return ctx
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %q: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()

	mustMkdirAll(t, filepath.Dir(path))

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// Scenario 1: empty fleet — module with no system/ directory contributes
// nothing, Build reports ErrNoContent.
func TestBuild_EmptyFleet(t *testing.T) {
	moduleRoot := t.TempDir()
	mustMkdirAll(t, filepath.Join(moduleRoot, "modA"))

	ctx := newTestContext(t, moduleRoot)

	_, err := Build(ctx, fakeLiveFS{})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("Build() error = %v, want ErrNoContent", err)
	}

	if ctx.Stats.ModulesTotal != 0 {
		t.Errorf("ModulesTotal = %d, want 0", ctx.Stats.ModulesTotal)
	}
}

// Single file overlay: one module contributes a regular file under
// system/lib; Build must produce a tree with exactly that node attributed
// to the contributing module.
func TestBuild_SingleFileOverlay(t *testing.T) {
	moduleRoot := t.TempDir()
	libfoo := filepath.Join(moduleRoot, "modA", "system", "lib", "libfoo.so")
	mustWriteFile(t, libfoo, "binary-ish content")

	ctx := newTestContext(t, moduleRoot)

	root, err := Build(ctx, fakeLiveFS{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	system := root.Child("system")
	if system == nil {
		t.Fatalf("root has no system child")
	}

	lib := system.Child("lib")
	if lib == nil || lib.Kind != Directory {
		t.Fatalf("system/lib missing or not a directory: %+v", lib)
	}

	file := lib.Child("libfoo.so")
	if file == nil {
		t.Fatalf("system/lib/libfoo.so missing")
	}

	if file.Kind != Regular {
		t.Errorf("kind = %v, want Regular", file.Kind)
	}

	if file.ModuleName != "modA" {
		t.Errorf("moduleName = %q, want modA", file.ModuleName)
	}

	if file.ModulePath != libfoo {
		t.Errorf("modulePath = %q, want %q", file.ModulePath, libfoo)
	}
}

// First-module-wins: two modules both contribute system/etc/init.rc; the
// first-enumerated module's file wins identity, and modB can still add a
// sibling file under the same directory.
func TestBuild_FirstModuleWins(t *testing.T) {
	moduleRoot := t.TempDir()

	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "system", "etc", "init.rc"), "from A")
	mustWriteFile(t, filepath.Join(moduleRoot, "modB", "system", "etc", "init.rc"), "from B")
	mustWriteFile(t, filepath.Join(moduleRoot, "modB", "system", "etc", "only_in_b.rc"), "b only")

	ctx := newTestContext(t, moduleRoot)

	// Enumeration follows raw readdir order, so the winner is whichever
	// module EnumerateModules lists first, not necessarily modA.
	modules, err := EnumerateModules(ctx)
	if err != nil || len(modules) != 2 {
		t.Fatalf("EnumerateModules = %+v, %v; want two modules", modules, err)
	}

	first := modules[0].Name

	root, err := Build(ctx, fakeLiveFS{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	etc := root.Child("system").Child("etc")
	if etc == nil {
		t.Fatalf("system/etc missing")
	}

	initRC := etc.Child("init.rc")
	if initRC == nil {
		t.Fatalf("init.rc missing")
	}

	if initRC.ModuleName != first {
		t.Errorf("init.rc moduleName = %q, want %s (first module wins)", initRC.ModuleName, first)
	}

	onlyInB := etc.Child("only_in_b.rc")
	if onlyInB == nil {
		t.Fatalf("only_in_b.rc missing: modB must still be able to add siblings")
	}

	if onlyInB.ModuleName != "modB" {
		t.Errorf("only_in_b.rc moduleName = %q, want modB", onlyInB.ModuleName)
	}
}

// Replace directory: a module directory marked with .replace is flagged
// Replace=true and still recursed into for its own content.
func TestBuild_ReplaceDirectory(t *testing.T) {
	moduleRoot := t.TempDir()

	appDir := filepath.Join(moduleRoot, "modA", "system", "app", "Replaced")
	mustWriteFile(t, filepath.Join(appDir, "base.apk"), "apk bytes")
	mustWriteFile(t, filepath.Join(appDir, ".replace"), "")

	ctx := newTestContext(t, moduleRoot)

	root, err := Build(ctx, fakeLiveFS{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	replaced := root.Child("system").Child("app").Child("Replaced")
	if replaced == nil {
		t.Fatalf("Replaced directory missing")
	}

	if !replaced.Replace {
		t.Errorf("Replace = false, want true")
	}

	if replaced.Child("base.apk") == nil {
		t.Errorf("base.apk missing from replace directory")
	}

	// .replace itself must not appear as a child entry.
	if replaced.Child(".replace") != nil {
		t.Errorf(".replace sentinel leaked into tree as a child")
	}
}

// Scenario 5: promotion. Live system has /vendor as a real directory and
// /system/vendor as a symlink; modA/system/vendor/etc/x exists. The vendor
// node must be detached from system and attached directly to root.
func TestBuild_Promotion(t *testing.T) {
	moduleRoot := t.TempDir()
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "system", "vendor", "etc", "x"), "x")

	ctx := newTestContext(t, moduleRoot)

	live := fakeLiveFS{
		dirs:     map[string]bool{"/vendor": true},
		symlinks: map[string]bool{"/system/vendor": true},
	}

	root, err := Build(ctx, live)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	vendor := root.Child("vendor")
	if vendor == nil {
		t.Fatalf("root has no promoted vendor child")
	}

	etc := vendor.Child("etc")
	if etc == nil || etc.Child("x") == nil {
		t.Fatalf("promoted vendor subtree missing etc/x")
	}

	if root.Child("system").Child("vendor") != nil {
		t.Errorf("system still has a vendor child after promotion")
	}
}

// Extra partitions: a configured extra partition that exists as a real
// directory on the live system is populated from every enabled module's
// <module>/<name> subdirectory.
func TestBuild_ExtraPartition(t *testing.T) {
	moduleRoot := t.TempDir()
	// Only modules with a system/ directory are enabled and Phase A must
	// find content, so the module also ships one system file.
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "system", "bin", "a"), "a")
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "my_stock", "bin", "tool"), "tool")

	ctx := newTestContext(t, moduleRoot)
	ctx.ExtraPartitions = []string{"my_stock"}

	live := fakeLiveFS{dirs: map[string]bool{"/my_stock": true}}

	root, err := Build(ctx, live)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	myStock := root.Child("my_stock")
	if myStock == nil {
		t.Fatalf("root has no my_stock child")
	}

	if myStock.Child("bin").Child("tool") == nil {
		t.Fatalf("my_stock/bin/tool missing")
	}
}

// Extra partition absent on the live system is silently dropped, per Phase
// D / scenario 6.
func TestBuild_ExtraPartitionMissingOnLiveIsDropped(t *testing.T) {
	moduleRoot := t.TempDir()
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "system", "bin", "a"), "a")
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "mi_ext", "file"), "x")

	ctx := newTestContext(t, moduleRoot)
	ctx.ExtraPartitions = []string{"mi_ext"}

	root, err := Build(ctx, fakeLiveFS{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if root.Child("mi_ext") != nil {
		t.Errorf("mi_ext should have been dropped (not a directory on live system)")
	}
}

// ModulesTotal must reflect exactly the enabled modules with a system/ dir,
// compared structurally with go-cmp rather than a field-by-field check.
func TestBuild_StatsReflectEnabledModules(t *testing.T) {
	moduleRoot := t.TempDir()
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "system", "bin", "a"), "a")
	mustWriteFile(t, filepath.Join(moduleRoot, "modB", "system", "bin", "b"), "b")
	mustWriteFile(t, filepath.Join(moduleRoot, "modC", "disable"), "")
	mustMkdirAll(t, filepath.Join(moduleRoot, "modC", "system"))

	ctx := newTestContext(t, moduleRoot)

	if _, err := Build(ctx, fakeLiveFS{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := Stats{ModulesTotal: 2}
	got := Stats{ModulesTotal: ctx.Stats.ModulesTotal}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ModulesTotal mismatch (-want +got):\n%s", diff)
	}
}

// Disabled modules are skipped entirely.
func TestEnumerateModules_SkipsDisabled(t *testing.T) {
	moduleRoot := t.TempDir()
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "system", "x"), "x")
	mustWriteFile(t, filepath.Join(moduleRoot, "modA", "disable"), "")
	mustWriteFile(t, filepath.Join(moduleRoot, "modB", "system", "y"), "y")
	mustWriteFile(t, filepath.Join(moduleRoot, "modC", "system", "z"), "z")
	mustWriteFile(t, filepath.Join(moduleRoot, "modC", "remove"), "")
	mustWriteFile(t, filepath.Join(moduleRoot, "modD", "system", "w"), "w")
	mustWriteFile(t, filepath.Join(moduleRoot, "modD", "skip_mount"), "")
	mustMkdirAll(t, filepath.Join(moduleRoot, "modE")) // no system/ dir

	ctx := newTestContext(t, moduleRoot)

	modules, err := EnumerateModules(ctx)
	if err != nil {
		t.Fatalf("EnumerateModules: %v", err)
	}

	if len(modules) != 1 || modules[0].Name != "modB" {
		t.Fatalf("EnumerateModules = %+v, want only modB", modules)
	}
}
