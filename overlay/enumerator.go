//go:build linux

package overlay

import (
	"os"
)

// disableSentinels are the sentinel files that, when present as a direct
// child of a module directory, disable that module entirely.
var disableSentinels = []string{"disable", "remove", "skip_mount"}

// Module describes one enabled module directory discovered under the
// module root.
type Module struct {
	// Name is the module's directory name (also Node.ModuleName).
	Name string
	// Path is the module's absolute directory path.
	Path string
	// SystemDir is the directory to scan, guaranteed to be a directory:
	// Path/system from EnumerateModules, Path/<partition> from
	// EnumeratePartitionDir.
	SystemDir string
}

// EnumerateModules iterates ctx.ModuleDir once and returns every enabled
// module that has a system/ subdirectory. Disabled modules (carrying any of
// disable/remove/skip_mount) and modules without a system/ directory are
// silently omitted, per §4.3.
//
// An unreadable module root is a hard failure (§7 "unreadable module
// directory aborts TreeBuilder with failure").
func EnumerateModules(ctx *Context) ([]Module, error) {
	names, err := ReadDirRaw(ctx.ModuleDir)
	if err != nil {
		return nil, err
	}

	modules := make([]Module, 0, len(names))

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}

		modPath, err := Join(ctx.ModuleDir, name)
		if err != nil {
			ctx.Log.Warnf("module enumeration: skipping %q: %v", name, err)

			continue
		}

		if !IsDirectory(modPath) {
			continue
		}

		if isDisabled(modPath) {
			ctx.Log.Debugf("module %q is disabled, skipping", name)

			continue
		}

		systemDir, err := Join(modPath, "system")
		if err != nil {
			continue
		}

		if !IsDirectory(systemDir) {
			ctx.Log.Debugf("module %q has no system/ directory, skipping", name)

			continue
		}

		modules = append(modules, Module{Name: name, Path: modPath, SystemDir: systemDir})
	}

	return modules, nil
}

// isDisabled reports whether any of the fixed disable sentinels exists as a
// direct child of modPath.
func isDisabled(modPath string) bool {
	for _, sentinel := range disableSentinels {
		p, err := Join(modPath, sentinel)
		if err != nil {
			continue
		}

		if Exists(p) {
			return true
		}
	}

	return false
}

// EnumeratePartitionDir enumerates every enabled module's <module>/<name>
// subdirectory, returning only modules where that subdirectory exists and
// is a directory. Used for extra partitions and for locating the promotion
// source during symlink compatibility resolution (§4.4 Phase B/D).
func EnumeratePartitionDir(ctx *Context, modules []Module, partition string) ([]Module, error) {
	out := make([]Module, 0, len(modules))

	for _, m := range modules {
		dir, err := Join(m.Path, partition)
		if err != nil {
			continue
		}

		if IsDirectory(dir) {
			out = append(out, Module{Name: m.Name, Path: m.Path, SystemDir: dir})
		}
	}

	return out, nil
}
