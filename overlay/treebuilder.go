//go:build linux

package overlay

import (
	"fmt"
)

// builtinSymlinkPartitions is the fixed list consulted during Phase B
// (symlink compatibility), in addition to any operator-configured extra
// partitions.
var builtinSymlinkPartitions = []string{"vendor", "system_ext", "product", "odm"}

// promotionPartitions is the fixed, ordered list consulted during Phase C
// (partition promotion). needSymlink encodes whether promotion additionally
// requires /system/<name> to be a symlink on the live system.
var promotionPartitions = []struct {
	name        string
	needSymlink bool
}{
	{"vendor", true},
	{"system_ext", true},
	{"product", true},
	{"odm", false},
}

// partitionBlacklist is the fixed set of first-path-segment names that an
// operator-configured extra partition may not use. The comparison is
// case-sensitive, preserving the source's documented (possibly buggy)
// behaviour — see §9.
var partitionBlacklist = map[string]struct{}{
	"bin": {}, "etc": {}, "data": {}, "data_mirror": {}, "sdcard": {},
	"tmp": {}, "dev": {}, "sys": {}, "mnt": {}, "proc": {}, "d": {},
	"test": {}, "product": {}, "vendor": {}, "system_ext": {}, "odm": {},
}

// LiveFS abstracts the probes TreeBuilder makes against the live root
// filesystem (Phases B/C), so tests can substitute a fake layout instead of
// requiring a real Android-like root.
type LiveFS interface {
	IsDirectory(path string) bool
	IsSymlink(path string) bool
}

// osLiveFS is the real LiveFS, backed by lstat/stat of the actual root.
type osLiveFS struct{}

func (osLiveFS) IsDirectory(path string) bool { return IsDirectory(path) }
func (osLiveFS) IsSymlink(path string) bool   { return IsSymlink(path) }

// OSLiveFS is the default LiveFS, probing the real live filesystem.
var OSLiveFS LiveFS = osLiveFS{}

// Build runs TreeBuilder's Phases A-E and returns the merged overlay tree.
//
// If every enabled module contributed zero effective entries, Build returns
// (nil, ErrNoContent); callers should treat this as success.
func Build(ctx *Context, live LiveFS) (*Node, error) {
	modules, err := EnumerateModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate modules: %w", err)
	}

	ctx.Stats.ModulesTotal = len(modules)

	root := NewRoot()
	system := &Node{Name: "system", Kind: Directory}

	anyContent := false

	for _, m := range modules {
		has, err := scanInto(ctx, system, m.SystemDir, m.Name)
		if err != nil {
			ctx.Log.Warnf("module %q: scanning system/: %v", m.Name, err)
			ctx.MarkFailed(m.Name)

			continue
		}

		if has {
			anyContent = true
		}
	}

	if !anyContent {
		return nil, ErrNoContent
	}

	err = resolveSymlinkCompatibility(ctx, system, modules, live)
	if err != nil {
		return nil, fmt.Errorf("phase B (symlink compatibility): %w", err)
	}

	promotePartitions(system, root, live)

	err = attachExtraPartitions(ctx, root, modules, live)
	if err != nil {
		return nil, fmt.Errorf("phase D (extra partitions): %w", err)
	}

	root.AddChild(system)

	return root, nil
}

// scanInto recursively merges dir (an absolute path under some module) into
// parent, attributing new nodes to moduleName. It implements Phase A's
// first-module-wins merge: an existing child's identity is never
// overwritten, but is still recursed into so later modules can contribute
// descendants that do not yet exist.
//
// It returns whether dir contributed any content: at least one newly
// created node anywhere below parent (a new directory counts, whether or
// not it is marked replace). Recursing into nodes that already existed
// contributes nothing by itself.
func scanInto(ctx *Context, parent *Node, dir, moduleName string) (bool, error) {
	names, err := ReadDirRaw(dir)
	if err != nil {
		return false, err
	}

	contributed := false

	for _, name := range names {
		if name == replaceSentinelFile {
			// The sentinel itself marks its parent directory as Replace
			// (handled above, when the parent node is created) and never
			// appears as a node in its own right.
			continue
		}

		entryPath, err := Join(dir, name)
		if err != nil {
			ctx.Log.Warnf("module %q: %v", moduleName, err)

			continue
		}

		kind, _, err := LstatClassify(entryPath)
		if err != nil {
			ctx.Log.Warnf("module %q: lstat %q: %v", moduleName, entryPath, err)

			continue
		}

		child := parent.Child(name)
		firstSeen := child == nil

		if firstSeen {
			child = &Node{Name: name, Kind: kind, ModulePath: entryPath, ModuleName: moduleName}

			if kind == Directory && IsReplaceDir(entryPath) {
				child.Replace = true
			}

			parent.AddChild(child)
			contributed = true
		}

		if child.Kind != Directory {
			// Only directories recurse; a later module cannot add
			// descendants under a file/symlink/whiteout leaf that an
			// earlier module already claimed.
			continue
		}

		childHasContent, err := scanInto(ctx, child, entryPath, moduleName)
		if err != nil {
			ctx.Log.Warnf("module %q: scanning %q: %v", moduleName, entryPath, err)

			continue
		}

		if childHasContent {
			contributed = true
		}
	}

	return contributed, nil
}
