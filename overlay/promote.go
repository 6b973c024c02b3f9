//go:build linux

package overlay

import (
	"fmt"
	"strings"
)

// ValidateExtraPartition checks name against the fixed blacklist (§4.4
// "Extra-partition blacklist") and rejects empty/whitespace-only names.
//
// The blacklist comparison uses the first path segment (leading "/"
// stripped) as-is, and is case-sensitive against the lowercase blacklist
// set — see §9's documented quirk: an extra partition named with uppercase
// bypasses the blacklist. This function reproduces that behaviour rather
// than fixing it.
func ValidateExtraPartition(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty partition name", ErrBlacklistedPartition)
	}

	first := strings.TrimPrefix(name, "/")
	if idx := strings.Index(first, "/"); idx >= 0 {
		first = first[:idx]
	}

	if _, blacklisted := partitionBlacklist[first]; blacklisted {
		return fmt.Errorf("%w: %q", ErrBlacklistedPartition, name)
	}

	return nil
}

// resolveSymlinkCompatibility implements Phase B.
//
// For each partition name in builtinSymlinkPartitions ∪ ctx.ExtraPartitions,
// it looks for a module-contributed Symlink child of system named P; if
// that symlink's target is compatible (../P or <moduleDir>/<module>/P), it
// is replaced by a freshly scanned Directory sourced from the first enabled
// module that has a real <module>/P directory.
func resolveSymlinkCompatibility(ctx *Context, system *Node, modules []Module, live LiveFS) error {
	names := append([]string{}, builtinSymlinkPartitions...)
	names = append(names, ctx.ExtraPartitions...)

	for _, p := range names {
		err := resolveOneSymlinkPartition(ctx, system, modules, p)
		if err != nil {
			return err
		}
	}

	return nil
}

func resolveOneSymlinkPartition(ctx *Context, system *Node, modules []Module, partition string) error {
	existing := system.Child(partition)
	if existing == nil || existing.Kind != Symlink || existing.ModulePath == "" {
		return nil
	}

	target, err := ReadLink(existing.ModulePath)
	if err != nil {
		ctx.Log.Warnf("phase B: reading symlink %q: %v", existing.ModulePath, err)

		return nil
	}

	target = strings.TrimRight(target, "/")

	if !isCompatibleSymlinkTarget(target, ctx.ModuleDir, existing.ModuleName, partition) {
		ctx.Log.Debugf("phase B: module %q symlink for %q targets %q, incompatible, leaving in place", existing.ModuleName, partition, target)

		return nil
	}

	sourceModules, err := EnumeratePartitionDir(ctx, modules, partition)
	if err != nil {
		return err
	}

	if len(sourceModules) == 0 {
		ctx.Log.Debugf("phase B: no module provides %s/, keeping symlink", partition)

		return nil
	}

	winner := sourceModules[0]

	fresh := &Node{Name: partition, Kind: Directory}

	hasContent, err := scanInto(ctx, fresh, winner.SystemDir, winner.Name)
	if err != nil {
		return fmt.Errorf("phase B: scanning %s for promotion: %w", partition, err)
	}

	if !hasContent {
		ctx.Log.Debugf("phase B: promoted scan of %s produced no content, keeping symlink", partition)

		return nil
	}

	system.RemoveChild(partition)
	fresh.ModuleName = winner.Name
	system.AddChild(fresh)

	return nil
}

// isCompatibleSymlinkTarget reports whether a module's system/<P> symlink
// target is one of the two forms the spec recognises as "redirect back to
// the same partition" rather than "redirect somewhere else".
func isCompatibleSymlinkTarget(target, moduleDir, moduleName, partition string) bool {
	if target == "../"+partition {
		return true
	}

	expected, err := Join(moduleDir, moduleName)
	if err != nil {
		return false
	}

	expected, err = Join(expected, partition)
	if err != nil {
		return false
	}

	return target == expected
}

// promotePartitions implements Phase C: for each (name, needSymlink) in the
// fixed promotion list, relocate system's child named name directly under
// root when the live filesystem layout calls for it.
func promotePartitions(system, root *Node, live LiveFS) {
	for _, p := range promotionPartitions {
		livePath := "/" + p.name
		if !live.IsDirectory(livePath) {
			continue
		}

		if p.needSymlink {
			systemLive := "/system/" + p.name
			if !live.IsSymlink(systemLive) {
				continue
			}
		}

		child := system.RemoveChild(p.name)
		if child != nil {
			root.AddChild(child)
		}
	}
}

// attachExtraPartitions implements Phase D: for each operator-configured
// extra partition that exists as a real directory on the live system,
// create a fresh Directory child under root populated from every enabled
// module's <module>/<name> subdirectory.
func attachExtraPartitions(ctx *Context, root *Node, modules []Module, live LiveFS) error {
	for _, name := range ctx.ExtraPartitions {
		livePath := "/" + name
		if !live.IsDirectory(livePath) {
			continue
		}

		fresh := &Node{Name: name, Kind: Directory}

		contributorModules, err := EnumeratePartitionDir(ctx, modules, name)
		if err != nil {
			return err
		}

		anyContent := false

		for _, m := range contributorModules {
			has, err := scanInto(ctx, fresh, m.SystemDir, m.Name)
			if err != nil {
				ctx.Log.Warnf("module %q: scanning extra partition %q: %v", m.Name, name, err)
				ctx.MarkFailed(m.Name)

				continue
			}

			if has {
				anyContent = true
			}
		}

		if !anyContent {
			continue
		}

		root.AddChild(fresh)
	}

	return nil
}
