//go:build linux

package mountapply

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/ksu-overlay/magic-mount/overlay"
)

// Result is what Apply returns on a (possibly partially) successful run.
type Result struct {
	Stats         overlay.Stats
	FailedModules []string
}

// Applier realises an overlay tree onto the live filesystem, per §4.5.
type Applier struct {
	ctx    *overlay.Context
	bridge KernelBridge
}

// NewApplier builds an Applier. A nil bridge is replaced with NopKernelBridge.
func NewApplier(ctx *overlay.Context, bridge KernelBridge) *Applier {
	if bridge == nil {
		bridge = NopKernelBridge{}
	}

	return &Applier{ctx: ctx, bridge: bridge}
}

// Apply runs the MountApplier preparation and per-node recursion described
// in §4.5, starting from root at live path "/". workdirParent is the
// directory selected by TempdirSelector (or overridden by temp_dir config).
//
// Apply returns a non-nil error only for the fail-closed case: the workdir
// tmpfs itself could not be created, or the root-level recursion aborted
// while building a synthetic tmpfs. All other per-node failures are
// recorded in Stats/FailedModules and do not fail the run.
func (a *Applier) Apply(root *overlay.Node, workdirParent string) (*Result, error) {
	return a.applyAt(root, "/", workdirParent)
}

// applyAt is Apply with the live root path overridable, so tests can drive
// the real recursion against a throwaway directory instead of the live "/".
func (a *Applier) applyAt(root *overlay.Node, liveRoot, workdirParent string) (*Result, error) {
	workdir, err := overlay.Join(workdirParent, "workdir")
	if err != nil {
		return nil, fmt.Errorf("workdir path: %w", err)
	}

	if err := a.prepareWorkdir(workdir); err != nil {
		return nil, fmt.Errorf("prepare workdir: %w", err)
	}

	defer a.teardownWorkdir(workdir)

	if err := a.applyNode(root, liveRoot, workdir, false, ""); err != nil {
		return nil, fmt.Errorf("apply overlay tree: %w", err)
	}

	return &Result{Stats: a.ctx.Stats, FailedModules: a.ctx.FailedModules()}, nil
}

func (a *Applier) prepareWorkdir(workdir string) error {
	if mounted, err := isMounted(workdir); err == nil && mounted {
		a.ctx.Log.Warnf("stale workdir mount at %s from a previous run, detaching", workdir)
		_ = unix.Unmount(workdir, unix.MNT_DETACH)
	}

	if err := overlay.MkdirP(workdir); err != nil {
		return fmt.Errorf("mkdirP %s: %w", workdir, err)
	}

	if err := mount.Mount(a.ctx.MountSource, workdir, "tmpfs", ""); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", workdir, err)
	}

	if err := mount.MakeRPrivate(workdir); err != nil {
		a.ctx.Log.Warnf("make-rprivate workdir %s: %v", workdir, err)
	}

	return nil
}

func (a *Applier) teardownWorkdir(workdir string) {
	if err := unix.Unmount(workdir, unix.MNT_DETACH); err != nil {
		a.ctx.Log.Warnf("detach-unmount workdir %s: %v", workdir, err)
	}

	if err := os.Remove(workdir); err != nil {
		a.ctx.Log.Warnf("rmdir workdir %s: %v", workdir, err)
	}
}

func isMounted(path string) (bool, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(path))
	if err != nil {
		return false, err
	}

	return len(mounts) > 0, nil
}

// applyNode dispatches on node.Kind. ownerModule is the nearest enclosing
// moduleName, used to attribute failures on nodes/mirrored entries that
// have none of their own (§4.5 "Failure semantics in apply").
func (a *Applier) applyNode(node *overlay.Node, livePath, workPath string, hasTmpfs bool, ownerModule string) error {
	if node.ModuleName != "" {
		ownerModule = node.ModuleName
	}

	a.ctx.Stats.NodesTotal++

	switch node.Kind {
	case overlay.Regular:
		return a.applyRegular(node, livePath, workPath, hasTmpfs)
	case overlay.Symlink:
		return a.applySymlink(node, workPath)
	case overlay.Whiteout:
		a.ctx.Log.Debugf("whiteout at %s", livePath)
		a.ctx.Stats.NodesWhiteout++

		return nil
	case overlay.Directory:
		return a.applyDirectory(node, livePath, workPath, hasTmpfs, ownerModule)
	default:
		return fmt.Errorf("apply %s: node has unknown kind %v", livePath, node.Kind)
	}
}

func (a *Applier) applyRegular(node *overlay.Node, livePath, workPath string, hasTmpfs bool) error {
	target := livePath
	if hasTmpfs {
		target = workPath
	}

	if err := overlay.MkdirP(filepath.Dir(target)); err != nil {
		return fmt.Errorf("mkdirP %s: %w", filepath.Dir(target), err)
	}

	if err := touchFile(target); err != nil {
		return fmt.Errorf("touch %s: %w", target, err)
	}

	if err := mount.Mount(node.ModulePath, target, "", "bind"); err != nil {
		return fmt.Errorf("bind mount %s onto %s: %w", node.ModulePath, target, err)
	}

	if !hasTmpfs && a.ctx.EnableUnmountable {
		if err := a.bridge.MarkUnmountable(target); err != nil {
			a.ctx.Log.Warnf("markUnmountable %s: %v", target, err)
		}
	}

	if err := mount.Mount("", target, "", "remount,bind,ro"); err != nil {
		a.ctx.Log.Warnf("remount-ro %s: %v", target, err)
	}

	a.ctx.Stats.NodesMounted++

	return nil
}

func (a *Applier) applySymlink(node *overlay.Node, workPath string) error {
	target, err := overlay.ReadLink(node.ModulePath)
	if err != nil {
		return fmt.Errorf("read module symlink %s: %w", node.ModulePath, err)
	}

	if err := overlay.MkdirP(filepath.Dir(workPath)); err != nil {
		return fmt.Errorf("mkdirP %s: %w", filepath.Dir(workPath), err)
	}

	if err := os.Symlink(target, workPath); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", workPath, target, err)
	}

	if err := overlay.SelinuxCopy(node.ModulePath, workPath); err != nil {
		a.ctx.Log.Warnf("selinux copy for symlink %s: %v", workPath, err)
	}

	a.ctx.Stats.NodesMounted++

	return nil
}

func (a *Applier) applyDirectory(node *overlay.Node, livePath, workPath string, hasTmpfs bool, ownerModule string) error {
	liveExists := overlay.IsDirectory(livePath)

	nowTmp := hasTmpfs
	createTmp := false

	if !nowTmp {
		createTmp = node.Replace && node.ModulePath != ""
		if !createTmp && a.needsTmpfs(node, livePath) {
			createTmp = true
		}

		nowTmp = createTmp
	}

	if nowTmp {
		if err := overlay.MkdirP(workPath); err != nil {
			return fmt.Errorf("mkdirP workdir %s: %w", workPath, err)
		}

		if err := a.copyDirMetadata(node, livePath, workPath); err != nil {
			a.ctx.Log.Warnf("copy dir metadata onto %s: %v", workPath, err)
		}

		if createTmp {
			if err := mount.Mount(workPath, workPath, "", "bind"); err != nil {
				return fmt.Errorf("self-bind %s: %w", workPath, err)
			}
		}
	}

	if liveExists && !node.Replace {
		if err := a.applyExistingChildren(node, livePath, workPath, nowTmp, ownerModule); err != nil {
			return err
		}
	}

	if err := a.applyModuleOnlyChildren(node, livePath, workPath, nowTmp, ownerModule); err != nil {
		return err
	}

	if createTmp {
		if err := overlay.MkdirP(livePath); err != nil {
			return fmt.Errorf("mkdirP live dir %s: %w", livePath, err)
		}

		if err := mount.Mount("", workPath, "", "remount,bind,ro"); err != nil {
			a.ctx.Log.Warnf("remount-ro %s: %v", workPath, err)
		}

		if err := mount.Mount(workPath, livePath, "", "move"); err != nil {
			return fmt.Errorf("move-mount %s onto %s: %w", workPath, livePath, err)
		}

		if err := mount.MakeRPrivate(livePath); err != nil {
			a.ctx.Log.Warnf("make-rprivate %s: %v", livePath, err)
		}

		if a.ctx.EnableUnmountable {
			if err := a.bridge.MarkUnmountable(livePath); err != nil {
				a.ctx.Log.Warnf("markUnmountable %s: %v", livePath, err)
			}
		}

		a.ctx.Stats.NodesMounted++
	}

	return nil
}

// applyExistingChildren is step 3 of the Directory process: the mirror +
// overlay pass over the live directory's current entries.
func (a *Applier) applyExistingChildren(node *overlay.Node, livePath, workPath string, nowTmp bool, ownerModule string) error {
	names, err := overlay.ReadDirRaw(livePath)
	if err != nil {
		a.ctx.Log.Warnf("read live dir %s: %v", livePath, err)

		return nil
	}

	for _, name := range names {
		childLive, err := overlay.Join(livePath, name)
		if err != nil {
			continue
		}

		childWork, err := overlay.Join(workPath, name)
		if err != nil {
			continue
		}

		if child := node.Child(name); child != nil {
			child.Done = true

			if child.Skip {
				continue
			}

			if err := a.applyNode(child, childLive, childWork, nowTmp, ownerModule); err != nil {
				a.ctx.Stats.NodesFail++
				a.ctx.MarkFailed(failureModule(child, ownerModule))

				if nowTmp {
					return fmt.Errorf("apply %s: %w", childLive, err)
				}

				a.ctx.Log.Errorf("apply %s: %v", childLive, err)
			}

			continue
		}

		if !nowTmp {
			continue
		}

		if err := a.mirrorEntry(childLive, childWork); err != nil {
			a.ctx.Stats.NodesFail++
			a.ctx.MarkFailed(ownerModule)

			return fmt.Errorf("mirror %s: %w", childLive, err)
		}
	}

	return nil
}

// applyModuleOnlyChildren is step 4: entries that exist in the tree but
// were never visited by the existing-children pass (module-only content,
// or there was no live directory at all).
func (a *Applier) applyModuleOnlyChildren(node *overlay.Node, livePath, workPath string, nowTmp bool, ownerModule string) error {
	for _, child := range node.Children {
		if child.Skip || child.Done {
			continue
		}

		childLive, err := overlay.Join(livePath, child.Name)
		if err != nil {
			continue
		}

		childWork, err := overlay.Join(workPath, child.Name)
		if err != nil {
			continue
		}

		if err := a.applyNode(child, childLive, childWork, nowTmp, ownerModule); err != nil {
			a.ctx.Stats.NodesFail++
			a.ctx.MarkFailed(failureModule(child, ownerModule))

			if nowTmp {
				return fmt.Errorf("apply %s: %w", childLive, err)
			}

			a.ctx.Log.Errorf("apply %s: %v", childLive, err)
		}
	}

	return nil
}

// needsTmpfs implements the Step-1 child probe. A child that needs tmpfs
// but whose parent has no modulePath (no source for directory metadata) is
// marked Skip instead of forcing its parent into tmpfs mode. A Skip'd child
// never reaches applyNode, so it is counted into NodesTotal here, at the
// point it's excluded, to keep nodes_mounted+nodes_whiteout+nodes_skipped+
// nodes_fail <= nodes_total.
func (a *Applier) needsTmpfs(node *overlay.Node, liveDirPath string) bool {
	need := false

	for _, child := range node.Children {
		if !childNeedsTmpfs(child, liveDirPath) {
			continue
		}

		if node.ModulePath == "" {
			child.Skip = true
			a.ctx.Stats.NodesTotal++
			a.ctx.Stats.NodesSkipped++

			continue
		}

		need = true
	}

	return need
}

func childNeedsTmpfs(child *overlay.Node, liveDirPath string) bool {
	if child.Kind == overlay.Symlink {
		return true
	}

	childLive, err := overlay.Join(liveDirPath, child.Name)
	if err != nil {
		return false
	}

	if child.Kind == overlay.Whiteout {
		return overlay.Exists(childLive)
	}

	if !overlay.Exists(childLive) {
		return false
	}

	liveKind, _, err := overlay.LstatClassify(childLive)
	if err != nil {
		return false
	}

	return liveKind == overlay.Symlink || liveKind != child.Kind
}

// mirrorEntry copies a live-only entry (not present in the tree) into the
// tmpfs being built, per step 3's mirror operation.
func (a *Applier) mirrorEntry(livePath, workPath string) error {
	kind, _, err := overlay.LstatClassify(livePath)
	if err != nil {
		return err
	}

	switch kind {
	case overlay.Directory:
		return a.mirrorDirectory(livePath, workPath)
	case overlay.Symlink:
		target, err := overlay.ReadLink(livePath)
		if err != nil {
			return err
		}

		return os.Symlink(target, workPath)
	default:
		if err := touchFile(workPath); err != nil {
			return err
		}

		return mount.Mount(livePath, workPath, "", "bind")
	}
}

func (a *Applier) mirrorDirectory(livePath, workPath string) error {
	if err := overlay.MkdirP(workPath); err != nil {
		return err
	}

	if err := copyDirStat(livePath, workPath); err != nil {
		a.ctx.Log.Warnf("copy mode/owner for mirrored dir %s: %v", workPath, err)
	}

	if err := overlay.SelinuxCopy(livePath, workPath); err != nil {
		a.ctx.Log.Warnf("selinux copy for mirrored dir %s: %v", workPath, err)
	}

	names, err := overlay.ReadDirRaw(livePath)
	if err != nil {
		return err
	}

	for _, name := range names {
		childLive, err := overlay.Join(livePath, name)
		if err != nil {
			continue
		}

		childWork, err := overlay.Join(workPath, name)
		if err != nil {
			continue
		}

		if err := a.mirrorEntry(childLive, childWork); err != nil {
			return fmt.Errorf("mirror %s: %w", childLive, err)
		}
	}

	return nil
}

// copyDirMetadata copies mode/owner/SELinux context onto a freshly created
// workdir directory, sourced from the live directory if it exists, else
// from the module's own directory (step 2 of the Directory process).
func (a *Applier) copyDirMetadata(node *overlay.Node, livePath, workPath string) error {
	source := livePath
	if !overlay.IsDirectory(source) {
		source = node.ModulePath
	}

	if source == "" {
		return nil
	}

	if err := copyDirStat(source, workPath); err != nil {
		return err
	}

	return overlay.SelinuxCopy(source, workPath)
}

func copyDirStat(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	if err := os.Chmod(dest, info.Mode().Perm()); err != nil {
		return err
	}

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	return os.Chown(dest, int(st.Uid), int(st.Gid))
}

func touchFile(path string) error {
	if overlay.Exists(path) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	return f.Close()
}

func failureModule(node *overlay.Node, fallback string) string {
	if node.ModuleName != "" {
		return node.ModuleName
	}

	return fallback
}

