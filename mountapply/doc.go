// Package mountapply realises an overlay tree built by package overlay onto
// the live filesystem and the kernel's mount table: deciding per node
// whether a plain bind-mount suffices or whether the containing directory
// must be rewritten as a synthetic tmpfs, then issuing the bind, tmpfs,
// remount, and move-mount operations through github.com/moby/sys/mount.
package mountapply
