//go:build linux

package overlay

import (
	"os"

	"golang.org/x/sys/unix"
)

// replaceOpaqueXattr is the overlayfs "opaque directory" xattr.
const replaceOpaqueXattr = "trusted.overlay.opaque"

// replaceSentinelFile is the alternative, xattr-free way to mark a directory
// for opaque replace.
const replaceSentinelFile = ".replace"

// Classify maps a raw lstat result to a Kind.
//
// A character device with rdev==0 is the overlayfs whiteout convention and
// is reported as Whiteout; any other "exotic" node type (block device,
// fifo, socket, character device with a real rdev) also falls through to
// Whiteout as the catch-all, per §4.2.
func Classify(st *unix.Stat_t) Kind {
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		return Regular
	case unix.S_IFDIR:
		return Directory
	case unix.S_IFLNK:
		return Symlink
	default:
		// Character devices (the overlayfs whiteout convention uses rdev==0,
		// but any chardev here is uninteresting to us) and every other node
		// type fall through to the Whiteout catch-all.
		return Whiteout
	}
}

// LstatClassify lstats path and classifies the result. The returned *unix.Stat_t
// is nil on error.
func LstatClassify(path string) (Kind, *unix.Stat_t, error) {
	var st unix.Stat_t

	err := unix.Lstat(path, &st)
	if err != nil {
		return 0, nil, err
	}

	return Classify(&st), &st, nil
}

// IsReplaceDir reports whether directory path is marked for "opaque
// replace" semantics: either the xattr trusted.overlay.opaque reads the
// single character "y", or a sentinel file named .replace exists directly
// inside it.
//
// Any error reading the xattr or opening the directory is treated as "not
// replace", per §4.2.
func IsReplaceDir(path string) bool {
	buf := make([]byte, 1)

	n, err := unix.Lgetxattr(path, replaceOpaqueXattr, buf)
	if err == nil && n == 1 && buf[0] == 'y' {
		return true
	}

	sentinel, joinErr := Join(path, replaceSentinelFile)
	if joinErr != nil {
		return false
	}

	_, statErr := os.Lstat(sentinel)

	return statErr == nil
}

// ReadLink reads the link target of a symlink.
func ReadLink(path string) (string, error) {
	return os.Readlink(path)
}

// ReadDirRaw returns the names of dir's entries in raw OS-directory order
// (i.e. whatever order the kernel's readdir(2) delivers), unlike
// os.ReadDir, which sorts its result by filename.
//
// §4.4 defines module-merge priority in terms of "OS-directory order", so
// TreeBuilder and ModuleEnumerator both use this instead of os.ReadDir.
func ReadDirRaw(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	return names, nil
}
