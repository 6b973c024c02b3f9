//go:build linux

package overlay

import (
	"errors"
	"fmt"
	"os"
	"strings"

	selinux "github.com/opencontainers/selinux/go-selinux"
)

// pathMax bounds the result of Join, mirroring the kernel's PATH_MAX on
// Linux (include/uapi/linux/limits.h).
const pathMax = 4096

// ErrNameTooLong is returned by Join when the joined result would not fit in
// PATH_MAX-1 bytes.
var ErrNameTooLong = errors.New("overlay: joined path exceeds PATH_MAX")

// Join concatenates base and name with a single "/" separator, avoiding
// doubled slashes and respecting base == "/".
//
// Empty name returns base unchanged. No normalisation beyond separator
// handling is performed: ".." and "." are not resolved.
func Join(base, name string) (string, error) {
	if name == "" {
		return base, nil
	}

	var joined string

	switch {
	case base == "":
		joined = name
	case strings.HasSuffix(base, "/"):
		joined = base + name
	default:
		joined = base + "/" + name
	}

	if len(joined) > pathMax-1 {
		return "", fmt.Errorf("%w: %q + %q", ErrNameTooLong, base, name)
	}

	return joined, nil
}

// Exists reports whether path has any directory entry at all (lstat-based,
// so it is true even for a dangling symlink or a whiteout device node).
func Exists(path string) bool {
	_, err := os.Lstat(path)

	return err == nil
}

// IsDirectory reports whether path exists and, after following symlinks, is
// a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// IsSymlink reports whether path exists and is itself a symbolic link
// (lstat-based, does not follow).
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)

	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// MkdirP creates every missing ancestor of path with mode 0755, returning
// success if the final directory exists afterward (idempotent).
func MkdirP(path string) error {
	err := os.MkdirAll(path, 0o755)
	if err != nil {
		return fmt.Errorf("mkdir -p %q: %w", path, err)
	}

	return nil
}

// SelinuxGet reads the security.selinux xattr of path itself (not
// following symlinks). Empty path is a no-op returning "".
func SelinuxGet(path string) string {
	if path == "" {
		return ""
	}

	label, err := selinux.FileLabel(path)
	if err != nil {
		return ""
	}

	return label
}

// SelinuxSet writes the security.selinux xattr of path itself (not
// following symlinks). Empty path or empty label is a no-op.
func SelinuxSet(path, label string) error {
	if path == "" || label == "" {
		return nil
	}

	err := selinux.SetFileLabel(path, label)
	if err != nil {
		return fmt.Errorf("selinux.set %q=%q: %w", path, label, err)
	}

	return nil
}

// SelinuxCopy copies the security.selinux xattr from src to dst, both using
// the link-itself (non-following) xattr variants. A missing or empty label
// on src is a silent no-op, matching PathOps.selinux's "empty arguments are
// a no-op" contract.
func SelinuxCopy(src, dst string) error {
	label := SelinuxGet(src)
	if label == "" {
		return nil
	}

	return SelinuxSet(dst, label)
}
