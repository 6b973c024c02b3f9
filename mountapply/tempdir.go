//go:build linux

package mountapply

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// tmpfsMagic is statfs(2)'s f_type value for TMPFS_MAGIC.
const tmpfsMagic = 0x01021994

// candidateWorkdirParents is the fixed, ordered list TempdirSelector probes
// for a writable tmpfs-backed directory to host the workdir.
var candidateWorkdirParents = []string{"/mnt/vendor", "/mnt", "/debug_ramdisk"}

// fallbackWorkdirParent is returned when none of candidateWorkdirParents is
// usable.
const fallbackWorkdirParent = "/dev/.magic_mount"

const workdirLeaf = ".magic_mount"

// SelectTempDir picks the workdir parent directory per §4.6: the first
// candidate that is a directory, is tmpfs-backed, and accepts a probe file,
// joined with ".magic_mount"; failing all candidates, the fixed fallback.
func SelectTempDir() string {
	for _, candidate := range candidateWorkdirParents {
		if isUsableTmpfs(candidate) {
			return filepath.Join(candidate, workdirLeaf)
		}
	}

	return fallbackWorkdirParent
}

func isUsableTmpfs(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}

	if uint32(st.Type) != tmpfsMagic {
		return false
	}

	probe, err := os.CreateTemp(path, ".mm-probe-*")
	if err != nil {
		return false
	}

	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	return true
}
