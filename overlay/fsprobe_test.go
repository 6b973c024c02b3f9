//go:build linux

package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		mode uint32
		rdev uint64
		want Kind
	}{
		{name: "regular", mode: unix.S_IFREG, want: Regular},
		{name: "directory", mode: unix.S_IFDIR, want: Directory},
		{name: "symlink", mode: unix.S_IFLNK, want: Symlink},
		{name: "chardev rdev=0 is whiteout", mode: unix.S_IFCHR, rdev: 0, want: Whiteout},
		{name: "chardev rdev=42 is still whiteout (catch-all)", mode: unix.S_IFCHR, rdev: 42, want: Whiteout},
		{name: "fifo falls to whiteout catch-all", mode: unix.S_IFIFO, want: Whiteout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := unix.Stat_t{Mode: tt.mode, Rdev: tt.rdev}

			got := Classify(&st)
			if got != tt.want {
				t.Errorf("Classify(mode=%#o, rdev=%d) = %v, want %v", tt.mode, tt.rdev, got, tt.want)
			}
		})
	}
}

func TestIsReplaceDirSentinelFile(t *testing.T) {
	root := t.TempDir()

	withDot := filepath.Join(root, "withDot")
	if err := os.Mkdir(withDot, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(withDot, ".replace"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	withoutDot := filepath.Join(root, "withoutDot")
	if err := os.Mkdir(withoutDot, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(withoutDot, "replace"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	plain := filepath.Join(root, "plain")
	if err := os.Mkdir(plain, 0o755); err != nil {
		t.Fatal(err)
	}

	if !IsReplaceDir(withDot) {
		t.Errorf("directory containing .replace: expected true")
	}

	if IsReplaceDir(withoutDot) {
		t.Errorf("directory containing replace (no dot): expected false")
	}

	if IsReplaceDir(plain) {
		t.Errorf("plain directory: expected false")
	}

	if IsReplaceDir(filepath.Join(root, "missing")) {
		t.Errorf("missing directory: expected false, not an error")
	}
}

func TestReadDirRawMatchesContents(t *testing.T) {
	root := t.TempDir()

	want := map[string]bool{"a": true, "b": true, "c": true}
	for name := range want {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	names, err := ReadDirRaw(root)
	if err != nil {
		t.Fatalf("ReadDirRaw: %v", err)
	}

	got := map[string]bool{}
	for _, n := range names {
		got[n] = true
	}

	if len(got) != len(want) {
		t.Fatalf("ReadDirRaw returned %v, want entries %v", names, want)
	}

	for n := range want {
		if !got[n] {
			t.Errorf("ReadDirRaw missing entry %q", n)
		}
	}
}
