//go:build linux

package mountapply

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kernelDevicePath is the character device backing the root-privileged
// kernel module that accepts the unmountable-mark ioctl. It is opened once
// per process and kept for the process lifetime, matching §9's "lazily
// initialised kernel FD... single-init guarantee".
const kernelDevicePath = "/dev/ksu"

// ioctlMarkUnmountable is the opaque ioctl request number the kernel module
// expects for "hide this mountpoint from unprivileged namespaces". Its
// encoding is owned by the kernel side of the bridge, not by this package.
const ioctlMarkUnmountable = 0xc0185301

const pathBufferSize = 4096

type ioctlKernelBridge struct {
	fd int
}

// NewIoctlKernelBridge opens the kernel bridge device once and returns a
// KernelBridge backed by it. Callers should Close it when done.
func NewIoctlKernelBridge() (KernelBridge, error) {
	fd, err := unix.Open(kernelDevicePath, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open kernel bridge device %q: %w", kernelDevicePath, err)
	}

	return &ioctlKernelBridge{fd: fd}, nil
}

func (k *ioctlKernelBridge) MarkUnmountable(path string) error {
	if len(path) >= pathBufferSize {
		return fmt.Errorf("markUnmountable: path %q exceeds ioctl buffer", path)
	}

	var buf [pathBufferSize]byte
	copy(buf[:], path)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(k.fd), uintptr(ioctlMarkUnmountable), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return fmt.Errorf("markUnmountable ioctl for %q: %w", path, errno)
	}

	return nil
}

func (k *ioctlKernelBridge) Close() error {
	if k.fd < 0 {
		return nil
	}

	err := unix.Close(k.fd)
	k.fd = -1

	return err
}
