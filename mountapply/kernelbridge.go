package mountapply

// KernelBridge is the single external operation §6 calls "markUnmountable":
// an opaque ioctl, issued through a kernel-allocated file descriptor held
// for the lifetime of the process, that hints to the kernel that a given
// mountpoint should be hidden from unprivileged namespaces.
type KernelBridge interface {
	MarkUnmountable(path string) error
	Close() error
}

// NopKernelBridge is used when the kernel bridge device cannot be opened,
// when NewApplier is given a nil bridge, and in tests that don't exercise
// the real ioctl path.
type NopKernelBridge struct{}

func (NopKernelBridge) MarkUnmountable(path string) error { return nil }
func (NopKernelBridge) Close() error                      { return nil }
