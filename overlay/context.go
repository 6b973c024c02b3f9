package overlay

// Logger receives structured progress and diagnostic messages from the
// overlay and mountapply packages.
//
// Implementations must be safe for use from a single goroutine (this package
// never logs concurrently; see §5 of the design: one process, one thread,
// no internal parallelism). cmd/magicmount adapts a *logrus.Logger to this
// interface; tests use NopLogger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger discards every message. It is the default Logger when a Context
// is constructed without one.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}

// Stats holds the aggregate counters produced by a single magic-mount run.
type Stats struct {
	ModulesTotal  int
	NodesTotal    int
	NodesMounted  int
	NodesSkipped  int
	NodesWhiteout int
	NodesFail     int
}

// Context is the process-wide mutable record described in §3 of the spec.
//
// A Context is created once at startup, mutated only by the single
// orchestrating goroutine, and discarded at exit. It is not safe for
// concurrent use.
type Context struct {
	// ModuleDir is the module root directory (default /data/adb/modules).
	ModuleDir string

	// MountSource is the label used as the `source` argument when mounting
	// tmpfs layers (default "KSU").
	MountSource string

	// ExtraPartitions are operator-configured partitions beyond the builtin
	// set (vendor, system_ext, product, odm).
	ExtraPartitions []string

	// EnableUnmountable controls whether MarkUnmountable is called for
	// applied mountpoints.
	EnableUnmountable bool

	Log Logger

	Stats Stats

	// failed tracks modules that failed during mount application. Mutated
	// only by the single orchestrating goroutine (§5); no synchronization.
	failed    []string
	failedSet map[string]struct{}
}

// NewContext returns a Context with defaults applied for zero-valued fields.
func NewContext() *Context {
	return &Context{
		ModuleDir:   "/data/adb/modules",
		MountSource: "KSU",
		Log:         NopLogger{},
		failedSet:   make(map[string]struct{}),
	}
}

// MarkFailed records moduleName as having failed during mount application.
// The list is deduplicated; repeated calls for the same module are no-ops
// after the first.
func (c *Context) MarkFailed(moduleName string) {
	if moduleName == "" {
		return
	}

	if c.failedSet == nil {
		c.failedSet = make(map[string]struct{})
	}

	if _, ok := c.failedSet[moduleName]; ok {
		return
	}

	c.failedSet[moduleName] = struct{}{}
	c.failed = append(c.failed, moduleName)
}

// FailedModules returns the deduplicated list of modules that failed during
// mount application, in the order they were first marked.
func (c *Context) FailedModules() []string {
	out := make([]string, len(c.failed))
	copy(out, c.failed)

	return out
}
