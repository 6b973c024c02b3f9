//go:build linux

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ksu-overlay/magic-mount/mountapply"
	"github.com/ksu-overlay/magic-mount/overlay"
)

// Run is the process entry point, isolated from global state (stdout,
// stderr, os.Args) so it can be exercised from tests.
func Run(stdout, stderr io.Writer, args []string) int {
	log := newBufferedLogger()

	flags, fs, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)

		return 2
	}

	if flags.Help {
		fmt.Fprintln(stdout, fs.FlagUsages())

		return 0
	}

	if err := checkRoot(); err != nil {
		if errors.Is(err, overlay.ErrNotRoot) {
			fmt.Fprintln(stderr, "magicmount:", err)
		} else {
			fmt.Fprintln(stderr, err)
		}

		return 1
	}

	configPath := flags.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	fileCfg, err := parseConfigFile(configPath, log.Warnf)
	if err != nil {
		fmt.Fprintln(stderr, err)

		return 1
	}

	ctx := overlay.NewContext()
	ctx.Log = log

	debug := fileCfg.Debug
	enableUnmountable := true

	if fileCfg.UmountSet {
		enableUnmountable = fileCfg.Umount
	}

	logFile := fileCfg.LogFile
	tempDirOverride := fileCfg.TempDir

	if fileCfg.ModuleDir != "" {
		ctx.ModuleDir = fileCfg.ModuleDir
	}

	if fileCfg.MountSource != "" {
		ctx.MountSource = fileCfg.MountSource
	}

	ctx.ExtraPartitions = validatePartitions(log, fileCfg.Partitions)

	if flags.ModuleDir != "" {
		ctx.ModuleDir = flags.ModuleDir
	}

	if flags.MountSource != "" {
		ctx.MountSource = flags.MountSource
	}

	if flags.TempDir != "" {
		tempDirOverride = flags.TempDir
	}

	if flags.LogFile != "" {
		logFile = flags.LogFile
	}

	if flags.Verbose {
		debug = true
	}

	if flags.NoUmount {
		enableUnmountable = false
	}

	if cliPartitions := flags.partitions(); len(cliPartitions) > 0 {
		ctx.ExtraPartitions = append(ctx.ExtraPartitions, validatePartitions(log, cliPartitions)...)
	}

	ctx.EnableUnmountable = enableUnmountable

	log.SetLevel(debug)

	out, closeOut, err := resolveLogOutput(logFile)
	if err != nil {
		fmt.Fprintf(stderr, "magicmount: opening log file: %v\n", err)

		return 1
	}
	defer closeOut()

	log.SetOutput(out)

	root, err := overlay.Build(ctx, overlay.OSLiveFS)
	if errors.Is(err, overlay.ErrNoContent) {
		log.Infof("no module contributed any content, nothing to do")
		printSummary(stdout, ctx)

		return 0
	}

	if err != nil {
		log.Errorf("building overlay tree: %v", err)
		printSummary(stdout, ctx)

		return 1
	}

	tempDirParent := tempDirOverride
	if tempDirParent == "" {
		tempDirParent = mountapply.SelectTempDir()
	}

	bridge, err := mountapply.NewIoctlKernelBridge()
	if err != nil {
		log.Warnf("kernel bridge unavailable, markUnmountable calls will be skipped: %v", err)

		bridge = mountapply.NopKernelBridge{}
	}
	defer bridge.Close()

	applier := mountapply.NewApplier(ctx, bridge)

	result, err := applier.Apply(root, tempDirParent)
	if err != nil {
		log.Errorf("applying overlay tree: %v", err)
		printSummary(stdout, ctx)

		return 1
	}

	printSummary(stdout, ctx)

	if len(result.FailedModules) > 0 {
		return 1
	}

	return 0
}

// checkRoot validates the process is running with root privileges.
func checkRoot() error {
	if os.Geteuid() != 0 {
		return overlay.ErrNotRoot
	}

	return nil
}

// validatePartitions drops blacklisted/empty names with a warning, per §4.4.
func validatePartitions(log *bufferedLogger, names []string) []string {
	out := make([]string, 0, len(names))

	for _, name := range names {
		if err := overlay.ValidateExtraPartition(name); err != nil {
			log.Warnf("rejecting extra partition %q: %v", name, err)

			continue
		}

		out = append(out, name)
	}

	return out
}
