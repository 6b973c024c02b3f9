package main

import (
	"github.com/spf13/pflag"
)

// cliFlags holds the parsed command-line overrides. Empty-string/nil/false
// fields mean "not provided": Run applies a flag over the file config or
// default only when it is non-empty or true.
type cliFlags struct {
	ModuleDir   string
	TempDir     string
	MountSource string
	Partitions  []string
	LogFile     string
	ConfigPath  string
	Verbose     bool
	NoUmount    bool
	Help        bool
}

// parseFlags builds the §6 CLI surface: -m/--module-dir, -t/--temp-dir,
// -s/--mount-source, -p/--partitions, -l/--log-file, -c/--config,
// -v/--verbose, --no-umount, -h/--help.
func parseFlags(args []string) (*cliFlags, *pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("magicmount", pflag.ContinueOnError)

	flags := &cliFlags{}

	fs.StringVarP(&flags.ModuleDir, "module-dir", "m", "", "override the module root directory")
	fs.StringVarP(&flags.TempDir, "temp-dir", "t", "", "override the workdir parent directory")
	fs.StringVarP(&flags.MountSource, "mount-source", "s", "", "source label used for synthetic tmpfs mounts")
	fs.StringArrayVarP(&flags.Partitions, "partitions", "p", nil, "extra partition to overlay (repeatable, comma-separated)")
	fs.StringVarP(&flags.LogFile, "log-file", "l", "", "log file path, or - for stdout")
	fs.StringVarP(&flags.ConfigPath, "config", "c", "", "path to the configuration file")
	fs.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug-level logging")
	fs.BoolVar(&flags.NoUmount, "no-umount", false, "disable markUnmountable calls")
	fs.BoolVarP(&flags.Help, "help", "h", false, "show this help text")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	return flags, fs, nil
}

// partitions flattens every -p/--partitions occurrence, splitting each on
// commas/whitespace the same way the config file's partitions key is split.
func (f *cliFlags) partitions() []string {
	var out []string

	for _, raw := range f.Partitions {
		out = append(out, splitPartitions(raw)...)
	}

	return out
}
