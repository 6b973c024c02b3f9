package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// defaultConfigPath is the fixed location §6 names for the configuration
// file.
const defaultConfigPath = "/data/adb/magic_mount/mm.conf"

// fileConfig holds the values read from the line-oriented key = value
// configuration file. *Set fields distinguish "not present" from "present
// with the zero value" for the two boolean keys, so CLI/default precedence
// can be applied correctly in Run.
type fileConfig struct {
	ModuleDir   string
	TempDir     string
	MountSource string
	LogFile     string
	Partitions  []string

	Debug    bool
	DebugSet bool

	Umount    bool
	UmountSet bool
}

// parseConfigFile reads a line-oriented `key = value` file with `#`
// comments, per §6. A missing file is not an error: it simply yields a
// zero-value fileConfig, matching the file being entirely optional.
func parseConfigFile(path string, warnf func(string, ...any)) (fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}

		return fileConfig{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	var cfg fileConfig

	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		if !ok {
			warnf("%s:%d: malformed line %q, expected key = value", path, lineNo, text)

			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "module_dir":
			cfg.ModuleDir = value
		case "temp_dir":
			cfg.TempDir = value
		case "mount_source":
			cfg.MountSource = value
		case "log_file":
			cfg.LogFile = value
		case "partitions":
			cfg.Partitions = splitPartitions(value)
		case "debug":
			cfg.Debug = isTruthy(value)
			cfg.DebugSet = true
		case "umount":
			cfg.Umount = isTruthy(value)
			cfg.UmountSet = true
		default:
			warnf("%s:%d: unknown key %q, ignoring", path, lineNo, key)
		}
	}

	if err := scanner.Err(); err != nil {
		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	return cfg, nil
}

// splitPartitions splits a comma/whitespace-separated partition list,
// trimming empty fields.
func splitPartitions(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})

	out := make([]string, 0, len(fields))

	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}

	return out
}

// isTruthy implements §6's truthy set for the debug/umount keys, matched
// case-insensitively.
func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "on":
		return true
	default:
		return false
	}
}
