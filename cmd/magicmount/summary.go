package main

import (
	"fmt"
	"io"

	"github.com/ksu-overlay/magic-mount/overlay"
)

// printSummary writes the §7 user-visible summary block: aggregate counts
// plus the enumeration of failed module names.
func printSummary(w io.Writer, ctx *overlay.Context) {
	stats := ctx.Stats

	fmt.Fprintf(w, "magicmount: modules_total=%d nodes_total=%d nodes_mounted=%d nodes_skipped=%d nodes_whiteout=%d nodes_fail=%d\n",
		stats.ModulesTotal, stats.NodesTotal, stats.NodesMounted, stats.NodesSkipped, stats.NodesWhiteout, stats.NodesFail)

	failed := ctx.FailedModules()
	if len(failed) == 0 {
		return
	}

	fmt.Fprintf(w, "magicmount: failed modules:\n")

	for _, name := range failed {
		fmt.Fprintf(w, "  - %s\n", name)
	}
}
