// Command atelier runs job graphs against a remote compute server from the
// command line: submit a graph, wait for completion, and write the produced
// artifacts to disk.
package main

import (
	"fmt"
	"os"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "atelier:", err)
		os.Exit(1)
	}
}
