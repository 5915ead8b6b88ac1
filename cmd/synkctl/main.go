// synkctl is a command-line front-end for the synkd session-substrate
// daemon, driving the IPC transport (L2) for scripting and headless use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "synkctl",
		Short:   "Command-line front-end for the synk session daemon",
		Version: Version,
	}

	rootCmd.AddCommand(
		newSessionCmd(),
		newSnapshotCmd(),
		newPairCmd(),
		newAgentsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
