// Command kansokuctl is a developer client for a kansoku server: it manages
// signing keys, mints tokens and drives the scenario and health sockets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kansokuctl",
		Short:         "Developer client for the kansoku scenario server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newGenkeyCmd(),
		newTokenCmd(),
		newQueryCmd(),
		newRetryCmd(),
		newHealthCmd(),
	)
	return root
}
