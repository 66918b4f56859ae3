// Package cmd implements the ratelimitd CLI surface: serve starts the
// node, ring inspects hash-ring placement for a key against a static
// peer list, and bench exercises the local counter throughput path.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ratelimitd",
	Short: "Distributed sliding-window rate limiter node",
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ringCmd)
	rootCmd.AddCommand(benchCmd)
}
