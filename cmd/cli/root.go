// Package cli implements the replyctl administrative commands. Every command
// talks to a running server over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "replyctl",
	Short: "Administer the replyflow rate-limited queue service",
	Long: `replyctl is a command-line interface for operating the replyflow
service: inspecting rate limit state, draining the queue, purging old
items and resetting accounts.`,
}

// Execute runs the CLI. It prints the error and exits nonzero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:8080", "base URL of the replyflow server")
}
