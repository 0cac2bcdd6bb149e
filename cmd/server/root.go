package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "termbridge",
	Short: "Browser terminals bridged to server-side shells",
	Long: `termbridge serves WebSocket terminals backed by real shells.

Sessions survive disconnects: a client that reconnects with its session id
within the grace period gets the scrollback replayed and keeps its shell.`,
	SilenceUsage: true,
	// Running without a subcommand serves.
	RunE: runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	addServeFlags(rootCmd)
}
