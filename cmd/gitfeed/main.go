// Package main is the entry point for the gitfeed CLI.
//
// GitFeed can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	gitfeed serve -c config.yaml    # Poll the feed and serve the API
//	gitfeed validate -c config.yaml # Validate configuration
//	gitfeed show -c config.yaml     # Print the persisted history
//	gitfeed watch -c config.yaml    # Follow history written by a running poller
//	gitfeed version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "gitfeed",
	Short: "A repository activity feed poller",
	Long: `GitFeed polls the public event feed of a repository and keeps a
bounded, persisted history of the most recent events.

It uses conditional requests so unchanged feeds cost nothing, merges new
events ahead of the existing history, and serves the result over a small
HTTP API with Server-Sent Events for live updates.

Quick start:
  1. Create a config file (gitfeed.yaml)
  2. Run: gitfeed serve -c gitfeed.yaml
  3. Open http://localhost:8080/api/events

Example config:
  resource: ReactiveX/RxSwift
  poll_interval: 60s
  max_history: 50`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this gitfeed binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "gitfeed %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
