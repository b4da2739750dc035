package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/gitfeed"
	"github.com/jpalmerr/gitfeed/internal/history"
)

// watchCmd follows the history artifact and prints events as a running
// poller records them.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the persisted history",
	Long: `Follow the history artifact and print newly recorded events as they
are written by another gitfeed process.

The current history is not printed; use "gitfeed show" for that. The
command runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  gitfeed watch -c config.yaml`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, gf, err := loadFeed(cmd, nil)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.Level())

	backend, err := gitfeed.OpenHistory(gitfeed.Storage(cfg.Storage), gf.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = backend.Close() }()

	seen, err := backend.Load()
	if err != nil {
		logger.Warn("history unreadable, starting empty", "path", gf.HistoryPath(), "error", err)
		seen = nil
	}

	watcher, err := history.NewWatcher(gf.HistoryPath(), backend, 0, logger)
	if err != nil {
		return fmt.Errorf("failed to watch history: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	logger.Info("watching history", "config", configFile, "path", gf.HistoryPath(), "events", len(seen))

	return watcher.Run(ctx, func(events []gitfeed.Event) {
		printEvents(out, newEvents(seen, events))
		seen = events
	})
}

// newEvents returns the events in next whose ids were not in prev, in
// next's order.
func newEvents(prev, next []gitfeed.Event) []gitfeed.Event {
	known := make(map[string]struct{}, len(prev))
	for _, ev := range prev {
		known[ev.ID] = struct{}{}
	}

	var added []gitfeed.Event
	for _, ev := range next {
		if _, ok := known[ev.ID]; !ok {
			added = append(added, ev)
		}
	}
	return added
}
