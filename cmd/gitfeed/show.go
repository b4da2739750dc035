package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/gitfeed"
)

// showCmd prints the persisted history without contacting the feed.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted history",
	Long: `Print the events recorded in the persisted history, newest first.

Nothing is fetched: this reads the history artifact a previous or running
"gitfeed serve" wrote.

Example:
  gitfeed show -c config.yaml
  gitfeed show -c config.yaml --limit 10`,
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	showCmd.Flags().IntP("limit", "n", 0, "maximum number of events to print (0 for all)")
	_ = showCmd.MarkFlagRequired("config")
}

func runShow(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return fmt.Errorf("limit cannot be negative, got %d", limit)
	}

	cfg, gf, err := loadFeed(cmd, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}

	backend, err := gitfeed.OpenHistory(gitfeed.Storage(cfg.Storage), gf.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = backend.Close() }()

	events, err := backend.Load()
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintf(out, "No events recorded for %s\n", gf.Resource())
		return nil
	}

	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	printEvents(out, events)
	return nil
}

// printEvents writes one "name<TAB>summary" line per event.
func printEvents(w io.Writer, events []gitfeed.Event) {
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\n", ev.Name, ev.Summary())
	}
}
