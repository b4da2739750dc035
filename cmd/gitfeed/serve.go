package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/gitfeed"
	"github.com/jpalmerr/gitfeed/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadFeed loads the config file named by the --config flag and builds a
// GitFeed from it without starting it.
func loadFeed(cmd *cobra.Command, logger *slog.Logger) (*config.Config, *gitfeed.GitFeed, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	gf, err := gitfeed.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitFeed: %w", err)
	}
	return cfg, gf, nil
}

// serveCmd starts the poller and the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the feed and serve the API",
	Long: `Start polling the configured repository and serve its history.

The server will:
  - Load configuration from the specified YAML file
  - Load the persisted history and freshness token
  - Poll the feed immediately and then every poll_interval
  - Serve /api/events, /api/refresh, /api/sse and /metrics on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  gitfeed serve -c config.yaml
  gitfeed serve --config /etc/gitfeed/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Level())

	gf, err := gitfeed.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create GitFeed: %w", err)
	}

	logger.Info("config loaded",
		"resource", gf.Resource(),
		"storage", cfg.Storage,
		"history", gf.HistoryPath(),
		"token", gf.TokenPath(),
	)
	logger.Info("starting server",
		"port", gf.Port(),
		"poll_interval", gf.PollingInterval().String(),
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- gf.Start(ctx)
	}()

	return awaitShutdown(ctx, errChan, logger)
}

// awaitShutdown waits for Start to return, bounding the wait once ctx is
// cancelled.
func awaitShutdown(ctx context.Context, errChan <-chan error, logger *slog.Logger) error {
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
