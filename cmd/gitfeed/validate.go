package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a GitFeed configuration file without starting the server.

This command parses the YAML, expands environment variables, validates
all fields and resolves the artifact paths. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  gitfeed validate -c config.yaml
  gitfeed validate --config /etc/gitfeed/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, gf, err := loadFeed(cmd, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	retry := "disabled"
	if cfg.Retry.Attempts > 1 {
		retry = fmt.Sprintf("%d attempts, %s..%s", cfg.Retry.Attempts,
			cfg.Retry.InitialInterval.Duration(), cfg.Retry.MaxInterval.Duration())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Resource:      %s\n", gf.Resource())
	fmt.Fprintf(out, "  Endpoint:      %s\n", cfg.Endpoint)
	fmt.Fprintf(out, "  Port:          %d\n", gf.Port())
	fmt.Fprintf(out, "  Poll interval: %s\n", gf.PollingInterval())
	fmt.Fprintf(out, "  Storage:       %s (max %d events)\n", cfg.Storage, cfg.MaxHistory)
	fmt.Fprintf(out, "  History:       %s\n", gf.HistoryPath())
	fmt.Fprintf(out, "  Token:         %s\n", gf.TokenPath())
	fmt.Fprintf(out, "  Retry:         %s\n", retry)

	return nil
}
