package config

import (
	"log/slog"
	"sort"

	"github.com/jpalmerr/gitfeed"
)

// BuildOptions converts parsed configuration into SDK options.
//
// Keys left at their zero value are omitted so the SDK defaults apply.
// The logger is passed through unchanged when non-nil.
func BuildOptions(cfg *Config, logger *slog.Logger) []gitfeed.Option {
	opts := []gitfeed.Option{
		gitfeed.WithResource(cfg.Resource),
		gitfeed.WithEndpoint(cfg.Endpoint),
		gitfeed.WithPollingInterval(cfg.PollInterval.Duration()),
		gitfeed.WithTimeout(cfg.Timeout.Duration()),
		gitfeed.WithPort(cfg.Port),
		gitfeed.WithStorage(gitfeed.Storage(cfg.Storage)),
		gitfeed.WithMaxHistory(cfg.MaxHistory),
		gitfeed.WithFreshnessHeaders(cfg.RequestHeader, cfg.ResponseHeader),
	}

	if cfg.CacheDir != "" {
		opts = append(opts, gitfeed.WithCacheDir(cfg.CacheDir))
	}
	if cfg.HistoryFile != "" {
		opts = append(opts, gitfeed.WithHistoryFile(cfg.HistoryFile))
	}
	if cfg.TokenFile != "" {
		opts = append(opts, gitfeed.WithTokenFile(cfg.TokenFile))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, gitfeed.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}

	if cfg.Retry.Attempts > 1 {
		opts = append(opts, gitfeed.WithRetry(
			cfg.Retry.Attempts,
			cfg.Retry.InitialInterval.Duration(),
			cfg.Retry.MaxInterval.Duration(),
		))
	}

	if logger != nil {
		opts = append(opts, gitfeed.WithLogger(logger))
	}

	return opts
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
