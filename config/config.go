// Package config provides YAML configuration parsing for GitFeed.
//
// This package enables running GitFeed as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	resource: ReactiveX/RxSwift
//	poll_interval: 60s
//	cache_dir: /var/lib/gitfeed
//	storage: sqlite
//	max_history: 50
//
//	headers:
//	  Authorization: "Bearer ${GITHUB_TOKEN}"
//
//	retry:
//	  attempts: 3
//	  initial_interval: 1s
//	  max_interval: 10s
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/gitfeed"
)

// minPollInterval is the minimum allowed polling interval for production configs.
// This prevents accidental hammering of the feed with overly aggressive polling.
const minPollInterval = 1 * time.Second

const (
	defaultPort         = 8080
	defaultPollInterval = 60 * time.Second
	defaultTimeout      = 10 * time.Second
	defaultMaxHistory   = 50
	maxMaxHistory       = 1000
	defaultLogLevel     = "info"

	defaultRetryInitial = 1 * time.Second
	defaultRetryMax     = 30 * time.Second
)

// Config is the root configuration structure for GitFeed.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Resource is the watched repository in "owner/name" form. Required.
	Resource string `yaml:"resource"`

	// Endpoint is the feed API base URL. The events URL is
	// <endpoint>/<resource>/events. Supports ${VAR} substitution.
	Endpoint string `yaml:"endpoint"`

	// PollInterval is the time between poll cycles. Defaults to 60s.
	PollInterval Duration `yaml:"poll_interval"`

	// Timeout bounds each feed request. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// CacheDir holds the persisted artifacts. Defaults to the user cache
	// directory.
	CacheDir string `yaml:"cache_dir"`

	// HistoryFile and TokenFile name the artifacts. Relative names
	// resolve against CacheDir.
	HistoryFile string `yaml:"history_file"`
	TokenFile   string `yaml:"token_file"`

	// Storage selects the history backend: "file" (default) or "sqlite".
	Storage string `yaml:"storage"`

	// MaxHistory is the retention limit. Defaults to 50.
	MaxHistory int `yaml:"max_history"`

	// Port is the HTTP API port. Defaults to 8080.
	Port int `yaml:"port"`

	// RequestHeader and ResponseHeader name the freshness token headers.
	RequestHeader  string `yaml:"request_header"`
	ResponseHeader string `yaml:"response_header"`

	// Headers are extra request headers. Values support environment
	// variable substitution.
	Headers map[string]string `yaml:"headers"`

	Retry RetryConfig `yaml:"retry"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// RetryConfig controls retries of failed fetches within a poll cycle.
type RetryConfig struct {
	// Attempts is the total number of fetch attempts. 0 or 1 disables retry.
	Attempts        int      `yaml:"attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the endpoint, cache_dir and header
// values. Defaults are applied for every optional key.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = gitfeed.DefaultEndpoint
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(defaultTimeout)
	}
	if c.Storage == "" {
		c.Storage = string(gitfeed.StorageFile)
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = defaultMaxHistory
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Retry.Attempts > 1 {
		if c.Retry.InitialInterval == 0 {
			c.Retry.InitialInterval = Duration(defaultRetryInitial)
		}
		if c.Retry.MaxInterval == 0 {
			c.Retry.MaxInterval = Duration(defaultRetryMax)
		}
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	c.Resource = strings.TrimSpace(c.Resource)
	if c.Resource == "" {
		return fmt.Errorf("resource is required")
	}
	if err := gitfeed.ValidateResource(c.Resource); err != nil {
		return fmt.Errorf("resource: %w", err)
	}

	expanded, err := expandEnvVars(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	c.Endpoint = expanded

	parsedURL, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("endpoint must have a host")
	}

	if c.CacheDir != "" {
		expanded, err := expandEnvVars(c.CacheDir)
		if err != nil {
			return fmt.Errorf("cache_dir: %w", err)
		}
		c.CacheDir = expanded
	}

	for k, v := range c.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.Timeout.Duration() < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %s", c.Timeout.Duration())
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch gitfeed.Storage(c.Storage) {
	case gitfeed.StorageFile, gitfeed.StorageSQLite:
	default:
		return fmt.Errorf("storage must be %q or %q, got %q", gitfeed.StorageFile, gitfeed.StorageSQLite, c.Storage)
	}

	if c.MaxHistory < 1 || c.MaxHistory > maxMaxHistory {
		return fmt.Errorf("max_history must be between 1 and %d, got %d", maxMaxHistory, c.MaxHistory)
	}

	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry.attempts cannot be negative, got %d", c.Retry.Attempts)
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		return fmt.Errorf("retry intervals cannot be negative")
	}
	if c.Retry.InitialInterval > c.Retry.MaxInterval {
		return fmt.Errorf("retry.initial_interval (%s) cannot exceed retry.max_interval (%s)",
			c.Retry.InitialInterval.Duration(), c.Retry.MaxInterval.Duration())
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}
