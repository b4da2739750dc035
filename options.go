package gitfeed

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// gfConfig holds mutable state during GitFeed construction.
type gfConfig struct {
	resource        string
	endpoint        string
	pollingInterval time.Duration
	timeout         time.Duration
	port            int
	cacheDir        string
	historyFile     string
	tokenFile       string
	storage         Storage
	maxHistory      int
	requestHeader   string
	responseHeader  string
	headers         map[string]string
	retry           Retry
	logger          *slog.Logger
	registry        *prometheus.Registry

	historyCallbacks []func([]Event)
	refreshCallbacks []func(RefreshResult)
}

// Option is a function that configures a [GitFeed] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*gfConfig) error

// WithResource sets the feed resource to poll, in "owner/name" form.
// This option is required.
//
// Example:
//
//	gf, err := gitfeed.New(gitfeed.WithResource("ReactiveX/RxSwift"))
func WithResource(resource string) Option {
	return func(cfg *gfConfig) error {
		resource = strings.Trim(strings.TrimSpace(resource), "/")
		if err := ValidateResource(resource); err != nil {
			return err
		}
		cfg.resource = resource
		return nil
	}
}

// ValidateResource reports whether resource has the "owner/name" form.
func ValidateResource(resource string) error {
	owner, name, ok := strings.Cut(resource, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("resource must be of the form owner/name, got %q", resource)
	}
	return nil
}

// WithEndpoint sets the feed base URL. Requests go to
// <endpoint>/<resource>/events. Defaults to "https://api.github.com/repos".
//
// Returns an error if the URL is not an absolute http(s) URL.
func WithEndpoint(endpoint string) Option {
	return func(cfg *gfConfig) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.New("endpoint must include a host")
		}
		cfg.endpoint = endpoint
		return nil
	}
}

// WithPollingInterval sets how often the feed is polled.
// Defaults to 60 seconds if not specified.
//
// Example:
//
//	gf, err := gitfeed.New(
//	    gitfeed.WithResource("ReactiveX/RxSwift"),
//	    gitfeed.WithPollingInterval(30 * time.Second),
//	)
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *gfConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithTimeout sets the per-request timeout. A request that exceeds it
// fails the attempt. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *gfConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithPort sets the HTTP port for the display API.
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *gfConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithCacheDir sets the directory that relative history and token file
// names resolve against. Defaults to the user cache directory joined with
// "gitfeed".
func WithCacheDir(dir string) Option {
	return func(cfg *gfConfig) error {
		if strings.TrimSpace(dir) == "" {
			return errors.New("cache dir cannot be empty")
		}
		cfg.cacheDir = dir
		return nil
	}
}

// WithHistoryFile sets where the history is persisted. Relative names
// resolve against the cache directory. Defaults to "events.json", or
// "events.db" with [StorageSQLite].
func WithHistoryFile(path string) Option {
	return func(cfg *gfConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("history file cannot be empty")
		}
		cfg.historyFile = path
		return nil
	}
}

// WithTokenFile sets where the freshness token is persisted. Relative
// names resolve against the cache directory. Defaults to "modifier.txt".
func WithTokenFile(path string) Option {
	return func(cfg *gfConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("token file cannot be empty")
		}
		cfg.tokenFile = path
		return nil
	}
}

// WithStorage selects the history backend. Defaults to [StorageFile].
func WithStorage(s Storage) Option {
	return func(cfg *gfConfig) error {
		if !s.valid() {
			return fmt.Errorf("unknown storage %q, want %q or %q", s, StorageFile, StorageSQLite)
		}
		cfg.storage = s
		return nil
	}
}

// WithMaxHistory sets how many events are retained. Defaults to 50.
//
// Returns an error if n is outside 1-1000.
func WithMaxHistory(n int) Option {
	return func(cfg *gfConfig) error {
		if n < 1 || n > maxHistoryLimit {
			return fmt.Errorf("max history must be between 1 and %d, got %d", maxHistoryLimit, n)
		}
		cfg.maxHistory = n
		return nil
	}
}

// WithFreshnessHeaders sets the request header carrying the freshness token
// and the response header a new token is read from. Empty values keep the
// defaults, "If-Modified-Since" and "Last-Modified".
func WithFreshnessHeaders(request, response string) Option {
	return func(cfg *gfConfig) error {
		if request != "" {
			cfg.requestHeader = request
		}
		if response != "" {
			cfg.responseHeader = response
		}
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every feed request.
//
// Arguments are provided as key-value pairs. Can be called multiple times;
// later values for the same key override earlier ones.
//
// Example:
//
//	gf, err := gitfeed.New(
//	    gitfeed.WithResource("ReactiveX/RxSwift"),
//	    gitfeed.WithHeaders("Authorization", "Bearer token123"),
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *gfConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithRetry retries failed fetches within a poll cycle using exponential
// backoff. attempts counts the first try; 1 disables retries (the default).
// Zero intervals keep the backoff defaults.
func WithRetry(attempts int, initial, maxInterval time.Duration) Option {
	return func(cfg *gfConfig) error {
		if attempts < 1 {
			return errors.New("retry attempts must be at least 1")
		}
		if initial < 0 || maxInterval < 0 {
			return errors.New("retry intervals cannot be negative")
		}
		if maxInterval > 0 && initial > maxInterval {
			return errors.New("retry initial interval cannot exceed max interval")
		}
		cfg.retry = Retry{Attempts: attempts, InitialInterval: initial, MaxInterval: maxInterval}
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the GitFeed instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *gfConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRegistry registers the poll metrics with reg and serves reg at
// /metrics. Without it each run uses a private registry. A registry can
// only back one running instance at a time.
//
// Returns an error if the registry is nil.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *gfConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithHistoryCallback registers a function called whenever a poll cycle
// changes the history. It receives the full history, newest first.
//
// Multiple callbacks may be registered; they execute in registration order.
// Each receives its own slice. Events are shared and must not be modified.
//
// IMPORTANT: Callbacks must be non-blocking. They are invoked synchronously
// from a single goroutine; panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithHistoryCallback(cb func([]Event)) Option {
	return func(cfg *gfConfig) error {
		if cb == nil {
			return nil
		}
		cfg.historyCallbacks = append(cfg.historyCallbacks, cb)
		return nil
	}
}

// WithRefreshCallback registers a function called at the end of every poll
// cycle, whatever its outcome. A cycle that changed the history invokes
// history callbacks first.
//
// Callbacks share the goroutine and panic handling of [WithHistoryCallback].
//
// Example:
//
//	gf, err := gitfeed.New(
//	    gitfeed.WithResource("ReactiveX/RxSwift"),
//	    gitfeed.WithRefreshCallback(func(r gitfeed.RefreshResult) {
//	        if r.Outcome == gitfeed.OutcomeFailed {
//	            log.Printf("refresh failed: %s", r.Error)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithRefreshCallback(cb func(RefreshResult)) Option {
	return func(cfg *gfConfig) error {
		if cb == nil {
			return nil
		}
		cfg.refreshCallbacks = append(cfg.refreshCallbacks, cb)
		return nil
	}
}
