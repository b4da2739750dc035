package gitfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jpalmerr/gitfeed/internal/history"
	"github.com/jpalmerr/gitfeed/internal/metrics"
	"github.com/jpalmerr/gitfeed/internal/notify"
	"github.com/jpalmerr/gitfeed/internal/poller"
	"github.com/jpalmerr/gitfeed/internal/server"
	"github.com/jpalmerr/gitfeed/internal/token"
)

const (
	DefaultEndpoint        = "https://api.github.com/repos"
	DefaultHistoryFile     = "events.json"
	DefaultSQLiteFile      = "events.db"
	DefaultTokenFile       = "modifier.txt"
	defaultPollingInterval = 60 * time.Second
	defaultTimeout         = 10 * time.Second
	defaultPort            = 8080
	maxHistoryLimit        = 1000
)

// GitFeed is the main orchestrator for feed polling and the display API.
//
// GitFeed polls the events of one resource, merges new events into a
// bounded persisted history, and serves that history over HTTP. It is
// created using [New] with functional options and started with
// [GitFeed.Start].
//
// The typical lifecycle is:
//
//	gf, err := gitfeed.New(gitfeed.WithResource("ReactiveX/RxSwift"))
//	if err != nil {
//	    slog.Error("failed to create gitfeed", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	gf.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type GitFeed struct {
	resource        string
	endpoint        string
	pollingInterval time.Duration
	timeout         time.Duration
	port            int
	historyPath     string
	tokenPath       string
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

	mu         sync.Mutex
	controller *poller.Controller
}

// New creates a new [GitFeed] instance with the given options.
//
// A resource must be configured via [WithResource]. Other options have
// sensible defaults:
//   - Endpoint: https://api.github.com/repos
//   - Polling interval: 60 seconds
//   - Request timeout: 10 seconds
//   - Port: 8080
//   - History: 50 events in events.json under the user cache directory
//
// Returns an error if no resource is configured or if any option is invalid.
func New(opts ...Option) (*GitFeed, error) {
	cfg := &gfConfig{
		endpoint:        DefaultEndpoint,
		pollingInterval: defaultPollingInterval,
		timeout:         defaultTimeout,
		port:            defaultPort,
		storage:         StorageFile,
		maxHistory:      history.DefaultMaxSize,
		headers:         map[string]string{},
		retry:           Retry{Attempts: 1},
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.resource == "" {
		return nil, errors.New("resource is required")
	}

	if cfg.cacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.cacheDir = dir
	}
	if cfg.historyFile == "" {
		cfg.historyFile = DefaultHistoryFile
		if cfg.storage == StorageSQLite {
			cfg.historyFile = DefaultSQLiteFile
		}
	}
	if cfg.tokenFile == "" {
		cfg.tokenFile = DefaultTokenFile
	}

	historyPath := ResolvePath(cfg.cacheDir, cfg.historyFile)
	tokenPath := ResolvePath(cfg.cacheDir, cfg.tokenFile)
	if historyPath == tokenPath {
		return nil, fmt.Errorf("history and token must be stored in different files, both are %q", historyPath)
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GitFeed{
		resource:         cfg.resource,
		endpoint:         cfg.endpoint,
		pollingInterval:  cfg.pollingInterval,
		timeout:          cfg.timeout,
		port:             cfg.port,
		historyPath:      historyPath,
		tokenPath:        tokenPath,
		storage:          cfg.storage,
		maxHistory:       cfg.maxHistory,
		requestHeader:    cfg.requestHeader,
		responseHeader:   cfg.responseHeader,
		headers:          copyMap(cfg.headers),
		retry:            cfg.retry,
		logger:           logger,
		registry:         cfg.registry,
		historyCallbacks: cfg.historyCallbacks,
		refreshCallbacks: cfg.refreshCallbacks,
	}, nil
}

// DefaultCacheDir returns the directory artifacts are stored in when no
// cache dir is configured.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "gitfeed"), nil
}

// ResolvePath joins name to dir unless name is already absolute.
func ResolvePath(dir, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(dir, name)
}

// OpenHistory opens the history backend for storage at path.
func OpenHistory(storage Storage, path string) (history.Backend, error) {
	switch storage {
	case StorageSQLite:
		return history.NewSQLiteBackend(path)
	case StorageFile, "":
		return history.NewFileBackend(path), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", storage)
	}
}

// Start begins polling the feed and serving the display API.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - The persisted history and freshness token are loaded; unreadable
//     artifacts are logged and treated as absent
//   - The HTTP server starts on the configured port
//   - The feed is polled immediately, then at the configured interval
//   - History and refresh callbacks are invoked as cycles complete
//
// The caller controls the lifecycle via context cancellation. For signal handling,
// use [signal.NotifyContext]:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	gf.Start(ctx)
//
// Returns nil on graceful shutdown. Returns an error if the history backend
// cannot be opened or the HTTP server fails to start.
func (gf *GitFeed) Start(ctx context.Context) error {
	gf.logger.Info("gitfeed starting", "resource", gf.resource, "history", gf.historyPath, "storage", string(gf.storage))
	gf.logger.Info("polling configured", "interval", gf.pollingInterval.String())
	gf.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d/api/events", gf.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	backend, err := OpenHistory(gf.storage, gf.historyPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	historyStore := history.New(backend, gf.maxHistory, gf.logger)
	loaded := historyStore.Load()

	tokenStore := token.New(gf.tokenPath, gf.logger)
	if _, ok := tokenStore.Load(); ok {
		gf.logger.Debug("freshness token loaded", "path", gf.tokenPath)
	}

	registry := gf.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(registry)
	m.SetHistorySize(len(loaded))

	hub := notify.NewHub()
	fetcher := poller.NewFetcher(poller.FetcherConfig{
		Endpoint:       gf.endpoint,
		RequestHeader:  gf.requestHeader,
		ResponseHeader: gf.responseHeader,
		Headers:        copyMap(gf.headers),
		Timeout:        gf.timeout,
	})
	controller := poller.NewController(poller.ControllerConfig{
		Resource:  gf.resource,
		Fetcher:   fetcher,
		History:   historyStore,
		Token:     tokenStore,
		Publisher: hub,
		Metrics:   m,
		Retry: poller.RetryPolicy{
			Attempts:        gf.retry.Attempts,
			InitialInterval: gf.retry.InitialInterval,
			MaxInterval:     gf.retry.MaxInterval,
		},
		Logger: gf.logger,
	})
	controller.Start(ctx)

	// track the update consumer goroutine to ensure clean shutdown
	updates := hub.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range updates {
			gf.dispatch(u)
		}
	}()

	gf.mu.Lock()
	gf.controller = controller
	gf.mu.Unlock()

	scheduler := poller.NewScheduler(controller, gf.pollingInterval, gf.logger)

	// cleanup stops polling, waits for the in-flight cycle, then drains
	// pending updates before closing the artifacts
	cleanup := func() {
		scheduler.Stop()
		controller.Stop()

		gf.mu.Lock()
		gf.controller = nil
		gf.mu.Unlock()

		hub.Close()
		wg.Wait()
		fetcher.Close()
		if err := historyStore.Close(); err != nil {
			gf.logger.Warn("failed to close history", "error", err)
		}
		if gf.registry != nil {
			m.Unregister(registry)
		}
	}

	// start the HTTP server
	httpServer := server.NewServer(controller, controller, hub, registry, gf.port, gf.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	scheduler.Start(ctx)

	<-ctx.Done()
	cleanup()
	gf.logger.Info("gitfeed stopped")
	return nil
}

// Refresh requests a poll cycle outside the regular schedule.
//
// It reports false if the instance is not running or a cycle is already in
// flight; the request is dropped, not queued.
func (gf *GitFeed) Refresh() bool {
	gf.mu.Lock()
	c := gf.controller
	gf.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Refresh()
}

// History returns a snapshot of the current history, newest first, or nil
// if the instance is not running.
func (gf *GitFeed) History() []Event {
	gf.mu.Lock()
	c := gf.controller
	gf.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.History()
}

// Resource returns the polled resource.
func (gf *GitFeed) Resource() string {
	return gf.resource
}

// Port returns the configured HTTP port for the display API.
func (gf *GitFeed) Port() int {
	return gf.port
}

// PollingInterval returns the configured interval between poll cycles.
func (gf *GitFeed) PollingInterval() time.Duration {
	return gf.pollingInterval
}

// HistoryPath returns the resolved location of the history artifact.
func (gf *GitFeed) HistoryPath() string {
	return gf.historyPath
}

// TokenPath returns the resolved location of the freshness token artifact.
func (gf *GitFeed) TokenPath() string {
	return gf.tokenPath
}

// dispatch invokes the callbacks registered for u.
func (gf *GitFeed) dispatch(u notify.Update) {
	switch u.Kind {
	case notify.KindHistoryChanged:
		for _, cb := range gf.historyCallbacks {
			events := make([]Event, len(u.History))
			copy(events, u.History)
			invokeCallbackSafe(func() { cb(events) }, "history", u.CycleID, gf.logger)
		}
	case notify.KindRefreshCompleted:
		result := refreshResultFromUpdate(u)
		for _, cb := range gf.refreshCallbacks {
			invokeCallbackSafe(func() { cb(result) }, "refresh", u.CycleID, gf.logger)
		}
	}
}

// invokeCallbackSafe calls a callback with panic recovery.
// Panics are logged with a correlation id but do not propagate.
func invokeCallbackSafe(call func(), kind, cycleID string, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				"panic_id", uuid.NewString(),
				"panic", r,
				"callback", kind,
				"cycle_id", cycleID,
			)
		}
	}()
	call()
}

// copyMap returns a copy of the map, or nil if input is nil.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
