// Package gitfeed provides an embeddable poller for a repository activity
// feed, keeping a bounded, persisted history of the most recent events.
//
// GitFeed is designed as an SDK-first library: the poller, its persisted
// artifacts and a small HTTP API for display clients are configured with
// functional options and run under a caller-owned context.
//
// # Quick Start
//
// Poll a repository and serve its history with graceful shutdown:
//
//	gf, _ := gitfeed.New(gitfeed.WithResource("ReactiveX/RxSwift"))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	gf.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
//	gf, err := gitfeed.New(
//	    gitfeed.WithResource("ReactiveX/RxSwift"),
//	    gitfeed.WithPollingInterval(30 * time.Second),
//	    gitfeed.WithCacheDir("/var/lib/gitfeed"),
//	    gitfeed.WithMaxHistory(100),
//	    gitfeed.WithHeaders("Authorization", "Bearer "+token),
//	    gitfeed.WithRetry(3, time.Second, 10*time.Second),
//	)
//
// # Poll Cycle
//
// Each cycle sends one conditional request carrying the freshness token the
// server last handed out. A response with usable events is merged ahead of
// the existing history, deduplicated by event id and truncated to the
// retention limit, then persisted atomically. Responses without new events
// only refresh the token. Failures leave both artifacts untouched.
//
// At most one cycle runs at a time: [GitFeed.Refresh] while a cycle is in
// flight is dropped, not queued.
//
// # Architecture
//
// GitFeed consists of several internal packages (under internal/):
//
//   - internal/event: Feed record parsing and serialization
//   - internal/history: Bounded history with file and SQLite backends
//   - internal/token: Freshness token persistence
//   - internal/poller: Fetching, classification and the poll controller
//   - internal/notify: Pub/sub for history and refresh notifications
//   - internal/metrics: Prometheus collectors
//   - internal/server: HTTP API with REST endpoints and Server-Sent Events
//
// The internal packages are not part of the public API and may change
// without notice.
package gitfeed
