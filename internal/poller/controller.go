package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/jpalmerr/gitfeed/internal/event"
	"github.com/jpalmerr/gitfeed/internal/history"
	"github.com/jpalmerr/gitfeed/internal/metrics"
	"github.com/jpalmerr/gitfeed/internal/notify"
	"github.com/jpalmerr/gitfeed/internal/token"
)

// State is the poll controller state. A cycle moves Idle → Fetching →
// (Merging →) Idle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateMerging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FeedFetcher performs one classified fetch. [*Fetcher] implements it.
type FeedFetcher interface {
	Fetch(ctx context.Context, resource, token string) FetchResult
}

// RetryPolicy controls how a failed fetch is retried within one cycle.
// Attempts counts the first try; 0 or 1 disables retries.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ControllerConfig wires a [Controller] to its collaborators.
type ControllerConfig struct {
	// Resource is the feed resource polled, e.g. "ReactiveX/RxSwift".
	Resource string

	Fetcher   FeedFetcher
	History   *history.Store
	Token     *token.Store
	Publisher notify.Publisher

	// Metrics may be nil.
	Metrics *metrics.Metrics

	Retry  RetryPolicy
	Logger *slog.Logger
}

// Controller orchestrates poll cycles.
//
// At most one cycle is in flight at any time: [Controller.Refresh] while a
// cycle is running is dropped, not queued. The goroutine running a cycle is
// the only writer of the history and token stores.
//
// Every cycle ends with a notify.KindRefreshCompleted update. Cycles that
// merged new events publish notify.KindHistoryChanged before it.
type Controller struct {
	resource  string
	fetcher   FeedFetcher
	history   *history.Store
	token     *token.Store
	publisher notify.Publisher
	metrics   *metrics.Metrics
	retry     RetryPolicy
	logger    *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewController creates a [Controller]. Cycles run under a background
// context until [Controller.Start] binds one.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = discardPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		resource:  cfg.Resource,
		fetcher:   cfg.Fetcher,
		history:   cfg.History,
		token:     cfg.Token,
		publisher: publisher,
		metrics:   cfg.Metrics,
		retry:     cfg.Retry,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds the controller's lifetime to ctx: cancelling it aborts an
// in-flight fetch. Later cycles also run under ctx.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels any in-flight cycle, waits for it to finish, and rejects
// further refreshes. Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// History returns a snapshot of the current history, newest first.
func (c *Controller) History() []event.Event {
	return c.history.Items()
}

// Refresh starts a poll cycle in the background and returns immediately.
//
// It reports false, without starting anything, when a cycle is already in
// flight or the controller has been stopped. Completion is signalled
// through the publisher.
func (c *Controller) Refresh() bool {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateFetching)) {
		c.metrics.RefreshDropped()
		c.logger.Debug("refresh dropped, poll in flight", "resource", c.resource)
		return false
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.state.Store(int32(StateIdle))
		return false
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.runCycle(ctx)
	}()
	return true
}

// runCycle executes one cycle. The caller has moved the state to Fetching.
func (c *Controller) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("poll cycle panicked",
				"cycle_id", cycleID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			c.state.Store(int32(StateIdle))
			c.publisher.Publish(notify.Update{
				Kind:    notify.KindRefreshCompleted,
				CycleID: cycleID,
				Outcome: string(OutcomeFailed),
				Error:   fmt.Sprintf("poll cycle panic (cycle_id: %s)", cycleID),
				At:      time.Now(),
			})
		}
	}()

	current, _ := c.token.Value()
	result := c.fetch(ctx, cycleID, current)

	changed := false
	switch result.Outcome {
	case OutcomeFresh:
		c.state.Store(int32(StateMerging))
		merged := c.history.Merge(result.Events)
		changed = true
		if err := c.history.Persist(); err != nil {
			c.metrics.PersistFailed(metrics.ArtifactHistory)
			c.logger.Warn("history persist failed", "cycle_id", cycleID, "error", err)
		}
		c.updateToken(cycleID, result.Token)
		c.metrics.SetHistorySize(len(merged))
		c.publisher.Publish(notify.Update{
			Kind:    notify.KindHistoryChanged,
			CycleID: cycleID,
			History: merged,
			Changed: true,
			At:      time.Now(),
		})

	case OutcomeNotModified, OutcomeNoChange:
		c.updateToken(cycleID, result.Token)

	case OutcomeFailed:
		// prior history and token stay untouched
	}

	took := time.Since(start)
	c.metrics.RecordsDropped(result.Dropped)
	c.metrics.ObserveCycle(string(result.Outcome), took)

	logAttrs := []any{
		"cycle_id", cycleID,
		"resource", c.resource,
		"outcome", string(result.Outcome),
		"status_code", result.StatusCode,
		"events", len(result.Events),
		"dropped", result.Dropped,
		"latency_ms", took.Milliseconds(),
	}

	update := notify.Update{
		Kind:    notify.KindRefreshCompleted,
		CycleID: cycleID,
		Outcome: string(result.Outcome),
		Changed: changed,
	}
	if result.Err != nil {
		update.Error = result.Err.Error()
		c.logger.Warn("poll completed with error", append(logAttrs, "error", result.Err.Error())...)
	} else {
		c.logger.Debug("poll completed", logAttrs...)
	}

	c.state.Store(int32(StateIdle))
	update.At = time.Now()
	c.publisher.Publish(update)
}

// fetch runs the fetcher, retrying failures per the retry policy.
func (c *Controller) fetch(ctx context.Context, cycleID, current string) FetchResult {
	var result FetchResult
	op := func() error {
		result = c.fetcher.Fetch(ctx, c.resource, current)
		if result.Outcome != OutcomeFailed {
			return nil
		}
		if !retryable(result.Err) {
			return backoff.Permanent(result.Err)
		}
		return result.Err
	}

	if c.retry.Attempts <= 1 {
		_ = op()
		return result
	}

	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}
	b.MaxElapsedTime = 0 // bounded by attempts instead
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.Attempts-1)), ctx)

	_ = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Debug("fetch failed, retrying",
			"cycle_id", cycleID,
			"error", err,
			"wait", wait.String(),
		)
	})
	return result
}

// updateToken stores and persists a token received from the server.
func (c *Controller) updateToken(cycleID, value string) {
	if value == "" || !c.token.Update(value) {
		return
	}
	if err := c.token.Persist(); err != nil {
		c.metrics.PersistFailed(metrics.ArtifactToken)
		c.logger.Warn("freshness token persist failed", "cycle_id", cycleID, "error", err)
	}
}

// retryable reports whether a failed fetch may succeed on a later attempt.
// Client errors other than timeouts and rate limiting are final.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		if code >= 400 && code < 500 {
			return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
		}
	}
	return !errors.Is(err, ErrMalformedBody) && !errors.Is(err, context.Canceled)
}

type discardPublisher struct{}

func (discardPublisher) Publish(notify.Update) {}
