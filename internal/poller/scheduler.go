package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// minInterval floors the tick interval to prevent CPU thrashing.
const minInterval = 100 * time.Millisecond

// Refresher starts a poll cycle without blocking. [*Controller] implements it.
type Refresher interface {
	Refresh() bool
}

// Scheduler triggers refreshes periodically.
//
// The scheduler refreshes immediately on start, then on every tick of the
// configured interval. Ticks that land while a cycle is still in flight
// are dropped by the refresher, so a slow feed never causes overlapping
// polls.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewScheduler creates a new [Scheduler] triggering r every interval.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop].
func NewScheduler(r Refresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval < minInterval {
		interval = minInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresher: r,
		interval:  interval,
		logger:    logger,
	}
}

// Interval returns the effective tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins the refresh loop in a background goroutine.
//
// Start is non-blocking and returns immediately. The scheduler will:
//  1. Refresh immediately
//  2. Refresh on every tick of the interval
//  3. Continue until [Scheduler.Stop] is called or the context is cancelled
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		s.trigger()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.trigger()
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit. It does not wait for an
// in-flight cycle; stop the refresher for that.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) trigger() {
	if !s.refresher.Refresh() {
		s.logger.Debug("scheduled refresh skipped")
	}
}
