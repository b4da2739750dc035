package gitfeed

import (
	"time"

	"github.com/jpalmerr/gitfeed/internal/event"
	"github.com/jpalmerr/gitfeed/internal/notify"
)

// Event is one entry of the activity feed: actor name, repository, action
// and avatar URL, plus the source record it was parsed from.
//
// Events are immutable; callers must not modify Raw.
type Event = event.Event

// Storage selects how the history is persisted.
type Storage string

const (
	// StorageFile keeps the history as a JSON array, rewritten atomically.
	StorageFile Storage = "file"

	// StorageSQLite keeps the history in an SQLite database.
	StorageSQLite Storage = "sqlite"
)

// String returns the string representation of the storage.
func (s Storage) String() string {
	return string(s)
}

func (s Storage) valid() bool {
	return s == StorageFile || s == StorageSQLite
}

// Retry configures how a failed fetch is retried within one poll cycle.
type Retry struct {
	// Attempts counts the first try; 1 disables retries.
	Attempts int

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
}

// Outcome classifies a completed poll cycle.
type Outcome string

const (
	// OutcomeFresh indicates new events were merged into the history.
	OutcomeFresh Outcome = "fresh"

	// OutcomeNotModified indicates nothing new arrived; the server sent a
	// freshness token.
	OutcomeNotModified Outcome = "not_modified"

	// OutcomeNoChange indicates nothing new arrived and no token was sent.
	OutcomeNoChange Outcome = "no_change"

	// OutcomeFailed indicates the fetch failed; history and token are unchanged.
	OutcomeFailed Outcome = "failed"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// RefreshResult describes a completed poll cycle.
type RefreshResult struct {
	// CycleID identifies the cycle in logs.
	CycleID string

	// Outcome is the classification of the final fetch attempt.
	Outcome Outcome

	// Changed reports whether the history was modified.
	Changed bool

	// Error describes why the cycle failed. Empty unless Outcome is
	// [OutcomeFailed].
	Error string

	// CompletedAt is when the cycle finished.
	CompletedAt time.Time
}

func refreshResultFromUpdate(u notify.Update) RefreshResult {
	return RefreshResult{
		CycleID:     u.CycleID,
		Outcome:     Outcome(u.Outcome),
		Changed:     u.Changed,
		Error:       u.Error,
		CompletedAt: u.At,
	}
}
