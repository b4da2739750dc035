package notify

import (
	"time"

	"github.com/jpalmerr/gitfeed/internal/event"
)

// Kind identifies what an [Update] announces.
type Kind string

const (
	// KindHistoryChanged is sent after a merge changed the history.
	KindHistoryChanged Kind = "history"

	// KindRefreshCompleted is sent at the end of every poll cycle,
	// whatever its outcome.
	KindRefreshCompleted Kind = "refresh"
)

// Update is a notification delivered to subscribers of a [Hub].
type Update struct {
	// Kind tells which of the two notifications this is.
	Kind Kind `json:"kind"`

	// CycleID identifies the poll cycle that produced the update.
	CycleID string `json:"cycle_id"`

	// History is the merged history, newest first. Set for KindHistoryChanged.
	History []event.Event `json:"-"`

	// Outcome is the fetch classification ("fresh", "not_modified",
	// "no_change", "failed"). Set for KindRefreshCompleted.
	Outcome string `json:"outcome,omitempty"`

	// Changed reports whether the cycle changed the history.
	Changed bool `json:"changed"`

	// Error describes why the cycle failed, empty otherwise.
	Error string `json:"error,omitempty"`

	// At is when the update was published.
	At time.Time `json:"at"`
}

// Publisher accepts updates for fan-out. Publish must not block.
type Publisher interface {
	Publish(u Update)
}

// Broker defines publishing and subscribing to updates.
//
// Broker implementations must be safe for concurrent access.
type Broker interface {
	Publisher

	// Subscribe returns a channel that receives updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Update

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Update)
}
