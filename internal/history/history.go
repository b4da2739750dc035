package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jpalmerr/gitfeed/internal/event"
)

// DefaultMaxSize is the number of events retained when no limit is configured.
const DefaultMaxSize = 50

// ErrCorrupt is returned by a [Backend] when the persisted history exists
// but cannot be decoded.
var ErrCorrupt = errors.New("history artifact is corrupt")

// PersistError describes a failed read or write of a history artifact.
type PersistError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Backend reads and writes the persisted history artifact.
//
// Load returns an empty slice and a nil error when nothing has been
// persisted yet. Save replaces the whole artifact.
type Backend interface {
	Load() ([]event.Event, error)
	Save(events []event.Event) error
	Close() error
}

// Store owns the bounded, deduplicated event history.
//
// A single writer (the poll controller) calls [Store.Merge] and
// [Store.Persist]. Readers on other goroutines may call [Store.Items]
// at any time and always observe a fully merged sequence.
type Store struct {
	backend Backend
	maxSize int
	logger  *slog.Logger

	mu    sync.RWMutex
	items []event.Event
}

// New creates a history [Store] over backend. A maxSize of zero or less
// selects [DefaultMaxSize]. The store starts empty; call [Store.Load] to
// read the persisted artifact.
func New(backend Backend, maxSize int, logger *slog.Logger) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		maxSize: maxSize,
		logger:  logger,
	}
}

// Load reads the persisted history and makes it the current state.
//
// Load never fails: a missing artifact yields an empty history, and a
// corrupt or unreadable one is logged and treated as a cold start.
// Loaded entries are normalized through [Merge] so the size and
// uniqueness invariants hold even for artifacts written elsewhere.
func (s *Store) Load() []event.Event {
	loaded, err := s.backend.Load()
	if err != nil {
		s.logger.Warn("history unreadable, starting empty", "error", err)
		loaded = nil
	}

	items := Merge(nil, loaded, s.maxSize)

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()

	return copyEvents(items)
}

// Items returns a snapshot of the current history, newest first.
func (s *Store) Items() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEvents(s.items)
}

// Len returns the number of events currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// MaxSize returns the retention limit.
func (s *Store) MaxSize() int {
	return s.maxSize
}

// Merge prepends newEvents to the current history and commits the result.
//
// The merged sequence is computed in full before it replaces the current
// state, so readers never see a partial merge. See [Merge] for ordering
// and dedup rules.
func (s *Store) Merge(newEvents []event.Event) []event.Event {
	s.mu.Lock()
	merged := Merge(newEvents, s.items, s.maxSize)
	s.items = merged
	s.mu.Unlock()

	return copyEvents(merged)
}

// Persist writes the current history to the backend.
func (s *Store) Persist() error {
	items := s.Items()
	if err := s.backend.Save(items); err != nil {
		return err
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Merge combines incoming events with existing history.
//
// Incoming events are placed ahead of existing ones in the order received.
// When an id appears more than once the first occurrence is kept, so an
// incoming event replaces an existing one with the same id. The result is
// truncated to maxSize by dropping the oldest entries. Neither input is
// modified.
func Merge(incoming, existing []event.Event, maxSize int) []event.Event {
	merged := make([]event.Event, 0, min(len(incoming)+len(existing), maxSize))
	seen := make(map[string]struct{}, len(incoming)+len(existing))

	for _, batch := range [][]event.Event{incoming, existing} {
		for _, ev := range batch {
			if len(merged) == maxSize {
				return merged
			}
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	return merged
}

func copyEvents(events []event.Event) []event.Event {
	if events == nil {
		return []event.Event{}
	}
	cp := make([]event.Event, len(events))
	copy(cp, events)
	return cp
}
