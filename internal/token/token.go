// Package token persists the freshness token exchanged with the feed server.
//
// The token is an opaque value (typically a Last-Modified date) that the
// server hands out and the client sends back to avoid re-downloading
// unchanged data. It is never invented locally.
//
// The in-memory copy is authoritative while the process runs; sharing the
// token file between concurrently running processes is not supported.
package token

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jpalmerr/gitfeed/internal/atomicfile"
)

// Store holds the current freshness token and its on-disk copy.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	value string
	set   bool
}

// New creates a token [Store] persisted at path. The store starts without
// a value; call [Store.Load] to read the persisted copy.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the artifact location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted token. A missing, empty or unreadable file
// leaves the store without a value; read errors are logged, not returned.
func (s *Store) Load() (string, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("freshness token unreadable, starting without one", "path", s.path, "error", err)
		}
		s.reset()
		return "", false
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		s.reset()
		return "", false
	}

	s.mu.Lock()
	s.value, s.set = value, true
	s.mu.Unlock()
	return value, true
}

// Value returns the current token and whether one is set.
func (s *Store) Value() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

// Update replaces the current token. It reports whether the value changed.
// Empty values are ignored: a token is only ever replaced, never cleared.
func (s *Store) Update(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && s.value == value {
		return false
	}
	s.value, s.set = value, true
	return true
}

// Persist writes the current token atomically. With no token set the
// artifact is left untouched.
func (s *Store) Persist() error {
	value, ok := s.Value()
	if !ok {
		return nil
	}
	if err := atomicfile.Write(s.path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("persist freshness token %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) reset() {
	s.mu.Lock()
	s.value, s.set = "", false
	s.mu.Unlock()
}
