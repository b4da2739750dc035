package history

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jpalmerr/gitfeed/internal/atomicfile"
	"github.com/jpalmerr/gitfeed/internal/event"
)

// FileBackend persists history as a JSON array of feed records.
type FileBackend struct {
	path string
}

// NewFileBackend returns a [FileBackend] writing to path. The parent
// directory is created on the first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the artifact location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the artifact. A missing file is an empty history; records
// that no longer parse are dropped.
func (b *FileBackend) Load() ([]event.Event, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistError{Op: "load", Path: b.path, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}

	events, _, err := event.Decode(data)
	if err != nil {
		return nil, &PersistError{Op: "load", Path: b.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	return events, nil
}

// Save replaces the artifact atomically: the records are written to a
// temporary file in the same directory which is then renamed over the
// previous artifact.
func (b *FileBackend) Save(events []event.Event) error {
	data, err := event.Encode(events)
	if err != nil {
		return &PersistError{Op: "save", Path: b.path, Err: err}
	}
	if err := atomicfile.Write(b.path, data, 0o644); err != nil {
		return &PersistError{Op: "save", Path: b.path, Err: err}
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
