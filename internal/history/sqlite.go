package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jpalmerr/gitfeed/internal/event"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteBackend persists history rows in a SQLite database.
//
// Each row holds one serialized record and its position in the history
// (0 is the newest). Save replaces all rows in a single transaction, so a
// failed write leaves the previous history intact.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistError{Op: "open", Path: path, Err: err}
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &PersistError{Op: "open", Path: path, Err: err}
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, &PersistError{Op: "open", Path: path, Err: err}
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS history(
	  position INTEGER PRIMARY KEY,
	  event_id TEXT    NOT NULL UNIQUE,
	  record   TEXT    NOT NULL CHECK (json_valid(record))
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}
	return nil
}

// Path returns the database location.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// Load returns the stored history, newest first. Rows whose record no
// longer parses are skipped.
func (b *SQLiteBackend) Load() ([]event.Event, error) {
	rows, err := b.db.Query(`SELECT record FROM history ORDER BY position ASC`)
	if err != nil {
		return nil, &PersistError{Op: "load", Path: b.path, Err: err}
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, &PersistError{Op: "load", Path: b.path, Err: err}
		}
		// decode each row as a single-element batch to reuse the record codec
		parsed, _, err := event.Decode([]byte("[" + record + "]"))
		if err != nil {
			return nil, &PersistError{Op: "load", Path: b.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
		}
		events = append(events, parsed...)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistError{Op: "load", Path: b.path, Err: err}
	}
	return events, nil
}

// Save replaces the stored history with events.
func (b *SQLiteBackend) Save(events []event.Event) error {
	if err := b.save(events); err != nil {
		return &PersistError{Op: "save", Path: b.path, Err: err}
	}
	return nil
}

func (b *SQLiteBackend) save(events []event.Event) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM history`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear history: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO history(position, event_id, record) VALUES(?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		record, err := json.Marshal(ev.Serialize())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
		}
		if _, err := stmt.Exec(i, ev.ID, string(record)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
