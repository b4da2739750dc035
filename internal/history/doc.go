// Package history keeps the bounded, deduplicated event history and its
// persisted copy.
//
// The main components are:
//
//   - [Store]: current history with Load, Merge and Persist
//   - [Merge]: the pure prepend, dedup and truncate step
//   - [FileBackend]: JSON artifact replaced atomically on each save
//   - [SQLiteBackend]: the same history kept in a SQLite table
//   - [Watcher]: reports artifact changes made by another process
//
// Read failures are never fatal: a missing or corrupt artifact loads as an
// empty history.
package history
