// Package queue persists the decks waiting for remote sync.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kioku/internal/kioku"
	"kioku/internal/queue/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteQueue implements kioku.UnsyncedQueue on SQLite. Entries keep their
// first-enqueue sequence number, which defines drain order.
type SQLiteQueue struct {
	db   *sql.DB
	path string
}

var _ kioku.UnsyncedQueue = (*SQLiteQueue)(nil)

// NewSQLiteQueue opens the queue database at path, applying pending
// migrations. path can be ":memory:".
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: creating queue directory: %v", kioku.ErrStorageUnavailable, err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrations.CheckMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteQueue{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: every ":memory:" connection is a separate database,
	// and queue writes are serialized anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

const entryColumns = "note_name, sub_folder, reason, queued_at, attempts, next_attempt_at, last_error"

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: queue %s: %v", kioku.ErrStorageUnavailable, op, err)
}

// Enqueue adds the deck or, if it is already queued, updates its reason
// and QueuedAt. Attempts and the next attempt time of a queued deck are kept.
func (q *SQLiteQueue) Enqueue(ctx context.Context, e kioku.UnsyncedDeckEntry) error {
	if err := e.Key().Validate(); err != nil {
		return err
	}
	if !e.Reason.Valid() {
		return fmt.Errorf("invalid reason %q", e.Reason)
	}
	next := e.NextAttemptAt
	if next.IsZero() {
		next = e.QueuedAt
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO unsynced_decks (note_name, sub_folder, reason, queued_at, attempts, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (note_name, sub_folder) DO UPDATE SET
			reason = excluded.reason,
			queued_at = excluded.queued_at`,
		e.NoteName, e.SubFolder, string(e.Reason), e.QueuedAt.UnixNano(), e.Attempts, next.UnixNano())
	if err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

// DequeueAllDue returns the entries due at now in enqueue order.
func (q *SQLiteQueue) DequeueAllDue(ctx context.Context, now time.Time) ([]kioku.UnsyncedDeckEntry, error) {
	return q.query(ctx, "dequeue",
		"SELECT "+entryColumns+" FROM unsynced_decks WHERE next_attempt_at <= ? ORDER BY seq",
		now.UnixNano())
}

// List returns all entries in enqueue order.
func (q *SQLiteQueue) List(ctx context.Context) ([]kioku.UnsyncedDeckEntry, error) {
	return q.query(ctx, "list", "SELECT "+entryColumns+" FROM unsynced_decks ORDER BY seq")
}

// Len returns the number of queued decks.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM unsynced_decks").Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Get returns the entry of one deck, or an error wrapping kioku.ErrNotFound.
func (q *SQLiteQueue) Get(ctx context.Context, key kioku.DeckKey) (kioku.UnsyncedDeckEntry, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM unsynced_decks WHERE note_name = ? AND sub_folder = ?",
		key.NoteName, key.SubFolder)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kioku.UnsyncedDeckEntry{}, fmt.Errorf("deck %s: %w", key, kioku.ErrNotFound)
		}
		return kioku.UnsyncedDeckEntry{}, unavailable("get", err)
	}
	return e, nil
}

// Remove deletes the entry of a deck. Removing a deck that is not queued is not an error.
func (q *SQLiteQueue) Remove(ctx context.Context, noteName, subFolder string) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM unsynced_decks WHERE note_name = ? AND sub_folder = ?", noteName, subFolder)
	if err != nil {
		return unavailable("remove", err)
	}
	return nil
}

// UpdateReason changes the reason of a queued deck.
func (q *SQLiteQueue) UpdateReason(ctx context.Context, noteName, subFolder string, reason kioku.Reason) error {
	if !reason.Valid() {
		return fmt.Errorf("invalid reason %q", reason)
	}
	res, err := q.db.ExecContext(ctx,
		"UPDATE unsynced_decks SET reason = ? WHERE note_name = ? AND sub_folder = ?",
		string(reason), noteName, subFolder)
	if err != nil {
		return unavailable("update reason", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update reason", err)
	}
	if n == 0 {
		key := kioku.DeckKey{NoteName: noteName, SubFolder: subFolder}
		return fmt.Errorf("deck %s: %w", key, kioku.ErrNotFound)
	}
	return nil
}

// RecordFailure enqueues the deck if needed, bumps its attempt counter and
// schedules the next attempt.
func (q *SQLiteQueue) RecordFailure(ctx context.Context, key kioku.DeckKey, f kioku.SyncFailure) (kioku.UnsyncedDeckEntry, error) {
	if err := key.Validate(); err != nil {
		return kioku.UnsyncedDeckEntry{}, err
	}
	if !f.Reason.Valid() {
		return kioku.UnsyncedDeckEntry{}, fmt.Errorf("invalid reason %q", f.Reason)
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO unsynced_decks (note_name, sub_folder, reason, queued_at, attempts, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (note_name, sub_folder) DO UPDATE SET
			reason = excluded.reason,
			attempts = unsynced_decks.attempts + 1,
			next_attempt_at = excluded.next_attempt_at,
			last_error = excluded.last_error`,
		key.NoteName, key.SubFolder, string(f.Reason), f.At.UnixNano(), f.NextAttemptAt.UnixNano(), f.Err)
	if err != nil {
		return kioku.UnsyncedDeckEntry{}, unavailable("record failure", err)
	}
	return q.Get(ctx, key)
}

// Close closes the database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func (q *SQLiteQueue) query(ctx context.Context, op, query string, args ...any) ([]kioku.UnsyncedDeckEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var entries []kioku.UnsyncedDeckEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (kioku.UnsyncedDeckEntry, error) {
	var (
		e                kioku.UnsyncedDeckEntry
		reason           string
		queuedAt, nextAt int64
	)
	if err := s.Scan(&e.NoteName, &e.SubFolder, &reason, &queuedAt, &e.Attempts, &nextAt, &e.LastError); err != nil {
		return kioku.UnsyncedDeckEntry{}, err
	}
	e.Reason = kioku.Reason(reason)
	e.QueuedAt = time.Unix(0, queuedAt)
	e.NextAttemptAt = time.Unix(0, nextAt)
	return e, nil
}
