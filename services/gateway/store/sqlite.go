// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// =============================================================================
// Schema
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_owner_updated
	ON threads(owner_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_threads_created
	ON threads(created_at);

CREATE TABLE IF NOT EXISTS exchanges (
	id                TEXT PRIMARY KEY,
	thread_id         TEXT NOT NULL,
	owner_id          TEXT NOT NULL,
	user_message      TEXT NOT NULL,
	assistant_message TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_exchanges_thread_created
	ON exchanges(thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_exchanges_created
	ON exchanges(created_at);
`

// =============================================================================
// SQLite Store
// =============================================================================

// SQLiteStore implements ThreadStore and HistoryStore over a single
// SQLite database.
//
// # Description
//
// Uses the pure-Go modernc.org/sqlite driver, so the gateway builds
// without cgo. WAL mode keeps concurrent request handlers from blocking
// each other on reads; the busy timeout absorbs short write contention.
//
// # Thread Safety
//
// Safe for concurrent use. database/sql manages the connection pool.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the gateway database at path and
// applies the schema.
//
// # Inputs
//
//   - path: Filesystem path for the database file.
//
// # Outputs
//
//   - *SQLiteStore: Ready for use.
//   - error: Non-nil if the database could not be opened or migrated.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Opened gateway database", "path", path)
	return s, nil
}

// migrate applies the schema. Idempotent; every statement is
// CREATE IF NOT EXISTS.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// ThreadStore Implementation
// =============================================================================

// Create persists a new thread.
func (s *SQLiteStore) Create(ctx context.Context, thread Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		thread.ID, thread.OwnerID, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// FindLatestByOwner returns the owner's most recently updated thread.
func (s *SQLiteStore) FindLatestByOwner(ctx context.Context, ownerID string) (Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at, updated_at FROM threads
		 WHERE owner_id = ? ORDER BY updated_at DESC LIMIT 1`, ownerID)

	var t Thread
	err := row.Scan(&t.ID, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("query latest thread: %w", err)
	}
	return t, nil
}

// FindAllByOwnerPaginated returns one page of the owner's threads.
func (s *SQLiteStore) FindAllByOwnerPaginated(ctx context.Context, ownerID string,
	limit, offset int, desc bool) ([]Thread, error) {

	query := `SELECT id, owner_id, created_at, updated_at FROM threads
		 WHERE owner_id = ? ORDER BY created_at ` + orderKeyword(desc) + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query owner threads: %w", err)
	}
	defer rows.Close()
	return scanThreads(rows)
}

// FindAllPaginated returns one page of all threads across owners.
func (s *SQLiteStore) FindAllPaginated(ctx context.Context,
	limit, offset int, desc bool) ([]Thread, error) {

	query := `SELECT id, owner_id, created_at, updated_at FROM threads
		 ORDER BY created_at ` + orderKeyword(desc) + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query all threads: %w", err)
	}
	defer rows.Close()
	return scanThreads(rows)
}

// ExistsByIDAndOwner reports whether the thread exists under the owner.
func (s *SQLiteStore) ExistsByIDAndOwner(ctx context.Context, threadID, ownerID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads WHERE id = ? AND owner_id = ?`, threadID, ownerID)

	var count int64
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("query thread ownership: %w", err)
	}
	return count > 0, nil
}

// Touch advances the thread's updated_at timestamp.
func (s *SQLiteStore) Touch(ctx context.Context, threadID string, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, updatedAt, threadID)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

// Delete removes the thread and its exchanges in one transaction.
//
// The exchanges table carries ON DELETE CASCADE, but the explicit delete
// keeps the behavior correct even on connections where the foreign_keys
// pragma was not applied.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM exchanges WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread exchanges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread delete: %w", err)
	}
	return nil
}

// CountByOwner returns the owner's total thread count.
func (s *SQLiteStore) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads WHERE owner_id = ?`, ownerID)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count owner threads: %w", err)
	}
	return count, nil
}

// Count returns the total thread count across all owners.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count threads: %w", err)
	}
	return count, nil
}

// =============================================================================
// HistoryStore Implementation
// =============================================================================

// CreateExchange persists a new exchange.
//
// Named CreateExchange on the concrete type because SQLiteStore also
// implements ThreadStore.Create; the exchangeStore adapter restores the
// interface method name.
func (s *SQLiteStore) CreateExchange(ctx context.Context, exchange Exchange) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, thread_id, owner_id, user_message, assistant_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exchange.ID, exchange.ThreadID, exchange.OwnerID,
		exchange.UserMessage, exchange.AssistantMessage, exchange.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// FindAllByThreadAsc returns the thread's exchanges, oldest first.
func (s *SQLiteStore) FindAllByThreadAsc(ctx context.Context, threadID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, owner_id, user_message, assistant_message, created_at
		 FROM exchanges WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query thread exchanges: %w", err)
	}
	defer rows.Close()
	return scanExchanges(rows)
}

// DeleteAllByThread removes every exchange in the thread.
func (s *SQLiteStore) DeleteAllByThread(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM exchanges WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread exchanges: %w", err)
	}
	return nil
}

// CountSince returns the number of exchanges created after the instant.
func (s *SQLiteStore) CountSince(ctx context.Context, since int64) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exchanges WHERE created_at > ?`, since)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count exchanges since: %w", err)
	}
	return count, nil
}

// FindSince returns exchanges created after the instant, newest first.
func (s *SQLiteStore) FindSince(ctx context.Context, since int64) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, owner_id, user_message, assistant_message, created_at
		 FROM exchanges WHERE created_at > ? ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query exchanges since: %w", err)
	}
	defer rows.Close()
	return scanExchanges(rows)
}

// =============================================================================
// Interface Adapters
// =============================================================================

// exchangeStore adapts SQLiteStore to the HistoryStore interface. The
// adapter exists only to map Create onto CreateExchange.
type exchangeStore struct {
	*SQLiteStore
}

func (e exchangeStore) Create(ctx context.Context, exchange Exchange) error {
	return e.CreateExchange(ctx, exchange)
}

// Threads returns the ThreadStore view of the database.
func (s *SQLiteStore) Threads() ThreadStore {
	return s
}

// History returns the HistoryStore view of the database.
func (s *SQLiteStore) History() HistoryStore {
	return exchangeStore{s}
}

// =============================================================================
// Row Scanning Helpers
// =============================================================================

func orderKeyword(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func scanThreads(rows *sql.Rows) ([]Thread, error) {
	threads := []Thread{}
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return threads, nil
}

func scanExchanges(rows *sql.Rows) ([]Exchange, error) {
	exchanges := []Exchange{}
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.OwnerID,
			&e.UserMessage, &e.AssistantMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rows: %w", err)
	}
	return exchanges, nil
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ ThreadStore = (*SQLiteStore)(nil)
var _ HistoryStore = exchangeStore{}
