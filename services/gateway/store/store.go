// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides persistence for conversation threads and
// exchanges.
//
// # Description
//
// Two narrow interfaces split the persistence surface: ThreadStore for
// thread metadata and HistoryStore for immutable exchanges. The SQLite
// implementation in sqlite.go backs both with one database handle.
//
// All timestamps are Unix milliseconds UTC.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// =============================================================================
// Records
// =============================================================================

// Thread groups exchanges into one conversation.
//
// UpdatedAt advances whenever an exchange is accepted into the thread;
// it never moves backwards and is never earlier than CreatedAt.
type Thread struct {
	ID        string
	OwnerID   string
	CreatedAt int64
	UpdatedAt int64
}

// Exchange is one immutable user/assistant turn pair within a thread.
type Exchange struct {
	ID               string
	ThreadID         string
	OwnerID          string
	UserMessage      string
	AssistantMessage string
	CreatedAt        int64
}

// =============================================================================
// Store Interfaces
// =============================================================================

// ThreadStore persists conversation threads.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. There is deliberately
// no uniqueness guarantee on (owner, active window); concurrent chat
// requests from one owner may create sibling threads.
type ThreadStore interface {
	// Create persists a new thread.
	Create(ctx context.Context, thread Thread) error

	// FindLatestByOwner returns the owner's most recently updated thread.
	// Returns ErrNotFound when the owner has no threads.
	FindLatestByOwner(ctx context.Context, ownerID string) (Thread, error)

	// FindAllByOwnerPaginated returns one page of the owner's threads
	// ordered by creation time, newest first when desc is true.
	FindAllByOwnerPaginated(ctx context.Context, ownerID string, limit, offset int, desc bool) ([]Thread, error)

	// FindAllPaginated returns one page of all threads across owners,
	// ordered by creation time. Admin listing only.
	FindAllPaginated(ctx context.Context, limit, offset int, desc bool) ([]Thread, error)

	// ExistsByIDAndOwner reports whether the thread exists and belongs
	// to the owner. A missing thread and a foreign thread are
	// indistinguishable to the caller.
	ExistsByIDAndOwner(ctx context.Context, threadID, ownerID string) (bool, error)

	// Touch advances the thread's updated_at timestamp.
	Touch(ctx context.Context, threadID string, updatedAt int64) error

	// Delete removes the thread and all of its exchanges in one
	// transaction. Deleting an absent thread is not an error.
	Delete(ctx context.Context, threadID string) error

	// CountByOwner returns the owner's total thread count.
	CountByOwner(ctx context.Context, ownerID string) (int64, error)

	// Count returns the total thread count across all owners.
	Count(ctx context.Context) (int64, error)
}

// HistoryStore persists exchanges.
type HistoryStore interface {
	// Create persists a new exchange.
	Create(ctx context.Context, exchange Exchange) error

	// FindAllByThreadAsc returns the thread's full exchange history,
	// oldest first. Unbounded; context assembly replays everything.
	FindAllByThreadAsc(ctx context.Context, threadID string) ([]Exchange, error)

	// DeleteAllByThread removes every exchange in the thread.
	DeleteAllByThread(ctx context.Context, threadID string) error

	// CountSince returns the number of exchanges created strictly after
	// the given Unix-millisecond instant. Feeds usage reporting.
	CountSince(ctx context.Context, since int64) (int64, error)

	// FindSince returns exchanges created strictly after the given
	// instant, newest first. Feeds usage reporting.
	FindSince(ctx context.Context, since int64) ([]Exchange, error)
}
