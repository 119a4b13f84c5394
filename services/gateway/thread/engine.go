// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/chatgateway/services/gateway/store"
)

// ContinuationWindow is how long a thread stays continuable after its
// last accepted exchange. At exactly this much elapsed time the thread
// is expired; the window is inclusive at zero elapsed and exclusive at
// the boundary.
const ContinuationWindow = 30 * time.Minute

// Engine resolves which thread an owner's next message belongs to.
//
// # Description
//
// An owner has at most one thread considered "active": the most
// recently updated one, and only while its last activity is inside the
// ContinuationWindow. A message arriving after the window lapses starts
// a fresh thread.
//
// Messages never span threads; once a thread expires it is only
// readable, never continued.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent calls for the same owner may each
// decide to create a thread; the store accepts both and subsequent
// messages attach to whichever thread was updated last. Thread creation
// is rare enough (once per 30-minute window per owner) that serializing
// resolution was not worth a lock or a uniqueness constraint.
type Engine struct {
	threads store.ThreadStore
	clock   Clock
}

// NewEngine creates a lifecycle engine.
//
// Panics if threads is nil. A nil clock defaults to the system clock.
func NewEngine(threads store.ThreadStore, clock Clock) *Engine {
	if threads == nil {
		panic("NewEngine: threads store is required")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Engine{threads: threads, clock: clock}
}

// ResolveActive returns the thread the owner's next message belongs to,
// creating one when none is continuable.
//
// # Description
//
// Fetches the owner's most recently updated thread and applies the
// continuation rule: the thread is reused iff now is strictly before
// lastUpdated + ContinuationWindow. Expiry is evaluated lazily at
// resolution time; nothing in the stored thread marks it expired.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - ownerID: The requesting owner. Must be non-empty.
//
// # Outputs
//
//   - store.Thread: The continuable or newly created thread.
//   - bool: True when a new thread was created.
//   - error: Non-nil on store failure.
func (e *Engine) ResolveActive(ctx context.Context, ownerID string) (store.Thread, bool, error) {
	now := e.clock.Now()

	latest, err := e.threads.FindLatestByOwner(ctx, ownerID)
	switch {
	case err == nil:
		if e.continuable(latest, now) {
			return latest, false, nil
		}
		slog.Debug("Latest thread expired, starting a new one",
			"owner_id", ownerID, "thread_id", latest.ID)
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("Owner has no threads yet", "owner_id", ownerID)
	default:
		return store.Thread{}, false, fmt.Errorf("resolve active thread: %w", err)
	}

	created := store.Thread{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
	if err := e.threads.Create(ctx, created); err != nil {
		return store.Thread{}, false, fmt.Errorf("create thread: %w", err)
	}
	slog.Info("Created conversation thread", "owner_id", ownerID, "thread_id", created.ID)
	return created, true, nil
}

// continuable reports whether the thread's window is still open at now.
func (e *Engine) continuable(t store.Thread, now time.Time) bool {
	deadline := time.UnixMilli(t.UpdatedAt).Add(ContinuationWindow)
	return now.Before(deadline)
}

// Now exposes the engine's clock reading. Callers stamping exchanges and
// thread touches use this so all lifecycle timestamps come from one
// clock source.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}
