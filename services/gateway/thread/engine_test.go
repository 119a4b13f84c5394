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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/store"
)

// fakeClock returns a pinned instant.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

// mockThreadStore implements store.ThreadStore for engine tests.
type mockThreadStore struct {
	store.ThreadStore

	latest    store.Thread
	latestErr error

	created   []store.Thread
	createErr error
}

func (m *mockThreadStore) FindLatestByOwner(ctx context.Context, ownerID string) (store.Thread, error) {
	if m.latestErr != nil {
		return store.Thread{}, m.latestErr
	}
	return m.latest, nil
}

func (m *mockThreadStore) Create(ctx context.Context, thread store.Thread) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, thread)
	return nil
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// TestNewEngine_PanicsOnNilStore verifies the required dependency check.
func TestNewEngine_PanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() {
		NewEngine(nil, &fakeClock{})
	})
}

// TestResolveActive_FirstMessageCreatesThread verifies that an owner
// with no threads gets a fresh one stamped with the current instant.
func TestResolveActive_FirstMessageCreatesThread(t *testing.T) {
	threads := &mockThreadStore{latestErr: store.ErrNotFound}
	engine := NewEngine(threads, &fakeClock{now: baseTime})

	resolved, created, err := engine.ResolveActive(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, resolved.ID)
	assert.Equal(t, "user-1", resolved.OwnerID)
	assert.Equal(t, baseTime.UnixMilli(), resolved.CreatedAt)
	assert.Equal(t, baseTime.UnixMilli(), resolved.UpdatedAt)
	require.Len(t, threads.created, 1)
	assert.Equal(t, resolved, threads.created[0])
}

// TestResolveActive_ReusesInsideWindow verifies continuation just under
// the 30-minute window.
func TestResolveActive_ReusesInsideWindow(t *testing.T) {
	latest := store.Thread{
		ID:        "thread-1",
		OwnerID:   "user-1",
		CreatedAt: baseTime.UnixMilli(),
		UpdatedAt: baseTime.UnixMilli(),
	}
	threads := &mockThreadStore{latest: latest}
	clock := &fakeClock{now: baseTime.Add(29*time.Minute + 59*time.Second)}
	engine := NewEngine(threads, clock)

	resolved, created, err := engine.ResolveActive(context.Background(), "user-1")

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "thread-1", resolved.ID)
	assert.Empty(t, threads.created, "no new thread inside the window")
}

// TestResolveActive_ExpiresAtExactBoundary verifies that a thread whose
// last activity is exactly 30 minutes old is expired, not continued.
func TestResolveActive_ExpiresAtExactBoundary(t *testing.T) {
	latest := store.Thread{
		ID:        "thread-1",
		OwnerID:   "user-1",
		CreatedAt: baseTime.UnixMilli(),
		UpdatedAt: baseTime.UnixMilli(),
	}
	threads := &mockThreadStore{latest: latest}
	clock := &fakeClock{now: baseTime.Add(ContinuationWindow)}
	engine := NewEngine(threads, clock)

	resolved, created, err := engine.ResolveActive(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, created, "exactly 30:00 elapsed must start a new thread")
	assert.NotEqual(t, "thread-1", resolved.ID)
}

// TestResolveActive_ExpiredThreadStartsNew verifies fresh-thread
// creation well past the window.
func TestResolveActive_ExpiredThreadStartsNew(t *testing.T) {
	latest := store.Thread{
		ID:        "thread-1",
		OwnerID:   "user-1",
		CreatedAt: baseTime.UnixMilli(),
		UpdatedAt: baseTime.UnixMilli(),
	}
	threads := &mockThreadStore{latest: latest}
	clock := &fakeClock{now: baseTime.Add(2 * time.Hour)}
	engine := NewEngine(threads, clock)

	resolved, created, err := engine.ResolveActive(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, clock.now.UnixMilli(), resolved.CreatedAt)
}

// TestResolveActive_WindowMeasuresFromLastUpdate verifies that the
// window anchors on updated_at, so a touched thread stays continuable
// past 30 minutes from creation.
func TestResolveActive_WindowMeasuresFromLastUpdate(t *testing.T) {
	latest := store.Thread{
		ID:        "thread-1",
		OwnerID:   "user-1",
		CreatedAt: baseTime.UnixMilli(),
		UpdatedAt: baseTime.Add(25 * time.Minute).UnixMilli(),
	}
	threads := &mockThreadStore{latest: latest}
	clock := &fakeClock{now: baseTime.Add(45 * time.Minute)}
	engine := NewEngine(threads, clock)

	resolved, created, err := engine.ResolveActive(context.Background(), "user-1")

	require.NoError(t, err)
	assert.False(t, created, "20 minutes since last update is inside the window")
	assert.Equal(t, "thread-1", resolved.ID)
}

// TestResolveActive_StoreFailurePropagates verifies that unexpected
// store errors are not swallowed into thread creation.
func TestResolveActive_StoreFailurePropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	threads := &mockThreadStore{latestErr: boom}
	engine := NewEngine(threads, &fakeClock{now: baseTime})

	_, _, err := engine.ResolveActive(context.Background(), "user-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, threads.created)
}

// TestResolveActive_CreateFailurePropagates verifies create errors
// surface to the caller.
func TestResolveActive_CreateFailurePropagates(t *testing.T) {
	boom := errors.New("insert failed")
	threads := &mockThreadStore{latestErr: store.ErrNotFound, createErr: boom}
	engine := NewEngine(threads, &fakeClock{now: baseTime})

	_, _, err := engine.ResolveActive(context.Background(), "user-1")

	assert.ErrorIs(t, err, boom)
}
