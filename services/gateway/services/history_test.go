// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/thread"
)

func historyRequest(page, size int, dir datatypes.SortDirection) datatypes.HistoryListRequest {
	req := datatypes.HistoryListRequest{Page: page, Size: size, SortDirection: dir}
	req.EnsureDefaults()
	return req
}

// seedThreads creates n single-exchange threads for the owner, each in
// its own expired window so they stay distinct.
func seedThreads(t *testing.T, h *testHarness, ownerID string, n int) []string {
	t.Helper()

	var ids []string
	for i := 0; i < n; i++ {
		resp, err := h.svc.Chat(context.Background(), ownerID, chatRequest("question"))
		require.NoError(t, err)
		ids = append(ids, resp.ThreadID)
		h.clock.Advance(thread.ContinuationWindow + time.Minute)
	}
	return ids
}

// TestGetChatHistory_PagesAndSorts verifies page math, both sort
// directions, and the attached exchanges.
func TestGetChatHistory_PagesAndSorts(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	ids := seedThreads(t, h, "user-1", 5)

	desc, err := h.svc.GetChatHistory(ctx, "user-1", historyRequest(0, 2, datatypes.SortDesc))
	require.NoError(t, err)
	require.Len(t, desc.Threads, 2)
	assert.Equal(t, ids[4], desc.Threads[0].ID, "newest first")
	assert.Equal(t, ids[3], desc.Threads[1].ID)
	assert.Equal(t, int64(5), desc.TotalElements)
	assert.Equal(t, 0, desc.Page)
	assert.Equal(t, 2, desc.Size)
	require.Len(t, desc.Threads[0].Exchanges, 1)
	assert.Equal(t, "question", desc.Threads[0].Exchanges[0].UserMessage)
	assert.Equal(t, "mock answer", desc.Threads[0].Exchanges[0].AssistantMessage)

	asc, err := h.svc.GetChatHistory(ctx, "user-1", historyRequest(1, 2, datatypes.SortAsc))
	require.NoError(t, err)
	require.Len(t, asc.Threads, 2)
	assert.Equal(t, ids[2], asc.Threads[0].ID, "second ascending page")
	assert.Equal(t, ids[3], asc.Threads[1].ID)
}

// TestGetChatHistory_ScopedToOwner verifies that another owner's
// threads never appear in the listing.
func TestGetChatHistory_ScopedToOwner(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	seedThreads(t, h, "user-1", 2)
	seedThreads(t, h, "user-2", 3)

	resp, err := h.svc.GetChatHistory(ctx, "user-1", historyRequest(0, 10, datatypes.SortDesc))
	require.NoError(t, err)
	assert.Len(t, resp.Threads, 2)
	assert.Equal(t, int64(2), resp.TotalElements)
	for _, th := range resp.Threads {
		assert.Equal(t, "user-1", th.OwnerID)
	}
}

// TestGetChatHistory_EmptyOwner verifies the empty listing shape.
func TestGetChatHistory_EmptyOwner(t *testing.T) {
	h := newTestHarness(t)

	resp, err := h.svc.GetChatHistory(context.Background(), "nobody",
		historyRequest(0, 20, datatypes.SortDesc))

	require.NoError(t, err)
	assert.Empty(t, resp.Threads)
	assert.Zero(t, resp.TotalElements)
}

// TestAdminGetAllChatHistory_SpansOwners verifies the admin listing
// covers every owner with the same response shape.
func TestAdminGetAllChatHistory_SpansOwners(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	seedThreads(t, h, "user-1", 2)
	seedThreads(t, h, "user-2", 1)

	admin := NewAdminChatService(h.svc)
	resp, err := admin.GetAllChatHistory(ctx, historyRequest(0, 10, datatypes.SortAsc))

	require.NoError(t, err)
	assert.Len(t, resp.Threads, 3)
	assert.Equal(t, int64(3), resp.TotalElements)

	owners := map[string]bool{}
	for _, th := range resp.Threads {
		owners[th.OwnerID] = true
	}
	assert.True(t, owners["user-1"])
	assert.True(t, owners["user-2"])
}

// TestDeleteThread_OwnerDeletesOwnThread verifies the cascade delete
// through the service layer.
func TestDeleteThread_OwnerDeletesOwnThread(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	ids := seedThreads(t, h, "user-1", 2)

	require.NoError(t, h.svc.DeleteThread(ctx, "user-1", ids[0]))

	resp, err := h.svc.GetChatHistory(ctx, "user-1", historyRequest(0, 10, datatypes.SortDesc))
	require.NoError(t, err)
	assert.Len(t, resp.Threads, 1)
	assert.Equal(t, ids[1], resp.Threads[0].ID)

	exchanges, err := h.db.FindAllByThreadAsc(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, exchanges, "exchanges cascade with the thread")
}

// TestDeleteThread_ForeignThreadRejected verifies the collapsed
// not-owned error and that the thread survives.
func TestDeleteThread_ForeignThreadRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	ids := seedThreads(t, h, "user-1", 1)

	err := h.svc.DeleteThread(ctx, "user-2", ids[0])

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThreadNotOwned)

	exchanges, findErr := h.db.FindAllByThreadAsc(ctx, ids[0])
	require.NoError(t, findErr)
	assert.Len(t, exchanges, 1, "foreign delete must not touch the thread")
}

// TestDeleteThread_MissingThreadSameError verifies that a nonexistent
// thread fails identically to a foreign one.
func TestDeleteThread_MissingThreadSameError(t *testing.T) {
	h := newTestHarness(t)

	err := h.svc.DeleteThread(context.Background(), "user-1",
		"00000000-0000-4000-8000-000000000000")

	assert.ErrorIs(t, err, ErrThreadNotOwned)
}

// TestGetUsageReport verifies the strict-after boundary and newest-first
// ordering of the admin usage report.
func TestGetUsageReport(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	cutoff := h.clock.Now().UnixMilli()
	seedThreads(t, h, "user-1", 3)

	admin := NewAdminChatService(h.svc)
	report, err := admin.GetUsageReport(ctx, cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ExchangeCount,
		"the exchange stamped exactly at the cutoff is excluded")
	require.Len(t, report.Recent, 2)
	assert.GreaterOrEqual(t, report.Recent[0].CreatedAt, report.Recent[1].CreatedAt)
}
