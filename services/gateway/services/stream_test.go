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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// collectChunks returns an emit function appending into the given slice.
func collectChunks(chunks *[]datatypes.Chunk) func(datatypes.Chunk) error {
	return func(c datatypes.Chunk) error {
		*chunks = append(*chunks, c)
		return nil
	}
}

// TestChatStream_AccumulatesAndPersists verifies the streaming happy
// path: chunks forwarded in order, the concatenation persisted as one
// exchange after completion.
func TestChatStream_AccumulatesAndPersists(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.mockLLM.StreamTokens = []string{"Hi", "there"}

	var chunks []datatypes.Chunk
	threadID, err := h.svc.ChatStream(ctx, "user-1", chatRequest("hello"), collectChunks(&chunks))

	require.NoError(t, err)
	require.NotEmpty(t, threadID)
	require.Len(t, chunks, 2)
	assert.Equal(t, datatypes.ChunkData, chunks[0].Kind)
	assert.Equal(t, "Hi", chunks[0].Content)
	assert.Equal(t, "there", chunks[1].Content)
	assert.Equal(t, threadID, chunks[0].ThreadID)

	h.svc.Drain()
	exchanges, err := h.db.FindAllByThreadAsc(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "Hithere", exchanges[0].AssistantMessage,
		"persisted answer is the concatenation of forwarded chunks")
	assert.Equal(t, "hello", exchanges[0].UserMessage)
}

// TestChatStream_FiltersBlankFragments verifies that empty and
// whitespace-only provider fragments are neither forwarded nor
// accumulated.
func TestChatStream_FiltersBlankFragments(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.mockLLM.StreamTokens = []string{"", "  ", "Hello", "\n\t", "world"}

	var chunks []datatypes.Chunk
	threadID, err := h.svc.ChatStream(ctx, "user-1", chatRequest("hi"), collectChunks(&chunks))

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, "world", chunks[1].Content)

	h.svc.Drain()
	exchanges, err := h.db.FindAllByThreadAsc(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "Helloworld", exchanges[0].AssistantMessage)
}

// TestChatStream_AdvancesThreadWindow verifies the detached thread
// touch: after draining, a follow-up inside the window continues the
// same thread.
func TestChatStream_AdvancesThreadWindow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.mockLLM.StreamTokens = []string{"answer"}

	var first []datatypes.Chunk
	firstID, err := h.svc.ChatStream(ctx, "user-1", chatRequest("one"), collectChunks(&first))
	require.NoError(t, err)
	h.svc.Drain()

	h.clock.Advance(25 * time.Minute)
	var second []datatypes.Chunk
	secondID, err := h.svc.ChatStream(ctx, "user-1", chatRequest("two"), collectChunks(&second))
	require.NoError(t, err)
	h.svc.Drain()

	assert.Equal(t, firstID, secondID, "touch keeps the window sliding")
}

// TestChatStream_UnknownProviderEmitsErrorChunk verifies fail-fast
// client resolution: a single terminal error chunk, nil return, and no
// store writes at all.
func TestChatStream_UnknownProviderEmitsErrorChunk(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	req := chatRequest("hello")
	req.Provider = "quantum-llm"

	var chunks []datatypes.Chunk
	threadID, err := h.svc.ChatStream(ctx, "user-1", req, collectChunks(&chunks))

	require.NoError(t, err, "setup errors end the stream normally")
	assert.Empty(t, threadID)
	require.Len(t, chunks, 1)
	assert.Equal(t, datatypes.ChunkError, chunks[0].Kind)
	assert.Contains(t, chunks[0].Content, "Error: ")
	assert.Contains(t, chunks[0].Content, "quantum-llm")

	count, err := h.db.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "client resolution precedes thread resolution")
}

// TestChatStream_ProviderFailureEmitsErrorChunk verifies that a stream
// failing mid-way terminates with one error chunk after the data chunks
// and persists nothing.
func TestChatStream_ProviderFailureEmitsErrorChunk(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.mockLLM.StreamTokens = []string{"partial"}
	h.mockLLM.StreamError = errors.New("backend exploded")

	var chunks []datatypes.Chunk
	threadID, err := h.svc.ChatStream(ctx, "user-1", chatRequest("hello"), collectChunks(&chunks))

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, datatypes.ChunkData, chunks[0].Kind)
	assert.Equal(t, datatypes.ChunkError, chunks[1].Kind)
	assert.Contains(t, chunks[1].Content, "Error: ")

	h.svc.Drain()
	exchanges, err := h.db.FindAllByThreadAsc(ctx, threadID)
	require.NoError(t, err)
	assert.Empty(t, exchanges, "a failed stream records no exchange")
}

// TestChatStream_EagerThreadCreation verifies the thread exists before
// the first chunk is emitted.
func TestChatStream_EagerThreadCreation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.mockLLM.StreamTokens = []string{"answer"}

	var sawThreadOnFirstChunk bool
	emit := func(c datatypes.Chunk) error {
		if !sawThreadOnFirstChunk {
			sawThreadOnFirstChunk = true
			count, err := h.db.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count, "thread row exists before the first chunk")
		}
		return nil
	}

	_, err := h.svc.ChatStream(ctx, "user-1", chatRequest("hello"), emit)
	require.NoError(t, err)
	assert.True(t, sawThreadOnFirstChunk)
}

// TestChatStream_DisconnectPersistsPartialAnswer verifies that a
// consumer failing mid-stream aborts forwarding but the accumulated
// partial answer is still recorded.
func TestChatStream_DisconnectPersistsPartialAnswer(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.mockLLM.StreamTokens = []string{"one", "two", "three"}

	disconnect := errors.New("connection reset")
	emitted := 0
	emit := func(c datatypes.Chunk) error {
		emitted++
		if emitted == 2 {
			return disconnect
		}
		return nil
	}

	threadID, err := h.svc.ChatStream(ctx, "user-1", chatRequest("hello"), emit)

	require.Error(t, err)
	assert.ErrorIs(t, err, disconnect)
	assert.Equal(t, 2, emitted, "no chunks forwarded after the disconnect")

	h.svc.Drain()
	exchanges, findErr := h.db.FindAllByThreadAsc(ctx, threadID)
	require.NoError(t, findErr)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "onetwo", exchanges[0].AssistantMessage,
		"partial accumulation is persisted on disconnect")
}

// TestChatStream_ContextFromPriorExchanges verifies streaming requests
// assemble context the same way sync requests do.
func TestChatStream_ContextFromPriorExchanges(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.svc.Chat(ctx, "user-1", chatRequest("earlier question"))
	require.NoError(t, err)

	h.mockLLM.StreamTokens = []string{"answer"}
	var chunks []datatypes.Chunk
	_, err = h.svc.ChatStream(ctx, "user-1", chatRequest("new question"), collectChunks(&chunks))
	require.NoError(t, err)

	require.Len(t, h.mockLLM.LastMessages, 2)
	assert.Equal(t, "earlier question", h.mockLLM.LastMessages[0].Content)
	assert.Equal(t, "new question", h.mockLLM.LastMessages[1].Content)
}
