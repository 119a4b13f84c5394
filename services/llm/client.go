// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides LLM backend clients for the chat gateway.
package llm

import (
	"context"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// GenerationParams carries per-call generation options.
//
// Model overrides the client's default model for a single call. The
// factory uses this so that one shared client handle can serve several
// provider enum variants of the same backend.
type GenerationParams struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// =============================================================================
// Streaming Event Types
// =============================================================================

// StreamEventType represents the type of streaming event emitted by a client.
type StreamEventType string

const (
	StreamEventToken StreamEventType = "token"
	StreamEventError StreamEventType = "error"
	StreamEventDone  StreamEventType = "done"
)

// StreamEvent is a single event produced during a streaming generation.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   error           `json:"-"`
}

// StreamCallback is invoked for each streaming event. Returning a non-nil
// error aborts the stream; the client stops reading from the backend and
// ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Client Interface
// =============================================================================

// LLMClient defines the standard interface for any LLM backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one client handle is
// shared by all requests selecting the same backend.
type LLMClient interface {
	// Generate produces text from a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat conducts a conversation with message history and returns the
	// complete assistant answer.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream streams a conversation response token-by-token through
	// the callback. Backend and callback errors are returned; the caller
	// decides how to surface them.
	ChatStream(ctx context.Context, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}
