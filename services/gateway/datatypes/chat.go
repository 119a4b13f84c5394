// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gateway service.
//
// This file contains request and response types for the chat endpoint
// (sync and streaming). For history listing types, see history.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	// Register custom validator rejecting whitespace-only content
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageContentBytes.
//
// # Description
//
// Custom validator to enforce SEC-003 message size limits. Checks byte length
// (not rune count) to prevent memory exhaustion attacks with large payloads.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if content <= 32KB, false otherwise
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// validateNotBlank validates that a string contains at least one
// non-whitespace character. The "required" tag alone accepts strings
// like "   ", which are meaningless as chat input.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Provider Enum
// =============================================================================

// Provider identifies an LLM provider and model combination.
//
// # Description
//
// Provider is a closed enum carried on the chat request wire format.
// Values outside the known set are rejected at client resolution time,
// before any thread or history state is touched.
type Provider string

const (
	// ProviderOpenAIGPT4o is OpenAI's gpt-4o model.
	ProviderOpenAIGPT4o Provider = "openai-gpt4o"

	// ProviderOpenAIGPT4oMini is OpenAI's gpt-4o-mini model.
	ProviderOpenAIGPT4oMini Provider = "openai-gpt4o-mini"

	// ProviderOpenAIGPT4Turbo is OpenAI's gpt-4-turbo model.
	ProviderOpenAIGPT4Turbo Provider = "openai-gpt4-turbo"

	// ProviderPerplexitySonar is Perplexity's sonar model.
	ProviderPerplexitySonar Provider = "perplexity-sonar"

	// ProviderPerplexitySonarPro is Perplexity's sonar-pro model.
	ProviderPerplexitySonarPro Provider = "perplexity-sonar-pro"
)

// DefaultProvider is used when a chat request omits the provider field.
const DefaultProvider = ProviderOpenAIGPT4o

// =============================================================================
// Message Types
// =============================================================================

// Message is a single conversation turn sent to an LLM backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest represents the chat endpoint request body.
//
// # Description
//
// ChatRequest carries the user's new message plus delivery and provider
// selection. The same body serves both sync and streaming delivery; the
// Streaming flag selects between a single JSON response and an SSE stream.
//
// # Fields
//
//   - Message: Required. The user's new message. Must contain at least one
//     non-whitespace character and must not exceed 32KB (SEC-003).
//   - Streaming: Optional. Defaults to true when absent. A pointer is used
//     so an explicit false can be distinguished from an omitted field.
//   - Provider: Optional. Provider/model selection. Defaults to
//     DefaultProvider when absent. Unknown values are rejected by the
//     client factory, not by validation, so the error surfaces through the
//     same path for both delivery modes.
//
// # Examples
//
//	req := ChatRequest{Message: "What is the capital of France?"}
//	req.EnsureDefaults()
//	// req.IsStreaming() == true, req.Provider == ProviderOpenAIGPT4o
type ChatRequest struct {
	Message   string   `json:"message" validate:"required,notblank,maxbytes"`
	Streaming *bool    `json:"streaming"`
	Provider  Provider `json:"provider"`
}

// Validate validates the ChatRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
//
// # Description
//
// Streaming defaults to true and Provider defaults to DefaultProvider,
// matching the documented wire contract for omitted fields.
func (r *ChatRequest) EnsureDefaults() {
	if r.Streaming == nil {
		streaming := true
		r.Streaming = &streaming
	}
	if r.Provider == "" {
		r.Provider = DefaultProvider
	}
}

// IsStreaming reports whether the client requested streaming delivery.
// Callers must run EnsureDefaults first.
func (r *ChatRequest) IsStreaming() bool {
	return r.Streaming != nil && *r.Streaming
}

// =============================================================================
// Chat Response Types
// =============================================================================

// ChatResponse represents the sync chat response body.
//
// # Fields
//
//   - Message: The assistant's complete answer.
//   - ThreadID: The thread the exchange was recorded under. Clients use
//     this for conversation continuity display.
type ChatResponse struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

// =============================================================================
// Streaming Chunk Types
// =============================================================================

// ChunkKind discriminates the streaming chunk union.
type ChunkKind string

const (
	// ChunkData carries a fragment of the assistant's answer.
	ChunkData ChunkKind = "data"

	// ChunkError carries a terminal, human-readable error message.
	// A stream emits at most one error chunk, always as its final chunk.
	ChunkError ChunkKind = "error"
)

// Chunk is a single unit of streamed chat output.
//
// # Description
//
// Chunk is the internal streaming representation handed to the transport
// layer. Errors travel in-band as ChunkError rather than as Go errors so
// that a stream which fails mid-way still terminates like a normal stream
// from the transport's point of view. The SSE layer flattens the union
// into its wire format; the tag exists so service-level consumers (and
// tests) can distinguish answer text from error text.
//
// # Fields
//
//   - Kind: Union discriminator.
//   - Content: Answer fragment (ChunkData) or error text (ChunkError).
//   - ThreadID: Thread the stream is attached to. Empty on error chunks
//     emitted before thread resolution succeeded.
type Chunk struct {
	Kind     ChunkKind `json:"kind"`
	Content  string    `json:"content"`
	ThreadID string    `json:"thread_id,omitempty"`
}

// =============================================================================
// SSE Wire Types
// =============================================================================

// StreamEvent is the SSE wire representation of a streaming chat event.
//
// # Description
//
// Each event is assigned metadata by the SSE writer:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ThreadId  string `json:"thread_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}
