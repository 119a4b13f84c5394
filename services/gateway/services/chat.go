// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services orchestrates chat requests: provider resolution,
// thread lifecycle, context assembly, generation, and persistence.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/observability"
	"github.com/AleutianAI/chatgateway/services/gateway/store"
	"github.com/AleutianAI/chatgateway/services/gateway/thread"
	"github.com/AleutianAI/chatgateway/services/llm"
)

var chatTracer = otel.Tracer("chatgateway.services.chat")

// ErrThreadNotOwned is returned when a thread operation names a thread
// that does not exist or belongs to someone else. The two cases are
// deliberately collapsed so callers cannot probe for foreign thread IDs.
var ErrThreadNotOwned = errors.New("thread not found for owner")

// errEmitAborted wraps an emit callback failure so the stream loop can
// tell transport death apart from provider errors.
var errEmitAborted = errors.New("chat stream emit aborted")

// =============================================================================
// Chat Service
// =============================================================================

// ChatService orchestrates sync and streaming chat.
//
// # Description
//
// A chat request flows through four stages: provider client resolution,
// thread resolution (30-minute continuation window), context assembly
// (prior user messages replayed, assistant answers omitted), and
// generation plus persistence. Sync and streaming delivery differ only
// in how the answer travels and in how persistence failures are
// reported.
//
// # Thread Safety
//
// Safe for concurrent use. All mutable state lives in the stores.
type ChatService struct {
	factory *llm.ClientFactory
	engine  *thread.Engine
	threads store.ThreadStore
	history store.HistoryStore
	metrics *observability.ChatMetrics

	// detached tracks fire-and-forget post-stream persistence writes so
	// shutdown (and tests) can drain them.
	detached sync.WaitGroup
}

// NewChatService creates the chat orchestrator.
//
// Panics on nil required dependencies. metrics may be nil; recording is
// then skipped.
func NewChatService(factory *llm.ClientFactory, engine *thread.Engine,
	threads store.ThreadStore, history store.HistoryStore,
	metrics *observability.ChatMetrics) *ChatService {

	if factory == nil {
		panic("NewChatService: factory is required")
	}
	if engine == nil {
		panic("NewChatService: engine is required")
	}
	if threads == nil {
		panic("NewChatService: threads store is required")
	}
	if history == nil {
		panic("NewChatService: history store is required")
	}
	return &ChatService{
		factory: factory,
		engine:  engine,
		threads: threads,
		history: history,
		metrics: metrics,
	}
}

// Drain blocks until all outstanding detached persistence writes finish.
// Called during graceful shutdown.
func (s *ChatService) Drain() {
	s.detached.Wait()
}

// buildPrompt assembles the provider message list for a thread.
//
// # Description
//
// Replays only the user side of each prior exchange, oldest first, then
// appends the new message. Assistant answers are not replayed; the
// model sees what was asked before, not what it answered. History is
// unbounded, trading cost for full recall.
func buildPrompt(exchanges []store.Exchange, newMessage string) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(exchanges)+1)
	for _, e := range exchanges {
		messages = append(messages, datatypes.Message{Role: "user", Content: e.UserMessage})
	}
	messages = append(messages, datatypes.Message{Role: "user", Content: newMessage})
	return messages
}

// =============================================================================
// Sync Chat
// =============================================================================

// Chat handles a sync chat request end to end.
//
// # Description
//
// Stage order matters: the provider client is resolved before any store
// access, so an unknown provider leaves no trace. After a successful
// generation the exchange insert and thread touch must both succeed; a
// persistence failure fails the whole request even though an answer was
// computed. The answer is not recoverable by the client in that case.
//
// # Inputs
//
//   - ctx: Request context.
//   - ownerID: Authenticated caller.
//   - req: Validated request with defaults applied.
//
// # Outputs
//
//   - *datatypes.ChatResponse: Answer plus thread ID.
//   - error: llm.ErrUnknownProvider (wrapped) for bad provider values;
//     otherwise provider or store failures.
func (s *ChatService) Chat(ctx context.Context, ownerID string,
	req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {

	ctx, span := chatTracer.Start(ctx, "ChatService.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("chat.provider", string(req.Provider)))

	// Step 1: resolve the provider client. Fails before any store access.
	client, opts, err := s.factory.Resolve(req.Provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Step 2: resolve the active thread.
	th, _, err := s.engine.ResolveActive(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.thread_id", th.ID))

	// Step 3: assemble context from the full thread history.
	exchanges, err := s.history.FindAllByThreadAsc(ctx, th.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load thread history: %w", err)
	}
	messages := buildPrompt(exchanges, req.Message)

	// Step 4: generate.
	answer, err := client.Chat(ctx, messages, llm.GenerationParams{Model: opts.Model})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordError(observability.ErrorCodeLLMError)
		return nil, fmt.Errorf("provider call failed: %w", err)
	}

	// Step 5: persist. Failures here propagate and override the
	// computed answer; sync mode promises a durable exchange or an
	// error, never an unrecorded answer.
	if err := s.persistExchange(ctx, th.ID, ownerID, req.Message, answer); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordError(observability.ErrorCodePersistence)
		return nil, err
	}

	s.recordRequest("sync", true)
	return &datatypes.ChatResponse{Message: answer, ThreadID: th.ID}, nil
}

// persistExchange inserts the exchange and advances the thread's
// updated_at, both stamped from the lifecycle clock.
func (s *ChatService) persistExchange(ctx context.Context,
	threadID, ownerID, userMessage, assistantMessage string) error {

	now := s.engine.Now().UnixMilli()
	exchange := store.Exchange{
		ID:               uuid.New().String(),
		ThreadID:         threadID,
		OwnerID:          ownerID,
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		CreatedAt:        now,
	}
	if err := s.history.Create(ctx, exchange); err != nil {
		return fmt.Errorf("persist exchange: %w", err)
	}
	if err := s.threads.Touch(ctx, threadID, now); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

// =============================================================================
// Streaming Chat
// =============================================================================

// ChatStream handles a streaming chat request.
//
// # Description
//
// The provider client is resolved first so a bad provider fails before
// the thread is touched. The thread is then resolved eagerly, before
// the first chunk, so an expired window rolls over even if the stream
// later dies. Whitespace-only provider fragments are dropped; everything
// else is accumulated and forwarded immediately through emit, whose
// blocking provides back-pressure.
//
// Setup and provider errors never surface as Go errors: they become a
// single terminal ChunkError and ChatStream returns nil, so the
// transport always sees a normally completed stream. The only error
// return is an emit failure (client disconnect); the answer accumulated
// up to that point is still persisted.
//
// On successful completion the exchange insert and the thread touch are
// dispatched as two detached goroutines: at-most-once, unordered, with
// failures logged and never surfaced. A crash between stream end and
// write loses the exchange.
//
// # Inputs
//
//   - ctx: Request context.
//   - ownerID: Authenticated caller.
//   - req: Validated request with defaults applied.
//   - emit: Receives each chunk in order. An error return aborts the
//     stream.
//
// # Outputs
//
//   - string: The resolved thread ID, empty if resolution never ran or
//     failed.
//   - error: Non-nil only when emit failed.
func (s *ChatService) ChatStream(ctx context.Context, ownerID string,
	req datatypes.ChatRequest, emit func(datatypes.Chunk) error) (string, error) {

	ctx, span := chatTracer.Start(ctx, "ChatService.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("chat.provider", string(req.Provider)))

	// Step 1: resolve the provider client before anything else.
	client, opts, err := s.factory.Resolve(req.Provider)
	if err != nil {
		span.RecordError(err)
		s.recordError(observability.ErrorCodeConfig)
		return "", s.emitError(emit, "", err)
	}

	// Step 2: resolve the thread eagerly, before the first chunk.
	th, _, err := s.engine.ResolveActive(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		s.recordError(observability.ErrorCodePersistence)
		return "", s.emitError(emit, "", err)
	}
	span.SetAttributes(attribute.String("chat.thread_id", th.ID))

	// Step 3: assemble context.
	exchanges, err := s.history.FindAllByThreadAsc(ctx, th.ID)
	if err != nil {
		span.RecordError(err)
		s.recordError(observability.ErrorCodePersistence)
		return th.ID, s.emitError(emit, th.ID, err)
	}
	messages := buildPrompt(exchanges, req.Message)

	// Step 4: stream, filtering blank fragments and accumulating.
	var accumulator strings.Builder
	callback := func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if strings.TrimSpace(event.Content) == "" {
				return nil
			}
			accumulator.WriteString(event.Content)
			if err := emit(datatypes.Chunk{
				Kind:     datatypes.ChunkData,
				Content:  event.Content,
				ThreadID: th.ID,
			}); err != nil {
				return fmt.Errorf("%w: %w", errEmitAborted, err)
			}
			return nil
		case llm.StreamEventError:
			return event.Error
		default:
			return nil
		}
	}

	streamErr := client.ChatStream(ctx, messages, llm.GenerationParams{Model: opts.Model}, callback)

	if streamErr != nil {
		if errors.Is(streamErr, errEmitAborted) {
			// Client went away. Keep what the model already said.
			slog.Warn("Chat stream consumer disconnected",
				"thread_id", th.ID, "accumulated_bytes", accumulator.Len())
			s.recordDisconnect()
			if accumulator.Len() > 0 {
				s.persistDetached(ctx, th.ID, ownerID, req.Message, accumulator.String())
			}
			return th.ID, streamErr
		}
		span.RecordError(streamErr)
		s.recordError(observability.ErrorCodeLLMError)
		return th.ID, s.emitError(emit, th.ID, streamErr)
	}

	// Step 5: fire-and-forget persistence of the completed answer.
	s.persistDetached(ctx, th.ID, ownerID, req.Message, accumulator.String())
	s.recordRequest("stream", true)
	return th.ID, nil
}

// emitError converts an internal error into the single terminal error
// chunk. The emitted text is intentionally the error's own message; it
// mirrors what the sync path would have returned.
func (s *ChatService) emitError(emit func(datatypes.Chunk) error, threadID string, cause error) error {
	slog.Error("Chat stream failed, emitting error chunk", "thread_id", threadID, "error", cause)
	if err := emit(datatypes.Chunk{
		Kind:     datatypes.ChunkError,
		Content:  "Error: " + cause.Error(),
		ThreadID: threadID,
	}); err != nil {
		return fmt.Errorf("%w: %w", errEmitAborted, err)
	}
	s.recordRequest("stream", false)
	return nil
}

// persistDetached dispatches the exchange insert and the thread touch as
// independent goroutines. Neither is ordered before the other and
// neither failure reaches the client.
func (s *ChatService) persistDetached(ctx context.Context,
	threadID, ownerID, userMessage, assistantMessage string) {

	// The request context ends when the handler returns; the writes
	// must not be cancelled with it.
	detachedCtx := context.WithoutCancel(ctx)
	now := s.engine.Now().UnixMilli()

	exchange := store.Exchange{
		ID:               uuid.New().String(),
		ThreadID:         threadID,
		OwnerID:          ownerID,
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		CreatedAt:        now,
	}

	s.detached.Add(2)
	go func() {
		defer s.detached.Done()
		if err := s.history.Create(detachedCtx, exchange); err != nil {
			slog.Error("Detached exchange persist failed",
				"thread_id", threadID, "exchange_id", exchange.ID, "error", err)
			s.recordPersistFailure()
		}
	}()
	go func() {
		defer s.detached.Done()
		if err := s.threads.Touch(detachedCtx, threadID, now); err != nil {
			slog.Error("Detached thread touch failed", "thread_id", threadID, "error", err)
			s.recordPersistFailure()
		}
	}()
}

// =============================================================================
// Metrics Helpers
// =============================================================================

func (s *ChatService) recordRequest(mode string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordRequest(mode, success)
	}
}

func (s *ChatService) recordError(code observability.ErrorCode) {
	if s.metrics != nil {
		s.metrics.RecordError(code)
	}
}

func (s *ChatService) recordDisconnect() {
	if s.metrics != nil {
		s.metrics.RecordClientDisconnect()
	}
}

func (s *ChatService) recordPersistFailure() {
	if s.metrics != nil {
		s.metrics.RecordPersistFailure()
	}
}
