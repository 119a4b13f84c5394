// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides gin HTTP handlers for the gateway service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/middleware"
	"github.com/AleutianAI/chatgateway/services/gateway/observability"
	"github.com/AleutianAI/chatgateway/services/gateway/services"
	"github.com/AleutianAI/chatgateway/services/llm"
)

var chatTracer = otel.Tracer("chatgateway.handlers")

// keepAliveInterval is how often SSE comment pings are sent while a
// stream is open. Load balancer idle timeouts commonly sit at 60s.
const keepAliveInterval = 15 * time.Second

// =============================================================================
// Chat Handler
// =============================================================================

// ChatHandler serves the chat endpoint in both delivery modes.
type ChatHandler struct {
	chat    *services.ChatService
	metrics *observability.ChatMetrics
}

// NewChatHandler creates the chat handler.
//
// Panics if chat is nil. metrics may be nil; recording is then skipped.
func NewChatHandler(chat *services.ChatService, metrics *observability.ChatMetrics) *ChatHandler {
	if chat == nil {
		panic("NewChatHandler: chat service is required")
	}
	return &ChatHandler{chat: chat, metrics: metrics}
}

// HandleChat handles POST /v1/chat.
//
// # Description
//
// Binds and validates the request, applies defaults, then dispatches on
// the streaming flag. Sync mode returns a single JSON body; streaming
// mode switches the response to SSE and forwards chunks as they arrive.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse the chat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		slog.Warn("Chat request failed validation", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be non-blank and at most 32KB"})
		return
	}
	req.EnsureDefaults()

	if req.IsStreaming() {
		h.handleStreaming(c, identity.UserID, req)
		return
	}

	resp, err := h.chat.Chat(ctx, identity.UserID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, llm.ErrUnknownProvider) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Sync chat failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat request failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleStreaming runs the SSE delivery path.
//
// # Description
//
// The response is committed to SSE before orchestration starts, so
// every failure after this point travels in-band: the service converts
// setup and provider errors into a terminal error chunk, which is
// written like any other chunk. A write failure means the client went
// away; the service persists the partial answer and the handler just
// logs.
func (h *ChatHandler) handleStreaming(c *gin.Context, ownerID string, req datatypes.ChatRequest) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat.stream")
	defer span.End()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if h.metrics != nil {
		h.metrics.StreamStarted()
		defer h.metrics.StreamEnded()
	}
	started := time.Now()

	// Keepalive pings until the stream finishes.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	firstChunk := true
	emit := func(chunk datatypes.Chunk) error {
		if firstChunk {
			firstChunk = false
			if h.metrics != nil {
				h.metrics.RecordTimeToFirstChunk(time.Since(started).Seconds())
			}
		}
		// The union is flattened on the wire: error chunks carry their
		// "Error: ..." text in the same chunk event clients already
		// consume for answers.
		return writer.WriteChunk(chunk.Content, chunk.ThreadID)
	}

	threadID, err := h.chat.ChatStream(ctx, ownerID, req, emit)
	success := err == nil
	if err != nil {
		// Emit failures mean the consumer disconnected mid-stream.
		span.RecordError(err)
		slog.Warn("Chat stream ended early", "thread_id", threadID, "error", err)
	} else if err := writer.WriteDone(threadID); err != nil {
		slog.Warn("Failed to write stream done event", "thread_id", threadID, "error", err)
		success = false
	}
	if h.metrics != nil {
		h.metrics.RecordStreamDuration(time.Since(started).Seconds(), success)
	}
}
