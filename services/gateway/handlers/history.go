// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/middleware"
	"github.com/AleutianAI/chatgateway/services/gateway/services"
)

// =============================================================================
// History Handler
// =============================================================================

// HistoryHandler serves thread listing, deletion, and usage reporting.
type HistoryHandler struct {
	chat  *services.ChatService
	admin *services.AdminChatService
}

// NewHistoryHandler creates the history handler.
// Panics on nil dependencies.
func NewHistoryHandler(chat *services.ChatService, admin *services.AdminChatService) *HistoryHandler {
	if chat == nil {
		panic("NewHistoryHandler: chat service is required")
	}
	if admin == nil {
		panic("NewHistoryHandler: admin service is required")
	}
	return &HistoryHandler{chat: chat, admin: admin}
}

// HandleChatHistory handles POST /v1/chat/history.
//
// # Description
//
// Lists the caller's threads with exchanges. When the request asks for
// all users, the caller must hold the admin role; otherwise 403.
func (h *HistoryHandler) HandleChatHistory(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatHistory")
	defer span.End()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req datatypes.HistoryListRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid paging parameters"})
		return
	}
	req.EnsureDefaults()

	var resp *datatypes.HistoryListResponse
	var err error
	if req.AllUsers {
		if !identity.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		resp, err = h.admin.GetAllChatHistory(ctx, req)
	} else {
		resp, err = h.chat.GetChatHistory(ctx, identity.UserID, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Chat history listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history listing failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleThreadDelete handles DELETE /v1/chat/thread.
//
// # Description
//
// Deletes a thread owned by the caller, cascading to its exchanges.
// Missing and foreign threads both return 403; the caller cannot tell
// them apart.
func (h *HistoryHandler) HandleThreadDelete(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleThreadDelete")
	defer span.End()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req datatypes.ThreadDeleteRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "thread_id must be a UUID"})
		return
	}

	if err := h.chat.DeleteThread(ctx, identity.UserID, req.ThreadID); err != nil {
		if errors.Is(err, services.ErrThreadNotOwned) {
			c.JSON(http.StatusForbidden, gin.H{"error": "thread not found for caller"})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Thread delete failed", "thread_id", req.ThreadID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleUsageReport handles GET /v1/admin/usage?since=<unix_ms>.
//
// Admin-only summary of exchange activity after the given instant.
// since defaults to 24 hours ago when omitted.
func (h *HistoryHandler) HandleUsageReport(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleUsageReport")
	defer span.End()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}
	if !identity.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}

	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a unix millisecond timestamp"})
		return
	}

	report, err := h.admin.GetUsageReport(ctx, since)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Usage report failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage report failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// defaultUsageWindow is the report window when ?since= is omitted.
const defaultUsageWindow = 24 * time.Hour

func parseSince(raw string) (int64, error) {
	if raw == "" {
		return time.Now().Add(-defaultUsageWindow).UnixMilli(), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// =============================================================================
// Health Check
// =============================================================================

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
