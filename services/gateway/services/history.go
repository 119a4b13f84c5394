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
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/store"
)

// maxHistoryFanout bounds concurrent exchange loads during listing
// assembly so one large page cannot exhaust the connection pool.
const maxHistoryFanout = 8

// =============================================================================
// Owner-scoped History
// =============================================================================

// GetChatHistory returns one page of the owner's threads with their
// full exchange histories.
//
// # Description
//
// Threads are paged by creation time in the requested direction. Each
// thread's exchanges are loaded concurrently (bounded errgroup fan-out)
// and always ordered oldest first regardless of the thread sort.
// TotalElements is the owner's total thread count so clients can render
// page controls.
func (s *ChatService) GetChatHistory(ctx context.Context, ownerID string,
	req datatypes.HistoryListRequest) (*datatypes.HistoryListResponse, error) {

	ctx, span := chatTracer.Start(ctx, "ChatService.GetChatHistory")
	defer span.End()

	desc := req.SortDirection == datatypes.SortDesc
	threads, err := s.threads.FindAllByOwnerPaginated(ctx, ownerID, req.Size, req.Page*req.Size, desc)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list owner threads: %w", err)
	}
	total, err := s.threads.CountByOwner(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("count owner threads: %w", err)
	}

	assembled, err := s.assembleThreads(ctx, threads)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &datatypes.HistoryListResponse{
		Threads:       assembled,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
	}, nil
}

// assembleThreads attaches exchange histories to a page of threads,
// preserving the page order.
func (s *ChatService) assembleThreads(ctx context.Context,
	threads []store.Thread) ([]datatypes.ThreadWithExchanges, error) {

	assembled := make([]datatypes.ThreadWithExchanges, len(threads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxHistoryFanout)
	for i, th := range threads {
		g.Go(func() error {
			exchanges, err := s.history.FindAllByThreadAsc(gctx, th.ID)
			if err != nil {
				return fmt.Errorf("load exchanges for thread %s: %w", th.ID, err)
			}
			dtos := make([]datatypes.ExchangeDTO, 0, len(exchanges))
			for _, e := range exchanges {
				dtos = append(dtos, datatypes.ExchangeDTO{
					ID:               e.ID,
					UserMessage:      e.UserMessage,
					AssistantMessage: e.AssistantMessage,
					CreatedAt:        e.CreatedAt,
				})
			}
			assembled[i] = datatypes.ThreadWithExchanges{
				ID:        th.ID,
				OwnerID:   th.OwnerID,
				CreatedAt: th.CreatedAt,
				UpdatedAt: th.UpdatedAt,
				Exchanges: dtos,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assembled, nil
}

// =============================================================================
// Thread Deletion
// =============================================================================

// DeleteThread removes a thread and its exchanges after an ownership
// check.
//
// # Description
//
// A thread that does not exist and a thread owned by someone else both
// fail with ErrThreadNotOwned; the caller learns nothing about foreign
// thread IDs. The delete itself cascades to exchanges transactionally.
func (s *ChatService) DeleteThread(ctx context.Context, ownerID, threadID string) error {
	ctx, span := chatTracer.Start(ctx, "ChatService.DeleteThread")
	defer span.End()

	ok, err := s.threads.ExistsByIDAndOwner(ctx, threadID, ownerID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("check thread ownership: %w", err)
	}
	if !ok {
		return ErrThreadNotOwned
	}
	if err := s.threads.Delete(ctx, threadID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete thread: %w", err)
	}
	slog.Info("Deleted conversation thread", "owner_id", ownerID, "thread_id", threadID)
	return nil
}

// =============================================================================
// Admin History
// =============================================================================

// AdminChatService lists conversation history across all owners.
//
// Kept separate from ChatService so the unscoped listing path is easy
// to audit; only admin-gated handlers receive this service.
type AdminChatService struct {
	chat *ChatService
}

// NewAdminChatService creates the admin listing service.
// Panics if chat is nil.
func NewAdminChatService(chat *ChatService) *AdminChatService {
	if chat == nil {
		panic("NewAdminChatService: chat service is required")
	}
	return &AdminChatService{chat: chat}
}

// GetAllChatHistory returns one page of every owner's threads with
// their exchange histories. Same shape as the owner-scoped listing.
func (a *AdminChatService) GetAllChatHistory(ctx context.Context,
	req datatypes.HistoryListRequest) (*datatypes.HistoryListResponse, error) {

	ctx, span := chatTracer.Start(ctx, "AdminChatService.GetAllChatHistory")
	defer span.End()

	desc := req.SortDirection == datatypes.SortDesc
	threads, err := a.chat.threads.FindAllPaginated(ctx, req.Size, req.Page*req.Size, desc)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list all threads: %w", err)
	}
	total, err := a.chat.threads.Count(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("count all threads: %w", err)
	}

	assembled, err := a.chat.assembleThreads(ctx, threads)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &datatypes.HistoryListResponse{
		Threads:       assembled,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
	}, nil
}

// =============================================================================
// Usage Reporting
// =============================================================================

// UsageReport summarizes recent exchange activity.
type UsageReport struct {
	Since         int64                   `json:"since"`
	ExchangeCount int64                   `json:"exchange_count"`
	Recent        []datatypes.ExchangeDTO `json:"recent"`
}

// maxUsageReportExchanges caps the detail list in a usage report.
const maxUsageReportExchanges = 100

// GetUsageReport returns exchange activity created after the given
// Unix-millisecond instant, newest first. Admin reporting endpoint.
func (a *AdminChatService) GetUsageReport(ctx context.Context, since int64) (*UsageReport, error) {
	ctx, span := chatTracer.Start(ctx, "AdminChatService.GetUsageReport")
	defer span.End()

	count, err := a.chat.history.CountSince(ctx, since)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("count exchanges since: %w", err)
	}
	exchanges, err := a.chat.history.FindSince(ctx, since)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load exchanges since: %w", err)
	}
	if len(exchanges) > maxUsageReportExchanges {
		exchanges = exchanges[:maxUsageReportExchanges]
	}

	recent := make([]datatypes.ExchangeDTO, 0, len(exchanges))
	for _, e := range exchanges {
		recent = append(recent, datatypes.ExchangeDTO{
			ID:               e.ID,
			UserMessage:      e.UserMessage,
			AssistantMessage: e.AssistantMessage,
			CreatedAt:        e.CreatedAt,
		})
	}
	return &UsageReport{Since: since, ExchangeCount: count, Recent: recent}, nil
}
