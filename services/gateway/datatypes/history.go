// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes: history listing and thread deletion types.
package datatypes

// =============================================================================
// Sort Direction
// =============================================================================

// SortDirection orders thread listings by creation time.
type SortDirection string

const (
	// SortAsc lists oldest threads first.
	SortAsc SortDirection = "ASC"

	// SortDesc lists newest threads first.
	SortDesc SortDirection = "DESC"
)

// =============================================================================
// History Request Types
// =============================================================================

// HistoryListRequest represents the chat history listing request body.
//
// # Description
//
// Pages through conversation threads with their exchanges. By default the
// listing is scoped to the caller's own threads; AllUsers widens it to
// every owner and is honored only for callers holding the admin role
// (enforced by the handler, not by validation).
//
// # Fields
//
//   - SortDirection: Optional. ASC or DESC by thread creation time.
//     Defaults to DESC.
//   - Page: Zero-based page index. Must be >= 0.
//   - Size: Page size. Must be >= 1. Defaults to 20 when omitted.
//   - AllUsers: Optional. Admin-only listing across all owners.
type HistoryListRequest struct {
	SortDirection SortDirection `json:"sort_direction" validate:"omitempty,oneof=ASC DESC"`
	Page          int           `json:"page" validate:"gte=0"`
	Size          int           `json:"size" validate:"omitempty,gte=1,lte=200"`
	AllUsers      bool          `json:"all_users"`
}

// Validate validates the HistoryListRequest fields.
func (r *HistoryListRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
func (r *HistoryListRequest) EnsureDefaults() {
	if r.SortDirection == "" {
		r.SortDirection = SortDesc
	}
	if r.Size == 0 {
		r.Size = 20
	}
}

// =============================================================================
// History Response Types
// =============================================================================

// ExchangeDTO is one user/assistant exchange within a thread listing.
type ExchangeDTO struct {
	ID               string `json:"id"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
	CreatedAt        int64  `json:"created_at"`
}

// ThreadWithExchanges is a thread plus its full exchange history,
// exchanges ordered oldest first.
type ThreadWithExchanges struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
	Exchanges []ExchangeDTO `json:"exchanges"`
}

// HistoryListResponse is one page of the thread listing.
//
// # Fields
//
//   - Threads: The requested page of threads with exchanges.
//   - Page: Echo of the requested page index.
//   - Size: Echo of the requested page size.
//   - TotalElements: Total thread count for the listing scope, so clients
//     can render page controls.
type HistoryListResponse struct {
	Threads       []ThreadWithExchanges `json:"threads"`
	Page          int                   `json:"page"`
	Size          int                   `json:"size"`
	TotalElements int64                 `json:"total_elements"`
}

// =============================================================================
// Thread Deletion Types
// =============================================================================

// ThreadDeleteRequest identifies the thread to delete.
type ThreadDeleteRequest struct {
	ThreadID string `json:"thread_id" validate:"required,uuid4"`
}

// Validate validates the ThreadDeleteRequest fields.
func (r *ThreadDeleteRequest) Validate() error {
	return chatValidate.Struct(r)
}
