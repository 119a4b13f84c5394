// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Identity Flow
//
// Authentication itself lives upstream: a reverse proxy or API gateway
// terminates credentials and forwards the resolved principal in trusted
// headers. This middleware reads those headers, rejects requests that
// lack a principal, and stores the identity in the Gin context for
// downstream handlers.
//
//	Request
//	   │
//	   ▼
//	IdentityMiddleware
//	   │
//	   ├─► Read X-User-ID (required) and X-User-Role
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// The gateway must only be reachable through the proxy; these headers
// are trusted as-is.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Identity
// =============================================================================

// RoleAdmin is the role value enabling cross-owner operations.
const RoleAdmin = "admin"

// Identity is the authenticated principal forwarded by the upstream
// auth layer.
type Identity struct {
	// UserID is the stable owner identifier for threads and exchanges.
	UserID string

	// Role is the caller's role. Empty for ordinary users.
	Role string
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// =============================================================================
// Context Keys
// =============================================================================

// identityKey is the context key for storing Identity.
// Using a namespaced key prevents collisions with other context values.
const identityKey = "chatgateway_identity"

// =============================================================================
// Context Helpers
// =============================================================================

// SetIdentity stores the principal in the Gin context.
// Called by IdentityMiddleware; exported for handler tests.
func SetIdentity(c *gin.Context, identity Identity) {
	c.Set(identityKey, identity)
}

// GetIdentity retrieves the principal from the Gin context.
//
// # Outputs
//
//   - Identity: The stored principal.
//   - bool: False if IdentityMiddleware did not run for this request.
func GetIdentity(c *gin.Context) (Identity, bool) {
	if v, exists := c.Get(identityKey); exists {
		if identity, ok := v.(Identity); ok {
			return identity, true
		}
	}
	return Identity{}, false
}

// =============================================================================
// Identity Middleware
// =============================================================================

// IdentityMiddleware creates a Gin middleware that extracts the caller
// identity from trusted proxy headers.
//
// # Description
//
// Reads X-User-ID and X-User-Role. Requests without X-User-ID are
// rejected with 401; everything behind this middleware can assume a
// non-empty owner identifier.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.IdentityMiddleware())
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing user identity",
			})
			return
		}

		SetIdentity(c, Identity{
			UserID: userID,
			Role:   strings.TrimSpace(c.GetHeader("X-User-Role")),
		})
		c.Next()
	}
}
