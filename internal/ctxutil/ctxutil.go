// Package ctxutil provides shared context key accessors.
//
// server imports mcp for MCP server setup, and mcp needs to read JWT claims
// from the context that server's auth middleware populates. Both packages
// import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansoku/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keySessionID contextKey = "session_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// UserIDFromContext returns the authenticated user, or uuid.Nil.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID()
	}
	return uuid.Nil
}

// WithSessionID tags the context with the client's session identifier.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionIDFromContext returns the session identifier, or "".
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(keySessionID).(string)
	return v
}
