// Package appctx carries the authenticated identity through the request
// context. Values are request-scoped only; nothing here outlives the request.
package appctx

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user ID
	UserIDKey ContextKey = "user_id"
	// EmailKey is the context key for the authenticated user's email
	EmailKey ContextKey = "email"
	// RoleKey is the context key for the authenticated user's role
	RoleKey ContextKey = "role"
	// OrganizationIDKey is the context key for the user's organization
	OrganizationIDKey ContextKey = "organization_id"
	// StoreIDKey is the context key for the user's assigned store
	StoreIDKey ContextKey = "store_id"
	// SessionIDKey is the context key for the session backing this request
	SessionIDKey ContextKey = "session_id"
)

// Identity is the set of claims the request guard exposes to handlers.
type Identity struct {
	UserID         string
	Email          string
	Role           string
	OrganizationID string
	StoreID        string
	SessionID      string
}

// WithIdentity attaches the authenticated identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id.UserID)
	ctx = context.WithValue(ctx, EmailKey, id.Email)
	ctx = context.WithValue(ctx, RoleKey, id.Role)
	if id.OrganizationID != "" {
		ctx = context.WithValue(ctx, OrganizationIDKey, id.OrganizationID)
	}
	if id.StoreID != "" {
		ctx = context.WithValue(ctx, StoreIDKey, id.StoreID)
	}
	if id.SessionID != "" {
		ctx = context.WithValue(ctx, SessionIDKey, id.SessionID)
	}
	return ctx
}

// IdentityFromContext returns the full identity if the request was guarded.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	userID, ok := ExtractUserID(ctx)
	if !ok {
		return Identity{}, false
	}
	id := Identity{UserID: userID}
	id.Email, _ = ExtractEmail(ctx)
	id.Role, _ = ExtractRole(ctx)
	id.OrganizationID, _ = extractString(ctx, OrganizationIDKey)
	id.StoreID, _ = extractString(ctx, StoreIDKey)
	id.SessionID, _ = extractString(ctx, SessionIDKey)
	return id, true
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	return extractString(ctx, UserIDKey)
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	return extractString(ctx, EmailKey)
}

// ExtractRole extracts the role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	return extractString(ctx, RoleKey)
}

// ExtractSessionID extracts the backing session ID from the request context
func ExtractSessionID(ctx context.Context) (string, bool) {
	return extractString(ctx, SessionIDKey)
}

func extractString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}
