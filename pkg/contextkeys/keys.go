// Package contextkeys centralizes context key definitions. All context
// keys used across the application are defined here so key usage stays
// discoverable and collision-free.
package contextkeys

import (
	"context"

	"github.com/trovehq/trove/pkg/auth"
)

// Key is the type for context keys to prevent collisions.
type Key string

const (
	// PrincipalKey contains the authenticated auth.Principal.
	// Set by: middleware.Principal
	// Required by: every permissioned API endpoint
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: middleware.RequestID
	// Used by: logger, webhook deliveries
	RequestIDKey Key = "request_id"
)

// WithPrincipal adds the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFrom extracts the authenticated principal from the context.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(auth.Principal)
	return p, ok
}

// WithRequestID adds the request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFrom extracts the request ID from the context.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
