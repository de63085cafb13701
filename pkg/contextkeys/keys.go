// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on key and value type.
//
// USAGE PATTERN:
//
//	import "github.com/prizmrun/prizm/pkg/contextkeys"
//	ctx = contextkeys.WithUserID(ctx, 42)
//	userID, ok := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID
	// Set by: middleware.Identity
	// Used by: Authorization gate, logger
	// Type: int64
	UserIDKey Key = "user_id"

	// MemberKey contains the workspace membership resolved by the gate
	// Set by: middleware.Gate after an ALLOW decision
	// Used by: Handlers acting on behalf of the member
	// Type: *access.WorkspaceUser
	MemberKey Key = "workspace_member"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok && requestID != ""
}

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the authenticated user ID from context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// WithMember adds the resolved workspace member to the context
func WithMember(ctx context.Context, member interface{}) context.Context {
	return context.WithValue(ctx, MemberKey, member)
}

// GetMember retrieves the resolved workspace member from context
func GetMember(ctx context.Context) interface{} {
	return ctx.Value(MemberKey)
}
