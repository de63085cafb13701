// Package middleware provides the HTTP middleware in front of the access API.
//
// # Middleware Components
//
// RequestID: tags each request with a UUID, echoed in X-Request-ID
//
//	router.Use(middleware.RequestID)
//
// Logging and Recover: put the service logger in the request context and turn
// handler panics into 500 responses
//
//	router.Use(middleware.Logging(logger), middleware.Recover)
//
// AuthMiddleware: reads the user ID set by the authenticating proxy
//
//	router.Use(middleware.NewAuthMiddleware("X-User-ID", true).Handler)
//
// GateMiddleware: declares what a route requires
//
//	guard := middleware.NewGateMiddleware(gate)
//	r.Handle("/workspaces/{workspaceId}/roles", guard.RequireWorkspaceRole(access.RoleOwner, access.RoleManager)(h))
//	r.Handle("/workspaces/{workspaceId}/channels/{channelId}", guard.RequireChannelPermission(access.LevelRead)(h))
//	r.Handle("/workspaces/{workspaceId}/channels/{channelId}/guests/{workspaceUserId}", guard.RequireAdminOrChannelPermission(access.LevelManage)(h))
//
// RateLimitMiddleware: per-user allowance, per address for anonymous requests.
// TokenBucketLimiter keeps counters in process, RedisLimiter shares a fixed
// window across instances.
//
//	router.Use(middleware.NewRateLimitMiddleware(middleware.NewRedisLimiter(client, cfg, "")).Handler)
//
// # Status codes
//
// UNAUTHENTICATED is 401, MISSING_TARGET is 400, NOT_A_MEMBER and the
// INSUFFICIENT_* reasons are 403, and a failing permission source is 500.
// An exhausted allowance is 429 RATE_LIMITED.
// Every rejection has a JSON body of the form {"error": "...", "reason": "..."}.
package middleware
