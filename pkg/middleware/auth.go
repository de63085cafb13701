package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/contextkeys"
	"github.com/prizmrun/prizm/pkg/httputil"
)

// DefaultUserIDHeader carries the user ID set by the authenticating proxy
const DefaultUserIDHeader = "X-User-ID"

// AuthMiddleware reads the authenticated user ID from a trusted header
type AuthMiddleware struct {
	header   string
	optional bool // If true, let requests without an identity through to the gate
}

// NewAuthMiddleware creates an identity middleware reading header
func NewAuthMiddleware(header string, optional bool) *AuthMiddleware {
	if header == "" {
		header = DefaultUserIDHeader
	}
	return &AuthMiddleware{
		header:   header,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with identity resolution
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(m.header))
		if raw == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteReason(w, http.StatusUnauthorized, "missing user identity", string(access.ReasonUnauthenticated))
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			httputil.WriteReason(w, http.StatusUnauthorized, "invalid user identity", string(access.ReasonUnauthenticated))
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
