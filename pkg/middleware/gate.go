package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/contextkeys"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/observability"
)

// Route parameters naming the authorization target
const (
	WorkspaceParam = "workspaceId"
	ChannelParam   = "channelId"
)

// Authorizer decides a requirement for an identity and target
type Authorizer interface {
	Authorize(ctx context.Context, identity *access.Identity, target access.Target, req access.Requirement) (access.Decision, error)
}

// GateMiddleware enforces a requirement declared on each route
type GateMiddleware struct {
	authorizer Authorizer
}

// NewGateMiddleware creates route guards deciding through authorizer
func NewGateMiddleware(authorizer Authorizer) *GateMiddleware {
	return &GateMiddleware{authorizer: authorizer}
}

// RequireWorkspaceRole admits members holding one of roles in the workspace
// named by the {workspaceId} route parameter
func (m *GateMiddleware) RequireWorkspaceRole(roles ...access.Role) func(http.Handler) http.Handler {
	return m.Require(access.RequireRoles(roles...))
}

// RequireChannelPermission admits members holding at least level on the
// {channelId} channel of the {workspaceId} workspace
func (m *GateMiddleware) RequireChannelPermission(level access.Level) func(http.Handler) http.Handler {
	return m.Require(access.RequirePermission(level))
}

// Require admits requests that satisfy req. An allowed request carries the
// resolved member in its context.
func (m *GateMiddleware) Require(req access.Requirement) func(http.Handler) http.Handler {
	return m.RequireAny(req)
}

// RequireAdminOrChannelPermission admits OWNER and MANAGER members on any
// channel of the workspace, and other members holding at least level on the
// {channelId} channel
func (m *GateMiddleware) RequireAdminOrChannelPermission(level access.Level) func(http.Handler) http.Handler {
	return m.RequireAny(access.RequireRoles(access.RoleOwner, access.RoleManager), access.RequirePermission(level))
}

// RequireAny admits requests that satisfy one of reqs, tried in order. A
// request that satisfies none is rejected with the last denial.
func (m *GateMiddleware) RequireAny(reqs ...access.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			vars := mux.Vars(r)

			// A malformed ID is treated as absent; the gate reports it after
			// the identity check
			target, err := access.ParseTarget(vars[WorkspaceParam], vars[ChannelParam])
			if err != nil {
				target = access.Target{}
			}

			var identity *access.Identity
			if userID, ok := contextkeys.GetUserID(ctx); ok {
				identity = &access.Identity{UserID: userID}
			}

			var decision access.Decision
			for _, req := range reqs {
				decision, err = m.authorizer.Authorize(ctx, identity, target, req)
				if err != nil {
					if errors.Is(err, access.ErrMissingTarget) {
						httputil.WriteReason(w, http.StatusBadRequest, "missing or invalid target", string(access.ReasonMissingTarget))
						return
					}
					observability.FromContext(ctx).WithError(err).
						WithField("requirement", req.String()).
						Error("authorization failed")
					httputil.WriteReason(w, http.StatusInternalServerError, "authorization unavailable", "")
					return
				}
				if decision.Allowed {
					break
				}
			}

			if !decision.Allowed {
				httputil.WriteReason(w, StatusForReason(decision.Reason), denialMessage(decision.Reason), string(decision.Reason))
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithMember(ctx, decision.Member)))
		})
	}
}

// StatusForReason maps a denial reason to its HTTP status
func StatusForReason(reason access.Reason) int {
	switch reason {
	case access.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case access.ReasonMissingTarget:
		return http.StatusBadRequest
	case access.ReasonNotAMember, access.ReasonInsufficientRole, access.ReasonInsufficientPermission:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func denialMessage(reason access.Reason) string {
	switch reason {
	case access.ReasonUnauthenticated:
		return "authentication required"
	case access.ReasonNotAMember:
		return "not a member of this workspace"
	case access.ReasonInsufficientRole:
		return "insufficient role"
	case access.ReasonInsufficientPermission:
		return "insufficient channel permission"
	}
	return "forbidden"
}

// MemberFromRequest returns the member admitted by the gate, or nil on
// routes without a requirement
func MemberFromRequest(r *http.Request) *access.WorkspaceUser {
	member, _ := contextkeys.GetMember(r.Context()).(*access.WorkspaceUser)
	return member
}
