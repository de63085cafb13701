package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/middleware"
)

// AccessHandlers serves the caller's view of channel access
type AccessHandlers struct {
	resolver *access.Resolver
	guard    *middleware.GateMiddleware
}

// NewAccessHandlers creates access handlers
func NewAccessHandlers(resolver *access.Resolver, guard *middleware.GateMiddleware) *AccessHandlers {
	return &AccessHandlers{resolver: resolver, guard: guard}
}

// PermissionResponse is the level the caller holds on one channel
type PermissionResponse struct {
	ChannelID  int64        `json:"channel_id"`
	Permission access.Level `json:"permission"`
}

// RegisterRoutes registers access routes
func (h *AccessHandlers) RegisterRoutes(router *mux.Router) {
	members := h.guard.RequireWorkspaceRole(anyRole...)

	router.Handle("/workspaces/{workspaceId}/permissions", guarded(members, h.GetPermissions)).Methods("GET")
	router.Handle("/workspaces/{workspaceId}/channels", guarded(members, h.ListAccessibleChannels)).Methods("GET")
	router.Handle("/workspaces/{workspaceId}/channels/{channelId}/permission",
		guarded(h.guard.RequireChannelPermission(access.LevelNone), h.GetChannelPermission)).Methods("GET")
	router.Handle("/workspaces/{workspaceId}/channels/{channelId}/users",
		guarded(h.guard.RequireChannelPermission(access.LevelRead), h.ListChannelUsers)).Methods("GET")
}

// GetPermissions returns the caller's full permission map
func (h *AccessHandlers) GetPermissions(w http.ResponseWriter, r *http.Request) {
	member := middleware.MemberFromRequest(r)
	perms, err := h.resolver.PermissionsFor(r.Context(), member)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// ListAccessibleChannels returns the channels the caller can reach, grouped
// by category
func (h *AccessHandlers) ListAccessibleChannels(w http.ResponseWriter, r *http.Request) {
	member := middleware.MemberFromRequest(r)
	categories, err := h.resolver.AccessibleChannels(r.Context(), member.WorkspaceID, member.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, categories)
}

// GetChannelPermission returns the caller's level on one channel, NONE
// included
func (h *AccessHandlers) GetChannelPermission(w http.ResponseWriter, r *http.Request) {
	channelID, ok := httputil.ParsePathInt64OrError(w, r, middleware.ChannelParam)
	if !ok {
		return
	}
	member := middleware.MemberFromRequest(r)
	level, err := h.resolver.ChannelPermission(r.Context(), member.WorkspaceID, member.UserID, channelID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, PermissionResponse{ChannelID: channelID, Permission: level})
}

// ListChannelUsers returns the members and guests who can reach a channel
func (h *AccessHandlers) ListChannelUsers(w http.ResponseWriter, r *http.Request) {
	channelID, ok := httputil.ParsePathInt64OrError(w, r, middleware.ChannelParam)
	if !ok {
		return
	}
	member := middleware.MemberFromRequest(r)
	users, err := h.resolver.ChannelUsers(r.Context(), member.WorkspaceID, channelID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}
