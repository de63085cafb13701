package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/membership"
	"github.com/prizmrun/prizm/pkg/middleware"
)

// ChannelHandlers handles channel lifecycle and guest invitations
type ChannelHandlers struct {
	members *membership.Service
	guard   *middleware.GateMiddleware
}

// NewChannelHandlers creates channel handlers
func NewChannelHandlers(members *membership.Service, guard *middleware.GateMiddleware) *ChannelHandlers {
	return &ChannelHandlers{members: members, guard: guard}
}

// RegisterRoutes registers channel routes
func (h *ChannelHandlers) RegisterRoutes(router *mux.Router) {
	admins := h.guard.RequireWorkspaceRole(adminRoles...)
	managers := h.guard.RequireAdminOrChannelPermission(access.LevelManage)

	router.Handle("/workspaces/{workspaceId}/channels", guarded(admins, h.CreateChannel)).Methods("POST")
	router.Handle("/workspaces/{workspaceId}/channels/{channelId}", guarded(admins, h.DeleteChannel)).Methods("DELETE")
	router.Handle("/workspaces/{workspaceId}/channels/{channelId}/guests/{workspaceUserId}", guarded(managers, h.InviteGuest)).Methods("PUT")
	router.Handle("/workspaces/{workspaceId}/channels/{channelId}/guests/{workspaceUserId}", guarded(managers, h.RemoveGuest)).Methods("DELETE")
}

// CreateChannel adds a channel at the end of its category
func (h *ChannelHandlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req membership.NewChannel
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member := middleware.MemberFromRequest(r)
	channel, err := h.members.CreateChannel(r.Context(), member.WorkspaceID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, channel)
}

// DeleteChannel removes a channel
func (h *ChannelHandlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := httputil.ParsePathInt64OrError(w, r, middleware.ChannelParam)
	if !ok {
		return
	}

	member := middleware.MemberFromRequest(r)
	if err := h.members.DeleteChannel(r.Context(), member.WorkspaceID, channelID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// InviteGuest gives a guest access to the channel
func (h *ChannelHandlers) InviteGuest(w http.ResponseWriter, r *http.Request) {
	h.guestGrant(w, r, h.members.InviteGuestToChannel)
}

// RemoveGuest revokes a guest's access to the channel
func (h *ChannelHandlers) RemoveGuest(w http.ResponseWriter, r *http.Request) {
	h.guestGrant(w, r, h.members.RemoveGuestFromChannel)
}

func (h *ChannelHandlers) guestGrant(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, workspaceID, channelID, workspaceUserID int64) error) {
	channelID, ok := httputil.ParsePathInt64OrError(w, r, middleware.ChannelParam)
	if !ok {
		return
	}
	workspaceUserID, ok := httputil.ParsePathInt64OrError(w, r, "workspaceUserId")
	if !ok {
		return
	}

	member := middleware.MemberFromRequest(r)
	if err := op(r.Context(), member.WorkspaceID, channelID, workspaceUserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
