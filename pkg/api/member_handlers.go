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

// MemberHandlers handles workspace membership requests
type MemberHandlers struct {
	members *membership.Service
	guard   *middleware.GateMiddleware
}

// NewMemberHandlers creates member handlers
func NewMemberHandlers(members *membership.Service, guard *middleware.GateMiddleware) *MemberHandlers {
	return &MemberHandlers{members: members, guard: guard}
}

// AddMemberRequest adds a user to the workspace
type AddMemberRequest struct {
	UserID    int64       `json:"user_id"`
	Name      string      `json:"name"`
	Role      access.Role `json:"role,omitempty"`
	GroupIDs  []int64     `json:"group_ids,omitempty"`
	ChannelID *int64      `json:"channel_id,omitempty"`
}

// UpdateRoleRequest changes a member's role
type UpdateRoleRequest struct {
	Role access.Role `json:"role"`
}

// RegisterRoutes registers membership routes
func (h *MemberHandlers) RegisterRoutes(router *mux.Router) {
	admins := h.guard.RequireWorkspaceRole(adminRoles...)

	router.Handle("/workspaces/{workspaceId}/members", guarded(admins, h.AddMember)).Methods("POST")
	router.Handle("/workspaces/{workspaceId}/members/{userId}/role", guarded(admins, h.UpdateRole)).Methods("PUT")
	router.Handle("/workspaces/{workspaceId}/members/{userId}", guarded(admins, h.Kick)).Methods("DELETE")
	router.Handle("/workspaces/{workspaceId}/members/{userId}/ban", guarded(admins, h.Ban)).Methods("POST")
	router.Handle("/workspaces/{workspaceId}/members/{userId}/ban", guarded(admins, h.Unban)).Methods("DELETE")
	router.Handle("/workspaces/{workspaceId}/leave", guarded(h.guard.RequireWorkspaceRole(anyRole...), h.Leave)).Methods("POST")
}

// AddMember adds a user to the workspace
func (h *MemberHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "user_id must be positive")
		return
	}

	member := middleware.MemberFromRequest(r)
	wu, err := h.members.Join(r.Context(), membership.JoinRequest{
		WorkspaceID: member.WorkspaceID,
		UserID:      req.UserID,
		Name:        req.Name,
		Role:        req.Role,
		GroupIDs:    req.GroupIDs,
		ChannelID:   req.ChannelID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, wu)
}

// UpdateRole changes the role of the member named in the path
func (h *MemberHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member := middleware.MemberFromRequest(r)
	if err := h.members.UpdateRole(r.Context(), member.WorkspaceID, member.UserID, userID, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Kick removes the member named in the path
func (h *MemberHandlers) Kick(w http.ResponseWriter, r *http.Request) {
	h.onMember(w, r, h.members.Kick)
}

// Ban removes and bans the member named in the path
func (h *MemberHandlers) Ban(w http.ResponseWriter, r *http.Request) {
	h.onMember(w, r, h.members.Ban)
}

// Unban lifts the ban of the user named in the path
func (h *MemberHandlers) Unban(w http.ResponseWriter, r *http.Request) {
	h.onMember(w, r, h.members.Unban)
}

// Leave removes the caller from the workspace
func (h *MemberHandlers) Leave(w http.ResponseWriter, r *http.Request) {
	member := middleware.MemberFromRequest(r)
	if err := h.members.Leave(r.Context(), member.WorkspaceID, member.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *MemberHandlers) onMember(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, workspaceID, userID int64) error) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	member := middleware.MemberFromRequest(r)
	if err := op(r.Context(), member.WorkspaceID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
