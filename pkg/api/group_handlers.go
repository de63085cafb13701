package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/membership"
	"github.com/prizmrun/prizm/pkg/middleware"
)

// GroupHandlers handles group requests
type GroupHandlers struct {
	members *membership.Service
	guard   *middleware.GateMiddleware
}

// NewGroupHandlers creates group handlers
func NewGroupHandlers(members *membership.Service, guard *middleware.GateMiddleware) *GroupHandlers {
	return &GroupHandlers{members: members, guard: guard}
}

// CreateGroupRequest names a new group
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// RegisterRoutes registers group routes
func (h *GroupHandlers) RegisterRoutes(router *mux.Router) {
	admins := h.guard.RequireWorkspaceRole(adminRoles...)

	router.Handle("/workspaces/{workspaceId}/groups", guarded(admins, h.CreateGroup)).Methods("POST")
	router.Handle("/workspaces/{workspaceId}/groups/{groupId}", guarded(admins, h.UpdateGroup)).Methods("PUT")
	router.Handle("/workspaces/{workspaceId}/groups/{groupId}", guarded(admins, h.DeleteGroup)).Methods("DELETE")
}

// CreateGroup creates an empty group
func (h *GroupHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member := middleware.MemberFromRequest(r)
	group, err := h.members.CreateGroup(r.Context(), member.WorkspaceID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, group)
}

// UpdateGroup replaces a group's name, members and channel grants
func (h *GroupHandlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupId")
	if !ok {
		return
	}
	var req membership.GroupUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member := middleware.MemberFromRequest(r)
	group, err := h.members.UpdateGroup(r.Context(), member.WorkspaceID, groupID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

// DeleteGroup removes a group
func (h *GroupHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupId")
	if !ok {
		return
	}

	member := middleware.MemberFromRequest(r)
	if err := h.members.DeleteGroup(r.Context(), member.WorkspaceID, groupID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
