package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/prizmrun/prizm/pkg/audit"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/middleware"
)

// AuditHandlers serves the audit trail of a workspace
type AuditHandlers struct {
	searcher audit.Searcher
	guard    *middleware.GateMiddleware
}

// NewAuditHandlers creates audit handlers
func NewAuditHandlers(searcher audit.Searcher, guard *middleware.GateMiddleware) *AuditHandlers {
	return &AuditHandlers{searcher: searcher, guard: guard}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/workspaces/{workspaceId}/audit",
		guarded(h.guard.RequireWorkspaceRole(adminRoles...), h.ListEvents)).Methods("GET")
}

// ListEvents returns audit events, newest first. Query parameters: type
// (repeatable), since (RFC 3339), limit and offset.
func (h *AuditHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	member := middleware.MemberFromRequest(r)
	filter := audit.SearchFilter{WorkspaceID: member.WorkspaceID}

	query := r.URL.Query()
	for _, t := range query["type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
	}
	if since := query.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid value for since: "+since)
			return
		}
		filter.Since = &ts
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", audit.DefaultSearchLimit); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, events)
}
