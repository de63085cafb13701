package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/audit"
	"github.com/prizmrun/prizm/pkg/membership"
	"github.com/prizmrun/prizm/pkg/middleware"
	"github.com/prizmrun/prizm/pkg/observability"
)

var (
	// adminRoles may manage members, groups and channels
	adminRoles = []access.Role{access.RoleOwner, access.RoleManager}

	// anyRole admits every member of the workspace, guests included
	anyRole = []access.Role{access.RoleOwner, access.RoleManager, access.RoleMember, access.RoleGuest}
)

// Server is the access API
type Server struct {
	router *mux.Router
	gate   *access.Gate
	guard  *middleware.GateMiddleware

	accessHandlers  *AccessHandlers
	memberHandlers  *MemberHandlers
	groupHandlers   *GroupHandlers
	channelHandlers *ChannelHandlers
	auditHandlers   *AuditHandlers
}

// ServerOption configures optional routes
type ServerOption func(*Server)

// WithAuditTrail serves the audit trail read from searcher
func WithAuditTrail(searcher audit.Searcher) ServerOption {
	return func(s *Server) {
		if searcher != nil {
			s.auditHandlers = NewAuditHandlers(searcher, s.guard)
		}
	}
}

// NewServer creates the API server. userIDHeader names the header carrying
// the authenticated user ID.
func NewServer(gate *access.Gate, members *membership.Service, logger *observability.Logger, userIDHeader string, opts ...ServerOption) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router: mux.NewRouter(),
		gate:   gate,
		guard:  middleware.NewGateMiddleware(gate),
	}
	s.accessHandlers = NewAccessHandlers(gate.Resolver(), s.guard)
	s.memberHandlers = NewMemberHandlers(members, s.guard)
	s.groupHandlers = NewGroupHandlers(members, s.guard)
	s.channelHandlers = NewChannelHandlers(members, s.guard)
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(
		middleware.Logging(logger.Component("api")),
		middleware.RequestID,
		middleware.Recover,
		// Anonymous requests reach the gate, which answers UNAUTHENTICATED
		middleware.NewAuthMiddleware(userIDHeader, true).Handler,
	)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	s.accessHandlers.RegisterRoutes(api)
	s.memberHandlers.RegisterRoutes(api)
	s.groupHandlers.RegisterRoutes(api)
	s.channelHandlers.RegisterRoutes(api)
	if s.auditHandlers != nil {
		s.auditHandlers.RegisterRoutes(api)
	}
}

// Router returns the underlying router so that operational endpoints can be
// mounted next to the API
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// guarded wraps a handler function in a route guard
func guarded(guard func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
	return guard(h)
}
