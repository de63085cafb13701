package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/contextkeys"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/observability"
	"github.com/prizmrun/prizm/pkg/storage/postgres"
	"github.com/prizmrun/prizm/pkg/storage/postgres/pgtest"
)

type stubAuthorizer struct {
	decision access.Decision
	err      error

	gotIdentity *access.Identity
	gotTarget   access.Target
	gotReq      access.Requirement
}

func (s *stubAuthorizer) Authorize(_ context.Context, identity *access.Identity, target access.Target, req access.Requirement) (access.Decision, error) {
	s.gotIdentity = identity
	s.gotTarget = target
	s.gotReq = req
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		member := MemberFromRequest(r)
		if member != nil {
			fmt.Fprintf(w, "member %d", member.ID)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(t *testing.T, guard func(http.Handler) http.Handler, path string, userID string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	router.Use(NewAuthMiddleware("", true).Handler)
	router.Handle("/workspaces/{workspaceId}/channels/{channelId}", guard(okHandler()))
	router.Handle("/workspaces/{workspaceId}", guard(okHandler()))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set(DefaultUserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGateMiddleware_Decisions(t *testing.T) {
	tests := []struct {
		name     string
		decision access.Decision
		err      error
		status   int
		reason   string
	}{
		{"allow", access.Decision{Allowed: true, Member: &access.WorkspaceUser{ID: 7}}, nil, http.StatusOK, ""},
		{"unauthenticated", access.Decision{Reason: access.ReasonUnauthenticated}, nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"not a member", access.Decision{Reason: access.ReasonNotAMember}, nil, http.StatusForbidden, "NOT_A_MEMBER"},
		{"role", access.Decision{Reason: access.ReasonInsufficientRole}, nil, http.StatusForbidden, "INSUFFICIENT_ROLE"},
		{"permission", access.Decision{Reason: access.ReasonInsufficientPermission}, nil, http.StatusForbidden, "INSUFFICIENT_PERMISSION"},
		{"missing target", access.Decision{}, fmt.Errorf("wrap: %w", access.ErrMissingTarget), http.StatusBadRequest, "MISSING_TARGET"},
		{"source down", access.Decision{}, fmt.Errorf("wrap: %w", access.ErrSourceUnavailable), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAuthorizer{decision: tt.decision, err: tt.err}
			guard := NewGateMiddleware(stub).RequireChannelPermission(access.LevelWrite)

			w := serve(t, guard, "/workspaces/1/channels/10", "42")
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "member 7", w.Body.String())
				return
			}
			assert.Equal(t, tt.reason, decodeError(t, w).Reason)
		})
	}
}

func TestGateMiddleware_PassesTarget(t *testing.T) {
	stub := &stubAuthorizer{decision: access.Decision{Allowed: true}}
	guard := NewGateMiddleware(stub).RequireChannelPermission(access.LevelRead)

	serve(t, guard, "/workspaces/1/channels/10", "42")
	require.NotNil(t, stub.gotIdentity)
	assert.Equal(t, int64(42), stub.gotIdentity.UserID)
	assert.Equal(t, int64(1), *stub.gotTarget.WorkspaceID)
	assert.Equal(t, int64(10), *stub.gotTarget.ChannelID)
	assert.Equal(t, access.RequirePermission(access.LevelRead), stub.gotReq)

	// Anonymous requests reach the gate without an identity
	serve(t, guard, "/workspaces/1/channels/10", "")
	assert.Nil(t, stub.gotIdentity)

	// Malformed IDs reach the gate as an empty target
	serve(t, guard, "/workspaces/1/channels/ten", "42")
	assert.Nil(t, stub.gotTarget.WorkspaceID)
	assert.Nil(t, stub.gotTarget.ChannelID)
}

func TestAuthMiddleware(t *testing.T) {
	handler := NewAuthMiddleware("", false).Handler(okHandler())

	t.Run("missing identity when required", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHENTICATED", decodeError(t, w).Reason)
	})

	t.Run("malformed identity", func(t *testing.T) {
		for _, raw := range []string{"abc", "-1", "0"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(DefaultUserIDHeader, raw)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code, raw)
		}
	})

	t.Run("custom header", func(t *testing.T) {
		var got int64
		h := NewAuthMiddleware("X-Auth-User", false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = contextkeys.GetUserID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Auth-User", " 9 ")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, int64(9), got)
	})
}

func TestStatusForReason(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusForReason(access.ReasonUnauthenticated))
	assert.Equal(t, http.StatusBadRequest, StatusForReason(access.ReasonMissingTarget))
	assert.Equal(t, http.StatusForbidden, StatusForReason(access.ReasonNotAMember))
	assert.Equal(t, http.StatusInternalServerError, StatusForReason(access.Reason("SOMETHING_ELSE")))
}

// Routes guarded by the real gate over a sqlite-backed store
func TestGateMiddleware_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewStore(pgtest.OpenSQLite(t))

	ws, err := store.CreateWorkspace(ctx, "acme")
	require.NoError(t, err)
	chA, err := store.CreateChannel(ctx, access.Channel{WorkspaceID: ws, Name: "a", ZIndex: 1})
	require.NoError(t, err)
	chB, err := store.CreateChannel(ctx, access.Channel{WorkspaceID: ws, Name: "b", ZIndex: 2})
	require.NoError(t, err)
	chAsst, err := store.CreateChannel(ctx, access.Channel{WorkspaceID: ws, Type: access.ChannelAssistant, Name: "helper", ZIndex: 3})
	require.NoError(t, err)

	for uid, role := range map[int64]access.Role{100: access.RoleOwner, 102: access.RoleMember, 103: access.RoleGuest} {
		_, err := store.AddWorkspaceUser(ctx, access.WorkspaceUser{WorkspaceID: ws, UserID: uid, Role: role, Name: string(role)})
		require.NoError(t, err)
	}
	member, err := store.FindWorkspaceUser(ctx, ws, 102)
	require.NoError(t, err)
	guest, err := store.FindWorkspaceUser(ctx, ws, 103)
	require.NoError(t, err)

	group, err := store.CreateGroup(ctx, ws, "eng")
	require.NoError(t, err)
	require.NoError(t, store.ReplaceGroupMembers(ctx, group, []int64{member.ID}))
	require.NoError(t, store.ReplaceGroupChannels(ctx, group, []access.GroupChannelGrant{{ChannelID: chA, Level: access.LevelWrite}}))
	require.NoError(t, store.SetExplicitGrant(ctx, chB, guest.ID, true))

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	gate := access.NewGate(access.NewResolver(store), logger, nil)
	guardMiddleware := NewGateMiddleware(gate)
	readA := fmt.Sprintf("/workspaces/%d/channels/%d", ws, chA)
	readB := fmt.Sprintf("/workspaces/%d/channels/%d", ws, chB)
	asstPath := fmt.Sprintf("/workspaces/%d/channels/%d", ws, chAsst)
	wsPath := fmt.Sprintf("/workspaces/%d", ws)
	manage := guardMiddleware.RequireAdminOrChannelPermission(access.LevelManage)

	tests := []struct {
		name   string
		guard  func(http.Handler) http.Handler
		path   string
		user   string
		status int
	}{
		{"member reads A", guardMiddleware.RequireChannelPermission(access.LevelRead), readA, "102", http.StatusOK},
		{"member cannot read B", guardMiddleware.RequireChannelPermission(access.LevelRead), readB, "102", http.StatusForbidden},
		{"guest writes B", guardMiddleware.RequireChannelPermission(access.LevelWrite), readB, "103", http.StatusOK},
		{"guest is not admin", guardMiddleware.RequireWorkspaceRole(access.RoleOwner, access.RoleManager), wsPath, "103", http.StatusForbidden},
		{"owner is admin", guardMiddleware.RequireWorkspaceRole(access.RoleOwner, access.RoleManager), wsPath, "100", http.StatusOK},
		{"stranger", guardMiddleware.RequireChannelPermission(access.LevelRead), readA, "999", http.StatusForbidden},
		{"anonymous", guardMiddleware.RequireChannelPermission(access.LevelRead), readA, "", http.StatusUnauthorized},
		{"permission without channel", guardMiddleware.RequireChannelPermission(access.LevelRead), wsPath, "100", http.StatusBadRequest},
		{"owner has no MANAGE on assistant channels", guardMiddleware.RequireChannelPermission(access.LevelManage), asstPath, "100", http.StatusForbidden},
		{"owner manages assistant channel as admin", manage, asstPath, "100", http.StatusOK},
		{"member with WRITE cannot manage", manage, readA, "102", http.StatusForbidden},
		{"guest cannot manage", manage, readB, "103", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, tt.guard, tt.path, tt.user)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

type sequenceAuthorizer struct {
	decisions []access.Decision
	errs      []error
	calls     []access.Requirement
}

func (s *sequenceAuthorizer) Authorize(_ context.Context, _ *access.Identity, _ access.Target, req access.Requirement) (access.Decision, error) {
	i := len(s.calls)
	s.calls = append(s.calls, req)
	return s.decisions[i], s.errs[i]
}

func TestGateMiddleware_RequireAny(t *testing.T) {
	member := &access.WorkspaceUser{ID: 9, Role: access.RoleMember}
	roles := access.RequireRoles(access.RoleOwner)
	perm := access.RequirePermission(access.LevelManage)
	path := "/workspaces/1/channels/2"

	t.Run("first allowed requirement wins", func(t *testing.T) {
		auth := &sequenceAuthorizer{
			decisions: []access.Decision{{Allowed: true, Member: member}, {}},
			errs:      []error{nil, nil},
		}
		w := serve(t, NewGateMiddleware(auth).RequireAny(roles, perm), path, "100")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []access.Requirement{roles}, auth.calls)
	})

	t.Run("falls through to the next requirement", func(t *testing.T) {
		auth := &sequenceAuthorizer{
			decisions: []access.Decision{
				{Reason: access.ReasonInsufficientRole, Member: member},
				{Allowed: true, Member: member},
			},
			errs: []error{nil, nil},
		}
		w := serve(t, NewGateMiddleware(auth).RequireAny(roles, perm), path, "100")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "member 9", w.Body.String())
	})

	t.Run("rejects with the last denial", func(t *testing.T) {
		auth := &sequenceAuthorizer{
			decisions: []access.Decision{
				{Reason: access.ReasonInsufficientRole, Member: member},
				{Reason: access.ReasonInsufficientPermission, Member: member},
			},
			errs: []error{nil, nil},
		}
		w := serve(t, NewGateMiddleware(auth).RequireAny(roles, perm), path, "100")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, string(access.ReasonInsufficientPermission), decodeError(t, w).Reason)
	})

	t.Run("errors stop the chain", func(t *testing.T) {
		auth := &sequenceAuthorizer{
			decisions: []access.Decision{{}, {Allowed: true, Member: member}},
			errs:      []error{access.ErrSourceUnavailable, nil},
		}
		w := serve(t, NewGateMiddleware(auth).RequireAny(roles, perm), path, "100")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Len(t, auth.calls, 1)
	})
}

func TestGateMiddleware_SourceFailure(t *testing.T) {
	db := pgtest.OpenSQLite(t)
	gate := access.NewGate(access.NewResolver(postgres.NewStore(db)), observability.NewLogger(observability.ErrorLevel, nil), nil)
	require.NoError(t, db.Close())

	w := serve(t, NewGateMiddleware(gate).RequireWorkspaceRole(access.RoleOwner), "/workspaces/1", "100")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
