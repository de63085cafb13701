package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/storage/postgres/pgtest"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(pgtest.OpenSQLite(t))
	store.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return store
}

// fixture is a small workspace with one member of every role
type fixture struct {
	workspace int64
	category  int64
	general   int64
	random    int64
	assistant int64
	owner     int64
	manager   int64
	member    int64
	guest     int64
}

func seedFixture(t *testing.T, store *Store) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	var err error
	f.workspace, err = store.CreateWorkspace(ctx, "acme")
	require.NoError(t, err)

	f.category, err = store.CreateCategory(ctx, access.Category{WorkspaceID: f.workspace, Name: "Text", ZIndex: 1})
	require.NoError(t, err)

	newChannel := func(name string, typ access.ChannelType, z float64) int64 {
		id, err := store.CreateChannel(ctx, access.Channel{
			WorkspaceID: f.workspace,
			CategoryID:  &f.category,
			Type:        typ,
			Name:        name,
			ZIndex:      z,
		})
		require.NoError(t, err)
		return id
	}
	f.general = newChannel("general", access.ChannelChat, 1)
	f.random = newChannel("random", access.ChannelChat, 2)
	f.assistant = newChannel("assistant", access.ChannelAssistant, 3)

	newUser := func(userID int64, role access.Role, name string) int64 {
		id, err := store.AddWorkspaceUser(ctx, access.WorkspaceUser{
			WorkspaceID: f.workspace,
			UserID:      userID,
			Role:        role,
			Name:        name,
		})
		require.NoError(t, err)
		return id
	}
	f.owner = newUser(100, access.RoleOwner, "olive")
	f.manager = newUser(101, access.RoleManager, "mia")
	f.member = newUser(102, access.RoleMember, "max")
	f.guest = newUser(103, access.RoleGuest, "gus")

	return f
}
