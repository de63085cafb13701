package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/observability"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_QueryErrorsSurfaceAsSourceFailures(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	connErr := errors.New("connection reset")

	mock.ExpectQuery("FROM workspace_users wu").
		WithArgs(int64(1), int64(2)).
		WillReturnError(connErr)

	r := access.NewResolver(store)
	_, err := r.Permissions(ctx, 1, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, access.ErrSourceUnavailable))
	assert.True(t, errors.Is(err, connErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ChannelQueryFailureDuringCompute(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM workspace_users wu").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "user_id", "role", "name", "banned", "deleted_at"}).
			AddRow(7, 1, 2, "OWNER", "olive", false, nil))
	mock.ExpectQuery("FROM channels").
		WithArgs(int64(1), "CHAT").
		WillReturnError(sql.ErrConnDone)

	gate := access.NewGate(access.NewResolver(store), nil, nil)
	ws, ch := int64(1), int64(5)
	_, err := gate.Authorize(ctx, &access.Identity{UserID: 2}, access.Target{WorkspaceID: &ws, ChannelID: &ch},
		access.RequirePermission(access.LevelRead))
	require.Error(t, err)
	assert.True(t, errors.Is(err, access.ErrSourceUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BadGrantLevel(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM group_channels gc").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "channel_id", "permission"}).AddRow(3, 9, "OWN"))

	_, err := store.ListGroupChannelGrants(ctx, 3)
	assert.Error(t, err)
}

func TestStore_WithTxCommitFailure(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE workspace_groups SET name").
		WithArgs("renamed", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := store.WithTx(ctx, func(tx *Tx) error {
		return tx.RenameGroup(ctx, 4, "renamed")
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTxRollbackFailureIsJoined(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("rollback failed"))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *Tx) error { return boom })
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "rollback failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS channel_workspace_users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(int64(4), "Create channel_workspace_users table for explicit channel grants").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(int64(5), "Create audit_events table").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(ctx, db, logger))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS workspaces").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = RunMigrations(ctx, db, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}
