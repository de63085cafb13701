// Package pgtest opens SQLite databases carrying the store schema, for tests
// that exercise the SQL store without a Postgres server.
package pgtest

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Schema mirrors the Postgres migrations closely enough for the store's
// queries
const Schema = `
	CREATE TABLE workspaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TIMESTAMP,
		deleted_at TIMESTAMP
	);

	CREATE TABLE workspace_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		banned BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		deleted_at TIMESTAMP
	);
	CREATE UNIQUE INDEX idx_workspace_users_live ON workspace_users(workspace_id, user_id) WHERE deleted_at IS NULL;

	CREATE TABLE categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		z_index REAL NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP
	);

	CREATE TABLE channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL,
		category_id INTEGER,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		z_index REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		deleted_at TIMESTAMP
	);

	CREATE TABLE workspace_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP,
		deleted_at TIMESTAMP
	);

	CREATE TABLE group_workspace_users (
		group_id INTEGER NOT NULL,
		workspace_user_id INTEGER NOT NULL,
		PRIMARY KEY (group_id, workspace_user_id)
	);

	CREATE TABLE group_channels (
		group_id INTEGER NOT NULL,
		channel_id INTEGER NOT NULL,
		permission TEXT NOT NULL,
		PRIMARY KEY (group_id, channel_id)
	);

	CREATE TABLE channel_workspace_users (
		channel_id INTEGER NOT NULL,
		workspace_user_id INTEGER NOT NULL,
		explicit BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (channel_id, workspace_user_id)
	);

	CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		workspace_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		actor_user_id INTEGER,
		request_id TEXT,
		resource_type TEXT NOT NULL,
		resource_id INTEGER NOT NULL,
		message TEXT,
		metadata TEXT
	);
`

// OpenSQLite returns an in-memory database with Schema applied. It is closed
// when the test ends.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// Every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}
