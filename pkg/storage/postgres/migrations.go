package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prizmrun/prizm/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create workspaces and workspace_users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS workspace_users (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id),
					user_id BIGINT NOT NULL,
					role VARCHAR(16) NOT NULL CHECK (role IN ('OWNER', 'MANAGER', 'MEMBER', 'GUEST')),
					name VARCHAR(255) NOT NULL DEFAULT '',
					banned BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_workspace_users_live
					ON workspace_users(workspace_id, user_id) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_workspace_users_user_id ON workspace_users(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create categories and channels tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS categories (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id),
					name VARCHAR(255) NOT NULL,
					z_index DOUBLE PRECISION NOT NULL DEFAULT 0,
					deleted_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS channels (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id),
					category_id BIGINT REFERENCES categories(id),
					type VARCHAR(16) NOT NULL CHECK (type IN ('CHAT', 'ASSISTANT')),
					name VARCHAR(255) NOT NULL,
					z_index DOUBLE PRECISION NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_categories_workspace_id ON categories(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_channels_workspace_type ON channels(workspace_id, type) WHERE deleted_at IS NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create groups with members and channel grants",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_groups (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id),
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS group_workspace_users (
					group_id BIGINT NOT NULL REFERENCES workspace_groups(id),
					workspace_user_id BIGINT NOT NULL REFERENCES workspace_users(id),
					PRIMARY KEY (group_id, workspace_user_id)
				);

				CREATE TABLE IF NOT EXISTS group_channels (
					group_id BIGINT NOT NULL REFERENCES workspace_groups(id),
					channel_id BIGINT NOT NULL REFERENCES channels(id),
					permission VARCHAR(16) NOT NULL CHECK (permission IN ('READ', 'WRITE', 'MANAGE')),
					PRIMARY KEY (group_id, channel_id)
				);

				CREATE INDEX IF NOT EXISTS idx_group_workspace_users_wu ON group_workspace_users(workspace_user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create channel_workspace_users table for explicit channel grants",
			SQL: `
				CREATE TABLE IF NOT EXISTS channel_workspace_users (
					channel_id BIGINT NOT NULL REFERENCES channels(id),
					workspace_user_id BIGINT NOT NULL REFERENCES workspace_users(id),
					explicit BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (channel_id, workspace_user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_channel_workspace_users_explicit
					ON channel_workspace_users(workspace_user_id) WHERE explicit;
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					workspace_id BIGINT NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					actor_user_id BIGINT,
					request_id VARCHAR(64),
					resource_type VARCHAR(32) NOT NULL,
					resource_id BIGINT NOT NULL,
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_workspace
					ON audit_events(workspace_id, occurred_at DESC);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithField("version", migration.Version).WithField("description", migration.Description)
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
