// Package postgres persists the workspace membership state that channel
// permissions are computed from.
//
// # Overview
//
// Store implements access.Source and access.DirectoryReader over
// database/sql with the lib/pq driver. Every reader excludes soft-deleted
// rows: a membership resolves only while both it and its workspace are live,
// group memberships only while the group is live, and grants only while
// their channel is live.
//
// # Transactions
//
// Mutations run through WithTx. Callers invalidate the access cache after
// WithTx returns nil, never inside the callback:
//
//	err := store.WithTx(ctx, func(tx *postgres.Tx) error {
//		return tx.SetRole(ctx, workspaceUserID, access.RoleManager)
//	})
//	if err == nil {
//		resolver.Invalidate(ctx, workspaceID, userID)
//	}
//
// # Schema
//
// RunMigrations applies the versioned schema and records each version in
// schema_migrations. Queries use $N placeholders in ascending order and pass
// timestamps from Go, so the same statements run against SQLite in tests.
package postgres
