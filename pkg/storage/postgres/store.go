package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prizmrun/prizm/pkg/access"
)

// ErrNotFound is returned when a looked-up row does not exist or is soft-deleted
var ErrNotFound = errors.New("not found")

// Group is a named set of workspace members with channel grants
type Group struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Name        string `json:"name"`
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds every statement so that Store and Tx share them
type queries struct {
	q   querier
	now func() time.Time
}

// Store is the Postgres-backed permission source. It implements
// access.Source and access.DirectoryReader.
type Store struct {
	queries
	db *sql.DB
}

// Tx runs statements inside one transaction
type Tx struct {
	queries
}

var (
	_ access.Source          = (*Store)(nil)
	_ access.DirectoryReader = (*Store)(nil)
)

// NewStore creates a store over db
func NewStore(db *sql.DB) *Store {
	return &Store{queries: queries{q: db, now: time.Now}, db: db}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn in a transaction, committing when it returns nil
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{queries: queries{q: sqlTx, now: s.now}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const workspaceUserColumns = `wu.id, wu.workspace_id, wu.user_id, wu.role, wu.name, wu.banned, wu.deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkspaceUser(row rowScanner) (*access.WorkspaceUser, error) {
	var (
		wu        access.WorkspaceUser
		role      string
		deletedAt sql.NullTime
	)
	if err := row.Scan(&wu.ID, &wu.WorkspaceID, &wu.UserID, &role, &wu.Name, &wu.Banned, &deletedAt); err != nil {
		return nil, err
	}
	wu.Role = access.Role(role)
	if deletedAt.Valid {
		t := deletedAt.Time
		wu.DeletedAt = &t
	}
	return &wu, nil
}

func scanChannel(row rowScanner) (*access.Channel, error) {
	var (
		ch         access.Channel
		categoryID sql.NullInt64
		chType     string
		deletedAt  sql.NullTime
	)
	if err := row.Scan(&ch.ID, &ch.WorkspaceID, &categoryID, &chType, &ch.Name, &ch.ZIndex, &deletedAt); err != nil {
		return nil, err
	}
	ch.Type = access.ChannelType(chType)
	if categoryID.Valid {
		id := categoryID.Int64
		ch.CategoryID = &id
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		ch.DeletedAt = &t
	}
	return &ch, nil
}

// FindWorkspaceUser returns the live membership of a user in a live
// workspace, or nil when there is none
func (s *queries) FindWorkspaceUser(ctx context.Context, workspaceID, userID int64) (*access.WorkspaceUser, error) {
	query := `
		SELECT ` + workspaceUserColumns + `
		FROM workspace_users wu
		JOIN workspaces w ON w.id = wu.workspace_id
		WHERE wu.workspace_id = $1 AND wu.user_id = $2
		  AND wu.deleted_at IS NULL AND w.deleted_at IS NULL
	`

	wu, err := scanWorkspaceUser(s.q.QueryRowContext(ctx, query, workspaceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace user: %w", err)
	}
	return wu, nil
}

// FindLatestWorkspaceUser returns the most recent membership of a user,
// soft-deleted ones included
func (s *queries) FindLatestWorkspaceUser(ctx context.Context, workspaceID, userID int64) (*access.WorkspaceUser, error) {
	query := `
		SELECT ` + workspaceUserColumns + `
		FROM workspace_users wu
		WHERE wu.workspace_id = $1 AND wu.user_id = $2
		ORDER BY wu.id DESC
		LIMIT 1
	`

	wu, err := scanWorkspaceUser(s.q.QueryRowContext(ctx, query, workspaceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace user %d in workspace %d: %w", userID, workspaceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace user: %w", err)
	}
	return wu, nil
}

// GetWorkspaceUser returns a live membership of the workspace by its ID
func (s *queries) GetWorkspaceUser(ctx context.Context, workspaceID, workspaceUserID int64) (*access.WorkspaceUser, error) {
	query := `
		SELECT ` + workspaceUserColumns + `
		FROM workspace_users wu
		WHERE wu.id = $1 AND wu.workspace_id = $2 AND wu.deleted_at IS NULL
	`

	wu, err := scanWorkspaceUser(s.q.QueryRowContext(ctx, query, workspaceUserID, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace user %d: %w", workspaceUserID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace user: %w", err)
	}
	return wu, nil
}

// ListWorkspaceUsers returns the live members of a workspace
func (s *queries) ListWorkspaceUsers(ctx context.Context, workspaceID int64) ([]access.WorkspaceUser, error) {
	query := `
		SELECT ` + workspaceUserColumns + `
		FROM workspace_users wu
		WHERE wu.workspace_id = $1 AND wu.deleted_at IS NULL
		ORDER BY wu.id
	`

	rows, err := s.q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace users: %w", err)
	}
	defer rows.Close()

	var users []access.WorkspaceUser
	for rows.Next() {
		wu, err := scanWorkspaceUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace user: %w", err)
		}
		users = append(users, *wu)
	}
	return users, rows.Err()
}

const channelColumns = `id, workspace_id, category_id, type, name, z_index, deleted_at`

// ListChannels returns the live channels of one type
func (s *queries) ListChannels(ctx context.Context, workspaceID int64, channelType access.ChannelType) ([]access.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE workspace_id = $1 AND type = $2 AND deleted_at IS NULL
		ORDER BY z_index, id
	`
	return s.listChannels(ctx, query, workspaceID, string(channelType))
}

// ListAllChannels returns the live channels of every type
func (s *queries) ListAllChannels(ctx context.Context, workspaceID int64) ([]access.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY z_index, id
	`
	return s.listChannels(ctx, query, workspaceID)
}

func (s *queries) listChannels(ctx context.Context, query string, args ...interface{}) ([]access.Channel, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []access.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// GetChannel returns a live channel of the workspace
func (s *queries) GetChannel(ctx context.Context, workspaceID, channelID int64) (*access.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`

	ch, err := scanChannel(s.q.QueryRowContext(ctx, query, channelID, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

// ListCategories returns the live categories of a workspace
func (s *queries) ListCategories(ctx context.Context, workspaceID int64) ([]access.Category, error) {
	query := `
		SELECT id, workspace_id, name, z_index
		FROM categories
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY z_index, id
	`

	rows, err := s.q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []access.Category
	for rows.Next() {
		var c access.Category
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.ZIndex); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory returns a live category of the workspace
func (s *queries) GetCategory(ctx context.Context, workspaceID, categoryID int64) (*access.Category, error) {
	query := `
		SELECT id, workspace_id, name, z_index
		FROM categories
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`

	var c access.Category
	err := s.q.QueryRowContext(ctx, query, categoryID, workspaceID).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.ZIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", categoryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// NextChannelZIndex returns one past the highest z-index of the live
// channels in a category, or 1 for an empty category
func (s *queries) NextChannelZIndex(ctx context.Context, categoryID int64) (float64, error) {
	var top sql.NullFloat64
	err := s.q.QueryRowContext(ctx,
		`SELECT MAX(z_index) FROM channels WHERE category_id = $1 AND deleted_at IS NULL`,
		categoryID,
	).Scan(&top)
	if err != nil {
		return 0, fmt.Errorf("failed to read channel z-index: %w", err)
	}
	if !top.Valid {
		return 1, nil
	}
	return top.Float64 + 1, nil
}

// ListGroupMemberships returns the live groups a workspace user belongs to
func (s *queries) ListGroupMemberships(ctx context.Context, workspaceUserID int64) ([]access.GroupMembership, error) {
	query := `
		SELECT gwu.group_id, gwu.workspace_user_id
		FROM group_workspace_users gwu
		JOIN workspace_groups g ON g.id = gwu.group_id
		WHERE gwu.workspace_user_id = $1 AND g.deleted_at IS NULL
		ORDER BY gwu.group_id
	`

	rows, err := s.q.QueryContext(ctx, query, workspaceUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group memberships: %w", err)
	}
	defer rows.Close()

	var memberships []access.GroupMembership
	for rows.Next() {
		var m access.GroupMembership
		if err := rows.Scan(&m.GroupID, &m.WorkspaceUserID); err != nil {
			return nil, fmt.Errorf("failed to scan group membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// ListGroupChannelGrants returns a group's grants on live channels
func (s *queries) ListGroupChannelGrants(ctx context.Context, groupID int64) ([]access.GroupChannelGrant, error) {
	query := `
		SELECT gc.group_id, gc.channel_id, gc.permission
		FROM group_channels gc
		JOIN channels c ON c.id = gc.channel_id
		WHERE gc.group_id = $1 AND c.deleted_at IS NULL
		ORDER BY gc.channel_id
	`

	rows, err := s.q.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group channel grants: %w", err)
	}
	defer rows.Close()

	var grants []access.GroupChannelGrant
	for rows.Next() {
		var (
			g          access.GroupChannelGrant
			permission string
		)
		if err := rows.Scan(&g.GroupID, &g.ChannelID, &permission); err != nil {
			return nil, fmt.Errorf("failed to scan group channel grant: %w", err)
		}
		level, err := access.ParseLevel(permission)
		if err != nil {
			return nil, fmt.Errorf("group %d channel %d: %w", g.GroupID, g.ChannelID, err)
		}
		g.Level = level
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListExplicitGrants returns a workspace user's explicit grants on live channels
func (s *queries) ListExplicitGrants(ctx context.Context, workspaceUserID int64) ([]access.ExplicitChannelGrant, error) {
	query := `
		SELECT cwu.workspace_user_id, cwu.channel_id
		FROM channel_workspace_users cwu
		JOIN channels c ON c.id = cwu.channel_id
		WHERE cwu.workspace_user_id = $1 AND cwu.explicit = TRUE AND c.deleted_at IS NULL
		ORDER BY cwu.channel_id
	`

	rows, err := s.q.QueryContext(ctx, query, workspaceUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list explicit grants: %w", err)
	}
	defer rows.Close()

	var grants []access.ExplicitChannelGrant
	for rows.Next() {
		var g access.ExplicitChannelGrant
		if err := rows.Scan(&g.WorkspaceUserID, &g.ChannelID); err != nil {
			return nil, fmt.Errorf("failed to scan explicit grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// GetGroup returns a live group of the workspace
func (s *queries) GetGroup(ctx context.Context, workspaceID, groupID int64) (*Group, error) {
	query := `
		SELECT id, workspace_id, name
		FROM workspace_groups
		WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL
	`

	var g Group
	err := s.q.QueryRowContext(ctx, query, groupID, workspaceID).Scan(&g.ID, &g.WorkspaceID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

// CreateWorkspace inserts a workspace and returns its ID
func (s *queries) CreateWorkspace(ctx context.Context, name string) (int64, error) {
	return s.insert(ctx, "workspace",
		`INSERT INTO workspaces (name, created_at) VALUES ($1, $2) RETURNING id`,
		name, s.now())
}

// AddWorkspaceUser inserts a live membership and returns its ID
func (s *queries) AddWorkspaceUser(ctx context.Context, wu access.WorkspaceUser) (int64, error) {
	if _, err := access.ParseRole(string(wu.Role)); err != nil {
		return 0, err
	}
	return s.insert(ctx, "workspace user",
		`INSERT INTO workspace_users (workspace_id, user_id, role, name, banned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		wu.WorkspaceID, wu.UserID, string(wu.Role), wu.Name, wu.Banned, s.now())
}

// CreateCategory inserts a category and returns its ID
func (s *queries) CreateCategory(ctx context.Context, c access.Category) (int64, error) {
	return s.insert(ctx, "category",
		`INSERT INTO categories (workspace_id, name, z_index) VALUES ($1, $2, $3) RETURNING id`,
		c.WorkspaceID, c.Name, c.ZIndex)
}

// CreateChannel inserts a channel and returns its ID
func (s *queries) CreateChannel(ctx context.Context, ch access.Channel) (int64, error) {
	if ch.Type == "" {
		ch.Type = access.ChannelChat
	}
	var categoryID sql.NullInt64
	if ch.CategoryID != nil {
		categoryID = sql.NullInt64{Int64: *ch.CategoryID, Valid: true}
	}
	return s.insert(ctx, "channel",
		`INSERT INTO channels (workspace_id, category_id, type, name, z_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ch.WorkspaceID, categoryID, string(ch.Type), ch.Name, ch.ZIndex, s.now())
}

// CreateGroup inserts an empty group and returns its ID
func (s *queries) CreateGroup(ctx context.Context, workspaceID int64, name string) (int64, error) {
	return s.insert(ctx, "group",
		`INSERT INTO workspace_groups (workspace_id, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		workspaceID, name, s.now())
}

func (s *queries) insert(ctx context.Context, what, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", what, err)
	}
	return id, nil
}

// exec runs an update that must touch at least one row
func (s *queries) exec(ctx context.Context, what string, query string, args ...interface{}) error {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// SetRole changes the role of a live membership
func (s *queries) SetRole(ctx context.Context, workspaceUserID int64, role access.Role) error {
	if _, err := access.ParseRole(string(role)); err != nil {
		return err
	}
	return s.exec(ctx, "set role",
		`UPDATE workspace_users SET role = $1 WHERE id = $2 AND deleted_at IS NULL`,
		string(role), workspaceUserID)
}

// SoftDeleteWorkspaceUser ends a live membership
func (s *queries) SoftDeleteWorkspaceUser(ctx context.Context, workspaceUserID int64) error {
	return s.exec(ctx, "delete workspace user",
		`UPDATE workspace_users SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		s.now(), workspaceUserID)
}

// BanWorkspaceUser marks a membership banned and ends it if still live
func (s *queries) BanWorkspaceUser(ctx context.Context, workspaceUserID int64) error {
	return s.exec(ctx, "ban workspace user",
		`UPDATE workspace_users SET banned = TRUE, deleted_at = COALESCE(deleted_at, $1) WHERE id = $2`,
		s.now(), workspaceUserID)
}

// SetBanned sets the banned flag, leaving deletion state unchanged
func (s *queries) SetBanned(ctx context.Context, workspaceUserID int64, banned bool) error {
	return s.exec(ctx, "set banned",
		`UPDATE workspace_users SET banned = $1 WHERE id = $2`,
		banned, workspaceUserID)
}

// RenameGroup changes the name of a live group
func (s *queries) RenameGroup(ctx context.Context, groupID int64, name string) error {
	return s.exec(ctx, "rename group",
		`UPDATE workspace_groups SET name = $1 WHERE id = $2 AND deleted_at IS NULL`,
		name, groupID)
}

// ReplaceGroupMembers sets the members of a group to exactly workspaceUserIDs
func (s *queries) ReplaceGroupMembers(ctx context.Context, groupID int64, workspaceUserIDs []int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM group_workspace_users WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to clear group members: %w", err)
	}
	seen := make(map[int64]bool, len(workspaceUserIDs))
	for _, id := range workspaceUserIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO group_workspace_users (group_id, workspace_user_id) VALUES ($1, $2)`,
			groupID, id,
		); err != nil {
			return fmt.Errorf("failed to add group member %d: %w", id, err)
		}
	}
	return nil
}

// AddGroupMember adds one member to a group, ignoring existing membership
func (s *queries) AddGroupMember(ctx context.Context, groupID, workspaceUserID int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO group_workspace_users (group_id, workspace_user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, workspace_user_id) DO NOTHING
	`, groupID, workspaceUserID)
	if err != nil {
		return fmt.Errorf("failed to add group member %d: %w", workspaceUserID, err)
	}
	return nil
}

// ReplaceGroupChannels sets the channel grants of a group to exactly grants.
// Later grants for the same channel win.
func (s *queries) ReplaceGroupChannels(ctx context.Context, groupID int64, grants []access.GroupChannelGrant) error {
	levels := make(map[int64]access.Level, len(grants))
	order := make([]int64, 0, len(grants))
	for _, g := range grants {
		if g.Level <= access.LevelNone || !g.Level.Valid() {
			return fmt.Errorf("invalid grant level %s on channel %d", g.Level, g.ChannelID)
		}
		if _, ok := levels[g.ChannelID]; !ok {
			order = append(order, g.ChannelID)
		}
		levels[g.ChannelID] = g.Level
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM group_channels WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to clear group channels: %w", err)
	}
	for _, channelID := range order {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO group_channels (group_id, channel_id, permission) VALUES ($1, $2, $3)`,
			groupID, channelID, levels[channelID].String(),
		); err != nil {
			return fmt.Errorf("failed to grant channel %d: %w", channelID, err)
		}
	}
	return nil
}

// SoftDeleteGroup removes a live group
func (s *queries) SoftDeleteGroup(ctx context.Context, groupID int64) error {
	return s.exec(ctx, "delete group",
		`UPDATE workspace_groups SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		s.now(), groupID)
}

// SetExplicitGrant records or clears an explicit channel grant
func (s *queries) SetExplicitGrant(ctx context.Context, channelID, workspaceUserID int64, explicit bool) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO channel_workspace_users (channel_id, workspace_user_id, explicit)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, workspace_user_id) DO UPDATE SET explicit = EXCLUDED.explicit
	`, channelID, workspaceUserID, explicit)
	if err != nil {
		return fmt.Errorf("failed to set explicit grant: %w", err)
	}
	return nil
}

// SoftDeleteChannel removes a live channel
func (s *queries) SoftDeleteChannel(ctx context.Context, channelID int64) error {
	return s.exec(ctx, "delete channel",
		`UPDATE channels SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		s.now(), channelID)
}

// SoftDeleteWorkspace removes a workspace; its memberships stop resolving
func (s *queries) SoftDeleteWorkspace(ctx context.Context, workspaceID int64) error {
	return s.exec(ctx, "delete workspace",
		`UPDATE workspaces SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		s.now(), workspaceID)
}
