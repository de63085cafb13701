package access

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CacheKeyPrefix prefixes every access cache key
const CacheKeyPrefix = "channel:access:"

// Cache memoizes computed permission maps per (workspace, user). It is a pure
// optimization: implementations may lose entries at any time, and callers
// treat any error as a miss.
type Cache interface {
	// Get returns the cached map and true on a hit
	Get(ctx context.Context, workspaceID, userID int64) (PermissionMap, bool, error)
	Put(ctx context.Context, workspaceID, userID int64, perms PermissionMap) error
	Invalidate(ctx context.Context, workspaceID, userID int64) error
	InvalidateWorkspace(ctx context.Context, workspaceID int64) error
}

// CacheKey returns the key of a single entry
func CacheKey(workspaceID, userID int64) string {
	return fmt.Sprintf("%s%d:%d", CacheKeyPrefix, workspaceID, userID)
}

// WorkspacePrefix returns the prefix shared by every entry of a workspace.
// The trailing separator keeps workspace 1 from matching workspace 12.
func WorkspacePrefix(workspaceID int64) string {
	return CacheKeyPrefix + strconv.FormatInt(workspaceID, 10) + ":"
}

// ParseCacheKey splits a key back into its identifiers
func ParseCacheKey(key string) (workspaceID, userID int64, err error) {
	rest, ok := strings.CutPrefix(key, CacheKeyPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not an access cache key: %q", key)
	}
	ws, user, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed access cache key: %q", key)
	}
	if workspaceID, err = strconv.ParseInt(ws, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed workspace id in %q: %w", key, err)
	}
	if userID, err = strconv.ParseInt(user, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed user id in %q: %w", key, err)
	}
	return workspaceID, userID, nil
}

// NoopCache never stores anything. Every lookup recomputes.
type NoopCache struct{}

func (NoopCache) Get(context.Context, int64, int64) (PermissionMap, bool, error) {
	return nil, false, nil
}

func (NoopCache) Put(context.Context, int64, int64, PermissionMap) error { return nil }

func (NoopCache) Invalidate(context.Context, int64, int64) error { return nil }

func (NoopCache) InvalidateWorkspace(context.Context, int64) error { return nil }
