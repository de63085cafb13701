package accesscache

import (
	"context"
	"errors"

	"github.com/prizmrun/prizm/pkg/access"
)

// TieredCache fronts a shared cache with a short-lived in-process one.
//
// Invalidations clear both tiers on this instance, but another instance may
// keep serving its own L1 copy until the L1 TTL expires. Keep the L1 TTL short.
type TieredCache struct {
	l1 *MemoryCache
	l2 access.Cache
}

// NewTieredCache creates a two-level cache
func NewTieredCache(l1 *MemoryCache, l2 access.Cache) *TieredCache {
	return &TieredCache{l1: l1, l2: l2}
}

func (c *TieredCache) Get(ctx context.Context, workspaceID, userID int64) (access.PermissionMap, bool, error) {
	if perms, ok, _ := c.l1.Get(ctx, workspaceID, userID); ok {
		return perms, true, nil
	}

	perms, ok, err := c.l2.Get(ctx, workspaceID, userID)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.l1.Put(ctx, workspaceID, userID, perms)
	return perms, true, nil
}

func (c *TieredCache) Put(ctx context.Context, workspaceID, userID int64, perms access.PermissionMap) error {
	_ = c.l1.Put(ctx, workspaceID, userID, perms)
	return c.l2.Put(ctx, workspaceID, userID, perms)
}

// Invalidate always clears L1, even when L2 fails
func (c *TieredCache) Invalidate(ctx context.Context, workspaceID, userID int64) error {
	return errors.Join(
		c.l1.Invalidate(ctx, workspaceID, userID),
		c.l2.Invalidate(ctx, workspaceID, userID),
	)
}

func (c *TieredCache) InvalidateWorkspace(ctx context.Context, workspaceID int64) error {
	return errors.Join(
		c.l1.InvalidateWorkspace(ctx, workspaceID),
		c.l2.InvalidateWorkspace(ctx, workspaceID),
	)
}

// Len returns the number of L1 entries
func (c *TieredCache) Len() int {
	return c.l1.Len()
}
