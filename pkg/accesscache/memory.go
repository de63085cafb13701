package accesscache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/prizmrun/prizm/pkg/access"
)

// DefaultTTL matches the lifetime of entries in the shared cache
const DefaultTTL = time.Hour

// MemoryCache is a size-bounded in-process LRU with per-entry expiry. Maps
// are copied on the way in and out so callers cannot mutate cached state.
type MemoryCache struct {
	lru *lru.LRU[string, access.PermissionMap]
	ttl time.Duration
}

// NewMemoryCache creates an in-process cache holding at most size entries
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		lru: lru.NewLRU[string, access.PermissionMap](size, nil, ttl),
		ttl: ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, workspaceID, userID int64) (access.PermissionMap, bool, error) {
	perms, ok := c.lru.Get(access.CacheKey(workspaceID, userID))
	if !ok {
		return nil, false, nil
	}
	return perms.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, workspaceID, userID int64, perms access.PermissionMap) error {
	c.lru.Add(access.CacheKey(workspaceID, userID), perms.Clone())
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, workspaceID, userID int64) error {
	c.lru.Remove(access.CacheKey(workspaceID, userID))
	return nil
}

// InvalidateWorkspace walks the key set, so its cost grows with the cache size
func (c *MemoryCache) InvalidateWorkspace(_ context.Context, workspaceID int64) error {
	prefix := access.WorkspacePrefix(workspaceID)
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// TTL returns the entry lifetime
func (c *MemoryCache) TTL() time.Duration {
	return c.ttl
}

// Purge drops every entry
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}
