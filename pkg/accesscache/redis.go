package accesscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/config"
)

const scanBatch = 100

// NewRedisClient creates a Redis client from configuration and checks it is
// reachable
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	// Short timeouts: a slow cache must not be slower than recomputing.
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	opts.PoolTimeout = time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisCache shares permission maps across instances. Values are JSON
// objects keyed by channel ID with level names as values.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, workspaceID, userID int64) (access.PermissionMap, bool, error) {
	key := access.CacheKey(workspaceID, userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var perms access.PermissionMap
	if err := json.Unmarshal(data, &perms); err != nil {
		// Drop corrupt data so the next fill replaces it
		c.client.Del(ctx, key)
		return nil, false, fmt.Errorf("failed to unmarshal permissions for %s: %w", key, err)
	}
	if perms == nil {
		perms = access.PermissionMap{}
	}
	return perms, true, nil
}

func (c *RedisCache) Put(ctx context.Context, workspaceID, userID int64, perms access.PermissionMap) error {
	if perms == nil {
		perms = access.PermissionMap{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if err := c.client.Set(ctx, access.CacheKey(workspaceID, userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, workspaceID, userID int64) error {
	if err := c.client.Del(ctx, access.CacheKey(workspaceID, userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// InvalidateWorkspace deletes every key under the workspace prefix using
// SCAN, never KEYS
func (c *RedisCache) InvalidateWorkspace(ctx context.Context, workspaceID int64) error {
	pattern := access.WorkspacePrefix(workspaceID) + "*"

	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete %d keys: %w", len(batch), err)
		}
		batch = batch[:0]
		return nil
	}

	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return flush()
}

// Client returns the underlying Redis client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
