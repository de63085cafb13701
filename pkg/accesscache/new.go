package accesscache

import (
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/config"
)

// New builds the backend named by cfg.Backend. client is required for the
// redis and tiered backends and ignored otherwise.
func New(cfg config.CacheConfig, client *redis.Client) (access.Cache, error) {
	switch cfg.Backend {
	case config.CacheNone:
		return access.NoopCache{}, nil
	case config.CacheMemory:
		return NewMemoryCache(cfg.L1Size, cfg.TTL), nil
	case config.CacheRedis:
		if client == nil {
			return nil, fmt.Errorf("redis cache requires a redis client")
		}
		return NewRedisCache(client, cfg.TTL), nil
	case config.CacheTiered:
		if client == nil {
			return nil, fmt.Errorf("tiered cache requires a redis client")
		}
		return NewTieredCache(NewMemoryCache(cfg.L1Size, cfg.L1TTL), NewRedisCache(client, cfg.TTL)), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
