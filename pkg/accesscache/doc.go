// Package accesscache provides the storage backends for the channel access
// cache: an in-process LRU, Redis, and a tiered combination of both.
//
// Every backend expires entries after a bounded TTL. Expiry is the safety
// net for invalidations that are lost, so a backend without a TTL is never
// acceptable.
//
//	l1 := accesscache.NewMemoryCache(10000, 30*time.Second)
//	l2 := accesscache.NewRedisCache(client, time.Hour)
//	resolver := access.NewResolver(store, access.WithCache(accesscache.NewTieredCache(l1, l2), "tiered"))
package accesscache
