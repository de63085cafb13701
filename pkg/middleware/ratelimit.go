package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/prizmrun/prizm/pkg/contextkeys"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/observability"
)

// ReasonRateLimited is the error reason of a 429 response
const ReasonRateLimited = "RATE_LIMITED"

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

func (c RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Quota is the outcome of one rate limit check
type Quota struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the time until the caller may retry with a fresh allowance
	Reset time.Duration
}

// Limiter decides whether one more request for key fits its allowance
type Limiter interface {
	Allow(ctx context.Context, key string) (Quota, error)
}

// TokenBucketLimiter is an in-process token bucket per key
type TokenBucketLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

// NewTokenBucketLimiter creates an in-process limiter
func NewTokenBucketLimiter(config RateLimitConfig) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (Quota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limit := l.config.capacity()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: limit, lastUpdate: now}
		l.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastUpdate)
	refill := int(elapsed.Seconds() * float64(l.config.RequestsPerWindow) / l.config.WindowDuration.Seconds())
	if refill > 0 {
		b.tokens += refill
		if b.tokens > limit {
			b.tokens = limit
		}
		b.lastUpdate = now
	}

	q := Quota{Limit: limit, Reset: l.config.WindowDuration / time.Duration(l.config.RequestsPerWindow)}
	if b.tokens > 0 {
		b.tokens--
		q.Allowed = true
	}
	q.Remaining = b.tokens
	return q, nil
}

// Cleanup drops buckets idle for two windows. A dropped bucket is full anyway.
func (l *TokenBucketLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > l.config.WindowDuration*2 {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RedisLimiter is a fixed window counter in Redis, shared by every instance
type RedisLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{redis: client, config: config, prefix: prefix}
}

// Allow counts one request in key's current window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Quota, error) {
	redisKey := l.prefix + ":" + key
	limit := l.config.capacity()

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Quota{Allowed: true, Limit: limit, Remaining: limit}, fmt.Errorf("rate limit counter: %w", err)
	}

	reset := ttl.Val()
	if reset < 0 {
		// First request of the window
		if err := l.redis.PExpire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return Quota{Allowed: true, Limit: limit, Remaining: limit}, fmt.Errorf("rate limit window: %w", err)
		}
		reset = l.config.WindowDuration
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Allowed: count <= limit, Limit: limit, Remaining: remaining, Reset: reset}, nil
}

// Reset clears the counter for a key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.prefix+":"+key).Err()
}

// RateLimitMiddleware limits requests per authenticated user, or per client
// address for anonymous requests. Limiter errors let the request through.
type RateLimitMiddleware struct {
	limiter Limiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + getClientIP(r)
		if userID, ok := contextkeys.GetUserID(r.Context()); ok {
			key = "user:" + strconv.FormatInt(userID, 10)
		}

		q, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			observability.FromContext(r.Context()).
				WithError(err).
				WithField("key", key).
				Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(q.Reset).Unix(), 10))

		if !q.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(q.Reset)))
			httputil.WriteReason(w, http.StatusTooManyRequests, "rate limit exceeded", ReasonRateLimited)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func getClientIP(r *http.Request) string {
	// First hop of X-Forwarded-For when behind a proxy
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
