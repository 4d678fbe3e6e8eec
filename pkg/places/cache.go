package places

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/dineseek/dineseek/pkg/models"
)

const (
	cacheKeyPrefix  = "places:q:"
	defaultCacheTTL = 10 * time.Minute
)

// CachedClient decorates a provider client with a Redis read-through cache,
// singleflight collapsing of identical concurrent queries, a circuit
// breaker around the upstream and a per-call timeout. Cache hits bypass the
// breaker entirely, so a tripped breaker still serves warm queries.
type CachedClient struct {
	upstream Client
	rdb      *redis.Client
	ttl      time.Duration
	timeout  time.Duration
	group    singleflight.Group
	breaker  *gobreaker.CircuitBreaker
}

// CacheOption configures the decorator.
type CacheOption func(*CachedClient)

// WithCacheTTL overrides the cache entry lifetime.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedClient) { c.ttl = ttl }
}

// NewCachedClient wraps upstream. A nil redis client disables caching but
// keeps singleflight, the breaker and the timeout in place.
func NewCachedClient(upstream Client, rdb *redis.Client, timeout time.Duration, opts ...CacheOption) *CachedClient {
	c := &CachedClient{
		upstream: upstream,
		rdb:      rdb,
		ttl:      defaultCacheTTL,
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Open after 5 consecutive failures, probe with a single request after
	// 30 seconds. A geocode miss is a valid answer, not a provider failure.
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "google_places",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Provider circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// TextSearch serves from cache when possible.
func (c *CachedClient) TextSearch(ctx context.Context, params TextSearchParams) ([]Place, error) {
	return cachedCall(ctx, c, cacheKey("text", params), func(callCtx context.Context) ([]Place, error) {
		return c.upstream.TextSearch(callCtx, params)
	})
}

// Nearby serves from cache when possible.
func (c *CachedClient) Nearby(ctx context.Context, params NearbyParams) ([]Place, error) {
	return cachedCall(ctx, c, cacheKey("nearby", params), func(callCtx context.Context) ([]Place, error) {
		return c.upstream.Nearby(callCtx, params)
	})
}

// Geocode serves from cache when possible. Misses are never cached.
func (c *CachedClient) Geocode(ctx context.Context, params GeocodeParams) (*models.LatLng, error) {
	return cachedCall(ctx, c, cacheKey("geo", params), func(callCtx context.Context) (*models.LatLng, error) {
		return c.upstream.Geocode(callCtx, params)
	})
}

// ReverseRegion serves from cache when possible.
func (c *CachedClient) ReverseRegion(ctx context.Context, point models.LatLng) (string, error) {
	return cachedCall(ctx, c, cacheKey("rev", point), func(callCtx context.Context) (string, error) {
		return c.upstream.ReverseRegion(callCtx, point)
	})
}

// cachedCall is the shared read-through path: cache get, singleflight,
// breaker, timeout-bounded upstream call, best-effort cache set.
func cachedCall[T any](ctx context.Context, c *CachedClient, key string, call func(context.Context) (T, error)) (T, error) {
	var zero T

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var cached T
			if err := json.Unmarshal(data, &cached); err == nil {
				slog.Debug("Provider cache hit", "cache_key", key)
				return cached, nil
			}
			// Undecodable entry: drop it and fall through to the provider.
			c.rdb.Del(ctx, key)
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("Provider cache read failed", "cache_key", key, "error", err)
		}
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return call(callCtx)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: circuit open: %v", ErrProvider, err)
		}
		return zero, err
	}

	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected cached call result", ErrProvider)
	}

	if c.rdb != nil {
		if data, err := json.Marshal(value); err == nil {
			if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
				slog.Warn("Provider cache write failed", "cache_key", key, "error", err)
			}
		}
	}
	return value, nil
}

// cacheKey hashes the canonical JSON of the params. Identical queries from
// concurrent jobs collapse to one upstream call and one cache entry.
func cacheKey(kind string, params any) string {
	data, _ := json.Marshal(params)
	sum := sha1.Sum(append([]byte(kind+":"), data...))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
