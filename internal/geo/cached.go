package geo

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/geocoder89/placehub/internal/cache"
	"github.com/redis/go-redis/v9"
)

// CachedResolver wraps a Resolver with a lookup cache. Coordinates are
// resolved exactly once per place and never recomputed, so a hit can never
// go stale in any way that matters.
//
// Redis is used when a client is configured; otherwise a small in-process
// TTL cache carries the same role for single-node deployments.
type CachedResolver struct {
	next  Resolver
	redis *redis.Client
	local *cache.Cache
	ttl   time.Duration
}

func NewCachedResolver(next Resolver, rdb *redis.Client, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &CachedResolver{
		next:  next,
		redis: rdb,
		local: cache.New(ttl),
		ttl:   ttl,
	}
}

func cacheKey(address string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(address), " "))
}

func (r *CachedResolver) Resolve(ctx context.Context, address string) (Coordinates, error) {
	key := cacheKey(address)

	if r.redis != nil {
		raw, err := r.redis.Get(ctx, key).Result()

		if err == nil {
			var c Coordinates
			if json.Unmarshal([]byte(raw), &c) == nil {
				return c, nil
			}
		}
		// a redis miss or error falls through to the resolver
	} else if v, ok := r.local.Get(key); ok {
		if c, ok := v.(Coordinates); ok {
			return c, nil
		}
	}

	c, err := r.next.Resolve(ctx, address)

	if err != nil {
		return Coordinates{}, err
	}

	if r.redis != nil {
		if b, err := json.Marshal(c); err == nil {
			// cache write failures are not worth failing the request over
			r.redis.Set(ctx, key, b, r.ttl)
		}
	} else {
		r.local.Set(key, c)
	}

	return c, nil
}
