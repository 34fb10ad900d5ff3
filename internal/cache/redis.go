package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis builds the shared redis client used by the geocode cache. Callers
// should Ping it once at startup so a bad address fails fast.
func NewRedis(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// PingRedis checks connectivity with a short deadline.
func PingRedis(ctx context.Context, rdb *redis.Client) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return rdb.Ping(cctx).Err()
}
