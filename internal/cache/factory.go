package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend         string // "memory" or "redis"
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Prefix          string
	Shards          int // memory only; <= 0 uses the default
}

// New builds the Store selected by cfg.Backend. redisClient is only used for
// the "redis" backend.
func New[V any](cfg Config, redisClient redis.UniversalClient) Store[V] {
	switch cfg.Backend {
	case "redis":
		return NewRedis[V](redisClient, RedisConfig{
			Prefix:     cfg.Prefix,
			DefaultTTL: cfg.DefaultTTL,
		})
	default:
		return NewMemory[V](cfg.DefaultTTL,
			WithCleanupInterval(cfg.CleanupInterval),
			WithShards(cfg.Shards),
		)
	}
}
