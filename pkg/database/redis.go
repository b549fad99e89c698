package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dealerdesk/kb-engine/pkg/config"
)

// NewRedisClient connects to the Redis instance backing the response cache.
// Redis is optional: with no host configured the client is nil and the
// cache store falls back to Postgres. A configured but unreachable Redis
// is an error, not a silent fallback.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.IsConfigured() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return client, nil
}
