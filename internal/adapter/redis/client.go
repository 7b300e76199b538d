// Package redis provides the Redis-backed idempotency store.
package redis

import (
	"context"
	"fmt"

	"github.com/couchcryptid/hml-forecast-producer/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to the configured Redis and verifies it with PING.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr(), err)
	}
	return client, nil
}
