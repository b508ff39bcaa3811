package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-records-api/pkg/config"
)

const dialTimeout = 5 * time.Second

// NewRedis returns a Redis client that answered a ping, or nil when Redis is disabled.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	if err := Ready(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// Ready pings the client. A nil client is ready: the cache is optional.
func Ready(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
