package rendercache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis caches snapshots in a shared Redis instance, so every node of a
// multi-node deployment sees the same invalidations.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a Redis-backed cache and verifies connectivity.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, prefix: "rendercache:"}, nil
}

var _ Cache = (*Redis)(nil)

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
