package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis.
const DefaultRedisPrefix = "webcache:"

// Redis stores each entry as a hash.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

// Exists reports whether the hash exists.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MGet returns hash fields in order.
func (r *Redis) MGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	vals, err := r.client.HMGet(ctx, r.key(key), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}

	out := make([][]byte, len(vals))
	for i, v := range vals {
		switch v := v.(type) {
		case nil:
		case string:
			out[i] = []byte(v)
		default:
			return nil, fmt.Errorf("redis hmget: unexpected %T for field %s", v, fields[i])
		}
	}
	return out, nil
}

// MSet writes hash fields.
func (r *Redis) MSet(ctx context.Context, key string, values map[string][]byte) error {
	args := make(map[string]interface{}, len(values))
	for f, v := range values {
		args[f] = v
	}
	if err := r.client.HSet(ctx, r.key(key), args).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Update writes one hash field.
func (r *Redis) Update(ctx context.Context, key, field string, value []byte) error {
	if err := r.client.HSet(ctx, r.key(key), field, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
