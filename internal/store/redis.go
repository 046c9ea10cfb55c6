package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// CompletionCache stores completed (student, day) pairs as expiring keys.
type CompletionCache struct {
	client *redis.Client
	prefix string
}

// NewCompletionCache builds a cache under the given key prefix.
func NewCompletionCache(client *redis.Client, prefix string) *CompletionCache {
	if prefix == "" {
		prefix = "attendance:done"
	}
	return &CompletionCache{client: client, prefix: prefix}
}

func (c *CompletionCache) key(studentID, day string) string {
	return c.prefix + ":" + day + ":" + studentID
}

// IsCompleted reports whether the pair was marked.
func (c *CompletionCache) IsCompleted(ctx context.Context, studentID, day string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(studentID, day)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkCompleted records the pair until ttl elapses. Non-positive ttls keep the key a minute.
func (c *CompletionCache) MarkCompleted(ctx context.Context, studentID, day string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return c.client.Set(ctx, c.key(studentID, day), "1", ttl).Err()
}
