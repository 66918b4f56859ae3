// Package redisclient builds the shared go-redis client used by both
// the Redis cache tier (cache.RedisTier) and the registry discovery
// backend (cluster/discovery).
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New parses rawURL (a redis:// or rediss:// URL) and returns a
// connected client.
func New(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Ping verifies connectivity with a bounded timeout, used at startup to
// fail fast rather than let the first request discover a bad URL.
func Ping(rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
