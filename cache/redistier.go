package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the optional shared store tier, backed by the shared
// go-redis client (redisclient.New). An entry's Redis key TTL is set
// to its stale_until so the store itself enforces "an entry past
// stale_until is treated as absent" without a separate sweep.
type RedisTier struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisTier wraps an existing *redis.Client. prefix namespaces keys
// so a shared Redis instance can host more than one cache chain.
func NewRedisTier(rdb *redis.Client, prefix string) *RedisTier {
	return &RedisTier{rdb: rdb, prefix: prefix}
}

func (t *RedisTier) Name() string { return "redis" }

type redisPayload struct {
	Value      []byte    `json:"value"`
	FreshUntil time.Time `json:"fresh_until"`
	StaleUntil time.Time `json:"stale_until"`
}

func (t *RedisTier) redisKey(namespace, key string) string {
	return t.prefix + ":" + namespace + ":" + key
}

func (t *RedisTier) Get(ctx context.Context, namespace, key string) (Entry, bool, error) {
	raw, err := t.rdb.Get(ctx, t.redisKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var p redisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Entry{}, false, err
	}
	e := Entry{Value: p.Value, FreshUntil: p.FreshUntil, StaleUntil: p.StaleUntil}
	if e.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (t *RedisTier) Set(ctx context.Context, namespace, key string, e Entry) error {
	p := redisPayload{Value: e.Value, FreshUntil: e.FreshUntil, StaleUntil: e.StaleUntil}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ttl := time.Until(e.StaleUntil)
	if ttl <= 0 {
		ttl = time.Second
	}
	return t.rdb.Set(ctx, t.redisKey(namespace, key), raw, ttl).Err()
}

func (t *RedisTier) Remove(ctx context.Context, namespace, key string) error {
	return t.rdb.Del(ctx, t.redisKey(namespace, key)).Err()
}
