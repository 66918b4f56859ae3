package cache

import (
	"context"
	"time"
)

// Entry is the generic {value, fresh_until, stale_until} triple every
// tier stores. Value is kept pre-serialized so tiers can be
// heterogeneous (process memory vs. a shared store) without the Cache
// generic leaking into the Tier contract. Invariant: FreshUntil <=
// StaleUntil; an entry whose StaleUntil has passed is absent.
type Entry struct {
	Value      []byte
	FreshUntil time.Time
	StaleUntil time.Time
}

// Expired reports whether e is past its stale_until and must be
// treated as absent.
func (e Entry) Expired(now time.Time) bool {
	return !e.StaleUntil.IsZero() && now.After(e.StaleUntil)
}

// Fresh reports whether e is still within fresh_until.
func (e Entry) Fresh(now time.Time) bool {
	return e.FreshUntil.IsZero() || !now.After(e.FreshUntil)
}

// Tier is a single store capability in the multi-tier chain: process
// memory, a shared store, or anything else that can hold a keyed
// entry. A tier's own error never short-circuits the chain; the
// cache logs it and advances (see Cache.probe).
type Tier interface {
	Get(ctx context.Context, namespace, key string) (Entry, bool, error)
	Set(ctx context.Context, namespace, key string, e Entry) error
	Remove(ctx context.Context, namespace, key string) error
	Name() string
}

func compositeKey(namespace, key string) string {
	return namespace + "\x00" + key
}
