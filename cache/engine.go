// Package cache implements the multi-tier, stale-while-revalidate
// cache: an ordered list of Tiers, backfilled on partial hits and
// deduplicated on miss via singleflight. A tier failure never
// short-circuits the chain; the next tier is probed and the failure
// logged.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nodequota/ratelimit/cache/singleflight"
)

// ErrCacheUnavailable is returned when every tier in the chain failed.
var ErrCacheUnavailable = errors.New("cache: all tiers failed")

// Metrics receives cache observations. Callers that don't care can pass
// NoopMetrics{}.
type Metrics interface {
	Hit(tier string)
	Miss()
	TierError(tier string)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)       {}
func (NoopMetrics) Miss()            {}
func (NoopMetrics) TierError(string) {}

// TTLs bundles the fresh/stale durations a Set or SWR call applies.
type TTLs struct {
	Fresh time.Duration
	Stale time.Duration
}

// Cache composes an ordered tier chain into the get/set/swr/remove
// operations. V must be JSON-serializable.
type Cache[V any] struct {
	tiers   []Tier
	logger  zerolog.Logger
	metrics Metrics
	sf      singleflight.Group[string, V]
}

// New builds a Cache over the given tiers, probed in the order given
// (canonically process memory, then an optional shared store).
func New[V any](logger zerolog.Logger, metrics Metrics, tiers ...Tier) *Cache[V] {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Cache[V]{tiers: tiers, logger: logger.With().Str("component", "cache").Logger(), metrics: metrics}
}

// Get probes each tier in order. On a hit in tier i it asynchronously
// backfills tiers 0..i-1 with the found entry and returns the value.
func (c *Cache[V]) Get(ctx context.Context, namespace, key string) (V, bool, error) {
	var zero V
	e, tierIdx, found, err := c.probe(ctx, namespace, key)
	if err != nil {
		return zero, false, err
	}
	if !found {
		c.metrics.Miss()
		return zero, false, nil
	}

	var v V
	if jsonErr := json.Unmarshal(e.Value, &v); jsonErr != nil {
		return zero, false, jsonErr
	}
	c.metrics.Hit(c.tiers[tierIdx].Name())

	if tierIdx > 0 {
		c.backfill(namespace, key, e, tierIdx)
	}
	return v, true, nil
}

// Set writes to every tier in parallel using fresh_until = now+fresh and
// stale_until = now+stale.
func (c *Cache[V]) Set(ctx context.Context, namespace, key string, v V, ttl TTLs) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now()
	e := Entry{Value: raw, FreshUntil: now.Add(ttl.Fresh), StaleUntil: now.Add(ttl.Stale)}
	return c.setAll(ctx, namespace, key, e)
}

// Remove deletes the key from every tier.
func (c *Cache[V]) Remove(ctx context.Context, namespace, key string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tier := range c.tiers {
		tier := tier
		g.Go(func() error {
			if err := tier.Remove(gctx, namespace, key); err != nil {
				c.logger.Warn().Err(err).Str("tier", tier.Name()).Msg("cache tier remove failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// Loader produces a fresh value from the origin (database, override
// store, peer RPC, ...) when the cache can't serve one. A Loader must
// never re-enter the cache for the same key within the same call.
type Loader[V any] func(ctx context.Context) (V, error)

// SWR implements stale-while-revalidate: fresh hits return immediately;
// stale-but-unexpired hits return immediately and schedule a
// deduplicated async revalidation; anything else synchronously loads,
// caches, and returns. load is never invoked more than once per key
// across concurrent callers in this process.
func (c *Cache[V]) SWR(ctx context.Context, namespace, key string, ttl TTLs, load Loader[V]) (V, error) {
	var zero V
	e, _, found, err := c.probe(ctx, namespace, key)
	if err != nil {
		return zero, err
	}

	now := time.Now()
	if found {
		var v V
		if jsonErr := json.Unmarshal(e.Value, &v); jsonErr != nil {
			return zero, jsonErr
		}
		if e.Fresh(now) {
			c.metrics.Hit("swr-fresh")
			return v, nil
		}
		// Stale but not expired: serve it, revalidate in the background.
		c.metrics.Hit("swr-stale")
		c.revalidateAsync(namespace, key, ttl, load)
		return v, nil
	}

	c.metrics.Miss()
	sfKey := namespace + "\x00" + key
	return c.sf.Do(ctx, sfKey, func() (V, error) {
		// Double-check: another goroutine may have just populated this
		// while we queued for the singleflight leader slot.
		if e2, _, found2, _ := c.probe(ctx, namespace, key); found2 {
			var v V
			if jsonErr := json.Unmarshal(e2.Value, &v); jsonErr == nil {
				return v, nil
			}
		}
		v, loadErr := load(ctx)
		if loadErr != nil {
			return zero, loadErr
		}
		if setErr := c.Set(ctx, namespace, key, v, ttl); setErr != nil {
			c.logger.Warn().Err(setErr).Msg("swr: cache set after load failed")
		}
		return v, nil
	})
}

func (c *Cache[V]) revalidateAsync(namespace, key string, ttl TTLs, load Loader[V]) {
	sfKey := namespace + "\x00" + key
	go func() {
		bg := context.Background()
		_, _ = c.sf.Do(bg, sfKey, func() (V, error) {
			var zero V
			v, err := load(bg)
			if err != nil {
				c.logger.Debug().Err(err).Str("namespace", namespace).Str("key", key).Msg("swr: background revalidate failed")
				return zero, err
			}
			if err := c.Set(bg, namespace, key, v, ttl); err != nil {
				c.logger.Warn().Err(err).Msg("swr: cache set after revalidate failed")
			}
			return v, nil
		})
	}()
}

// probe walks the tier chain in order, returning the first hit. A
// tier's error does not short-circuit the chain; if every tier fails,
// ErrCacheUnavailable is returned.
func (c *Cache[V]) probe(ctx context.Context, namespace, key string) (Entry, int, bool, error) {
	failures := 0
	for i, tier := range c.tiers {
		e, ok, err := tier.Get(ctx, namespace, key)
		if err != nil {
			failures++
			c.metrics.TierError(tier.Name())
			c.logger.Warn().Err(err).Str("tier", tier.Name()).Msg("cache tier get failed, advancing")
			continue
		}
		if ok {
			return e, i, true, nil
		}
	}
	if failures == len(c.tiers) && len(c.tiers) > 0 {
		return Entry{}, 0, false, fmt.Errorf("%w", ErrCacheUnavailable)
	}
	return Entry{}, 0, false, nil
}

func (c *Cache[V]) backfill(namespace, key string, e Entry, foundAt int) {
	go func() {
		bg := context.Background()
		for i := 0; i < foundAt; i++ {
			if err := c.tiers[i].Set(bg, namespace, key, e); err != nil {
				c.logger.Debug().Err(err).Str("tier", c.tiers[i].Name()).Msg("cache backfill failed")
			}
		}
	}()
}

func (c *Cache[V]) setAll(ctx context.Context, namespace, key string, e Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tier := range c.tiers {
		tier := tier
		g.Go(func() error {
			if err := tier.Set(gctx, namespace, key, e); err != nil {
				c.logger.Warn().Err(err).Str("tier", tier.Name()).Msg("cache tier set failed")
			}
			return nil
		})
	}
	return g.Wait()
}
