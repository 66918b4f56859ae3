package override

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/apierr"
	"github.com/nodequota/ratelimit/cache"
)

const (
	namespaceFresh = 10 * time.Second
	namespaceStale = 60 * time.Second
)

// Policy is the effective rate-limit parameters returned for a
// (workspace, namespace, identifier) lookup.
type Policy struct {
	Limit      int64
	Duration   time.Duration
	AsyncMode  bool
	Sharding   string
	OverrideID string // "" if the caller-supplied defaults applied
}

// Defaults are the caller-supplied fallback parameters used when no
// override matches the identifier.
type Defaults struct {
	Limit     int64
	Duration  time.Duration
	AsyncMode bool
	Sharding  string
}

// Resolver routes namespace and override lookups through a
// stale-while-revalidate cache in front of the durable Store,
// so a steady stream of Limit calls against the same namespace rarely
// touches the primary store directly.
type Resolver struct {
	store      Store
	nsCache    *cache.Cache[Namespace]
	overrCache *cache.Cache[[]Override]
}

// NewResolver builds a Resolver over store, using tiers for both the
// namespace and override-set caches (canonically a MemTier, optionally
// fronting a RedisTier).
func NewResolver(logger zerolog.Logger, store Store, tiers ...cache.Tier) *Resolver {
	return &Resolver{
		store:      store,
		nsCache:    cache.New[Namespace](logger, nil, tiers...),
		overrCache: cache.New[[]Override](logger, nil, tiers...),
	}
}

// Resolve fetches (and optionally auto-creates) the namespace, fetches
// its override set, and returns the winning override's parameters or
// defaults if none matched.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, namespaceName, identifier string, defaults Defaults, canCreateNamespace bool) (Policy, error) {
	ns, err := r.resolveNamespace(ctx, workspaceID, namespaceName, canCreateNamespace)
	if err != nil {
		return Policy{}, err
	}

	overrides, err := r.overrCache.SWR(ctx, "overrides", ns.ID,
		cache.TTLs{Fresh: namespaceFresh, Stale: namespaceStale},
		func(ctx context.Context) ([]Override, error) {
			return r.store.ListAllOverrides(ctx, ns.ID)
		})
	if err != nil {
		return Policy{}, apierr.New(apierr.CodeInternal, "failed to load overrides", err)
	}

	winner, found := best(overrides, identifier)
	if !found {
		return Policy{
			Limit:     defaults.Limit,
			Duration:  defaults.Duration,
			AsyncMode: defaults.AsyncMode,
			Sharding:  defaults.Sharding,
		}, nil
	}
	return Policy{
		Limit:      winner.Limit,
		Duration:   winner.Duration(),
		AsyncMode:  winner.AsyncMode,
		Sharding:   winner.Sharding,
		OverrideID: winner.ID,
	}, nil
}

func (r *Resolver) resolveNamespace(ctx context.Context, workspaceID, name string, canCreate bool) (Namespace, error) {
	nsKey := workspaceID + "\x00" + name
	ns, err := r.nsCache.SWR(ctx, "namespaces", nsKey,
		cache.TTLs{Fresh: namespaceFresh, Stale: namespaceStale},
		func(ctx context.Context) (Namespace, error) {
			got, err := r.store.GetNamespace(ctx, workspaceID, name)
			if err == nil {
				return got, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return Namespace{}, err
			}
			if !canCreate {
				return Namespace{}, apierr.New(apierr.CodeNotFound, "namespace not found", err)
			}
			created, createErr := r.store.CreateNamespace(ctx, workspaceID, name)
			if createErr != nil {
				return Namespace{}, createErr
			}
			return created, nil
		})
	if err != nil {
		var apiErr *apierr.Error
		if apierr.As(err, &apiErr) {
			return Namespace{}, apiErr
		}
		return Namespace{}, apierr.New(apierr.CodeInternal, "failed to resolve namespace", err)
	}
	return ns, nil
}

// SetOverride, GetOverride, ListOverrides, and DeleteOverride expose
// the administrative CRUD operations, invalidating the cached override
// set for the namespace on any mutation so a revalidation picks up the
// change within the fresh/stale window rather than waiting out a full
// TTL.

func (r *Resolver) SetOverride(ctx context.Context, namespaceID, pattern string, limit, durationMs int64, asyncMode bool, sharding string) (Override, error) {
	o, err := r.store.SetOverride(ctx, namespaceID, pattern, limit, durationMs, asyncMode, sharding)
	if err != nil {
		return Override{}, err
	}
	r.invalidateOverrides(ctx, namespaceID)
	return o, nil
}

func (r *Resolver) GetOverride(ctx context.Context, namespaceID, pattern string) (Override, error) {
	return r.store.GetOverride(ctx, namespaceID, pattern)
}

func (r *Resolver) ListOverrides(ctx context.Context, namespaceID, cursor string, pageSize int) (Page, error) {
	return r.store.ListOverrides(ctx, namespaceID, cursor, pageSize)
}

func (r *Resolver) DeleteOverride(ctx context.Context, namespaceID, pattern string) error {
	if err := r.store.DeleteOverride(ctx, namespaceID, pattern); err != nil {
		return err
	}
	r.invalidateOverrides(ctx, namespaceID)
	return nil
}

func (r *Resolver) invalidateOverrides(ctx context.Context, namespaceID string) {
	_ = r.overrCache.Remove(ctx, "overrides", namespaceID)
}
