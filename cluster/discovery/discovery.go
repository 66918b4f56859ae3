// Package discovery implements the seed step of cluster formation: a
// one-time (or periodically refreshed) lookup of the current peer
// list, handed off to the gossip layer for ongoing membership
// maintenance.
package discovery

import (
	"context"

	"github.com/nodequota/ratelimit/cluster"
)

// Source yields the current best-known peer list. Implementations
// never need to be authoritative; gossip reconciles from here.
type Source interface {
	Peers(ctx context.Context) ([]cluster.Member, error)
	// Heartbeat republishes self's registration, if the backend needs
	// one (a no-op for Static).
	Heartbeat(ctx context.Context, self cluster.Member) error
}
