package discovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodequota/ratelimit/cluster"
)

const registryKeyPrefix = "ratelimit:registry:"

// Registry is a go-redis-backed Source: each node PUTs its own
// registration under a TTL key and re-heartbeats at a fraction of that
// TTL; a SCAN over the prefix yields the current peer list on startup.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRegistry builds a Registry over an existing Redis client. ttl is
// the per-node key expiry, 60s if non-positive.
func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Registry{rdb: rdb, ttl: ttl}
}

type registration struct {
	NodeID        string `json:"node_id"`
	AdvertiseAddr string `json:"advertise_addr"`
	RPCPort       int    `json:"rpc_port"`
	GossipPort    int    `json:"gossip_port"`
}

func (r *Registry) key(nodeID string) string { return registryKeyPrefix + nodeID }

// Heartbeat PUTs self's registration with the configured TTL.
func (r *Registry) Heartbeat(ctx context.Context, self cluster.Member) error {
	reg := registration{
		NodeID:        self.NodeID,
		AdvertiseAddr: self.AdvertiseAddr,
		RPCPort:       self.RPCPort,
		GossipPort:    self.GossipPort,
	}
	raw, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(self.NodeID), raw, r.ttl).Err()
}

// Peers performs a full SCAN over the registry prefix to seed the
// initial peer list.
func (r *Registry) Peers(ctx context.Context) ([]cluster.Member, error) {
	var members []cluster.Member
	iter := r.rdb.Scan(ctx, 0, registryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		var reg registration
		if err := json.Unmarshal(raw, &reg); err != nil {
			continue
		}
		members = append(members, cluster.Member{
			NodeID:        reg.NodeID,
			AdvertiseAddr: reg.AdvertiseAddr,
			RPCPort:       reg.RPCPort,
			GossipPort:    reg.GossipPort,
			State:         cluster.StateAlive,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// Deregister removes self's registration immediately, used on
// graceful shutdown so peers don't wait out the full TTL.
func (r *Registry) Deregister(ctx context.Context, nodeID string) error {
	return r.rdb.Del(ctx, r.key(nodeID)).Err()
}

// RunHeartbeat re-publishes self's registration every interval until
// ctx is cancelled. Intended to run as a long-lived background task.
func (r *Registry) RunHeartbeat(ctx context.Context, self cluster.Member, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Heartbeat(ctx, self)
		}
	}
}
