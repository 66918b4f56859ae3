// Package gossip maintains the live-peer view: each tick a
// node probes k random peers, exchanging a digest of (node_id,
// incarnation, state); divergences trigger anti-entropy merges. A probe
// miss moves a peer to suspect; it is declared dead after a grace
// window. The probe loop is a goroutine driven by a time.Ticker,
// stopped via context cancellation.
package gossip

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/cluster"
	"github.com/nodequota/ratelimit/cluster/ring"
)

// Digest is the compact membership fact exchanged between peers. The
// (NodeID, Incarnation, State) triple drives reconciliation; the
// address fields ride along so a peer first learned through gossip is
// dialable without a discovery round-trip.
type Digest struct {
	NodeID      string
	Incarnation uint64
	State       cluster.State

	AdvertiseAddr string
	RPCPort       int
	GossipPort    int
}

// Transport sends a digest exchange to a peer and returns its view.
// The concrete implementation (cluster/rpc) carries this over the
// gossip port; Gossiper is transport-agnostic so it can be driven by
// fakes in tests.
type Transport interface {
	Exchange(ctx context.Context, peerGossipAddr string, self Digest) ([]Digest, error)
}

type trackedMember struct {
	cluster.Member
	suspectSince time.Time
}

// Config bundles the membership timing knobs.
type Config struct {
	FanoutK        int
	ProbeInterval  time.Duration
	SuspectTimeout time.Duration // grace window before suspect -> dead
	VirtualNodes   int
}

// Gossiper owns the member table and keeps a ring.Table published to
// match it.
type Gossiper struct {
	mu      sync.RWMutex
	self    cluster.Member
	members map[string]*trackedMember

	transport Transport
	ringTable *ring.Table
	cfg       Config
	logger    zerolog.Logger
	rng       *rand.Rand
}

// New builds a Gossiper seeded with self and an initial peer list
// (typically from discovery.Source.Peers).
func New(logger zerolog.Logger, self cluster.Member, seeds []cluster.Member, transport Transport, ringTable *ring.Table, cfg Config) *Gossiper {
	if cfg.FanoutK < 1 {
		cfg.FanoutK = 3
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}
	if cfg.SuspectTimeout <= 0 {
		cfg.SuspectTimeout = 5 * cfg.ProbeInterval
	}
	if cfg.VirtualNodes < ring.DefaultVirtualNodes {
		cfg.VirtualNodes = ring.DefaultVirtualNodes
	}

	g := &Gossiper{
		self:      self,
		members:   make(map[string]*trackedMember),
		transport: transport,
		ringTable: ringTable,
		cfg:       cfg,
		logger:    logger.With().Str("component", "gossip").Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	g.members[self.NodeID] = &trackedMember{Member: self}
	for _, m := range seeds {
		if m.NodeID == self.NodeID {
			continue
		}
		m.State = cluster.StateAlive
		g.members[m.NodeID] = &trackedMember{Member: m}
	}
	g.republishRingLocked()
	return g
}

// Run drives the probe/anti-entropy loop until ctx is cancelled.
func (g *Gossiper) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Gossiper) tick(ctx context.Context) {
	for _, peer := range g.pickRandomPeers(g.cfg.FanoutK) {
		peer := peer
		go g.probe(ctx, peer)
	}
	g.sweepSuspects()
}

func (g *Gossiper) pickRandomPeers(k int) []cluster.Member {
	g.mu.RLock()
	defer g.mu.RUnlock()

	candidates := make([]cluster.Member, 0, len(g.members))
	for id, m := range g.members {
		if id == g.self.NodeID || m.State == cluster.StateDead {
			continue
		}
		candidates = append(candidates, m.Member)
	}
	g.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

func (g *Gossiper) probe(ctx context.Context, peer cluster.Member) {
	self := g.selfDigest()
	resp, err := g.transport.Exchange(ctx, peer.GossipAddr(), self)
	if err != nil {
		g.markSuspect(peer.NodeID)
		return
	}
	g.markAlive(peer.NodeID)
	for _, d := range resp {
		g.mergeDigest(d)
	}
}

func (g *Gossiper) selfDigest() Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	self := g.members[g.self.NodeID]
	return digestOf(self.Member, cluster.StateAlive)
}

// Digests returns this node's current view, for serving an inbound
// Exchange call.
func (g *Gossiper) Digests() []Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Digest, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, digestOf(m.Member, m.State))
	}
	return out
}

func digestOf(m cluster.Member, state cluster.State) Digest {
	return Digest{
		NodeID:        m.NodeID,
		Incarnation:   m.Incarnation,
		State:         state,
		AdvertiseAddr: m.AdvertiseAddr,
		RPCPort:       m.RPCPort,
		GossipPort:    m.GossipPort,
	}
}

// Receive applies an inbound peer's digest (from an RPC handler
// fielding an Exchange call) and returns this node's own view in reply.
func (g *Gossiper) Receive(peerSelf Digest) []Digest {
	g.mergeDigest(peerSelf)
	return g.Digests()
}

// mergeDigest applies the anti-entropy rule: a higher incarnation
// always wins; on an equal incarnation, dead/suspect beats alive (a
// node never regresses to alive at the same incarnation it was
// declared down at).
func (g *Gossiper) mergeDigest(d Digest) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.members[d.NodeID]
	if !ok {
		g.members[d.NodeID] = &trackedMember{Member: cluster.Member{
			NodeID:        d.NodeID,
			AdvertiseAddr: d.AdvertiseAddr,
			RPCPort:       d.RPCPort,
			GossipPort:    d.GossipPort,
			Incarnation:   d.Incarnation,
			State:         d.State,
		}}
		g.republishRingLocked()
		return
	}
	if cur.AdvertiseAddr == "" && d.AdvertiseAddr != "" {
		cur.AdvertiseAddr = d.AdvertiseAddr
		cur.RPCPort = d.RPCPort
		cur.GossipPort = d.GossipPort
	}
	if d.Incarnation > cur.Incarnation {
		cur.Incarnation = d.Incarnation
		cur.State = d.State
		g.republishRingLocked()
		return
	}
	if d.Incarnation == cur.Incarnation && rank(d.State) > rank(cur.State) {
		cur.State = d.State
		g.republishRingLocked()
	}
}

func rank(s cluster.State) int {
	switch s {
	case cluster.StateAlive:
		return 0
	case cluster.StateSuspect:
		return 1
	case cluster.StateDead:
		return 2
	default:
		return -1
	}
}

func (g *Gossiper) markAlive(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[nodeID]
	if !ok {
		return
	}
	if m.State != cluster.StateAlive {
		m.State = cluster.StateAlive
		m.suspectSince = time.Time{}
		g.republishRingLocked()
	}
}

func (g *Gossiper) markSuspect(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[nodeID]
	if !ok || m.State == cluster.StateDead {
		return
	}
	if m.State != cluster.StateSuspect {
		m.State = cluster.StateSuspect
		m.suspectSince = time.Now()
		g.logger.Warn().Str("node_id", nodeID).Msg("peer probe missed, marking suspect")
		g.republishRingLocked()
	}
}

func (g *Gossiper) sweepSuspects() {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := false
	now := time.Now()
	for _, m := range g.members {
		if m.State == cluster.StateSuspect && now.Sub(m.suspectSince) >= g.cfg.SuspectTimeout {
			m.State = cluster.StateDead
			m.Incarnation++
			changed = true
			g.logger.Warn().Str("node_id", m.NodeID).Msg("suspect grace window elapsed, marking dead")
		}
	}
	if changed {
		g.republishRingLocked()
	}
}

// AliveMembers returns a snapshot of every currently alive peer,
// including self.
func (g *Gossiper) AliveMembers() []cluster.Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]cluster.Member, 0, len(g.members))
	for _, m := range g.members {
		if m.State == cluster.StateAlive {
			out = append(out, m.Member)
		}
	}
	return out
}

func (g *Gossiper) republishRingLocked() {
	ids := make([]string, 0, len(g.members))
	for id, m := range g.members {
		if m.State == cluster.StateAlive {
			ids = append(ids, id)
		}
	}
	g.ringTable.Publish(ring.Build(ids, g.cfg.VirtualNodes))
}
