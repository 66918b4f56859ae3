package limiter

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/apierr"
	"github.com/nodequota/ratelimit/cluster"
	"github.com/nodequota/ratelimit/cluster/ring"
	"github.com/nodequota/ratelimit/cluster/rpc"
	"github.com/nodequota/ratelimit/counter"
	"github.com/nodequota/ratelimit/override"
)

// Request is the orchestration input for a single Limit call.
type Request struct {
	WorkspaceID     string
	Namespace       string
	Identifier      string
	Limit           int64
	Duration        time.Duration
	Cost            int64
	Async           bool
	Sharding        string
	CreateNamespace bool
}

// Result is the orchestration output, mapped 1:1 onto the wire
// response.
type Result struct {
	Success    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	OverrideID string
}

// MemberResolver supplies the current alive member set so the
// coordinator can translate a ring owner's node ID into its RPC
// address. Satisfied by *gossip.Gossiper.
type MemberResolver interface {
	AliveMembers() []cluster.Member
}

// Coordinator composes the override resolver, the hash ring, the
// local sliding-window counters, and the peer RPC/batch-flush
// machinery into the Limit operation.
type Coordinator struct {
	self     cluster.Member
	resolver *override.Resolver
	ringTbl  *ring.Table
	members  MemberResolver
	counters *counterStore
	flusher  *Flusher
	breakers *BreakerPool
	client   PeerCaller
	dedupe   *rpc.Dedupe

	pushTimeout time.Duration
	logger      zerolog.Logger
	metrics     Metrics
}

// Metrics receives coordinator-level observations.
type Metrics interface {
	OriginLoss()
	ExceededBroadcastSent()
	LocalDecision(allowed bool)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) OriginLoss()             {}
func (NoopMetrics) ExceededBroadcastSent()  {}
func (NoopMetrics) LocalDecision(bool)      {}

// NewCoordinator wires the full Limit orchestration.
func NewCoordinator(logger zerolog.Logger, self cluster.Member, resolver *override.Resolver, ringTbl *ring.Table, members MemberResolver, flusher *Flusher, breakers *BreakerPool, client PeerCaller, pushTimeout time.Duration, metrics Metrics) *Coordinator {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Coordinator{
		self:        self,
		resolver:    resolver,
		ringTbl:     ringTbl,
		members:     members,
		counters:    newCounterStore(),
		flusher:     flusher,
		breakers:    breakers,
		client:      client,
		dedupe:      rpc.NewDedupe(2 * time.Minute),
		pushTimeout: pushTimeout,
		logger:      logger.With().Str("component", "coordinator").Logger(),
		metrics:     metrics,
	}
}

// Limit runs the full decision flow for a single request.
func (c *Coordinator) Limit(ctx context.Context, req Request) (Result, error) {
	defaults := override.Defaults{Limit: req.Limit, Duration: req.Duration, AsyncMode: req.Async, Sharding: req.Sharding}
	policy, err := c.resolver.Resolve(ctx, req.WorkspaceID, req.Namespace, req.Identifier, defaults, req.CreateNamespace)
	if err != nil {
		return Result{}, err
	}

	identifier := req.Identifier
	if policy.Sharding == "edge" {
		// Edge-sharded policies keep one counter per edge location
		// rather than converging through a single owner.
		identifier = c.self.NodeID + "\x00" + identifier
	}

	ringSnapshot := c.ringTbl.Snapshot() // one snapshot per call; never retargets mid-call
	nsID := req.WorkspaceID + "\x00" + req.Namespace
	ringKey := nsID + "\x00" + identifier
	owner, haveOwner := ringSnapshot.Owner(ringKey)
	isOwner := !haveOwner || owner == c.self.NodeID

	key := counterKey{namespaceID: nsID, identifier: identifier, limit: policy.Limit, duration: policy.Duration}
	window := c.counters.getOrCreate(key)
	now := time.Now()
	decision := window.Take(now, req.Cost)
	c.metrics.LocalDecision(decision.Allowed)

	if isOwner {
		if !decision.Allowed && req.Cost > 0 {
			go c.broadcastExceeded(context.Background(), nsID, identifier, decision.ResetAt)
		}
		return resultFrom(decision, policy), nil
	}

	ownerAddr, ok := c.rpcAddrFor(owner)
	if !ok {
		// Can't resolve the owner's address; degrade to the local
		// shadow decision rather than fail the request.
		return resultFrom(decision, policy), nil
	}

	if policy.AsyncMode {
		c.flusher.Enqueue(ownerAddr, Delta{
			NamespaceID: nsID,
			Identifier:  identifier,
			Delta:       req.Cost,
			WindowStart: now,
			Limit:       policy.Limit,
			Duration:    policy.Duration,
		})
		return resultFrom(decision, policy), nil
	}

	return c.syncPush(ctx, nsID, identifier, req, policy, ownerAddr, decision, now)
}

func (c *Coordinator) syncPush(ctx context.Context, nsID, identifier string, req Request, policy override.Policy, ownerAddr string, localDecision counter.Decision, now time.Time) (Result, error) {
	if req.Cost == 0 {
		// A cost=0 peek never errors on an unreachable owner; there is
		// nothing for the owner to authoritatively change, so answer
		// from the local counter without attempting the RPC.
		return resultFrom(localDecision, policy), nil
	}

	if c.breakers.Open(ownerAddr) {
		// The owner's breaker is open: the local shadow counter is
		// authoritative until the cool-down ends.
		return resultFrom(localDecision, policy), nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	breaker := c.breakers.For(ownerAddr)
	raw, err := breaker.Execute(func() (any, error) {
		return c.client.PushCounter(pushCtx, ownerAddr, rpc.PushCounterRequest{
			RequestID:   identifier + "|" + now.UTC().Format(time.RFC3339Nano),
			NamespaceID: nsID,
			Identifier:  identifier,
			Delta:       req.Cost,
			WindowStart: now,
			Limit:       policy.Limit,
			Duration:    policy.Duration,
		})
	})
	if err != nil {
		c.metrics.OriginLoss()
		return Result{}, apierr.New(apierr.CodeOriginUnavail, "origin node unreachable", err)
	}

	resp := raw.(rpc.PushCounterResponse)
	return Result{
		Success:    resp.Passed,
		Limit:      policy.Limit,
		Remaining:  maxInt64(policy.Limit-resp.Current, 0),
		ResetAt:    resp.ResetAt,
		OverrideID: policy.OverrideID,
	}, nil
}

func (c *Coordinator) rpcAddrFor(nodeID string) (string, bool) {
	for _, m := range c.members.AliveMembers() {
		if m.NodeID == nodeID {
			return m.RPCAddr(), true
		}
	}
	return "", false
}

func (c *Coordinator) broadcastExceeded(ctx context.Context, nsID, identifier string, resetAt time.Time) {
	reqID := nsID + "|" + identifier + "|exceeded|" + resetAt.UTC().Format(time.RFC3339Nano)
	for _, m := range c.members.AliveMembers() {
		if m.NodeID == c.self.NodeID {
			continue
		}
		addr := m.RPCAddr()
		if err := c.client.BroadcastExceeded(ctx, addr, rpc.BroadcastExceededRequest{
			RequestID:   reqID,
			NamespaceID: nsID,
			Identifier:  identifier,
			WindowStart: time.Now(),
			ResetAt:     resetAt,
		}); err != nil {
			c.logger.Debug().Err(err).Str("peer", addr).Msg("broadcast_exceeded delivery failed")
		}
	}
	c.metrics.ExceededBroadcastSent()
}

// RunCounterReaper evicts counter windows idle for at least twice
// their own duration, on a fixed interval, until ctx is cancelled.
// Counters are ephemeral; a reaped window is simply rebuilt from
// traffic on its next use.
func (c *Coordinator) RunCounterReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.counters.Reap(time.Now())
		}
	}
}

// CounterCount reports the number of live counter windows held by this
// node, for admin introspection and the counter_windows gauge.
func (c *Coordinator) CounterCount() int {
	return c.counters.Len()
}

// PushCounter implements rpc.OwnerHandler: applies a non-owner's
// accumulated delta to this node's authoritative counter.
func (c *Coordinator) PushCounter(ctx context.Context, req rpc.PushCounterRequest) (rpc.PushCounterResponse, error) {
	if cached, ok := c.dedupe.CheckReplay(req.RequestID); ok {
		return cached.(rpc.PushCounterResponse), nil
	}

	key := counterKey{namespaceID: req.NamespaceID, identifier: req.Identifier, limit: req.Limit, duration: req.Duration}
	window := c.counters.getOrCreate(key)
	decision := window.Merge(time.Now(), req.Delta)

	current, _, resetAt := window.Snapshot(time.Now())
	resp := rpc.PushCounterResponse{Current: current, Passed: decision.Allowed, ResetAt: resetAt}
	c.dedupe.Record(req.RequestID, resp)

	if !decision.Allowed {
		go c.broadcastExceeded(context.Background(), req.NamespaceID, req.Identifier, resetAt)
	}
	return resp, nil
}

// BroadcastExceeded implements rpc.OwnerHandler: pins the local shadow
// counter to deny-until-reset for the identifier.
func (c *Coordinator) BroadcastExceeded(ctx context.Context, req rpc.BroadcastExceededRequest) error {
	// Pin every counter-window variant (any limit/duration combination)
	// registered for this (namespace, identifier), since the broadcast
	// doesn't carry the exact policy tuple a shadow might have been
	// created under.
	c.counters.pinMatching(req.NamespaceID, req.Identifier, req.ResetAt)
	return nil
}

func resultFrom(d counter.Decision, p override.Policy) Result {
	return Result{
		Success:    d.Allowed,
		Limit:      p.Limit,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt,
		OverrideID: p.OverrideID,
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
