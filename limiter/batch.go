// Package limiter implements the Limit orchestration: resolve policy,
// locate the owner on the ring, update the local counter, and
// asynchronously (or synchronously) converge with the owner. The batch
// queue drops the oldest pending delta on overflow; a stale rate-limit
// delta matters less than a fresh one.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/cluster/rpc"
)

// Delta is one accumulated local increment awaiting flush to its
// owner.
type Delta struct {
	NamespaceID string
	Identifier  string
	Delta       int64
	WindowStart time.Time
	Limit       int64
	Duration    time.Duration
}

func (d Delta) key() string { return d.NamespaceID + "\x00" + d.Identifier }

// ownerQueue is a bounded, coalescing queue of pending deltas for one
// owner. Coalescing means a burst of same-key deltas between flushes
// becomes a single PushCounter call; capacity is enforced on distinct
// keys.
type ownerQueue struct {
	mu      sync.Mutex
	order   []string // insertion order of keys, oldest first
	pending map[string]Delta
	cap     int
	dropped int64
}

func newOwnerQueue(capacity int) *ownerQueue {
	return &ownerQueue{pending: make(map[string]Delta), cap: capacity}
}

func (q *ownerQueue) push(d Delta) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := d.key()
	if existing, ok := q.pending[k]; ok {
		existing.Delta += d.Delta
		existing.WindowStart = d.WindowStart
		existing.Limit = d.Limit
		existing.Duration = d.Duration
		q.pending[k] = existing
		return
	}

	if len(q.order) >= q.cap && q.cap > 0 {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.pending, oldest)
		q.dropped++
	}
	q.order = append(q.order, k)
	q.pending[k] = d
}

func (q *ownerQueue) drain() []Delta {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Delta, 0, len(q.order))
	for _, k := range q.order {
		out = append(out, q.pending[k])
	}
	q.order = q.order[:0]
	q.pending = make(map[string]Delta)
	return out
}

func (q *ownerQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// BatchMetrics receives counter-loss observations from the flusher.
type BatchMetrics interface {
	DeltaDropped(ownerAddr string)
	FlushFailed(ownerAddr string)
}

// NoopBatchMetrics discards every observation.
type NoopBatchMetrics struct{}

func (NoopBatchMetrics) DeltaDropped(string) {}
func (NoopBatchMetrics) FlushFailed(string)  {}

// Flusher owns one bounded queue per owner address and flushes them on
// a fixed interval via the peer RPC client, completely off the request
// path.
type Flusher struct {
	mu       sync.Mutex
	queues   map[string]*ownerQueue
	cap      int
	interval time.Duration
	client   PeerCaller
	breakers *BreakerPool
	metrics  BatchMetrics
	logger   zerolog.Logger
}

// NewFlusher builds a Flusher. capacityPerOwner bounds the number of
// distinct (namespace,identifier) keys buffered per owner.
func NewFlusher(logger zerolog.Logger, client PeerCaller, breakers *BreakerPool, interval time.Duration, capacityPerOwner int, metrics BatchMetrics) *Flusher {
	if metrics == nil {
		metrics = NoopBatchMetrics{}
	}
	return &Flusher{
		queues:   make(map[string]*ownerQueue),
		cap:      capacityPerOwner,
		interval: interval,
		client:   client,
		breakers: breakers,
		metrics:  metrics,
		logger:   logger.With().Str("component", "batch_flusher").Logger(),
	}
}

// Enqueue accumulates a local delta for ownerRPCAddr. Never blocks the
// caller: on a full queue the oldest pending delta for this owner is
// dropped.
func (f *Flusher) Enqueue(ownerRPCAddr string, d Delta) {
	q := f.queueFor(ownerRPCAddr)
	before := q.droppedCount()
	q.push(d)
	if q.droppedCount() > before {
		f.metrics.DeltaDropped(ownerRPCAddr)
	}
}

func (f *Flusher) queueFor(ownerRPCAddr string) *ownerQueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[ownerRPCAddr]
	if !ok {
		q = newOwnerQueue(f.cap)
		f.queues[ownerRPCAddr] = q
	}
	return q
}

// Run drives the flush loop until ctx is cancelled, then performs one
// final drain so in-flight deltas aren't silently lost on shutdown.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.flushAll(context.Background())
			return
		case <-ticker.C:
			f.flushAll(ctx)
		}
	}
}

func (f *Flusher) flushAll(ctx context.Context) {
	f.mu.Lock()
	owners := make([]string, 0, len(f.queues))
	for addr := range f.queues {
		owners = append(owners, addr)
	}
	f.mu.Unlock()

	for _, addr := range owners {
		f.flushOwner(ctx, addr)
	}
}

func (f *Flusher) flushOwner(ctx context.Context, ownerRPCAddr string) {
	q := f.queueFor(ownerRPCAddr)
	deltas := q.drain()
	if len(deltas) == 0 {
		return
	}

	for _, d := range deltas {
		breaker := f.breakers.For(ownerRPCAddr)
		_, err := breaker.Execute(func() (any, error) {
			return f.client.PushCounter(ctx, ownerRPCAddr, rpc.PushCounterRequest{
				RequestID:   requestIDFor(d),
				NamespaceID: d.NamespaceID,
				Identifier:  d.Identifier,
				Delta:       d.Delta,
				WindowStart: d.WindowStart,
				Limit:       d.Limit,
				Duration:    d.Duration,
			})
		})
		if err != nil {
			f.metrics.FlushFailed(ownerRPCAddr)
			f.logger.Debug().Err(err).Str("owner", ownerRPCAddr).Str("identifier", d.Identifier).Msg("push_counter flush failed")
		}
	}
}

func requestIDFor(d Delta) string {
	return d.NamespaceID + "|" + d.Identifier + "|" + d.WindowStart.UTC().Format(time.RFC3339Nano)
}
