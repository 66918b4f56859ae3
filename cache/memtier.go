package cache

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// memNode is an intrusive doubly linked list element: head is the most
// recently inserted entry, tail is the oldest, giving O(1) FIFO
// eviction.
type memNode struct {
	key   string
	entry Entry
	prev  *memNode
	next  *memNode
}

// memShard is one partition of the process-memory tier: its own mutex,
// map, and intrusive list, sized to reduce lock contention across
// goroutines.
type memShard struct {
	mu   sync.Mutex
	m    map[string]*memNode
	head *memNode
	tail *memNode
	len  int
	cap  int
}

// MemTier is the canonical process-memory tier of the multi-tier
// cache chain: the first, always-present tier that every lookup probes
// before falling through to a shared store.
type MemTier struct {
	shards         []*memShard
	evictFrequency float64 // probability [0,1] of a bounded stale sweep on Set
	maxSweep       int
}

const defaultMaxSweep = 16

// NewMemTier builds a sharded in-memory tier. shardCount partitions
// the key space; perShardCap bounds FIFO eviction per shard;
// evictFrequency is the probability [0,1] that a Set call also runs a
// bounded stale sweep.
func NewMemTier(shardCount, perShardCap int, evictFrequency float64) *MemTier {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*memShard, shardCount)
	for i := range shards {
		shards[i] = &memShard{m: make(map[string]*memNode, perShardCap), cap: perShardCap}
	}
	return &MemTier{
		shards:         shards,
		evictFrequency: clampUnit(evictFrequency),
		maxSweep:       defaultMaxSweep,
	}
}

func (t *MemTier) Name() string { return "memory" }

func (t *MemTier) shardFor(key string) *memShard {
	h := xxhash.Sum64String(key)
	return t.shards[h%uint64(len(t.shards))]
}

func (t *MemTier) Get(_ context.Context, namespace, key string) (Entry, bool, error) {
	ck := compositeKey(namespace, key)
	s := t.shardFor(ck)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[ck]
	if !ok {
		return Entry{}, false, nil
	}
	if n.entry.Expired(time.Now()) {
		s.removeLocked(n)
		return Entry{}, false, nil
	}
	return n.entry, true, nil
}

func (t *MemTier) Set(_ context.Context, namespace, key string, e Entry) error {
	ck := compositeKey(namespace, key)
	s := t.shardFor(ck)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[ck]; ok {
		n.entry = e
	} else {
		n := &memNode{key: ck, entry: e}
		s.m[ck] = n
		s.pushFrontLocked(n)
	}

	for s.len > s.cap && s.cap > 0 {
		if s.tail != nil {
			s.removeLocked(s.tail)
		} else {
			break
		}
	}

	if t.evictFrequency > 0 && rand.Float64() < t.evictFrequency {
		s.sweepExpiredLocked(t.maxSweep)
	}
	return nil
}

func (t *MemTier) Remove(_ context.Context, namespace, key string) error {
	ck := compositeKey(namespace, key)
	s := t.shardFor(ck)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[ck]; ok {
		s.removeLocked(n)
	}
	return nil
}

func (s *memShard) pushFrontLocked(n *memNode) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
}

func (s *memShard) removeLocked(n *memNode) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	delete(s.m, n.key)
	s.len--
}

// sweepExpiredLocked walks back from the tail (oldest entries first)
// evicting expired nodes, bounded so a Set call can never stall on a
// large shard.
func (s *memShard) sweepExpiredLocked(maxSweep int) {
	now := time.Now()
	n := s.tail
	for i := 0; i < maxSweep && n != nil; i++ {
		prev := n.prev
		if n.entry.Expired(now) {
			s.removeLocked(n)
		}
		n = prev
	}
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
