package limiter

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerPool lazily creates and caches one circuit breaker per owner
// RPC address: if PushCounter to a given owner fails repeatedly within
// a window, subsequent calls to that owner short-circuit for a
// cool-down.
type BreakerPool struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	maxFailures uint32
	cooldown    time.Duration
}

// NewBreakerPool builds a pool; maxFailures is the consecutive-failure
// threshold that trips a given owner's breaker open, cooldown is how
// long it stays open before a single trial request is allowed through.
func NewBreakerPool(maxFailures uint32, cooldown time.Duration) *BreakerPool {
	return &BreakerPool{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// For returns the breaker for ownerRPCAddr, creating it on first use.
func (p *BreakerPool) For(ownerRPCAddr string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.breakers[ownerRPCAddr]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:    "push-counter:" + ownerRPCAddr,
		Timeout: p.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.maxFailures
		},
	}
	b := gobreaker.NewCircuitBreaker(settings)
	p.breakers[ownerRPCAddr] = b
	return b
}

// Open reports whether ownerRPCAddr's breaker is currently open (the
// coordinator falls back to its shadow counter as authoritative while
// true).
func (p *BreakerPool) Open(ownerRPCAddr string) bool {
	return p.For(ownerRPCAddr).State() == gobreaker.StateOpen
}
