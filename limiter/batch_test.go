package limiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/cluster/rpc"
)

type countingCaller struct {
	pushes int64
}

func (c *countingCaller) PushCounter(ctx context.Context, addr string, req rpc.PushCounterRequest) (rpc.PushCounterResponse, error) {
	atomic.AddInt64(&c.pushes, 1)
	return rpc.PushCounterResponse{Current: req.Delta, Passed: true, ResetAt: time.Now()}, nil
}

func (c *countingCaller) BroadcastExceeded(ctx context.Context, addr string, req rpc.BroadcastExceededRequest) error {
	return nil
}

func TestFlusherCoalescesSameKeyDeltasBetweenFlushes(t *testing.T) {
	caller := &countingCaller{}
	f := NewFlusher(zerolog.Nop(), caller, NewBreakerPool(5, time.Second), time.Hour, 16, nil)

	for i := 0; i < 5; i++ {
		f.Enqueue("owner:1", Delta{NamespaceID: "ns", Identifier: "id", Delta: 1, WindowStart: time.Now(), Limit: 10, Duration: time.Second})
	}

	f.flushAll(context.Background())

	if got := atomic.LoadInt64(&caller.pushes); got != 1 {
		t.Fatalf("want exactly 1 coalesced PushCounter call, got %d", got)
	}
}

func TestOwnerQueueDropsOldestOnOverflow(t *testing.T) {
	q := newOwnerQueue(2)
	q.push(Delta{NamespaceID: "ns", Identifier: "a", Delta: 1})
	q.push(Delta{NamespaceID: "ns", Identifier: "b", Delta: 1})
	q.push(Delta{NamespaceID: "ns", Identifier: "c", Delta: 1})

	deltas := q.drain()
	if len(deltas) != 2 {
		t.Fatalf("want capacity-bounded drain of 2, got %d", len(deltas))
	}
	for _, d := range deltas {
		if d.Identifier == "a" {
			t.Fatal("oldest delta 'a' should have been dropped, not the newest")
		}
	}
	if q.droppedCount() != 1 {
		t.Fatalf("want dropped count 1, got %d", q.droppedCount())
	}
}

func TestFlusherEnqueueNeverBlocksOnFullQueue(t *testing.T) {
	caller := &countingCaller{}
	f := NewFlusher(zerolog.Nop(), caller, NewBreakerPool(5, time.Second), time.Hour, 1, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			f.Enqueue("owner:1", Delta{NamespaceID: "ns", Identifier: string(rune('a' + i%26)), Delta: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue must never block the caller")
	}
}

func TestFlusherRunDrainsOnShutdown(t *testing.T) {
	caller := &countingCaller{}
	f := NewFlusher(zerolog.Nop(), caller, NewBreakerPool(5, time.Second), time.Hour, 16, nil)
	f.Enqueue("owner:1", Delta{NamespaceID: "ns", Identifier: "id", Delta: 1, Limit: 10, Duration: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(runDone)
	}()

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run must return promptly after context cancellation")
	}
	if atomic.LoadInt64(&caller.pushes) != 1 {
		t.Fatalf("shutdown should have flushed the pending delta, got %d pushes", caller.pushes)
	}
}
