package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/cache"
	"github.com/nodequota/ratelimit/cluster"
	"github.com/nodequota/ratelimit/cluster/ring"
	"github.com/nodequota/ratelimit/cluster/rpc"
	"github.com/nodequota/ratelimit/limiter"
	"github.com/nodequota/ratelimit/override"
)

// noopPeerCaller satisfies limiter.PeerCaller without a real transport;
// a single-node coordinator is always its own owner so these are never
// invoked by the tests below.
type noopPeerCaller struct{}

func (noopPeerCaller) PushCounter(ctx context.Context, addr string, req rpc.PushCounterRequest) (rpc.PushCounterResponse, error) {
	return rpc.PushCounterResponse{}, nil
}

func (noopPeerCaller) BroadcastExceeded(ctx context.Context, addr string, req rpc.BroadcastExceededRequest) error {
	return nil
}

type soloMemberResolver struct {
	self cluster.Member
}

func (s soloMemberResolver) AliveMembers() []cluster.Member { return []cluster.Member{s.self} }

func newSingleNodeLimitHandler() *LimitHandler {
	logger := zerolog.Nop()
	store := newMemOverrideStore()
	resolver := override.NewResolver(logger, store, cache.NewMemTier(4, 0, 0))

	rt := ring.NewTable()
	rt.Publish(ring.Build([]string{"solo"}, ring.DefaultVirtualNodes))

	self := cluster.Member{NodeID: "solo", AdvertiseAddr: "solo", RPCPort: 9000}
	mr := soloMemberResolver{self: self}

	breakers := limiter.NewBreakerPool(3, time.Second)
	flusher := limiter.NewFlusher(logger, noopPeerCaller{}, breakers, 50*time.Millisecond, 1000, nil)

	coord := limiter.NewCoordinator(logger, self, resolver, rt, mr, flusher, breakers, noopPeerCaller{}, time.Second, nil)
	return NewLimitHandler(coord, logger)
}

func TestLimitHandlerAllowsFirstRequestUnderLimit(t *testing.T) {
	h := newSingleNodeLimitHandler()

	body, _ := json.Marshal(limitRequest{
		WorkspaceID: "ws", Namespace: "ns", Identifier: "caller-1",
		Limit: 5, Duration: 60_000, Async: true, CreateNamespace: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/limit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got limitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || got.Limit != 5 || got.Remaining != 4 {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestLimitHandlerDeniesOnceExhausted(t *testing.T) {
	h := newSingleNodeLimitHandler()

	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(limitRequest{
			WorkspaceID: "ws", Namespace: "ns", Identifier: "caller-2",
			Limit: 3, Duration: 60_000, Async: true, CreateNamespace: true,
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/limit", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("warm-up call %d: want 200, got %d", i, rec.Code)
		}
	}

	body, _ := json.Marshal(limitRequest{
		WorkspaceID: "ws", Namespace: "ns", Identifier: "caller-2",
		Limit: 3, Duration: 60_000, Async: true, CreateNamespace: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/limit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got limitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Success {
		t.Fatalf("expected denial once the window is exhausted, got %+v", got)
	}
}

func TestLimitHandlerRejectsMalformedBody(t *testing.T) {
	h := newSingleNodeLimitHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/limit", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestLimitHandlerRejectsOutOfRangeDuration(t *testing.T) {
	h := newSingleNodeLimitHandler()

	body, _ := json.Marshal(limitRequest{
		WorkspaceID: "ws", Namespace: "ns", Identifier: "caller-3",
		Limit: 5, Duration: 10, Async: true, CreateNamespace: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/limit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for a sub-second duration, got %d", rec.Code)
	}
}

func TestLimitHandlerDefaultsCostToOne(t *testing.T) {
	h := newSingleNodeLimitHandler()

	body, _ := json.Marshal(limitRequest{
		WorkspaceID: "ws", Namespace: "ns", Identifier: "caller-4",
		Limit: 2, Duration: 60_000, Async: true, CreateNamespace: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/limit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got limitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Remaining != 1 {
		t.Fatalf("want a default cost of 1 to consume one unit, got remaining=%d", got.Remaining)
	}
}
