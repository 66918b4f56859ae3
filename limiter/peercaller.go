package limiter

import (
	"context"

	"github.com/nodequota/ratelimit/cluster/rpc"
)

// PeerCaller is the subset of *rpc.Client the coordinator and flusher
// depend on, narrowed to an interface so tests can substitute a fake
// instead of dialing real HTTP.
type PeerCaller interface {
	PushCounter(ctx context.Context, ownerRPCAddr string, req rpc.PushCounterRequest) (rpc.PushCounterResponse, error)
	BroadcastExceeded(ctx context.Context, peerRPCAddr string, req rpc.BroadcastExceededRequest) error
}
