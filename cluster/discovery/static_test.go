package discovery

import (
	"context"
	"testing"

	"github.com/nodequota/ratelimit/cluster"
)

func TestNewStaticParsesWellFormedEntries(t *testing.T) {
	s := NewStatic([]string{"10.0.0.1:7000:7001", "10.0.0.2:7000:7001"})
	peers, err := s.Peers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("want 2 parsed peers, got %d", len(peers))
	}
	if peers[0].AdvertiseAddr != "10.0.0.1" || peers[0].RPCPort != 7000 || peers[0].GossipPort != 7001 {
		t.Fatalf("unexpected parsed member: %+v", peers[0])
	}
}

func TestNewStaticSkipsMalformedEntries(t *testing.T) {
	s := NewStatic([]string{"malformed", "10.0.0.1:notaport:7001", "10.0.0.2:7000:7001"})
	peers, err := s.Peers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("malformed entries should be skipped, want 1 surviving peer, got %d", len(peers))
	}
}

func TestStaticHeartbeatIsNoop(t *testing.T) {
	s := NewStatic(nil)
	if err := s.Heartbeat(context.Background(), cluster.Member{}); err != nil {
		t.Fatalf("static heartbeat must always succeed as a no-op: %v", err)
	}
}
