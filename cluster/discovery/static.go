package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/nodequota/ratelimit/cluster"
)

// Static is the simplest Source: a fixed peer list supplied via
// configuration (RL_STATIC_PEERS), for single-region or test clusters
// that don't run a shared registry.
type Static struct {
	peers []cluster.Member
}

// NewStatic parses "host:rpcPort:gossipPort" entries into Members.
// Malformed entries are skipped rather than failing startup, since a
// single operator typo in a large peer list shouldn't prevent the node
// from joining the peers it can parse.
func NewStatic(entries []string) *Static {
	members := make([]cluster.Member, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(strings.TrimSpace(e), ":")
		if len(parts) != 3 {
			continue
		}
		rpcPort, err1 := strconv.Atoi(parts[1])
		gossipPort, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			continue
		}
		members = append(members, cluster.Member{
			NodeID:        parts[0] + ":" + parts[1],
			AdvertiseAddr: parts[0],
			RPCPort:       rpcPort,
			GossipPort:    gossipPort,
			State:         cluster.StateAlive,
		})
	}
	return &Static{peers: members}
}

func (s *Static) Peers(ctx context.Context) ([]cluster.Member, error) {
	return append([]cluster.Member(nil), s.peers...), nil
}

func (s *Static) Heartbeat(ctx context.Context, self cluster.Member) error {
	return nil
}
