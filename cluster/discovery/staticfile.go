package discovery

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nodequota/ratelimit/cluster"
)

// peerFile is the on-disk shape for a YAML static peer list, an
// alternative to RL_STATIC_PEERS for clusters large enough that a
// comma-separated env var becomes unwieldy.
type peerFile struct {
	Peers []struct {
		NodeID        string `yaml:"node_id"`
		AdvertiseAddr string `yaml:"advertise_addr"`
		RPCPort       int    `yaml:"rpc_port"`
		GossipPort    int    `yaml:"gossip_port"`
	} `yaml:"peers"`
}

// NewStaticFromFile reads a YAML peer list from path and builds a
// Static source from it.
func NewStaticFromFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pf peerFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, err
	}

	members := make([]cluster.Member, 0, len(pf.Peers))
	for _, p := range pf.Peers {
		members = append(members, cluster.Member{
			NodeID:        p.NodeID,
			AdvertiseAddr: p.AdvertiseAddr,
			RPCPort:       p.RPCPort,
			GossipPort:    p.GossipPort,
			State:         cluster.StateAlive,
		})
	}
	return &Static{peers: members}, nil
}
