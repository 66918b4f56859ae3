package httpapi

import (
	"net/http"

	"github.com/nodequota/ratelimit/apierr"
	"github.com/nodequota/ratelimit/cluster"
	"github.com/nodequota/ratelimit/cluster/gossip"
	"github.com/nodequota/ratelimit/cluster/ring"
)

// ClusterHandler exposes read-only introspection over membership and
// ring placement for operators.
type ClusterHandler struct {
	self     cluster.Member
	gossiper *gossip.Gossiper
	ringTbl  *ring.Table
}

// NewClusterHandler builds a ClusterHandler.
func NewClusterHandler(self cluster.Member, gossiper *gossip.Gossiper, ringTbl *ring.Table) *ClusterHandler {
	return &ClusterHandler{self: self, gossiper: gossiper, ringTbl: ringTbl}
}

type memberView struct {
	NodeID        string `json:"node_id"`
	AdvertiseAddr string `json:"advertise_addr"`
	RPCPort       int    `json:"rpc_port"`
	GossipPort    int    `json:"gossip_port"`
	State         string `json:"state"`
	Incarnation   uint64 `json:"incarnation"`
}

// Members handles GET /v1/cluster/members.
func (h *ClusterHandler) Members(w http.ResponseWriter, r *http.Request) {
	known := h.gossiper.Digests()
	views := make([]memberView, 0, len(known))
	for _, m := range known {
		views = append(views, memberView{
			NodeID:        m.NodeID,
			AdvertiseAddr: m.AdvertiseAddr,
			RPCPort:       m.RPCPort,
			GossipPort:    m.GossipPort,
			State:         m.State.String(),
			Incarnation:   m.Incarnation,
		})
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"self":    h.self.NodeID,
		"members": views,
	})
}

// Ring handles GET /v1/cluster/ring.
func (h *ClusterHandler) Ring(w http.ResponseWriter, r *http.Request) {
	snapshot := h.ringTbl.Snapshot()
	size := 0
	if snapshot != nil {
		size = snapshot.Size()
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"self":           h.self.NodeID,
		"virtual_points": size,
	})
}
