package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/apierr"
	"github.com/nodequota/ratelimit/cluster/gossip"
)

// OwnerHandler is implemented by the limiter coordinator to field
// inbound owner-side RPCs.
type OwnerHandler interface {
	PushCounter(ctx context.Context, req PushCounterRequest) (PushCounterResponse, error)
	BroadcastExceeded(ctx context.Context, req BroadcastExceededRequest) error
}

// GossipReceiver is implemented by gossip.Gossiper.
type GossipReceiver interface {
	Receive(self gossip.Digest) []gossip.Digest
}

// Server exposes PushCounter, BroadcastExceeded, and the gossip
// exchange endpoint behind a membership ACL. The peer-facing chain
// carries no CORS: request ID, recoverer, then ACL.
type Server struct {
	owner  OwnerHandler
	gossip GossipReceiver
	acl    *ACL
	dedupe *Dedupe
	logger zerolog.Logger
}

// NewServer builds the peer RPC HTTP handler.
func NewServer(owner OwnerHandler, gr GossipReceiver, acl *ACL, dedupe *Dedupe, logger zerolog.Logger) http.Handler {
	s := &Server{owner: owner, gossip: gr, acl: acl, dedupe: dedupe, logger: logger.With().Str("component", "peer_rpc").Logger()}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(acl.Middleware)
	r.Post("/internal/push-counter", s.handlePushCounter)
	r.Post("/internal/broadcast-exceeded", s.handleBroadcastExceeded)
	r.Post("/internal/gossip/exchange", s.handleGossipExchange)
	return r
}

func (s *Server) handlePushCounter(w http.ResponseWriter, r *http.Request) {
	var req PushCounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, "invalid request body", err))
		return
	}

	if cached, ok := s.dedupe.CheckReplay(req.RequestID); ok {
		apierr.WriteJSON(w, http.StatusOK, cached)
		return
	}

	resp, err := s.owner.PushCounter(r.Context(), req)
	if err != nil {
		var apiErr *apierr.Error
		if apierr.As(err, &apiErr) {
			apierr.WriteError(w, apiErr)
			return
		}
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "push_counter failed", err))
		return
	}

	s.dedupe.Record(req.RequestID, resp)
	apierr.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBroadcastExceeded(w http.ResponseWriter, r *http.Request) {
	var req BroadcastExceededRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, "invalid request body", err))
		return
	}

	if _, ok := s.dedupe.CheckReplay(req.RequestID); ok {
		apierr.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := s.owner.BroadcastExceeded(r.Context(), req); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeInternal, "broadcast_exceeded failed", err))
		return
	}
	s.dedupe.Record(req.RequestID, map[string]bool{"ok": true})
	apierr.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGossipExchange(w http.ResponseWriter, r *http.Request) {
	var self gossip.Digest
	if err := json.NewDecoder(r.Body).Decode(&self); err != nil {
		apierr.WriteError(w, apierr.New(apierr.CodeBadRequest, "invalid request body", err))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, s.gossip.Receive(self))
}
