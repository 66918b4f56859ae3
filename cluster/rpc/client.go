package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nodequota/ratelimit/cluster/gossip"
)

// Client dials peer RPC and gossip-exchange endpoints. It satisfies
// gossip.Transport directly.
type Client struct {
	http *http.Client
}

// NewClient builds a Client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc: %s returned status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PushCounter sends a non-owner's accumulated delta to ownerRPCAddr.
func (c *Client) PushCounter(ctx context.Context, ownerRPCAddr string, req PushCounterRequest) (PushCounterResponse, error) {
	var resp PushCounterResponse
	url := "http://" + ownerRPCAddr + "/internal/push-counter"
	err := c.postJSON(ctx, url, req, &resp)
	return resp, err
}

// BroadcastExceeded fans out an owner's exceeded notification to one
// peer.
func (c *Client) BroadcastExceeded(ctx context.Context, peerRPCAddr string, req BroadcastExceededRequest) error {
	url := "http://" + peerRPCAddr + "/internal/broadcast-exceeded"
	return c.postJSON(ctx, url, req, nil)
}

// Exchange implements gossip.Transport over the gossip-exchange
// endpoint.
func (c *Client) Exchange(ctx context.Context, peerGossipAddr string, self gossip.Digest) ([]gossip.Digest, error) {
	var resp []gossip.Digest
	url := "http://" + peerGossipAddr + "/internal/gossip/exchange"
	err := c.postJSON(ctx, url, self, &resp)
	return resp, err
}
