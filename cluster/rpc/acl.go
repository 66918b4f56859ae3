package rpc

import (
	"net"
	"net/http"
	"sync"

	"github.com/nodequota/ratelimit/apierr"
)

// ACL rejects peer RPC and gossip traffic from non-member source
// addresses. Host matching only (ports vary between the RPC and
// gossip listeners of the same peer).
type ACL struct {
	mu     sync.RWMutex
	hosts  map[string]struct{}
}

// NewACL builds an empty ACL; call Update to populate it from the
// current membership view.
func NewACL() *ACL {
	return &ACL{hosts: make(map[string]struct{})}
}

// Update replaces the allowed host set, called whenever membership
// changes.
func (a *ACL) Update(hosts []string) {
	next := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		next[h] = struct{}{}
	}
	a.mu.Lock()
	a.hosts = next
	a.mu.Unlock()
}

// Allowed reports whether host is a current cluster member.
func (a *ACL) Allowed(host string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.hosts[host]
	return ok
}

// Middleware rejects requests whose remote address isn't in the ACL.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !a.Allowed(host) {
			apierr.WriteError(w, apierr.New(apierr.CodeForbidden, "source address is not a cluster member", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
