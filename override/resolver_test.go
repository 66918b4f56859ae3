package override

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/cache"
)

// memStore is a minimal in-process Store used for resolver tests.
type memStore struct {
	mu         sync.Mutex
	namespaces map[string]Namespace // workspaceID\x00name -> Namespace
	overrides  map[string]map[string]Override
	createCnt  int64
}

func newMemStore() *memStore {
	return &memStore{
		namespaces: make(map[string]Namespace),
		overrides:  make(map[string]map[string]Override),
	}
}

func (s *memStore) key(workspaceID, name string) string { return workspaceID + "\x00" + name }

func (s *memStore) GetNamespace(ctx context.Context, workspaceID, name string) (Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[s.key(workspaceID, name)]; ok {
		return ns, nil
	}
	return Namespace{}, ErrNotFound
}

func (s *memStore) CreateNamespace(ctx context.Context, workspaceID, name string) (Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(workspaceID, name)
	if ns, ok := s.namespaces[k]; ok {
		return ns, nil // duplicate-key-safe: return the winner's row
	}
	atomic.AddInt64(&s.createCnt, 1)
	ns := Namespace{ID: k, WorkspaceID: workspaceID, Name: name, CreatedAt: time.Now()}
	s.namespaces[k] = ns
	s.overrides[ns.ID] = make(map[string]Override)
	return ns, nil
}

func (s *memStore) SetOverride(ctx context.Context, namespaceID, pattern string, limit, durationMs int64, asyncMode bool, sharding string) (Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.overrides[namespaceID]
	if !ok {
		m = make(map[string]Override)
		s.overrides[namespaceID] = m
	}
	o := Override{ID: namespaceID + "/" + pattern, NamespaceID: namespaceID, Pattern: pattern, Limit: limit, DurationMs: durationMs, AsyncMode: asyncMode, Sharding: sharding, UpdatedAt: time.Now()}
	m[pattern] = o
	return o, nil
}

func (s *memStore) GetOverride(ctx context.Context, namespaceID, pattern string) (Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.overrides[namespaceID][pattern]; ok {
		return o, nil
	}
	return Override{}, ErrNotFound
}

func (s *memStore) ListOverrides(ctx context.Context, namespaceID, cursor string, pageSize int) (Page, error) {
	all, err := s.ListAllOverrides(ctx, namespaceID)
	if err != nil {
		return Page{}, err
	}
	return Page{Overrides: all}, nil
}

func (s *memStore) DeleteOverride(ctx context.Context, namespaceID, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides[namespaceID], pattern)
	return nil
}

func (s *memStore) ListAllOverrides(ctx context.Context, namespaceID string) ([]Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Override, 0, len(s.overrides[namespaceID]))
	for _, o := range s.overrides[namespaceID] {
		out = append(out, o)
	}
	return out, nil
}

func newTestResolver(store Store) *Resolver {
	return NewResolver(zerolog.Nop(), store, cache.NewMemTier(4, 0, 0))
}

func TestResolveUsesDefaultsWhenNoOverrideMatches(t *testing.T) {
	store := newMemStore()
	if _, err := store.CreateNamespace(context.Background(), "ws1", "email.send"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	r := newTestResolver(store)

	defaults := Defaults{Limit: 50, Duration: time.Minute, AsyncMode: true}
	p, err := r.Resolve(context.Background(), "ws1", "email.send", "someone@example.com", defaults, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit != 50 || p.OverrideID != "" {
		t.Fatalf("want request default to apply, got %+v", p)
	}
}

func TestResolveWildcardPrecedenceExample(t *testing.T) {
	store := newMemStore()
	ns, _ := store.CreateNamespace(context.Background(), "ws1", "email.send")
	if _, err := store.SetOverride(context.Background(), ns.ID, "*@acme.com", 100, 60000, false, ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := store.SetOverride(context.Background(), ns.ID, "ceo@acme.com", 10, 60000, false, ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	r := newTestResolver(store)
	defaults := Defaults{Limit: 5, Duration: time.Minute}

	p1, err := r.Resolve(context.Background(), "ws1", "email.send", "ceo@acme.com", defaults, false)
	if err != nil || p1.Limit != 10 {
		t.Fatalf("want limit=10 for ceo@acme.com, got %+v err=%v", p1, err)
	}

	p2, err := r.Resolve(context.Background(), "ws1", "email.send", "eng@acme.com", defaults, false)
	if err != nil || p2.Limit != 100 {
		t.Fatalf("want limit=100 for eng@acme.com, got %+v err=%v", p2, err)
	}

	p3, err := r.Resolve(context.Background(), "ws1", "email.send", "ceo@other.com", defaults, false)
	if err != nil || p3.Limit != 5 {
		t.Fatalf("want request default for ceo@other.com, got %+v err=%v", p3, err)
	}
}

func TestResolveNamespaceNotFoundWithoutCreatePermission(t *testing.T) {
	store := newMemStore()
	r := newTestResolver(store)
	_, err := r.Resolve(context.Background(), "ws1", "missing", "id", Defaults{}, false)
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestResolveConcurrentAutoCreateProducesOneNamespace(t *testing.T) {
	store := newMemStore()
	r := newTestResolver(store)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), "ws1", "new-ns", "id", Defaults{Limit: 1, Duration: time.Second}, true)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&store.createCnt); got != 1 {
		t.Fatalf("expected exactly one namespace row created, got %d", got)
	}
}

func TestSetOverrideThenGetOverrideThenDelete(t *testing.T) {
	store := newMemStore()
	ns, _ := store.CreateNamespace(context.Background(), "ws1", "ns")
	r := newTestResolver(store)

	if _, err := r.SetOverride(context.Background(), ns.ID, "abc", 7, 1000, false, "edge"); err != nil {
		t.Fatalf("setOverride: %v", err)
	}
	o, err := r.GetOverride(context.Background(), ns.ID, "abc")
	if err != nil || o.Limit != 7 {
		t.Fatalf("getOverride mismatch: %+v err=%v", o, err)
	}
	if err := r.DeleteOverride(context.Background(), ns.ID, "abc"); err != nil {
		t.Fatalf("deleteOverride: %v", err)
	}
	if _, err := r.GetOverride(context.Background(), ns.ID, "abc"); err == nil {
		t.Fatal("expected not-found after delete")
	}
}
