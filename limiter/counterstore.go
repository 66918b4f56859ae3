package limiter

import (
	"strconv"
	"sync"
	"time"

	"github.com/nodequota/ratelimit/counter"
)

// counterKey identifies one ephemeral accounting tuple: (namespace,
// identifier, limit, duration). async_mode deliberately isn't part of
// the key: it only selects how a decision converges to the owner, and
// the owner's authoritative window must be the same one whether an
// increment arrived from its own local traffic or a peer's PushCounter.
type counterKey struct {
	namespaceID string
	identifier  string
	limit       int64
	duration    time.Duration
}

func (k counterKey) String() string {
	return k.namespaceID + "\x00" + k.identifier + "\x00" +
		strconv.FormatInt(k.limit, 10) + "\x00" + k.duration.String()
}

type counterEntry struct {
	window   *counter.Window
	duration time.Duration
}

// counterStore holds the process's counter.Window instances, lazily
// created on first use. A window is never persisted and is reaped once
// idle for >= 2x its own duration.
type counterStore struct {
	mu    sync.Mutex
	byKey map[string]*counterEntry
	// pins holds deny-until deadlines for (namespace, identifier) pairs
	// with no window yet, so an exceeded broadcast arriving before any
	// local traffic still takes effect on the first call.
	pins map[string]time.Time
}

func newCounterStore() *counterStore {
	return &counterStore{byKey: make(map[string]*counterEntry), pins: make(map[string]time.Time)}
}

func (s *counterStore) getOrCreate(k counterKey) *counter.Window {
	ks := k.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[ks]
	if !ok {
		e = &counterEntry{window: counter.New(k.limit, k.duration), duration: k.duration}
		if until, pinned := s.pins[pinKey(k.namespaceID, k.identifier)]; pinned {
			if time.Now().Before(until) {
				e.window.Pin(until)
			} else {
				delete(s.pins, pinKey(k.namespaceID, k.identifier))
			}
		}
		s.byKey[ks] = e
	}
	return e.window
}

func pinKey(namespaceID, identifier string) string {
	return namespaceID + "\x00" + identifier
}

// Reap evicts windows idle for at least 2x their configured duration.
// Intended to run from a periodic background task, never from the hot
// path.
func (s *counterStore) Reap(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.byKey {
		if e.window.IdleSince(now) >= 2*e.duration {
			delete(s.byKey, k)
		}
	}
	for k, until := range s.pins {
		if now.After(until) {
			delete(s.pins, k)
		}
	}
}

// Len reports the number of live counter windows, used by tests and
// admin introspection.
func (s *counterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// pinMatching pins every window registered for (namespaceID,
// identifier), regardless of the limit/duration it was
// created under, to deny-until resetAt. The pin is also remembered so
// a window created after the broadcast starts out pinned.
func (s *counterStore) pinMatching(namespaceID, identifier string, resetAt time.Time) {
	prefix := pinKey(namespaceID, identifier) + "\x00"
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pins[pinKey(namespaceID, identifier)]; !ok || resetAt.After(cur) {
		s.pins[pinKey(namespaceID, identifier)] = resetAt
	}
	for k, e := range s.byKey {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			e.window.Pin(resetAt)
		}
	}
}
