// Package counter implements the sliding-window accounting primitive:
// pure in-memory state for a single (namespace, identifier, window)
// tuple, with no knowledge of the cluster, cache, or policy layers
// above it.
package counter

import (
	"math"
	"sync"
	"time"
)

// Decision is the outcome of a single Take/Peek call.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	// Effective is the blended current+previous count observed at the
	// moment of decision, before any increment from this call.
	Effective float64
}

// Window holds two adjacent fixed windows of length Duration and
// interpolates between them to approximate a sliding window. Safe for
// concurrent use; each Window owns its own mutex so that sharding many
// Windows across a map spreads contention the way a keyed-mutex would.
type Window struct {
	mu sync.Mutex

	limit    int64
	duration int64 // nanoseconds

	currentStart int64 // unix nanoseconds, start of the current fixed window
	current      int64
	previous     int64

	// pinnedUntil, when non-zero and in the future, forces every Take
	// to deny regardless of count. Set by a BroadcastExceeded
	// notification pinning this identifier to deny-until-reset.
	pinnedUntil int64
}

// New constructs a Window for the given limit and duration. Panics if
// limit is negative or duration is non-positive; callers validate these at the
// request boundary (apierr.CodeBadRequest) before ever reaching here.
func New(limit int64, duration time.Duration) *Window {
	if limit < 0 {
		panic("counter: limit must be >= 0")
	}
	if duration <= 0 {
		panic("counter: duration must be > 0")
	}
	return &Window{
		limit:    limit,
		duration: int64(duration),
	}
}

// Take evaluates the sliding window at time now for the given cost and,
// if it passes, commits the increment. cost == 0 is a valid "peek" that
// never mutates state and always passes.
func (w *Window) Take(now time.Time, cost int64) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked(now)

	// cost == 0 is a peek: per the universal invariant it never mutates
	// and always passes, even while a BroadcastExceeded pin is active.
	if cost == 0 {
		effective := w.effectiveLocked(now)
		return Decision{
			Allowed:   true,
			Remaining: remainingOf(w.limit, effective),
			ResetAt:   time.Unix(0, w.currentStart+w.duration),
			Effective: effective,
		}
	}

	if d := w.pinDecisionLocked(now); d != nil {
		return *d
	}

	effective := w.effectiveLocked(now)
	resetAt := time.Unix(0, w.currentStart+w.duration)

	if effective+float64(cost) > float64(w.limit) {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
			Effective: effective,
		}
	}

	w.current += cost
	return Decision{
		Allowed:   true,
		Remaining: remainingOf(w.limit, effective+float64(cost)),
		ResetAt:   resetAt,
		Effective: effective,
	}
}

// Peek reports the current decision without mutating state, equivalent
// to Take(now, 0).
func (w *Window) Peek(now time.Time) Decision {
	return w.Take(now, 0)
}

// Pin forces denial until resetAt, honoring last-writer-wins: a pin
// further in the future than the current one always wins, and a pin
// that has already elapsed is ignored, so out-of-order
// BroadcastExceeded delivery is harmless.
func (w *Window) Pin(resetAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := resetAt.UnixNano()
	if t > w.pinnedUntil {
		w.pinnedUntil = t
	}
}

// Snapshot returns the authoritative-looking counters without taking a
// decision, used by PushCounter responses on the owning node.
func (w *Window) Snapshot(now time.Time) (current, previous int64, resetAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked(now)
	return w.current, w.previous, time.Unix(0, w.currentStart+w.duration)
}

// Merge applies a delta reported by a non-owner (via PushCounter) to
// this counter's current window under the same rule as Take: the delta
// is added only if it fits under the limit; otherwise the count is left
// unchanged and a deny is returned. Used only on the owning node.
func (w *Window) Merge(now time.Time, delta int64) Decision {
	return w.Take(now, delta)
}

// IdleSince reports how long it has been since this window last rolled,
// used by the cache/counter-map eviction sweep (idle for >= 2*duration).
func (w *Window) IdleSince(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(time.Unix(0, w.currentStart))
}

func (w *Window) rollLocked(now time.Time) {
	windowStart := now.UnixNano() / w.duration * w.duration
	if windowStart != w.currentStart {
		if windowStart == w.currentStart+w.duration {
			w.previous = w.current
		} else {
			// More than one window elapsed since the last observation;
			// the previous window is fully decayed.
			w.previous = 0
		}
		w.current = 0
		w.currentStart = windowStart
	}
}

func (w *Window) effectiveLocked(now time.Time) float64 {
	elapsed := now.UnixNano() - w.currentStart
	weight := 1 - float64(elapsed)/float64(w.duration)
	if weight < 0 {
		weight = 0
	}
	return float64(w.current) + weight*float64(w.previous)
}

func (w *Window) pinDecisionLocked(now time.Time) *Decision {
	if w.pinnedUntil == 0 || now.UnixNano() >= w.pinnedUntil {
		return nil
	}
	return &Decision{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   time.Unix(0, w.pinnedUntil),
		Effective: float64(w.limit),
	}
}

func remainingOf(limit int64, effective float64) int64 {
	r := limit - int64(math.Ceil(effective))
	if r < 0 {
		return 0
	}
	return r
}
