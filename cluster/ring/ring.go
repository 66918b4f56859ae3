// Package ring implements the consistent-hash ring: a deterministic
// mapping from an opaque key to the member owning it. Each member is
// placed at 64-bit xxhash virtual positions; lookup binary-searches a
// sorted position array, so ownership resolves in O(log n) and every
// node computes an identical ring for the same membership set.
package ring

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultVirtualNodes is the minimum virtual-node count per member.
const DefaultVirtualNodes = 64

// Ring is an immutable snapshot of the hash ring for one membership
// set. Callers obtain the live ring via Table.Snapshot and hold onto it
// for the duration of a single call, per the "never retarget mid-call"
// invariant.
type Ring struct {
	positions []uint64
	owners    []string // owners[i] owns positions[i]
}

// Build constructs a Ring from the given member IDs, placing each at
// virtualNodes positions (clamped up to DefaultVirtualNodes if lower).
// The result is deterministic: the same member set always yields the
// same Ring.
func Build(memberIDs []string, virtualNodes int) *Ring {
	if virtualNodes < DefaultVirtualNodes {
		virtualNodes = DefaultVirtualNodes
	}
	ids := append([]string(nil), memberIDs...)
	sort.Strings(ids) // stable input order regardless of caller iteration

	type entry struct {
		pos   uint64
		owner string
	}
	entries := make([]entry, 0, len(ids)*virtualNodes)
	for _, id := range ids {
		for i := 0; i < virtualNodes; i++ {
			pos := xxhash.Sum64String(fmt.Sprintf("%s:%d", id, i))
			entries = append(entries, entry{pos: pos, owner: id})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	r := &Ring{
		positions: make([]uint64, len(entries)),
		owners:    make([]string, len(entries)),
	}
	for i, e := range entries {
		r.positions[i] = e.pos
		r.owners[i] = e.owner
	}
	return r
}

// Owner returns the member owning key: the first position clockwise
// from hash(key), found by binary search (O(log n)) over the sorted
// position array. Returns "", false for an empty ring.
func (r *Ring) Owner(key string) (string, bool) {
	if len(r.positions) == 0 {
		return "", false
	}
	h := xxhash.Sum64String(key)
	idx := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= h })
	if idx == len(r.positions) {
		idx = 0 // wrap around the ring
	}
	return r.owners[idx], true
}

// Size returns the number of virtual positions in the ring.
func (r *Ring) Size() int { return len(r.positions) }

// Table holds the currently published Ring behind an atomic pointer so
// readers never block on a membership-change writer and never observe
// a torn update.
type Table struct {
	current atomic.Pointer[Ring]
}

// NewTable builds a Table with an initial empty ring.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(&Ring{})
	return t
}

// Publish atomically swaps in a newly built ring.
func (t *Table) Publish(r *Ring) {
	t.current.Store(r)
}

// Snapshot returns the ring in effect right now. Callers should take a
// snapshot once per request and use it for the lifetime of that
// request rather than calling Snapshot repeatedly mid-call.
func (t *Table) Snapshot() *Ring {
	return t.current.Load()
}
