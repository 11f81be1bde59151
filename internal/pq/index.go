package pq

import (
	"sort"
	"time"

	"github.com/Unidata/LDM-sub012/internal/product"
)

// indexes is the process-local, in-memory signature index and
// time-ordered index described in spec.md §3/§4.3. The queue file's slot
// table is the single source of truth; indexes is a read-through cache
// rebuilt from it (rebuild) whenever the in-memory generation counter
// falls behind the on-disk header.Generation, which happens the first
// time this process observes a mutation made by another process. This
// substitutes for the red-black tree the original design used — out of
// scope per spec.md §1 ("a standard ordered map") — with a sorted slice
// plus a hash index, which gives O(log n) lookups without a persisted
// tree structure.
type indexes struct {
	generation uint64
	bySig      map[product.Signature]uint64 // signature -> slot index
	byTime     []timeSlot                   // sorted by (arrival, slot index)
}

type timeSlot struct {
	arrival time.Time
	slot    uint64
}

func newIndexes() *indexes {
	return &indexes{bySig: make(map[product.Signature]uint64)}
}

// rebuild re-derives both indexes from a full scan of the slot table.
func (ix *indexes) rebuild(slots []slotEntry, generation uint64) {
	ix.bySig = make(map[product.Signature]uint64, len(slots))
	ix.byTime = ix.byTime[:0]
	for i, s := range slots {
		if !s.occupied() {
			continue
		}
		ix.bySig[s.Signature] = uint64(i)
		ix.byTime = append(ix.byTime, timeSlot{arrival: s.arrival(), slot: uint64(i)})
	}
	sort.Slice(ix.byTime, func(a, b int) bool {
		if !ix.byTime[a].arrival.Equal(ix.byTime[b].arrival) {
			return ix.byTime[a].arrival.Before(ix.byTime[b].arrival)
		}
		return ix.byTime[a].slot < ix.byTime[b].slot
	})
	ix.generation = generation
}

// has reports whether sig is present and returns its slot index.
func (ix *indexes) has(sig product.Signature) (uint64, bool) {
	slot, ok := ix.bySig[sig]
	return slot, ok
}

// insert records a newly-committed slot in both indexes, maintaining
// byTime's sort order.
func (ix *indexes) insert(sig product.Signature, arrival time.Time, slot uint64) {
	ix.bySig[sig] = slot
	ts := timeSlot{arrival: arrival, slot: slot}
	i := sort.Search(len(ix.byTime), func(i int) bool {
		if !ix.byTime[i].arrival.Equal(arrival) {
			return ix.byTime[i].arrival.After(arrival)
		}
		return ix.byTime[i].slot >= slot
	})
	ix.byTime = append(ix.byTime, timeSlot{})
	copy(ix.byTime[i+1:], ix.byTime[i:])
	ix.byTime[i] = ts
}

// remove drops a slot's entries from both indexes (used on eviction).
func (ix *indexes) remove(sig product.Signature, arrival time.Time, slot uint64) {
	delete(ix.bySig, sig)
	for i, ts := range ix.byTime {
		if ts.slot == slot && ts.arrival.Equal(arrival) {
			ix.byTime = append(ix.byTime[:i], ix.byTime[i+1:]...)
			return
		}
	}
}

// smallestAfter returns the slot index of the smallest entry strictly
// after c, per Cursor.before.
func (ix *indexes) smallestAfter(c Cursor) (uint64, bool) {
	i := sort.Search(len(ix.byTime), func(i int) bool {
		return c.before(ix.byTime[i].arrival, ix.byTime[i].slot)
	})
	if i >= len(ix.byTime) {
		return 0, false
	}
	return ix.byTime[i].slot, true
}

// oldest returns the oldest occupied slot index, used by the allocator's
// eviction pass.
func (ix *indexes) oldest() (uint64, bool) {
	if len(ix.byTime) == 0 {
		return 0, false
	}
	return ix.byTime[0].slot, true
}
