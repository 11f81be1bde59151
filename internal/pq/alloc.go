package pq

import "sort"

// extent is a half-open byte range [Offset, Offset+Length) within the data
// region, expressed as an offset relative to the data region's start (not
// an absolute file offset).
type extent struct {
	Offset uint64
	Length uint64
}

// allocator is the free-list region allocator of spec.md §4.3.4: a
// first-fit free list of (offset,length) intervals kept ordered by offset,
// coalescing adjacent extents on free. Like the indexes, it is a
// process-local cache rebuilt from the slot table (rebuild) rather than a
// persisted structure, and capacity is fixed at queue creation time.
type allocator struct {
	capacity uint64
	free     []extent // sorted by Offset, non-overlapping, coalesced
}

func newAllocator(capacity uint64) *allocator {
	return &allocator{capacity: capacity, free: []extent{{Offset: 0, Length: capacity}}}
}

// rebuild re-derives the free list as the complement of every occupied
// slot's data-region span.
func (a *allocator) rebuild(slots []slotEntry) {
	type span struct{ start, end uint64 }
	var occ []span
	for _, s := range slots {
		if !s.occupied() {
			continue
		}
		occ = append(occ, span{s.Offset, s.Offset + s.Length})
	}
	sort.Slice(occ, func(i, j int) bool { return occ[i].start < occ[j].start })

	a.free = a.free[:0]
	var cursor uint64
	for _, sp := range occ {
		if sp.start > cursor {
			a.free = append(a.free, extent{Offset: cursor, Length: sp.start - cursor})
		}
		if sp.end > cursor {
			cursor = sp.end
		}
	}
	if cursor < a.capacity {
		a.free = append(a.free, extent{Offset: cursor, Length: a.capacity - cursor})
	}
}

// allocate finds the first free extent of at least need bytes, splitting
// off any remainder back into the free list. It returns ok=false if no
// single extent is large enough — callers must evict and retry.
func (a *allocator) allocate(need uint64) (offset uint64, ok bool) {
	for i, e := range a.free {
		if e.Length >= need {
			offset = e.Offset
			if e.Length == need {
				a.free = append(a.free[:i], a.free[i+1:]...)
			} else {
				a.free[i] = extent{Offset: e.Offset + need, Length: e.Length - need}
			}
			return offset, true
		}
	}
	return 0, false
}

// free returns a reclaimed extent to the free list, coalescing with any
// adjacent neighbors so first-fit allocation sees the largest possible
// contiguous runs.
func (a *allocator) freeExtent(e extent) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset >= e.Offset })
	a.free = append(a.free, extent{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = e
	a.coalesce()
}

func (a *allocator) coalesce() {
	if len(a.free) < 2 {
		return
	}
	out := a.free[:1]
	for _, e := range a.free[1:] {
		last := &out[len(out)-1]
		if last.Offset+last.Length == e.Offset {
			last.Length += e.Length
		} else {
			out = append(out, e)
		}
	}
	a.free = out
}

// largestFreeRun returns the size of the biggest contiguous free extent.
func (a *allocator) largestFreeRun() uint64 {
	var max uint64
	for _, e := range a.free {
		if e.Length > max {
			max = e.Length
		}
	}
	return max
}
