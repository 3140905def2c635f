// Package tracker implements the ordered, non-overlapping address-range map
// used to mirror mmap/munmap/mprotect/madvise activity on a traced process.
//
// It is a direct port of the split/merge algorithm used throughout the
// mtrack toolchain's C++ MmapTracker: a flat, ascending-order slice of
// intervals searched with an upper-bound binary search rather than a tree,
// favoring cache locality over asymptotic niceties (the slice is expected
// to hold at most a few thousand entries for any real process).
package tracker

import "sort"

// Interval is a half-open address range [Start, End) carrying the
// attributes of a single mapping. Prot and Flags follow the mmap(2)
// PROT_*/MAP_* bit encodings; Stack is a stack-indexer id, or -1.
type Interval struct {
	Start, End uint64
	Prot       int32
	Flags      int32
	Stack      int32
}

func (iv Interval) len() uint64 { return iv.End - iv.Start }

// Tracker owns an ordered, disjoint set of Intervals.
type Tracker struct {
	ivs []Interval
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Len reports the number of intervals currently tracked.
func (t *Tracker) Len() int { return len(t.ivs) }

// ForEach calls fn for every tracked interval in ascending start order.
func (t *Tracker) ForEach(fn func(Interval)) {
	for _, iv := range t.ivs {
		fn(iv)
	}
}

// Data returns the tracker's backing slice. Callers must not mutate it.
func (t *Tracker) Data() []Interval { return t.ivs }

// find returns (it, insertAt): it is the index of the first interval that
// could intersect [addr, ...), walking forward over intervals whose End
// has already fallen behind addr (the upper-bound step alone can undershoot
// by exactly one entry, per the algorithm's step 1 in spec.md §4.A).
// insertAt is the index at which a brand new interval starting at addr
// would be inserted to preserve ascending order.
func (t *Tracker) find(addr uint64) (it, insertAt int) {
	insertAt = sort.Search(len(t.ivs), func(i int) bool {
		return t.ivs[i].Start > addr
	})
	it = insertAt
	if it > 0 {
		it--
	}
	for it < len(t.ivs) && t.ivs[it].End <= addr {
		it++
	}
	return it, insertAt
}

func (t *Tracker) intersects(it int, start, end uint64) bool {
	return it < len(t.ivs) && start < t.ivs[it].End && t.ivs[it].Start < end
}

// insertAt inserts iv at index i, shifting later entries right.
func (t *Tracker) insertAt(i int, iv Interval) {
	t.ivs = append(t.ivs, Interval{})
	copy(t.ivs[i+1:], t.ivs[i:])
	t.ivs[i] = iv
}

// removeAt deletes the interval at index i.
func (t *Tracker) removeAt(i int) {
	t.ivs = append(t.ivs[:i], t.ivs[i+1:]...)
}

// Mmap records a new mapping [addr, addr+size) with the given attrs,
// splitting/replacing any overlapping intervals in place. Calling Mmap
// twice with identical attrs is idempotent (T3).
func (t *Tracker) Mmap(addr, size uint64, prot, flags, stack int32) {
	end := addr + size
	it, insertAt := t.find(addr)
	if !t.intersects(it, addr, end) {
		t.insertAt(insertAt, Interval{addr, end, prot, flags, stack})
		return
	}
	covered := addr // [addr, covered) already carries the new attrs
	for t.intersects(it, addr, end) {
		cur := t.ivs[it]
		if cur.Start > covered {
			// Gap between tracked intervals: it gets the new attrs too.
			t.insertAt(it, Interval{covered, cur.Start, prot, flags, stack})
			it++
		}
		covered = minU64(cur.End, end)
		if cur.Prot == prot && cur.Flags == flags && cur.Stack == stack {
			it++
			continue
		}
		switch {
		case cur.Start < addr:
			// Left-overlap: truncate cur to [cur.Start, addr), insert the
			// new-attrs middle piece, and a trailing old-attrs piece if cur
			// extends past end.
			t.ivs[it].End = addr
			mid := Interval{addr, minU64(cur.End, end), prot, flags, stack}
			t.insertAt(it+1, mid)
			it++
			if end < cur.End {
				t.insertAt(it+1, Interval{end, cur.End, cur.Prot, cur.Flags, cur.Stack})
			}
			it++
		case addr <= cur.Start && end >= cur.End:
			// Inner-containment: replace attrs in place.
			t.ivs[it].Prot = prot
			t.ivs[it].Flags = flags
			t.ivs[it].Stack = stack
			it++
		case end < cur.End:
			// Right-overlap: split into [cur.Start,end) new-attrs and
			// [end,cur.End) old-attrs, then stop (no further overlap
			// possible past cur.End > end).
			t.ivs[it].End = end
			t.ivs[it].Prot = prot
			t.ivs[it].Flags = flags
			t.ivs[it].Stack = stack
			t.insertAt(it+1, Interval{end, cur.End, cur.Prot, cur.Flags, cur.Stack})
			return
		default:
			it++
		}
	}
	if covered < end {
		// Tail past the last tracked interval: extend the piece just
		// given the new attrs.
		t.ivs[it-1].End = end
	}
}

// Munmap removes [addr, addr+size) from the tracked set and returns the
// number of bytes that were actually covered by tracked intervals (T2).
func (t *Tracker) Munmap(addr, size uint64) uint64 {
	end := addr + size
	var num uint64
	it, _ := t.find(addr)
	for t.intersects(it, addr, end) {
		cur := t.ivs[it]
		switch {
		case cur.Start < addr:
			num += minU64(cur.End, end) - addr
			t.ivs[it].End = addr
			it++
			if end < cur.End {
				t.insertAt(it, Interval{end, cur.End, cur.Prot, cur.Flags, cur.Stack})
			}
		case addr <= cur.Start && end >= cur.End:
			num += cur.End - cur.Start
			t.removeAt(it)
		case end < cur.End:
			num += end - cur.Start
			t.ivs[it].Start = end
			return num
		default:
			it++
		}
	}
	return num
}

// Mprotect changes the prot of [addr, addr+size) while preserving flags
// and stack (T4), and returns the flags of the first interval it touched
// (0 if it touched nothing).
func (t *Tracker) Mprotect(addr, size uint64, prot int32) int32 {
	end := addr + size
	var flags int32
	first := true
	it, _ := t.find(addr)
	for t.intersects(it, addr, end) {
		cur := t.ivs[it]
		if first {
			flags = cur.Flags
			first = false
		}
		if cur.Prot == prot {
			it++
			continue
		}
		switch {
		case cur.Start < addr:
			t.ivs[it].End = addr
			mid := Interval{addr, minU64(cur.End, end), prot, cur.Flags, cur.Stack}
			t.insertAt(it+1, mid)
			it++
			if end < cur.End {
				t.insertAt(it+1, Interval{end, cur.End, cur.Prot, cur.Flags, cur.Stack})
			}
			it++
		case addr <= cur.Start && end >= cur.End:
			t.ivs[it].Prot = prot
			it++
		case end < cur.End:
			t.ivs[it].End = end
			t.ivs[it].Prot = prot
			t.insertAt(it+1, Interval{end, cur.End, cur.Prot, cur.Flags, cur.Stack})
			return flags
		default:
			it++
		}
	}
	return flags
}

// Madvise does not mutate the tracked set; it only tallies the bytes of
// [addr, addr+size) that fall within tracked intervals.
func (t *Tracker) Madvise(addr, size uint64) uint64 {
	end := addr + size
	var num uint64
	it, _ := t.find(addr)
	for t.intersects(it, addr, end) {
		cur := t.ivs[it]
		switch {
		case cur.Start < addr:
			num += minU64(cur.End, end) - addr
		case addr <= cur.Start && end >= cur.End:
			num += cur.End - cur.Start
		case end < cur.End:
			num += end - cur.Start
			return num
		}
		it++
	}
	return num
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
