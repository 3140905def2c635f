package tracker

import "testing"

const pageSize = 4096

// assertDisjoint checks invariant T1: ascending order, pairwise disjoint.
func assertDisjoint(t *testing.T, tr *Tracker) {
	t.Helper()
	prevEnd := uint64(0)
	first := true
	tr.ForEach(func(iv Interval) {
		if iv.Start >= iv.End {
			t.Fatalf("malformed interval %+v", iv)
		}
		if !first && iv.Start < prevEnd {
			t.Fatalf("intervals not disjoint/ordered: prevEnd=%d iv=%+v", prevEnd, iv)
		}
		prevEnd = iv.End
		first = false
	})
}

func TestScenario1(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 4*pageSize, 3, 0x22, 0)
	n := tr.Munmap(0x3000, pageSize)
	if n != 4096 {
		t.Fatalf("munmap returned %d, want 4096", n)
	}
	want := []Interval{
		{0x1000, 0x3000, 3, 0x22, 0},
		{0x4000, 0x5000, 3, 0x22, 0},
	}
	got := tr.Data()
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	assertDisjoint(t, tr)
}

func TestScenario2(t *testing.T) {
	tr := New()
	tr.Mmap(0, 100*pageSize, 1, 1, 0)
	tr.Mmap(0, 100*pageSize, 1, 1, 0) // T3: idempotent
	tr.Munmap(8192, 10*pageSize)

	want := []Interval{
		{0, 8192, 1, 1, 0},
		{8192 + 10*pageSize, 100 * pageSize, 1, 1, 0},
	}
	got := tr.Data()
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestIdempotentMmap(t *testing.T) {
	a := New()
	a.Mmap(0x10000, pageSize, 3, 0x22, 5)

	b := New()
	b.Mmap(0x10000, pageSize, 3, 0x22, 5)
	b.Mmap(0x10000, pageSize, 3, 0x22, 5)

	if len(a.Data()) != len(b.Data()) || a.Data()[0] != b.Data()[0] {
		t.Fatalf("repeated mmap changed state: %+v vs %+v", a.Data(), b.Data())
	}
}

func TestMmapLeftOverlapSplits(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x3000, 3, 0x22, 1) // [0x1000,0x4000)
	tr.Mmap(0x2000, 0x1000, 5, 0x22, 2) // [0x2000,0x3000) new attrs in the middle

	want := []Interval{
		{0x1000, 0x2000, 3, 0x22, 1},
		{0x2000, 0x3000, 5, 0x22, 2},
		{0x3000, 0x4000, 3, 0x22, 1},
	}
	got := tr.Data()
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	assertDisjoint(t, tr)
}

func TestMmapRightOverlapSplits(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x2000, 3, 0x22, 1) // [0x1000,0x3000)
	tr.Mmap(0x2000, 0x2000, 5, 0x22, 2) // [0x2000,0x4000), right-overlap on the first

	want := []Interval{
		{0x1000, 0x2000, 3, 0x22, 1},
		{0x2000, 0x4000, 5, 0x22, 2},
	}
	got := tr.Data()
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMmapInnerContainmentReplaces(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x4000, 3, 0x22, 1) // [0x1000,0x5000)
	tr.Mmap(0x1000, 0x4000, 7, 0x0, 9)  // exactly covers it

	got := tr.Data()
	if len(got) != 1 || got[0] != (Interval{0x1000, 0x5000, 7, 0x0, 9}) {
		t.Fatalf("got %+v", got)
	}
}

func TestMunmapNoOverlapIsNoop(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x1000, 3, 0x22, 0)
	n := tr.Munmap(0x5000, 0x1000)
	if n != 0 {
		t.Fatalf("munmap of disjoint range returned %d, want 0", n)
	}
	if len(tr.Data()) != 1 {
		t.Fatalf("unexpected mutation: %+v", tr.Data())
	}
}

func TestMunmapCoverageMatchesReturn(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x5000, 3, 0x22, 0) // [0x1000, 0x6000)
	tr.Mmap(0x9000, 0x1000, 3, 0x22, 0) // disjoint second interval

	n := tr.Munmap(0x500, 0x9000) // spans across both + gap
	// Covered portion of interval 1: [0x1000,0x6000) entirely = 0x5000.
	// Covered portion of interval 2: request end = 0x500+0x9000 = 0x9500,
	// interval2 is [0x9000,0xa000), overlap = [0x9000,0x9500) = 0x500.
	want := uint64(0x5000 + 0x500)
	if n != want {
		t.Fatalf("munmap returned %d, want %d", n, want)
	}
	assertDisjoint(t, tr)
}

func TestMprotectPreservesFlagsAndStack(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x3000, 3, 0x22, 5) // [0x1000,0x4000)

	prevFlags := tr.Mprotect(0x2000, 0x1000, 7) // touch the middle page
	if prevFlags != 0x22 {
		t.Fatalf("mprotect returned flags %#x, want 0x22", prevFlags)
	}

	want := []Interval{
		{0x1000, 0x2000, 3, 0x22, 5},
		{0x2000, 0x3000, 7, 0x22, 5},
		{0x3000, 0x4000, 3, 0x22, 5},
	}
	got := tr.Data()
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMadviseDoesNotMutate(t *testing.T) {
	tr := New()
	tr.Mmap(0x1000, 0x3000, 3, 0x22, 5)
	before := append([]Interval(nil), tr.Data()...)

	n := tr.Madvise(0x1500, 0x1000)
	if n != 0x1000 {
		t.Fatalf("madvise returned %d, want 0x1000", n)
	}
	after := tr.Data()
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("madvise mutated tracker: before=%+v after=%+v", before, after)
	}
}
