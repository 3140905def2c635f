package indexer

import "testing"

func TestEmptyValueIsNeverIndexed(t *testing.T) {
	idx := New[string]()
	id, inserted := idx.Index("")
	if id != -1 || inserted {
		t.Fatalf("Index(\"\") = (%d, %v), want (-1, false)", id, inserted)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", idx.Len())
	}
}

func TestMonotonicInsertionOrder(t *testing.T) {
	idx := New[string]()
	values := []string{"a", "b", "c"}
	for i, v := range values {
		id, inserted := idx.Index(v)
		if !inserted {
			t.Fatalf("Index(%q) inserted = false, want true", v)
		}
		if int(id) != i {
			t.Fatalf("Index(%q) = %d, want %d", v, id, i)
		}
	}
	if idx.Len() != len(values) {
		t.Fatalf("Len() = %d, want %d", idx.Len(), len(values))
	}
}

func TestReindexReturnsOriginalID(t *testing.T) {
	idx := New[string]()
	idA, _ := idx.Index("a")
	idx.Index("b")

	gotID, inserted := idx.Index("a")
	if inserted {
		t.Fatal("re-indexing an existing value reported inserted=true")
	}
	if gotID != idA {
		t.Fatalf("re-index id = %d, want %d", gotID, idA)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() changed on re-index: %d", idx.Len())
	}
}

func TestHitMissCounters(t *testing.T) {
	idx := New[string]()
	idx.Index("a") // miss
	idx.Index("b") // miss
	idx.Index("a") // hit
	idx.Index("a") // hit

	if idx.Misses() != 2 {
		t.Fatalf("Misses() = %d, want 2", idx.Misses())
	}
	if idx.Hits() != 2 {
		t.Fatalf("Hits() = %d, want 2", idx.Hits())
	}
}

func TestValueOutOfRangeReturnsZero(t *testing.T) {
	idx := New[string]()
	idx.Index("a")
	if v := idx.Value(99); v != "" {
		t.Fatalf("Value(99) = %q, want empty", v)
	}
	if v := idx.Value(-1); v != "" {
		t.Fatalf("Value(-1) = %q, want empty", v)
	}
}

func TestValuesOrderMatchesIDs(t *testing.T) {
	idx := New[string]()
	idx.Index("x")
	idx.Index("y")
	idx.Index("z")

	vals := idx.Values()
	for i, v := range vals {
		id, inserted := idx.Index(v)
		if inserted {
			t.Fatalf("unexpected insert re-indexing %q", v)
		}
		if int(id) != i {
			t.Fatalf("Values()[%d] = %q has id %d", i, v, id)
		}
	}
}
