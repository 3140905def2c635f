// Package indexer implements the deduplicating value->dense-id map shared
// by the string, stack, and module tables. It is a generic port of
// common/Indexer.h: the empty/zero value of T always maps to id -1 and is
// never stored, every other distinct value gets the next sequential id in
// insertion order, and hit/miss counters track repeat vs. first-seen
// lookups.
//
// Indexer is not safe for concurrent use; callers serialize access exactly
// as the original does (single-threaded parser, lock-held hook path).
package indexer

// Indexer deduplicates values of type T into dense, monotonically
// increasing int32 ids. The zero value of T is treated as "empty" and is
// never indexed.
type Indexer[T comparable] struct {
	ids    map[T]int32
	values []T
	hits   int
	misses int
}

// New returns an empty Indexer.
func New[T comparable]() *Indexer[T] {
	return &Indexer[T]{ids: make(map[T]int32)}
}

// Index returns the id for v, inserting it if this is the first time it's
// seen. The zero value of T always returns (-1, false).
func (idx *Indexer[T]) Index(v T) (id int32, inserted bool) {
	var zero T
	if v == zero {
		return -1, false
	}
	if id, ok := idx.ids[v]; ok {
		idx.hits++
		return id, false
	}
	idx.misses++
	id = int32(len(idx.values))
	idx.ids[v] = id
	idx.values = append(idx.values, v)
	return id, true
}

// Value returns the value stored under id, or the zero value of T if id
// is out of range.
func (idx *Indexer[T]) Value(id int32) T {
	if id < 0 || int(id) >= len(idx.values) {
		var zero T
		return zero
	}
	return idx.values[id]
}

// Len returns the number of distinct values indexed so far.
func (idx *Indexer[T]) Len() int { return len(idx.values) }

// Values returns the indexed values in insertion (id) order. The caller
// must not mutate the returned slice.
func (idx *Indexer[T]) Values() []T { return idx.values }

// Hits returns the number of Index calls that found an existing id.
func (idx *Indexer[T]) Hits() int { return idx.hits }

// Misses returns the number of Index calls that inserted a new id.
func (idx *Indexer[T]) Misses() int { return idx.misses }
