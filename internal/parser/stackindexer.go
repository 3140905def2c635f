package parser

import (
	"encoding/binary"
	"strings"

	"github.com/jhanssen/mtrack-sub000/internal/indexer"
)

// StackIndexer deduplicates call stacks ([]uint64, not Go-comparable)
// by canonicalizing each one to a binary string key over
// indexer.Indexer[string], keeping the original IP slice in a parallel
// table. This generalizes common/Indexer.h the same way the rest of
// the indexer package does, but stacks need this wrapper since Go maps
// (and generics' comparable constraint) can't key on a slice directly.
type StackIndexer struct {
	keys   *indexer.Indexer[string]
	stacks [][]uint64
}

// NewStackIndexer returns an empty stack indexer.
func NewStackIndexer() *StackIndexer {
	return &StackIndexer{keys: indexer.New[string]()}
}

// Index deduplicates stack, returning its dense id.
func (si *StackIndexer) Index(stack []uint64) int32 {
	id, inserted := si.keys.Index(stackKey(stack))
	if inserted {
		si.stacks = append(si.stacks, append([]uint64(nil), stack...))
	}
	return id
}

// Stack returns the original IP slice for id.
func (si *StackIndexer) Stack(id int32) []uint64 {
	if id < 0 || int(id) >= len(si.stacks) {
		return nil
	}
	return si.stacks[id]
}

// Len returns the number of distinct stacks indexed so far.
func (si *StackIndexer) Len() int { return si.keys.Len() }

func stackKey(stack []uint64) string {
	var b strings.Builder
	b.Grow(len(stack) * 8)
	var buf [8]byte
	for _, ip := range stack {
		binary.LittleEndian.PutUint64(buf[:], ip)
		b.Write(buf[:])
	}
	return b.String()
}
