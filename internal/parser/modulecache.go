package parser

import (
	"sort"

	"github.com/jhanssen/mtrack-sub000/internal/resolver"
)

// moduleCacheEntry pairs one module header's absolute address range with
// the module owning it, flattened out of every known module's Headers
// slice so IP-to-module lookup is a single binary search instead of a
// scan over modules and their headers.
type moduleCacheEntry struct {
	start, end uint64
	module     *resolver.Module
}

// moduleCache mirrors Parser::mModuleCache / Parser::updateModuleCache:
// a flat, sorted-by-start index rebuilt lazily whenever a new
// LibraryHeader record marks it dirty.
type moduleCache struct {
	entries []moduleCacheEntry
	dirty   bool
}

func newModuleCache() *moduleCache {
	return &moduleCache{dirty: true}
}

func (c *moduleCache) markDirty() { c.dirty = true }

func (c *moduleCache) rebuild(modules []*resolver.Module) {
	c.entries = c.entries[:0]
	for _, m := range modules {
		for _, h := range m.Headers {
			c.entries = append(c.entries, moduleCacheEntry{h.Start, h.End, m})
		}
	}
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].start < c.entries[j].start })
	c.dirty = false
}

// find returns the module whose header range contains ip, rebuilding
// first if the cache is stale.
func (c *moduleCache) find(modules []*resolver.Module, ip uint64) *resolver.Module {
	if c.dirty {
		c.rebuild(modules)
	}
	i := sort.Search(len(c.entries), func(i int) bool { return ip < c.entries[i].end })
	if i < len(c.entries) && c.entries[i].start <= ip && ip < c.entries[i].end {
		return c.entries[i].module
	}
	return nil
}
