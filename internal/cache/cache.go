package cache

import (
	"sync"

	"github.com/modlink/modlink/internal/logger"
)

// This is a cache of the parsed contents of a set of modules. The idea is to
// be able to reuse the results of parsing between builds of the same session
// and make incremental updates faster by avoiding redundant parsing work. This
// only works if:
//
//   - The parsed information in the cache must be considered immutable. There
//     is no way to enforce this in Go, but please be disciplined about this.
//     Parsed modules are shared in between builds. Any information that must
//     be mutated during a build must be done on a shallow clone of the data
//     (the linker graph clones everything it mutates).
//
//   - The information in the cache must not depend at all on the contents of
//     any module other than the module being cached. Invalidating an entry in
//     the cache does not also invalidate any entries that depend on that
//     module, so caching information that depends on other modules can result
//     in incorrect results due to reusing stale data.
//
// A cache set is owned by one session. Nothing here is global.
type CacheSet struct {
	SourceIndexCache SourceIndexCache
	ParseCache       ParseCache
}

func MakeCacheSet() *CacheSet {
	return &CacheSet{
		SourceIndexCache: SourceIndexCache{
			entries: make(map[logger.Path]uint32),
		},
		ParseCache: ParseCache{
			entries: make(map[logger.Path]*parseCacheEntry),
		},
	}
}

// Hands out source indices. A module keeps its source index for as long as
// the session lives, so module ids stay stable across incremental rebuilds.
type SourceIndexCache struct {
	entries         map[logger.Path]uint32
	mutex           sync.Mutex
	nextSourceIndex uint32
}

func (c *SourceIndexCache) LenHint() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Add some extra room at the end for a new file or two without reallocating
	const someExtraRoom = 16
	return c.nextSourceIndex + someExtraRoom
}

func (c *SourceIndexCache) Get(path logger.Path) uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sourceIndex, ok := c.entries[path]; ok {
		return sourceIndex
	}
	sourceIndex := c.nextSourceIndex
	c.nextSourceIndex++
	c.entries[path] = sourceIndex
	return sourceIndex
}

func (c *SourceIndexCache) Lookup(path logger.Path) (uint32, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	sourceIndex, ok := c.entries[path]
	return sourceIndex, ok
}
