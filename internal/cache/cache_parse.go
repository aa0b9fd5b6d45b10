package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

// For a given path, parsing can be avoided if the contents of the module are
// the same as last time. Contents are compared by hash first so that a miss
// is cheap, then byte for byte.
type ParseCache struct {
	mutex   sync.Mutex
	entries map[logger.Path]*parseCacheEntry
	hits    uint32
	misses  uint32
}

type parseCacheEntry struct {
	contents string
	repr     graph.InputFileRepr
	err      error
	hash     uint64
}

type ParseFunc func(ctx context.Context, source logger.Source) (graph.InputFileRepr, error)

func (c *ParseCache) Parse(ctx context.Context, source logger.Source, parse ParseFunc) (graph.InputFileRepr, error) {
	hash := helpers.ContentHash(source.Contents)

	// Check the cache
	entry := func() *parseCacheEntry {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		return c.entries[source.KeyPath]
	}()

	// Cache hit
	if entry != nil && entry.hash == hash && entry.contents == source.Contents {
		c.mutex.Lock()
		c.hits++
		c.mutex.Unlock()
		logger.Tracer().Debug("parse cache hit", zap.Stringer("path", source.KeyPath))
		return entry.repr, entry.err
	}

	// Cache miss
	repr, err := parse(ctx, source)

	// Cancellation says nothing about the module, so don't remember it
	if ctx.Err() != nil {
		return repr, err
	}

	entry = &parseCacheEntry{
		contents: source.Contents,
		repr:     repr,
		err:      err,
		hash:     hash,
	}

	// Save for next time
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[source.KeyPath] = entry
	c.misses++
	return repr, err
}

func (c *ParseCache) Invalidate(path logger.Path) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, path)
}

func (c *ParseCache) Stats() (hits uint32, misses uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.hits, c.misses
}
