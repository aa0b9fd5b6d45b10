package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/logger"
)

func TestSourceIndexCacheIsStable(t *testing.T) {
	caches := MakeCacheSet()
	a := logger.Path{Text: "/a.js", Namespace: "file"}
	b := logger.Path{Text: "/b.js", Namespace: "file"}

	assert.Equal(t, uint32(0), caches.SourceIndexCache.Get(a))
	assert.Equal(t, uint32(1), caches.SourceIndexCache.Get(b))
	assert.Equal(t, uint32(0), caches.SourceIndexCache.Get(a))

	index, ok := caches.SourceIndexCache.Lookup(b)
	require.True(t, ok)
	assert.Equal(t, uint32(1), index)
	_, ok = caches.SourceIndexCache.Lookup(logger.Path{Text: "/c.js"})
	assert.False(t, ok)
	assert.Equal(t, uint32(18), caches.SourceIndexCache.LenHint())
}

func TestParseCache(t *testing.T) {
	caches := MakeCacheSet()
	calls := 0
	parse := func(ctx context.Context, source logger.Source) (graph.InputFileRepr, error) {
		calls++
		if source.Contents == "bad" {
			return nil, errors.New("syntax error")
		}
		return &graph.ESMRepr{}, nil
	}
	source := logger.Source{KeyPath: logger.Path{Text: "/a.js"}, Contents: "x"}
	ctx := context.Background()

	first, err := caches.ParseCache.Parse(ctx, source, parse)
	require.NoError(t, err)
	second, err := caches.ParseCache.Parse(ctx, source, parse)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	source.Contents = "bad"
	_, err = caches.ParseCache.Parse(ctx, source, parse)
	require.EqualError(t, err, "syntax error")
	_, err = caches.ParseCache.Parse(ctx, source, parse)
	require.EqualError(t, err, "syntax error")
	assert.Equal(t, 2, calls, "errors are cached with their contents")

	caches.ParseCache.Invalidate(source.KeyPath)
	_, _ = caches.ParseCache.Parse(ctx, source, parse)
	assert.Equal(t, 3, calls)

	hits, misses := caches.ParseCache.Stats()
	assert.Equal(t, uint32(2), hits)
	assert.Equal(t, uint32(3), misses)
}

func TestParseCacheSkipsCancelledParses(t *testing.T) {
	caches := MakeCacheSet()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	parse := func(ctx context.Context, source logger.Source) (graph.InputFileRepr, error) {
		calls++
		return nil, ctx.Err()
	}
	source := logger.Source{KeyPath: logger.Path{Text: "/a.js"}}
	_, err := caches.ParseCache.Parse(ctx, source, parse)
	require.ErrorIs(t, err, context.Canceled)
	_, _ = caches.ParseCache.Parse(context.Background(), source, parse)
	assert.Equal(t, 2, calls)
}
