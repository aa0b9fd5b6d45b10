package bundler_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"

	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/logger"
	"github.com/modlink/modlink/internal/manifest"
	"github.com/modlink/modlink/internal/test"
)

type countingLoader struct {
	inner bundler.Loader
	mutex sync.Mutex
	loads map[string]int
}

func (l *countingLoader) Load(ctx context.Context, path logger.Path) (string, error) {
	l.mutex.Lock()
	l.loads[path.Text]++
	l.mutex.Unlock()
	return l.inner.Load(ctx, path)
}

func newCountingCollaborators(fs afero.Fs) (bundler.Collaborators, *countingLoader) {
	collaborators := manifest.NewCollaborators(fs, "/")
	loader := &countingLoader{inner: collaborators.Loader, loads: make(map[string]int)}
	collaborators.Loader = loader
	return collaborators, loader
}

func scanOptions() config.Options {
	options := config.DefaultOptions()
	options.Concurrency = 4
	return options
}

func prettyPaths(bundle *bundler.Bundle) []string {
	var paths []string
	for _, sourceIndex := range bundle.ReachableFiles() {
		file, ok := bundle.File(sourceIndex)
		if ok {
			paths = append(paths, file.Source.PrettyPath)
		}
	}
	return paths
}

var diamond = map[string]string{
	"/entry.js": `
import "./a.js"
import "./b.js"
`,
	"/a.js": `
import "./shared.js"
log "a"
`,
	"/b.js": `
import "./shared.js"
log "b"
`,
	"/shared.js": `log "shared"`,
}

func TestScanClaimsEachModuleOnce(t *testing.T) {
	collaborators, loader := newCountingCollaborators(test.MemFS(t, diamond))

	log := logger.NewDeferLog(logger.LevelInfo, nil)
	bundle, err := bundler.ScanBundle(context.Background(), log, collaborators, cache.MakeCacheSet(),
		bundler.ScanInput{EntryPaths: []string{"./entry.js", "./entry.js"}}, scanOptions())
	require.NoError(t, err)
	assert.Empty(t, log.Done())

	assert.Equal(t, map[string]int{"/entry.js": 1, "/a.js": 1, "/b.js": 1, "/shared.js": 1}, loader.loads)
	assert.Len(t, bundle.EntryPoints(), 1)

	// Dependencies come before the modules that import them
	assert.Equal(t, []string{"shared.js", "a.js", "b.js", "entry.js"}, prettyPaths(&bundle))
}

func TestScanReportsEveryFailure(t *testing.T) {
	collaborators, _ := newCountingCollaborators(test.MemFS(t, map[string]string{
		"/entry.js": `
import "./second.js"
import "./first.js"
`,
	}))

	log := logger.NewDeferLog(logger.LevelInfo, nil)
	_, err := bundler.ScanBundle(context.Background(), log, collaborators, cache.MakeCacheSet(),
		bundler.ScanInput{EntryPaths: []string{"./entry.js"}}, scanOptions())
	require.Error(t, err)
	assert.Len(t, log.Done(), 2)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var specifiers []string
	for _, err := range errs {
		var resolutionErr *bundler.ResolutionError
		require.True(t, errors.As(err, &resolutionErr), err.Error())
		assert.True(t, errors.Is(err, bundler.ErrNotFound))
		specifiers = append(specifiers, resolutionErr.Specifier)
	}
	assert.Equal(t, []string{"./first.js", "./second.js"}, specifiers)
}

func TestScanUnresolvedEntryPoint(t *testing.T) {
	collaborators, _ := newCountingCollaborators(afero.NewMemMapFs())

	log := logger.NewDeferLog(logger.LevelInfo, nil)
	_, err := bundler.ScanBundle(context.Background(), log, collaborators, cache.MakeCacheSet(),
		bundler.ScanInput{EntryPaths: []string{"./entry.js"}}, scanOptions())

	var resolutionErr *bundler.ResolutionError
	require.True(t, errors.As(err, &resolutionErr))
	assert.Equal(t, logger.Path{}, resolutionErr.Importer)
	assert.True(t, log.HasErrors())
}

func TestIncrementalScanReusesUnchangedModules(t *testing.T) {
	fs := test.MemFS(t, diamond)
	collaborators, loader := newCountingCollaborators(fs)
	caches := cache.MakeCacheSet()
	options := scanOptions()

	log := logger.NewDeferLog(logger.LevelInfo, nil)
	first, err := bundler.ScanBundle(context.Background(), log, collaborators, caches,
		bundler.ScanInput{EntryPaths: []string{"./entry.js"}}, options)
	require.NoError(t, err)

	test.WriteFile(t, fs, "/b.js", `log "b only"`)
	loader.loads = make(map[string]int)

	log = logger.NewDeferLog(logger.LevelInfo, nil)
	second, err := bundler.ScanBundle(context.Background(), log, collaborators, caches, bundler.ScanInput{
		EntryPaths: []string{"./entry.js"},
		Previous:   &first,
		Changed:    []logger.Path{{Text: "/b.js", Namespace: "file"}},
	}, options)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"/b.js": 1}, loader.loads)
	assert.Equal(t, []string{"shared.js", "a.js", "b.js", "entry.js"}, prettyPaths(&second))

	// Source indices are stable across scans
	for _, path := range []string{"/entry.js", "/a.js", "/shared.js"} {
		key := logger.Path{Text: path, Namespace: "file"}
		before, ok := first.SourceIndexForPath(key)
		require.True(t, ok)
		after, ok := second.SourceIndexForPath(key)
		require.True(t, ok)
		assert.Equal(t, before, after, path)
	}

	// The previous bundle is left alone
	assert.Equal(t, []string{"shared.js", "a.js", "b.js", "entry.js"}, prettyPaths(&first))
}

func TestScanCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	collaborators, _ := newCountingCollaborators(test.MemFS(t, diamond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log := logger.NewDeferLog(logger.LevelInfo, nil)
	bundle, err := bundler.ScanBundle(ctx, log, collaborators, cache.MakeCacheSet(),
		bundler.ScanInput{EntryPaths: []string{"./entry.js"}}, scanOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bundle.ReachableFiles())
}
