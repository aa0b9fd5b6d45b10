package linker_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
	"github.com/modlink/modlink/internal/manifest"
	"github.com/modlink/modlink/internal/test"
)

type linked struct {
	result *linker.Result
	bundle bundler.Bundle
	msgs   []logger.Msg
	err    error
}

func linkForTest(t *testing.T, files map[string]string, options config.Options, entryPaths ...string) linked {
	t.Helper()
	ctx := context.Background()
	log := logger.NewDeferLog(logger.LevelDebug, nil)
	collaborators := manifest.NewCollaborators(test.MemFS(t, files), "/")

	bundle, err := bundler.ScanBundle(ctx, log, collaborators, cache.MakeCacheSet(), bundler.ScanInput{EntryPaths: entryPaths}, options)
	require.NoError(t, err, test.LogText(log.Done()))
	result, err := bundle.Compile(ctx, log, options)
	return linked{result: result, bundle: bundle, msgs: log.Done(), err: err}
}

func (l linked) messages(id logger.MsgID) []string {
	var texts []string
	for _, msg := range l.msgs {
		if msg.ID == id {
			texts = append(texts, msg.Data.Text)
		}
	}
	return texts
}

func (l linked) sourceIndex(t *testing.T, prettyPath string) uint32 {
	t.Helper()
	for _, sourceIndex := range l.result.Graph.ReachableFiles {
		if l.result.Graph.Files[sourceIndex].InputFile.Source.PrettyPath == prettyPath {
			return sourceIndex
		}
	}
	t.Fatalf("no module %q", prettyPath)
	return 0
}

func (l linked) repr(t *testing.T, prettyPath string) *graph.JSRepr {
	t.Helper()
	return l.result.Graph.JS(l.sourceIndex(t, prettyPath))
}

func (l linked) chunkNamed(t *testing.T, name string) *linker.Chunk {
	t.Helper()
	for i := range l.result.Chunks {
		if l.result.Chunks[i].Name == name {
			return &l.result.Chunks[i]
		}
	}
	t.Fatalf("no chunk %q", name)
	return nil
}

// The part that declares the top-level symbol with this original name
func (l linked) declaringPart(t *testing.T, repr *graph.JSRepr, name string) *ast.Part {
	t.Helper()
	for partIndex := range repr.AST.Parts {
		part := &repr.AST.Parts[partIndex]
		for _, declared := range part.DeclaredSymbols {
			if declared.IsTopLevel && l.result.Graph.Symbols.Get(declared.Ref).OriginalName == name {
				return part
			}
		}
	}
	t.Fatalf("nothing declares %q", name)
	return nil
}

func TestTreeShakingKeepsOnlyUsedExports(t *testing.T) {
	files := map[string]string{
		"/entry.js": `
import {used} from "./lib.js"
log used
`,
		"/lib.js": `
export let used = 1
export let unused = 2
log "lib"
`,
	}

	l := linkForTest(t, files, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)
	lib := l.repr(t, "lib.js")
	assert.True(t, l.declaringPart(t, lib, "used").IsLive)
	assert.False(t, l.declaringPart(t, lib, "unused").IsLive)

	options := config.DefaultOptions()
	options.TreeShaking = false
	l = linkForTest(t, files, options, "/entry.js")
	require.NoError(t, l.err)
	assert.True(t, l.declaringPart(t, l.repr(t, "lib.js"), "unused").IsLive)
}

func TestUnusedSideEffectFreeModuleIsDropped(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {a} from "./pure.js"
log "entry"
`,
		"/pure.js": `export let a = 1`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	require.Len(t, l.result.Chunks, 1)
	chunk := l.result.Chunks[0]
	assert.False(t, chunk.HasFile(l.sourceIndex(t, "pure.js")))
	assert.True(t, chunk.HasFile(l.sourceIndex(t, "entry.js")))
}

func TestWrapping(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {a} from "./cjs.js"
const b = require("./esm.js")
log a
log b
`,
		"/cjs.js":  `exports.a = 1`,
		"/esm.js":  `import "./dep.js"` + "\n" + `export let b = 2`,
		"/dep.js":  `log "dep"`,
		"/free.js": `log "never reached"`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	assert.Equal(t, graph.WrapNone, l.repr(t, "entry.js").Meta.Wrap)
	assert.Equal(t, graph.WrapCJS, l.repr(t, "cjs.js").Meta.Wrap)
	assert.Equal(t, graph.WrapESM, l.repr(t, "esm.js").Meta.Wrap)
	assert.Equal(t, graph.WrapESM, l.repr(t, "dep.js").Meta.Wrap, "dependencies of wrapped modules are wrapped")

	// Wrapped modules come first and cover every part
	chunk := l.result.Chunks[0]
	for _, partRange := range chunk.PartsInOrder {
		repr := l.result.Graph.JS(partRange.SourceIndex)
		if repr.Meta.Wrap != graph.WrapNone {
			assert.Equal(t, uint32(0), partRange.PartIndexBegin)
			assert.Equal(t, uint32(len(repr.AST.Parts)), partRange.PartIndexEnd)
		}
	}
	last := chunk.PartsInOrder[len(chunk.PartsInOrder)-1]
	assert.Equal(t, l.sourceIndex(t, "entry.js"), last.SourceIndex)
}

func TestCommonJSImportsReadThroughNamespace(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {a, missing} from "./cjs.js"
log a
log missing
`,
		"/cjs.js": `
exports.a = 1
exports.b = 2
`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	entry := l.repr(t, "entry.js")
	record := entry.AST.ImportRecords[0]
	for _, item := range record.Items {
		symbol := l.result.Graph.Symbols.Get(item.Ref)
		require.NotNil(t, symbol.NamespaceAlias, item.Alias)
		assert.Equal(t, record.NamespaceRef, symbol.NamespaceAlias.NamespaceRef)
		assert.Equal(t, item.Alias, symbol.NamespaceAlias.Alias)
	}
	assert.Equal(t, []string{`Import "missing" will always be undefined because "cjs.js" does not export it`},
		l.messages(logger.MsgID_Link_ImportIsUndefined))
}

func TestMissingExportIsAnError(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {nope} from "./lib.js"
log nope
`,
		"/lib.js": `export let yes = 1`,
	}, config.DefaultOptions(), "/entry.js")

	assert.True(t, errors.Is(l.err, linker.ErrLinkFailed))
	assert.Nil(t, l.result)
	assert.Equal(t, []string{`No matching export in "lib.js" for import "nope"`}, l.messages(logger.MsgID_Link_NoMatchingExport))
}

func TestAmbiguousExportStar(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import * as ns from "./mid.js"
log ns.x
`,
		"/mid.js": `
export * from "./a.js"
export * from "./b.js"
`,
		"/a.js": `export let x = 1`,
		"/b.js": `export let x = 2`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	assert.NotEmpty(t, l.messages(logger.MsgID_Link_AmbiguousExport))
	mid := l.repr(t, "mid.js")
	assert.Contains(t, mid.Meta.AmbiguousExportAliases, "x")
	assert.NotContains(t, mid.Meta.SortedAndFilteredExportAliases, "x")
}

func TestMutualExportStarIsAWarning(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {n} from "./x.js"
log n
`,
		"/x.js": `export * from "./y.js"`,
		"/y.js": `export * from "./x.js"`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	for _, msg := range l.msgs {
		assert.NotEqual(t, logger.Error, msg.Kind, msg.Data.Text)
	}
	assert.NotEmpty(t, append(l.messages(logger.MsgID_Link_CircularReexport), l.messages(logger.MsgID_Link_ImportIsUndefined)...))
}

func TestCircularDependencyWarning(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `import "./a.js"`,
		"/a.js":     `import "./b.js"`,
		"/b.js":     `import "./a.js"`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	assert.Equal(t, []string{"Circular dependency: a.js -> b.js -> a.js"}, l.messages(logger.MsgID_Link_CircularDependency))
}

func TestCodeSplitting(t *testing.T) {
	files := map[string]string{
		"/a.js": `
import {shared} from "./shared.js"
log shared
`,
		"/b.js": `
import {shared} from "./shared.js"
log shared
`,
		"/shared.js": `
export let shared = 1
log "shared"
`,
	}

	l := linkForTest(t, files, config.DefaultOptions(), "/a.js", "/b.js")
	require.NoError(t, l.err)
	require.Len(t, l.result.Chunks, 3)

	a, b, shared := l.result.Chunks[0], l.result.Chunks[1], l.result.Chunks[2]
	assert.True(t, a.IsEntryPoint)
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, "b", b.Name)
	assert.False(t, shared.IsEntryPoint)
	assert.True(t, strings.HasPrefix(shared.Name, "chunk-"), shared.Name)
	assert.Equal(t, []uint32{0, 1}, shared.Roots)

	chunkImport, ok := a.ImportFrom(2)
	require.True(t, ok)
	require.Len(t, chunkImport.Items, 1)
	assert.Equal(t, "shared", chunkImport.Items[0].Alias)
	require.Len(t, shared.ExportsToOtherChunks, 1)
	assert.Equal(t, "shared", shared.ExportsToOtherChunks[0].Alias)

	// Without splitting every entry gets its own copy
	options := config.DefaultOptions()
	options.CodeSplitting = false
	l = linkForTest(t, files, options, "/a.js", "/b.js")
	require.NoError(t, l.err)
	require.Len(t, l.result.Chunks, 2)
	sharedIndex := l.sourceIndex(t, "shared.js")
	for _, chunk := range l.result.Chunks {
		assert.True(t, chunk.HasFile(sharedIndex), chunk.Name)
		assert.Empty(t, chunk.ImportsFromOtherChunks)
	}
}

func TestDynamicImportBecomesEntryChunk(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
const ns = await import("./lazy.js")
log "entry"
`,
		"/lazy.js": `export let value = 1`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	require.Len(t, l.result.Chunks, 2)
	assert.Equal(t, []uint32{1}, l.result.Chunks[0].DynamicImports)
	lazy := l.chunkNamed(t, "lazy")
	assert.True(t, lazy.IsEntryPoint)
	require.Len(t, lazy.EntryExports, 1)
	assert.Equal(t, "value", lazy.EntryExports[0].Alias)
}

func TestIneffectiveDynamicImport(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {value} from "./lazy.js"
const ns = await import("./lazy.js")
log value
`,
		"/lazy.js": `export let value = 1`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	assert.Len(t, l.messages(logger.MsgID_Link_IneffectiveDynamicImport), 1)
}

func TestChunkCycleIsDeferred(t *testing.T) {
	options := config.DefaultOptions()
	options.OneModulePerChunk = true
	l := linkForTest(t, map[string]string{
		"/entry.js": `import "./a.js"`,
		"/a.js": `
import {b} from "./b.js"
export let a = 1
log b
`,
		"/b.js": `
import {a} from "./a.js"
export let b = 2
log a
`,
	}, options, "/entry.js")
	require.NoError(t, l.err)
	require.Len(t, l.result.Chunks, 3)

	deferred := 0
	for _, chunk := range l.result.Chunks {
		for _, chunkImport := range chunk.ImportsFromOtherChunks {
			if chunkImport.Deferred {
				deferred++
			}
		}
	}
	assert.Equal(t, 1, deferred)
	assert.Len(t, l.messages(logger.MsgID_Link_ChunkCycle), 1)
}

func TestChunkMergePolicy(t *testing.T) {
	files := map[string]string{
		"/a.js": `
import {x} from "./ab.js"
log x
`,
		"/b.js": `
import {x} from "./ab.js"
import {y} from "./bc.js"
log x
log y
`,
		"/c.js": `
import {y} from "./bc.js"
log y
`,
		"/ab.js": `export let x = 1`,
		"/bc.js": `export let y = 2`,
	}

	l := linkForTest(t, files, config.DefaultOptions(), "/a.js", "/b.js", "/c.js")
	require.NoError(t, l.err)
	assert.Len(t, l.result.Chunks, 5)

	options := config.DefaultOptions()
	options.ChunkMergePolicy = config.SmallChunkPolicy{MaxParts: 10}
	l = linkForTest(t, files, options, "/a.js", "/b.js", "/c.js")
	require.NoError(t, l.err)
	require.Len(t, l.result.Chunks, 4)
	merged := l.result.Chunks[3]
	assert.True(t, merged.HasFile(l.sourceIndex(t, "ab.js")))
	assert.True(t, merged.HasFile(l.sourceIndex(t, "bc.js")))
	assert.Equal(t, []uint32{0, 1, 2}, merged.Roots)
}

func TestDeconflictedNames(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {x as y} from "./lib.js"
let x = 2
log x
log y
`,
		"/lib.js": `export let x = 1`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	chunk := l.result.Chunks[0]
	entry := l.repr(t, "entry.js")
	lib := l.repr(t, "lib.js")
	libX := l.declaringPart(t, lib, "x").DeclaredSymbols[0].Ref
	entryX := l.declaringPart(t, entry, "x").DeclaredSymbols[0].Ref
	assert.Equal(t, "x", chunk.Names[libX])
	assert.Equal(t, "x2", chunk.Names[entryX])
}

func TestLinkDoesNotMutateBundle(t *testing.T) {
	l := linkForTest(t, map[string]string{
		"/entry.js": `
import {a} from "./lib.js"
import * as ns from "./lib.js"
log a
log ns
`,
		"/lib.js": `
export let a = 1
export let b = 2
`,
	}, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	log := logger.NewDeferLog(logger.LevelDebug, nil)
	again, err := l.bundle.Compile(context.Background(), log, config.DefaultOptions())
	require.NoError(t, err)
	test.AssertEqualWithDiff(t, again.Dump(true), l.result.Dump(true))
}

func TestLinkCancelled(t *testing.T) {
	files := map[string]string{"/entry.js": `log 1`}
	l := linkForTest(t, files, config.DefaultOptions(), "/entry.js")
	require.NoError(t, l.err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := l.bundle.Compile(ctx, logger.NewDeferLog(logger.LevelDebug, nil), config.DefaultOptions())
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, context.Canceled))
}

type panickingPolicy struct{}

func (panickingPolicy) Merge([]config.MergeCandidate) [][]uint32 {
	panic("merge policy exploded")
}

func TestPanicBecomesInternalError(t *testing.T) {
	options := config.DefaultOptions()
	options.ChunkMergePolicy = panickingPolicy{}
	l := linkForTest(t, map[string]string{
		"/a.js": `
import {x} from "./ab.js"
log x
`,
		"/b.js": `
import {x} from "./ab.js"
import {y} from "./bc.js"
log x
log y
`,
		"/c.js": `
import {y} from "./bc.js"
log y
`,
		"/ab.js": `export let x = 1`,
		"/bc.js": `export let y = 2`,
	}, options, "/a.js", "/b.js", "/c.js")

	assert.Nil(t, l.result)
	assert.True(t, errors.Is(l.err, linker.ErrInternal), "%v", l.err)
	assert.Equal(t, []string{"panic: merge policy exploded"}, l.messages(logger.MsgID_Link_InternalError))
}

func TestRepeatedBuildsAreIdentical(t *testing.T) {
	files := map[string]string{
		"/a.js": `
import {shared} from "./shared.js"
import "./left.js"
import "./right.js"
log shared
const lazy = await import("./lazy.js")
`,
		"/b.js": `
import {shared} from "./shared.js"
import "./right.js"
log shared
`,
		"/left.js":   `log "left"`,
		"/right.js":  `log "right"`,
		"/shared.js": `export let shared = 1`,
		"/lazy.js": `
import {shared} from "./shared.js"
export let lazy = shared
`,
	}

	var dumps []string
	for _, concurrency := range []int{1, 8, 1, 8} {
		options := config.DefaultOptions()
		options.Concurrency = concurrency
		l := linkForTest(t, files, options, "/a.js", "/b.js")
		require.NoError(t, l.err)
		dumps = append(dumps, l.result.Dump(false))
	}
	for _, dump := range dumps[1:] {
		test.AssertEqualWithDiff(t, dump, dumps[0])
	}
}
