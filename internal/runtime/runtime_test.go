package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
	"github.com/modlink/modlink/internal/manifest"
	"github.com/modlink/modlink/internal/test"
)

func linkForTest(t *testing.T, files map[string]string, options config.Options, entryPaths ...string) *linker.Result {
	t.Helper()
	ctx := context.Background()
	log := logger.NewDeferLog(logger.LevelWarning, nil)
	collaborators := manifest.NewCollaborators(test.MemFS(t, files), "/")

	bundle, err := bundler.ScanBundle(ctx, log, collaborators, cache.MakeCacheSet(), bundler.ScanInput{EntryPaths: entryPaths}, options)
	require.NoError(t, err, test.LogText(log.Done()))
	result, err := bundle.Compile(ctx, log, options)
	require.NoError(t, err, test.LogText(log.Done()))
	return result
}

func traceForTest(t *testing.T, result *linker.Result, entry string, options Options) []string {
	t.Helper()
	exec, err := RunEntry(result, entry, options)
	require.NoError(t, err)
	return exec.Trace
}

func TestEvaluationOrder(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import "./a.js"
import "./b.js"
log "entry"
`,
		"/a.js": `
import "./c.js"
log "a"
`,
		"/b.js": `
import "./c.js"
log "b"
`,
		"/c.js": `log "c"`,
	}, config.DefaultOptions(), "/entry.js")

	assert.Equal(t, []string{`"c"`, `"a"`, `"b"`, `"entry"`}, traceForTest(t, result, "entry", Options{}))
}

func TestImportCycleRunsEachModuleOnce(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import "./a.js"
log "entry"
`,
		"/a.js": `
import "./b.js"
log "a"
`,
		"/b.js": `
import "./a.js"
log "b"
`,
	}, config.DefaultOptions(), "/entry.js")

	assert.Equal(t, []string{`"b"`, `"a"`, `"entry"`}, traceForTest(t, result, "entry", Options{}))
}

func TestLiveBindingAndDefaultSnapshot(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import d, {count} from "./counter.js"
import * as ns from "./counter.js"
log d
log count
log ns.count
`,
		"/counter.js": `
export let count = 1
export default count
count = 2
`,
	}, config.DefaultOptions(), "/entry.js")

	assert.Equal(t, []string{"1", "2", "2"}, traceForTest(t, result, "entry", Options{}))
}

func TestCommonJSReplaceWins(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import {a, b} from "./lib.js"
const lib = require("./lib.js")
log a
log b
log lib
`,
		"/lib.js": `
exports.a = 1
module.exports = {b: 2}
`,
	}, config.DefaultOptions(), "/entry.js")

	assert.Equal(t, []string{"undefined", "2", "{b: 2}"}, traceForTest(t, result, "entry", Options{}))
}

func TestCommonJSCycleSeesPartialExports(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `require("./a.js")`,
		"/a.js": `
exports.a = 1
const b = require("./b.js")
log b
exports.done = true
`,
		"/b.js": `
const a = require("./a.js")
log a
exports.b = 2
`,
	}, config.DefaultOptions(), "/entry.js")

	assert.Equal(t, []string{"{a: 1}", "{b: 2}"}, traceForTest(t, result, "entry", Options{}))
}

func TestAmbiguousExportStarReadsUndefined(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import * as ns from "./mid.js"
log ns.x
log ns.y
`,
		"/mid.js": `
export * from "./a.js"
export * from "./b.js"
`,
		"/a.js": `
export let x = 1
export let y = 3
`,
		"/b.js": `export let x = 2`,
	}, config.DefaultOptions(), "/entry.js")

	assert.Equal(t, []string{"undefined", "3"}, traceForTest(t, result, "entry", Options{}))
}

func TestDeconflictedFunctionNames(t *testing.T) {
	files := map[string]string{
		"/entry.js": `
import {f as g} from "./a.js"
function f
log name g
log name f
`,
		"/a.js": `export function f`,
	}

	options := config.DefaultOptions()
	result := linkForTest(t, files, options, "/entry.js")
	assert.Equal(t, []string{"f", "f2"}, traceForTest(t, result, "entry", Options{}))

	options.KeepNames = true
	result = linkForTest(t, files, options, "/entry.js")
	assert.Equal(t, []string{"f", "f"}, traceForTest(t, result, "entry", Options{KeepNames: true}))
}

func TestDynamicImportRunsAfterImporter(t *testing.T) {
	files := map[string]string{
		"/entry.js": `
log "start"
const ns = await import("./lazy.js")
log "end"
`,
		"/lazy.js": `
export let value = 1
log "lazy"
`,
	}

	for _, splitting := range []bool{true, false} {
		options := config.DefaultOptions()
		options.CodeSplitting = splitting
		result := linkForTest(t, files, options, "/entry.js")
		assert.Equal(t, []string{`"start"`, `"end"`, `"lazy"`}, traceForTest(t, result, "entry", Options{}),
			"code splitting: %v", splitting)
	}
}

func TestSharedChunkRunsForEachEntry(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/a.js": `
import {shared} from "./shared.js"
log shared
`,
		"/b.js": `
import {shared} from "./shared.js"
log "b"
log shared
`,
		"/shared.js": `
log "shared"
export let shared = 1
`,
	}, config.DefaultOptions(), "/a.js", "/b.js")

	assert.Greater(t, len(result.Chunks), 2)
	assert.Equal(t, []string{`"shared"`, "1"}, traceForTest(t, result, "a", Options{}))
	assert.Equal(t, []string{`"shared"`, `"b"`, "1"}, traceForTest(t, result, "b", Options{}))
}

func TestExternals(t *testing.T) {
	options := config.DefaultOptions()
	options.External = []string{"lib", "optional"}
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import {version} from "lib"
const optional = try require("optional")
log version
log optional
`,
	}, options, "/entry.js")

	externals := map[string]ast.Value{
		"lib": {Kind: ast.ValueObject, Fields: []ast.Field{{Key: "version", Value: ast.Value{Kind: ast.ValueString, Text: "1.0"}}}},
	}
	assert.Equal(t, []string{`"1.0"`, "undefined"}, traceForTest(t, result, "entry", Options{Externals: externals}))
}

func TestEntryExports(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
export let a = 1
export function f
a = 2
`,
	}, config.DefaultOptions(), "/entry.js")

	exec, err := RunEntry(result, "entry", Options{KeepNames: true})
	require.NoError(t, err)
	assert.Equal(t, "2", exec.Exports.Get("a").String())
	name, ok := exec.Exports.Get("f").Name()
	assert.True(t, ok)
	assert.Equal(t, "f", name)
}

func TestRuntimeError(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
log "before"
log missing.x
log "after"
`,
	}, config.DefaultOptions(), "/entry.js")

	_, err := RunEntry(result, "entry", Options{})
	var runtimeErr *RuntimeError
	require.True(t, errors.As(err, &runtimeErr))
	assert.Equal(t, `Cannot read properties of undefined (reading "x")`, runtimeErr.Text)
	assert.Equal(t, []string{`"before"`}, runtimeErr.Trace)
}

func TestRunsAreIndependent(t *testing.T) {
	result := linkForTest(t, map[string]string{
		"/entry.js": `
import {n} from "./n.js"
log n
`,
		"/n.js": `
export let n = 1
n = 2
`,
	}, config.DefaultOptions(), "/entry.js")

	first := traceForTest(t, result, "entry", Options{})
	second := traceForTest(t, result, "entry", Options{})
	assert.Equal(t, first, second)

	_, err := RunEntry(result, "nope", Options{})
	assert.Error(t, err)
}

func TestValueFormatting(t *testing.T) {
	object := newObject()
	object.Set("a", numberValue(1))
	object.Set("self", objectValue(object))
	assert.Equal(t, "{a: 1, self: [Circular]}", objectValue(object).String())

	fn := fromLiteral(ast.Value{Kind: ast.ValueFunction}, "f")
	assert.Equal(t, "[Function]", fn.String())
	assert.True(t, fn.Is(fn))
	assert.False(t, fn.Is(fromLiteral(ast.Value{Kind: ast.ValueFunction}, "f")))
}
