package api_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/modlink/internal/test"
	"github.com/modlink/modlink/pkg/api"
)

func optionsForTest(t *testing.T, files map[string]string, entryPoints ...string) api.BuildOptions {
	t.Helper()
	return api.BuildOptions{
		FS:            test.MemFS(t, files),
		AbsWorkingDir: "/",
		EntryPoints:   entryPoints,
	}
}

func requireNoErrors(t *testing.T, errors []api.Message) {
	t.Helper()
	var texts []string
	for _, msg := range errors {
		texts = append(texts, msg.Text)
	}
	require.Empty(t, errors, strings.Join(texts, "\n"))
}

func TestBuild(t *testing.T) {
	result := api.Build(optionsForTest(t, map[string]string{
		"/entry.js": `
import {value} from "./lib.js"
export let answer = 42
log value
`,
		"/lib.js": `export let value = 1`,
	}, "entry.js"))
	requireNoErrors(t, result.Errors)
	assert.Empty(t, result.Warnings)

	expected := []api.Chunk{{
		Name:         "entry",
		Entry:        "entry.js",
		Modules:      []string{"lib.js", "entry.js"},
		EntryExports: []api.Export{{Alias: "answer", Name: "answer"}},
	}}
	if diff := cmp.Diff(expected, result.Chunks, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
	}

	run, err := result.Run("entry")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, run.Trace)
	assert.Empty(t, run.Thrown)

	_, err = result.Run("nope")
	assert.EqualError(t, err, `there is no entry chunk named "nope"`)
}

func TestBuildSharedChunk(t *testing.T) {
	result := api.Build(optionsForTest(t, map[string]string{
		"/a.js": `
import {shared} from "./shared.js"
log shared
`,
		"/b.js": `
import {shared} from "./shared.js"
log shared
`,
		"/shared.js": `export let shared = 1`,
	}, "a.js", "b.js"))
	requireNoErrors(t, result.Errors)
	require.Len(t, result.Chunks, 3)

	sharedName := result.Chunks[2].Name
	assert.True(t, strings.HasPrefix(sharedName, "chunk-"), sharedName)
	expected := []api.Chunk{
		{Name: "a", Entry: "a.js", Modules: []string{"a.js"}, Imports: []api.ChunkImport{{Chunk: sharedName}}},
		{Name: "b", Entry: "b.js", Modules: []string{"b.js"}, Imports: []api.ChunkImport{{Chunk: sharedName}}},
		{Name: sharedName, Modules: []string{"shared.js"}},
	}
	ignoreNames := cmp.Options{
		cmpopts.EquateEmpty(),
		cmpopts.IgnoreFields(api.ChunkImport{}, "Names"),
		cmpopts.IgnoreFields(api.Chunk{}, "Exports"),
	}
	if diff := cmp.Diff(expected, result.Chunks, ignoreNames); diff != "" {
		t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
	}
	assert.Len(t, result.Chunks[2].Exports, 1)
}

func TestBuildErrors(t *testing.T) {
	result := api.Build(optionsForTest(t, map[string]string{
		"/entry.js": `import "./missing.js"`,
	}, "entry.js"))
	require.Len(t, result.Errors, 1)

	msg := result.Errors[0]
	assert.Equal(t, "unresolved-import", msg.ID)
	assert.Equal(t, `Could not resolve "./missing.js" (mark it as external to exclude it from the bundle)`, msg.Text)
	require.NotNil(t, msg.Location)
	assert.Equal(t, "entry.js", msg.Location.File)
	assert.Equal(t, 1, msg.Location.Line)
	assert.Equal(t, 7, msg.Location.Column)
	assert.Equal(t, `import "./missing.js"`, msg.Location.LineText)
	assert.Empty(t, result.Chunks)

	_, err := result.Run("entry")
	assert.Error(t, err)
}

func TestBuildValidation(t *testing.T) {
	options := optionsForTest(t, map[string]string{})
	options.Concurrency = -1
	options.External = []string{"a*b*"}
	result := api.Build(options)

	var texts []string
	for _, msg := range result.Errors {
		texts = append(texts, msg.Text)
	}
	assert.Equal(t, []string{
		"Invalid concurrency: -1",
		`External path "a*b*" cannot have more than one "*" wildcard`,
		"Must provide at least one entry point",
	}, texts)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := api.BuildContext(ctx, optionsForTest(t, map[string]string{
		"/entry.js": `log "entry"`,
	}, "entry.js"))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, context.Canceled.Error(), result.Errors[0].Text)
}

func TestLogOverride(t *testing.T) {
	files := map[string]string{
		"/entry.js": `import "./a.js"`,
		"/a.js": `
import "./b.js"
log "a"
`,
		"/b.js": `
import "./a.js"
log "b"
`,
	}

	result := api.Build(optionsForTest(t, files, "entry.js"))
	requireNoErrors(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "circular-dependency", result.Warnings[0].ID)
	assert.Equal(t, "Circular dependency: a.js -> b.js -> a.js", result.Warnings[0].Text)

	options := optionsForTest(t, files, "entry.js")
	options.LogOverride = map[string]api.LogLevel{"circular-dependency": api.LogLevelSilent}
	result = api.Build(options)
	requireNoErrors(t, result.Errors)
	assert.Empty(t, result.Warnings)

	options.LogOverride = map[string]api.LogLevel{"link": api.LogLevelError}
	result = api.Build(options)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "circular-dependency", result.Errors[0].ID)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	files := map[string]string{
		"/modlink.yaml": `
treeShaking: false
codeSplitting: false
`,
		"/entry.js": `
import {f as g} from "./a.js"
import {unused} from "./pure.js"
function f
log name g
log name f
`,
		"/a.js":    `export function f`,
		"/pure.js": `export let unused = 1`,
	}
	env := map[string]string{"MODLINK_KEEP_NAMES": "true"}

	options := optionsForTest(t, files, "entry.js")
	options.ConfigFile = "modlink.yaml"
	options.LookupEnv = func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	result := api.Build(options)
	requireNoErrors(t, result.Errors)
	require.Len(t, result.Chunks, 1)
	assert.Contains(t, result.Chunks[0].Modules, "pure.js")

	run, err := result.Run("entry")
	require.NoError(t, err)
	assert.Equal(t, []string{"f", "f"}, run.Trace)

	// Explicit options win over the file
	options.TreeShaking = api.TreeShakingTrue
	result = api.Build(options)
	requireNoErrors(t, result.Errors)
	assert.NotContains(t, result.Chunks[0].Modules, "pure.js")

	options.ConfigFile = "missing.yaml"
	result = api.Build(options)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Text, `could not read config file "/missing.yaml"`)
}

func TestSession(t *testing.T) {
	fs := test.MemFS(t, map[string]string{
		"/entry.js": `
import {a} from "./a.js"
log a
`,
		"/a.js": `export let a = 1`,
	})
	session := api.NewSession(api.BuildOptions{
		FS:            fs,
		AbsWorkingDir: "/",
		EntryPoints:   []string{"entry.js"},
	})

	result := session.Update(context.Background(), "a.js")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "the session has no successful build to update", result.Errors[0].Text)

	build := session.Rebuild(context.Background())
	requireNoErrors(t, build.Errors)

	require.NoError(t, afero.WriteFile(fs, "/a.js", []byte(`export let a = 2`), 0644))
	result = session.Update(context.Background(), "a.js")
	requireNoErrors(t, result.Errors)
	assert.Equal(t, []api.ModuleUpdate{{
		Changed:    "a.js",
		Boundaries: []string{"a.js"},
		Modules:    []string{"a.js", "entry.js"},
	}}, result.Updates)
	assert.False(t, result.Relinked)
	assert.False(t, result.FullReload)

	result = session.Update(context.Background(), "/missing.js")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, `"/missing.js" is not part of the module graph`, result.Errors[0].Text)
}

func TestSessionSetupErrors(t *testing.T) {
	session := api.NewSession(api.BuildOptions{AbsWorkingDir: "relative"})
	build := session.Rebuild(context.Background())
	require.Len(t, build.Errors, 2)
	assert.Equal(t, build.Errors, session.Update(context.Background(), "a.js").Errors)
}
