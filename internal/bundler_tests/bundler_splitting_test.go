package bundler_tests

import (
	"testing"

	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/logger"
)

var splitting_suite = suite{
	name: "splitting",
}

func TestSplittingSharedModule(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths: []string{"/a.js", "/b.js"},
		expectedChunks: `a: a.js
b: b.js
chunk: shared.js
`,
		expectedOutput: `---------- a ----------
"shared"
1
---------- b ----------
"shared"
"b"
1
`,
	})
}

func TestSplittingCopiesWithoutCodeSplitting(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/a.js": `
import {shared} from "./shared.js"
log shared
`,
			"/b.js": `
import {shared} from "./shared.js"
log shared
`,
			"/shared.js": `export let shared = 1`,
		},
		entryPaths:      []string{"/a.js", "/b.js"},
		noSplittingOnly: true,
		expectedChunks: `a: shared.js, a.js
b: shared.js, b.js
`,
		expectedOutput: `---------- a ----------
1
---------- b ----------
1
`,
	})
}

func TestSplittingDynamicImport(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
log "start"
const ns = await import("./lazy.js")
log "end"
`,
			"/lazy.js": `
export let value = 1
log "lazy"
`,
		},
		entryPaths: []string{"/entry.js"},
		expectedChunks: `entry: entry.js
lazy: lazy.js
`,
		expectedOutput: `---------- entry ----------
"start"
"end"
"lazy"
`,
	})
}

func TestSplittingDynamicImportOfEntryPoint(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/a.js": `
log "a"
const b = await import("./b.js")
`,
			"/b.js": `log "b"`,
		},
		entryPaths: []string{"/a.js", "/b.js"},
		expectedChunks: `a: a.js
b: b.js
`,
		expectedOutput: `---------- a ----------
"a"
"b"
---------- b ----------
"b"
`,
	})
}

func TestSplittingIneffectiveDynamicImport(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {value} from "./lazy.js"
const ns = await import("./lazy.js")
log value
`,
			"/lazy.js": `export let value = 1`,
		},
		entryPaths:         []string{"/entry.js"},
		splittingOnly:      true,
		expectedCompileLog: "entry.js:2:24: warning: \"lazy.js\" is dynamically imported here but is also statically imported by every module that loads this one, so it will not be split into a separate chunk [ineffective-dynamic-import]\n",
		expectedOutput: `---------- entry ----------
1
`,
	})
}

func TestSplittingGlobImport(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
glob "./pages/a.js", "./pages/b.js"
log "entry"
`,
			"/pages/a.js": `log "a"`,
			"/pages/b.js": `log "b"`,
		},
		entryPaths: []string{"/entry.js"},
		expectedChunks: `entry: entry.js
a: pages/a.js
b: pages/b.js
`,
		expectedOutput: `---------- entry ----------
"entry"
"a"
"b"
`,
	})
}

func TestSplittingChunkCycle(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths: []string{"/entry.js"},
		options: config.Options{
			OneModulePerChunk: true,

			// The two chunks import each other
			LogOverrides: map[logger.MsgID]logger.LogLevel{
				logger.MsgID_Link_ChunkCycle: logger.LevelSilent,
			},
		},
		expectedCompileLog: "a.js:1:16: warning: Circular dependency: a.js -> b.js -> a.js [circular-dependency]\n",
		// Shared chunks are ordered by discovery, where "b.js" finishes
		// before "a.js" that imports it
		expectedChunks: `entry: entry.js
chunk: b.js
chunk: a.js
`,
		expectedOutput: `---------- entry ----------
undefined
2
`,
	})
}

func TestSplittingChunkMergePolicy(t *testing.T) {
	splitting_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths: []string{"/a.js", "/b.js", "/c.js"},
		options: config.Options{
			ChunkMergePolicy: config.SmallChunkPolicy{MaxParts: 10},
		},
		expectedChunks: `a: a.js
b: b.js
c: c.js
chunk: ab.js, bc.js
`,
		expectedOutput: `---------- a ----------
1
---------- b ----------
1
2
---------- c ----------
2
`,
	})
}
