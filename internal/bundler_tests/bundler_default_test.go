package bundler_tests

import (
	"testing"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/logger"
)

var default_suite = suite{
	name: "default",
}

func TestEvaluationOrder(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths:     []string{"/entry.js"},
		expectedChunks: "entry: c.js, a.js, b.js, entry.js\n",
		expectedOutput: `---------- entry ----------
"c"
"a"
"b"
"entry"
`,
	})
}

func TestImportCycle(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths:         []string{"/entry.js"},
		expectedCompileLog: "a.js:1:7: warning: Circular dependency: a.js -> b.js -> a.js [circular-dependency]\n",
		expectedChunks:     "entry: b.js, a.js, entry.js\n",
		expectedOutput: `---------- entry ----------
"b"
"a"
"entry"
`,
	})
}

func TestCircularDependencyWarningCanBeSilenced(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths: []string{"/entry.js"},
		options: config.Options{
			LogOverrides: map[logger.MsgID]logger.LogLevel{
				logger.MsgID_Link_CircularDependency: logger.LevelSilent,
			},
		},
		expectedOutput: `---------- entry ----------
"b"
"a"
"entry"
`,
	})
}

func TestLiveBindings(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths:     []string{"/entry.js"},
		expectedChunks: "entry: counter.js, entry.js\n",
		expectedOutput: `---------- entry ----------
1
2
2
`,
	})
}

func TestDefaultExportOfFunctionIsLive(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import g from "./lib.js"
log g
`,
			"/lib.js": `
export default function f
f = 5
`,
		},
		entryPaths:     []string{"/entry.js"},
		expectedChunks: "entry: lib.js, entry.js\n",
		expectedOutput: `---------- entry ----------
5
`,
	})
}

func TestMutualExportStarWithoutDeclaration(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {n} from "./x.js"
import {n as m} from "./y.js"
import * as ns from "./x.js"
log n
log m
log ns
`,
			"/x.js": `export * from "./y.js"`,
			"/y.js": `export * from "./x.js"`,
		},
		entryPaths: []string{"/entry.js"},
		options: config.Options{
			LogOverrides: map[logger.MsgID]logger.LogLevel{
				logger.MsgID_Link_CircularDependency: logger.LevelSilent,
				logger.MsgID_Link_CircularReexport:   logger.LevelSilent,
				logger.MsgID_Link_ImportIsUndefined:  logger.LevelSilent,
			},
		},
		expectedOutput: `---------- entry ----------
undefined
undefined
{}
`,
	})
}

func TestReExports(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {a, renamed, b, ns} from "./mid.js"
log a
log renamed
log b
log ns.c
`,
			"/mid.js": `
export {a, a as renamed} from "./a.js"
export * from "./b.js"
export * as ns from "./c.js"
`,
			"/a.js": `export let a = "a"`,
			"/b.js": `export let b = "b"`,
			"/c.js": `export let c = "c"`,
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
"a"
"a"
"b"
"c"
`,
	})
}

func TestExportClauseAfterDeclaration(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {x, y as z} from "./lib.js"
log x
log z
`,
			"/lib.js": `
let a = 1
export {a as x, b as y}
var b = 2
`,
		},
		entryPaths:     []string{"/entry.js"},
		expectedChunks: "entry: lib.js, entry.js\n",
		expectedOutput: `---------- entry ----------
1
2
`,
	})
}

func TestImportFromCommonJS(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {a, missing} from "./cjs.js"
log a
log missing
`,
			"/cjs.js": `
exports.a = 1
exports.b = 2
`,
		},
		entryPaths:         []string{"/entry.js"},
		expectedCompileLog: "entry.js:1:11: warning: Import \"missing\" will always be undefined because \"cjs.js\" does not export it [import-is-undefined]\n",
		expectedChunks:     "entry: cjs.js, entry.js\n",
		expectedOutput: `---------- entry ----------
1
undefined
`,
	})
}

func TestCommonJSReplaceWins(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
const lib = require("./lib.js")
log lib
log lib.b
`,
			"/lib.js": `
exports.a = 1
module.exports = {b: 2}
`,
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
{b: 2}
2
`,
	})
}

func TestCommonJSExportsAliasAfterReplace(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
const lib = require("./lib.js")
log lib
log lib.c
`,
			"/lib.js": `
exports.a = 1
module.exports = {b: 2}
exports.c = 3
module.exports.d = 4
`,
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
{b: 2, d: 4}
undefined
`,
	})
}

func TestCommonJSCycle(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
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
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
{a: 1}
{b: 2}
`,
	})
}

func TestRequireOfESM(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
log "entry"
const esm = require("./esm.js")
log esm.value
`,
			"/esm.js": `
log "esm"
export let value = 1
`,
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
"entry"
"esm"
1
`,
	})
}

func TestImportJSON(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import data, {name} from "./data.json"
log name
log data
`,
			"/data.json": `{"name": "pkg", "version": 2}`,
		},
		entryPaths:     []string{"/entry.js"},
		expectedChunks: "entry: data.json, entry.js\n",
		expectedOutput: `---------- entry ----------
"pkg"
{name: "pkg", version: 2}
`,
	})
}

func TestExternals(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {version} from "lib"
const other = require("other")
log version
log other
`,
		},
		entryPaths: []string{"/entry.js"},
		options: config.Options{
			External: []string{"lib", "oth*"},
		},
		externals: map[string]ast.Value{
			"lib": {Kind: ast.ValueObject, Fields: []ast.Field{{Key: "version", Value: ast.Value{Kind: ast.ValueString, Text: "1.0"}}}},
		},
		expectedChunks: "entry: entry.js\n",
		expectedOutput: `---------- entry ----------
"1.0"
{}
`,
	})
}

func TestTryRequireOfMissingModule(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
const optional = try require("./missing.js")
log optional
`,
		},
		entryPaths:      []string{"/entry.js"},
		expectedScanLog: "entry.js:1:29: warning: Could not resolve \"./missing.js\", so it will be left as a run-time import that throws [ignored-unresolved-import]\n",
		expectedOutput: `---------- entry ----------
undefined
`,
	})
}

func TestUnresolvedImport(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import "./a.js"
import "./missing.js"
`,
			"/a.js": `log "a"`,
		},
		entryPaths:      []string{"/entry.js"},
		expectedScanLog: "entry.js:2:7: error: Could not resolve \"./missing.js\" (mark it as external to exclude it from the bundle) [unresolved-import]\n",
	})
}

func TestParseError(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `import "./a.js"`,
			"/a.js": `
log "a"
import {x from "./b.js"
`,
		},
		entryPaths:      []string{"/entry.js"},
		expectedScanLog: "a.js:2:10: error: Expected \"}\" but found \"from\" [parse-failed]\n",
	})
}

func TestMissingExport(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {nope} from "./lib.js"
log nope
`,
			"/lib.js": `export let yes = 1`,
		},
		entryPaths:         []string{"/entry.js"},
		expectedCompileLog: "entry.js:1:8: error: No matching export in \"lib.js\" for import \"nope\" [no-matching-export]\n",
	})
}

func TestMissingExportTypo(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {rendr} from "./lib.js"
log rendr
`,
			"/lib.js": `export let render = 1`,
		},
		entryPaths: []string{"/entry.js"},
		expectedCompileLog: `entry.js:1:8: error: No matching export in "lib.js" for import "rendr" [no-matching-export]
  lib.js:1:11: note: Did you mean to import "render" instead?
`,
	})
}

func TestDeconflictedNames(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {f as g} from "./a.js"
function f
log name g
log name f
`,
			"/a.js": `export function f`,
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
f
f2
`,
	})
}

func TestKeepNames(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
import {f as g} from "./a.js"
function f
log name g
log name f
`,
			"/a.js": `export function f`,
		},
		entryPaths: []string{"/entry.js"},
		options: config.Options{
			KeepNames: true,
		},
		expectedOutput: `---------- entry ----------
f
f
`,
	})
}

func TestRuntimeErrorKeepsTrace(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
log "before"
log missing.x
log "after"
`,
		},
		entryPaths: []string{"/entry.js"},
		expectedOutput: `---------- entry ----------
"before"
throws: Cannot read properties of undefined (reading "x")
`,
	})
}

func TestDuplicateEntryPoints(t *testing.T) {
	default_suite.expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `log "entry"`,
		},
		entryPaths:     []string{"/entry.js", "entry.js"},
		expectedChunks: "entry: entry.js\n",
		expectedOutput: `---------- entry ----------
"entry"
---------- entry ----------
"entry"
`,
	})
}
