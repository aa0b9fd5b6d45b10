package graph

import (
	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

type WrapKind uint8

const (
	WrapNone WrapKind = iota

	// The module is evaluated lazily, CommonJS-style, the first time it is
	// required. The wrapper returns "module.exports":
	//
	//   var require_foo = __commonJS((exports, module) => {
	//     exports.foo = 123;
	//   });
	//
	WrapCJS

	// The module is evaluated lazily, ESM-style, the first time something
	// demands it. Its top-level symbols stay hoisted so that other modules can
	// still bind to them directly:
	//
	//   var foo, foo_exports = {};
	//   var init_foo = __esm(() => {
	//     foo = 123;
	//   });
	//
	WrapESM
)

func (kind WrapKind) String() string {
	switch kind {
	case WrapNone:
		return "none"
	case WrapCJS:
		return "cjs"
	case WrapESM:
		return "esm"
	default:
		panic("Internal error")
	}
}

// This contains linker-specific metadata corresponding to a module from the
// initial scan phase. It's separated out because it's conceptually only used
// for a single linking operation and because an incremental update links
// fresh clones of the same scanned modules.
type JSReprMeta struct {
	// Imports are matched with exports in a separate pass from when the matched
	// exports are actually bound to the imports. Here "binding" means adding non-
	// local dependencies on the parts in the exporting module that declare the
	// exported symbol to all parts in the importing module that use the imported
	// symbol.
	//
	// This must be a separate pass because the part for the export namespace
	// can't be generated until imports have been matched with exports, and
	// exports can't be bound to imports until that part exists since it needs
	// to participate in the binding.
	ImportsToBind map[ast.Ref]ImportData

	// This includes both named exports and re-exports.
	//
	// Named exports come from explicit export statements in the original file,
	// and are copied from the "NamedExports" field.
	//
	// Re-exports come from other files and are the result of resolving export
	// star statements (i.e. "export * from 'foo'").
	ResolvedExports map[string]ExportData

	// Never iterate over "ResolvedExports" directly. Instead, iterate over this
	// array. Some exports in that map aren't meant to end up in generated code.
	// This array excludes these exports and is also sorted, which avoids non-
	// determinism due to random map iteration order.
	SortedAndFilteredExportAliases []string

	// Aliases that were removed because two different "export *" sources
	// provided different declarations for them
	AmbiguousExportAliases []string

	// The contents of the namespace object, in alias order. Each ref is the
	// canonical declaration the alias resolves to. Filled in together with
	// the namespace export part.
	NamespaceEntries []NamespaceEntry

	// Import record indices of "export * from" statements that can only be
	// resolved at run-time. Their targets become fallback sources for names
	// the namespace object doesn't have.
	RuntimeReExports []uint32

	// This is a synthetic export that "import * as ns" binds to
	ResolvedExportStar *ExportData

	// Built lazily for "did you mean" hints
	ResolvedExportTypos *helpers.TypoDetector

	// This is the index to the automatically-generated part that creates the
	// namespace object for this module. It exists for every module that could
	// be imported with "import * as", required, or dynamically imported.
	NSExportPartIndex ast.Index32

	// The index of the automatically-generated part used to represent the
	// CommonJS or ESM wrapper. This part is empty and is only useful for tree
	// shaking and code splitting. The wrapper can't be inserted into the part
	// because the wrapper contains other parts, which can't be represented by
	// the current part system.
	WrapperPartIndex ast.Index32

	// An entry point or dynamic import target depends on everything it exports
	// through this part.
	EntryPointPartIndex ast.Index32

	Wrap WrapKind

	// If true, the namespace object will be force-included even if there are
	// no parts that reference "exports". Dynamic import targets need it since
	// the importer receives the whole namespace.
	ForceIncludeExportsForEntryPoint bool

	DidWrapDependencies bool

	// Set when "export * from" statements reachable from this module form a
	// cycle. A name missing because of such a cycle is a warning, not an error.
	HasExportStarCycle bool
}

type NamespaceEntry struct {
	Alias string
	Ref   ast.Ref
}

type ImportData struct {
	// This is an array of intermediate statements that re-exported this symbol
	// in a chain before getting to the final symbol. This can be done either with
	// "export * from" or "export {} from". If this is done with "export * from"
	// then this may not be the result of a single chain but may instead form
	// a diamond shape if this same symbol was re-exported multiple times from
	// different files.
	ReExports []ast.Dependency

	NameLoc     logger.Loc // Optional, goes with sourceIndex, ignore if zero
	Ref         ast.Ref
	SourceIndex uint32
}

type ExportData struct {
	// Export star resolution happens first before import resolution. That means
	// it cannot yet determine if duplicate names from export star resolution are
	// ambiguous (point to different symbols) or not (point to the same symbol).
	// This issue can happen in the following scenario:
	//
	//   // entry.js
	//   export * from './a'
	//   export * from './b'
	//
	//   // a.js
	//   export * from './c'
	//
	//   // b.js
	//   export {x} from './c'
	//
	//   // c.js
	//   export let x = 1, y = 2
	//
	// In this case "entry.js" should have two exports "x" and "y", neither of
	// which are ambiguous. To handle this case, ambiguity resolution must be
	// deferred until import resolution time. That is done using this array.
	PotentiallyAmbiguousExportStarRefs []ImportData

	Ref ast.Ref

	// This is the file that the named export above came from. This will be
	// different from the file that contains this object if this is a re-export.
	NameLoc     logger.Loc // Optional, goes with sourceIndex, ignore if zero
	SourceIndex uint32
}
