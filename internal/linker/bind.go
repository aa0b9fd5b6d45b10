package linker

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

func (c *linkerContext) scanImportsAndExports() error {
	c.timer.Begin("Scan imports and exports")
	defer c.timer.End("Scan imports and exports")

	// Step 1: Figure out what modules must be CommonJS
	c.timer.Begin("Step 1")
	for _, sourceIndex := range c.graph.ReachableFiles {
		repr := c.graph.JS(sourceIndex)

		for importRecordIndex := range repr.AST.ImportRecords {
			record := &repr.AST.ImportRecords[importRecordIndex]
			if !record.SourceIndex.IsValid() {
				continue
			}
			otherRepr := c.graph.JS(record.SourceIndex.GetIndex())

			switch record.Kind {
			case ast.ImportStmt:
				// Importing using ES6 syntax from a file without any ES6 syntax
				// causes that module to be considered CommonJS-style, even if it
				// doesn't have any CommonJS exports.
				//
				// That means the ES6 imports will become undefined instead of
				// causing errors. This is for compatibility with older CommonJS-
				// style bundlers.
				//
				// We emit a warning in this case but try to avoid turning the module
				// into a CommonJS module if possible. This is possible with named
				// imports (the module stays an ECMAScript module but the imports are
				// rewritten with undefined) but is not possible with star or default
				// imports.
				if (record.Flags.Has(ast.ContainsImportStar) || record.Flags.Has(ast.ContainsDefaultAlias)) &&
					otherRepr.AST.ExportsKind == ast.ExportsNone {
					otherRepr.Meta.Wrap = graph.WrapCJS
					otherRepr.AST.ExportsKind = ast.ExportsCommonJS
				}

			case ast.ImportRequire:
				// Files that are imported with require() must be wrapped so that
				// they can be lazily-evaluated
				wrapForLazyEvaluation(otherRepr)

			case ast.ImportDynamic, ast.ImportGlob:
				// Without code splitting there is nowhere else to put the module,
				// so "import()" evaluates it lazily just like "require()" does
				if !c.options.CodeSplitting {
					wrapForLazyEvaluation(otherRepr)
				}
			}
		}

		// If the output format doesn't have an implicit CommonJS wrapper, any file
		// that uses CommonJS features will need to be wrapped, even though the
		// resulting wrapper won't be invoked by other files.
		if repr.AST.ExportsKind == ast.ExportsCommonJS {
			repr.Meta.Wrap = graph.WrapCJS
		}
	}
	c.timer.End("Step 1")

	// Step 2: Propagate dynamic export status for export star statements that
	// are re-exports from a module whose exports are not statically analyzable.
	// In this case the export star must be evaluated at run time instead of at
	// bundle time.
	c.timer.Begin("Step 2")
	for _, sourceIndex := range c.graph.ReachableFiles {
		repr := c.graph.JS(sourceIndex)

		if repr.Meta.Wrap != graph.WrapNone {
			c.recursivelyWrapDependencies(sourceIndex)
		}

		if len(repr.ExportStarImportRecords) > 0 {
			visited := make(map[uint32]bool)
			c.hasDynamicExportsDueToExportStar(sourceIndex, visited)
		}

		// Even if the output file is CommonJS-like, we may still need to wrap
		// CommonJS-style files. Any file that imports a CommonJS-style file will
		// cause that file to need to be wrapped. This is because the import
		// method, whatever it is, will need to invoke the wrapper.
		for _, record := range repr.AST.ImportRecords {
			if record.SourceIndex.IsValid() {
				otherSourceIndex := record.SourceIndex.GetIndex()
				if c.graph.JS(otherSourceIndex).AST.ExportsKind == ast.ExportsCommonJS {
					c.recursivelyWrapDependencies(otherSourceIndex)
				}
			}
		}
	}
	c.timer.End("Step 2")

	// Step 3: Resolve "export * from" statements. This must be done after we
	// discover all modules that can have dynamic exports because export stars
	// are ignored for those modules.
	c.timer.Begin("Step 3")
	exportStarStack := make([]uint32, 0, 32)
	for _, sourceIndex := range c.graph.ReachableFiles {
		repr := c.graph.JS(sourceIndex)

		// Expand "export *" statements
		if len(repr.ExportStarImportRecords) > 0 {
			if c.addExportsForExportStar(repr.Meta.ResolvedExports, sourceIndex, exportStarStack[:0]) {
				repr.Meta.HasExportStarCycle = true
			}
		}

		// Also add a special export so import stars can bind to it. This must be
		// done in this step because it must come after CommonJS module discovery
		// but before matching imports with exports.
		repr.Meta.ResolvedExportStar = &graph.ExportData{
			Ref:         repr.AST.ExportsRef,
			SourceIndex: sourceIndex,
		}

		// Export stars whose targets can only be inspected at run-time become
		// fallbacks of the namespace object
		for _, importRecordIndex := range repr.ExportStarImportRecords {
			record := &repr.AST.ImportRecords[importRecordIndex]
			happensAtRunTime := !record.SourceIndex.IsValid()
			if record.SourceIndex.IsValid() {
				otherSourceIndex := record.SourceIndex.GetIndex()
				if otherSourceIndex != sourceIndex && c.graph.JS(otherSourceIndex).AST.ExportsKind.IsDynamic() {
					happensAtRunTime = true
				}
			}
			if happensAtRunTime {
				record.Flags |= ast.CallsRunTimeReExportFn
				repr.Meta.RuntimeReExports = append(repr.Meta.RuntimeReExports, importRecordIndex)
			}
		}
	}
	c.timer.End("Step 3")

	// Step 4: Match imports with exports. This must be done after we process all
	// export stars because imports can bind to export star re-exports.
	c.timer.Begin("Step 4")
	for _, sourceIndex := range c.graph.ReachableFiles {
		repr := c.graph.JS(sourceIndex)

		if len(repr.NamedImports) > 0 {
			c.matchImportsWithExportsForFile(sourceIndex)
		}

		// If we're exporting as CommonJS and this file was originally CommonJS,
		// then we'll be using the actual CommonJS "exports" and/or "module"
		// symbols. In that case make sure to mark them as such so they don't
		// get minified.
		c.createWrapperForFile(sourceIndex)

		// Allocate the namespace export part now so that other modules can
		// depend on it before its contents are known. It's filled in by step 5.
		if repr.AST.ExportsKind != ast.ExportsCommonJS {
			partIndex := c.graph.AddPartToFile(sourceIndex, ast.Part{
				DeclaredSymbols:      []ast.DeclaredSymbol{{Ref: repr.AST.ExportsRef, IsTopLevel: true}},
				CanBeRemovedIfUnused: true,
				ForceTreeShaking:     true,
			})
			repr.Meta.NSExportPartIndex = ast.MakeIndex32(partIndex)
		}
	}
	c.timer.End("Step 4")

	// Step 5: Create namespace exports for every file. This is always necessary
	// for CommonJS files, and is also necessary for other files if they are
	// imported using an import star statement.
	c.timer.Begin("Step 5")
	group := errgroup.Group{}
	group.SetLimit(c.concurrency())
	for _, sourceIndex := range c.graph.ReachableFiles {
		sourceIndex := sourceIndex

		// This is the slowest step and is also parallelizable, so do this in parallel.
		group.Go(func() (err error) {
			defer c.recoverInternalError(&err)

			// Now that all exports have been resolved, sort and filter them to
			// create something we can iterate over later
			c.sortAndFilterExportAliases(sourceIndex)

			// Export creation uses "SortedAndFilteredExportAliases" so this must
			// come second after we fill in that array
			c.createExportsForFile(sourceIndex)

			// Each part tracks the other parts it depends on within this file
			c.addLocalDependencies(sourceIndex)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		c.timer.End("Step 5")
		return err
	}
	c.timer.End("Step 5")

	// Step 6: Bind imports to exports. This adds non-local dependencies on the
	// imported symbol's declaration to all parts that use the imported symbol.
	// This must happen after the namespace export parts exist since those can
	// be the target of an import.
	c.timer.Begin("Step 6")
	for _, sourceIndex := range c.graph.ReachableFiles {
		c.bindImportsForFile(sourceIndex)
	}
	c.timer.End("Step 6")

	return nil
}

func (c *linkerContext) concurrency() int {
	if c.options.Concurrency < 1 {
		return 1
	}
	return c.options.Concurrency
}

func wrapForLazyEvaluation(repr *graph.JSRepr) {
	if repr.Meta.Wrap != graph.WrapNone {
		return
	}
	if repr.AST.ExportsKind == ast.ExportsESM || repr.AST.ExportsKind == ast.ExportsESMWithDynamicFallback {
		repr.Meta.Wrap = graph.WrapESM
	} else {
		repr.Meta.Wrap = graph.WrapCJS
		repr.AST.ExportsKind = ast.ExportsCommonJS
	}
}

func (c *linkerContext) recursivelyWrapDependencies(sourceIndex uint32) {
	repr := c.graph.JS(sourceIndex)
	if repr.Meta.DidWrapDependencies {
		return
	}
	repr.Meta.DidWrapDependencies = true

	// This module must be wrapped
	if repr.Meta.Wrap == graph.WrapNone {
		if repr.AST.ExportsKind == ast.ExportsCommonJS {
			repr.Meta.Wrap = graph.WrapCJS
		} else {
			repr.Meta.Wrap = graph.WrapESM
		}
	}

	// All dependencies must also be wrapped
	for _, record := range repr.AST.ImportRecords {
		if record.SourceIndex.IsValid() {
			c.recursivelyWrapDependencies(record.SourceIndex.GetIndex())
		}
	}
}

func (c *linkerContext) hasDynamicExportsDueToExportStar(sourceIndex uint32, visited map[uint32]bool) bool {
	// Terminate the traversal now if this file already has dynamic exports
	repr := c.graph.JS(sourceIndex)
	if repr.AST.ExportsKind.IsDynamic() {
		return true
	}

	// Avoid infinite loops due to cycles in the export star graph
	if visited[sourceIndex] {
		return false
	}
	visited[sourceIndex] = true

	// Scan over the export star graph
	for _, importRecordIndex := range repr.ExportStarImportRecords {
		record := &repr.AST.ImportRecords[importRecordIndex]

		// This file has dynamic exports if the exported imports are from a file
		// that either has dynamic exports directly or transitively by itself
		// having an export star from a file with dynamic exports.
		if !record.SourceIndex.IsValid() ||
			(record.SourceIndex.GetIndex() != sourceIndex && c.hasDynamicExportsDueToExportStar(record.SourceIndex.GetIndex(), visited)) {
			repr.AST.ExportsKind = ast.ExportsESMWithDynamicFallback
			return true
		}
	}

	return false
}

// Returns true if the traversal ran into a cycle of "export *" statements.
// Names that are missing because of such a cycle are reported as warnings
// instead of errors.
func (c *linkerContext) addExportsForExportStar(
	resolvedExports map[string]graph.ExportData,
	sourceIndex uint32,
	sourceIndexStack []uint32,
) (sawCycle bool) {
	// Avoid infinite loops due to cycles in the export star graph
	for _, prevSourceIndex := range sourceIndexStack {
		if prevSourceIndex == sourceIndex {
			return true
		}
	}
	sourceIndexStack = append(sourceIndexStack, sourceIndex)
	repr := c.graph.JS(sourceIndex)

	for _, importRecordIndex := range repr.ExportStarImportRecords {
		record := &repr.AST.ImportRecords[importRecordIndex]
		if !record.SourceIndex.IsValid() {
			// This will be resolved at run time instead
			continue
		}
		otherSourceIndex := record.SourceIndex.GetIndex()

		// Export stars from a CommonJS module don't work because they can't be
		// statically discovered. Just silently ignore them in this case.
		otherRepr := c.graph.JS(otherSourceIndex)
		if otherRepr.AST.ExportsKind == ast.ExportsCommonJS {
			// All exports will be resolved at run time instead
			continue
		}

		// Accumulate this file's exports
	nextExport:
		for alias, name := range otherRepr.NamedExports {
			// ES6 export star statements ignore exports named "default"
			if alias == "default" {
				continue
			}

			// This export star is shadowed if any file in the stack has a matching real named export
			for _, prevSourceIndex := range sourceIndexStack {
				if _, ok := c.graph.JS(prevSourceIndex).NamedExports[alias]; ok {
					continue nextExport
				}
			}

			if existing, ok := resolvedExports[alias]; !ok {
				// Initialize the re-export
				resolvedExports[alias] = graph.ExportData{
					Ref:         name.Ref,
					SourceIndex: otherSourceIndex,
					NameLoc:     name.AliasLoc,
				}

				// Make sure the symbol is marked as imported so that code splitting
				// imports it correctly if it ends up being shared with another chunk
				repr.Meta.ImportsToBind[name.Ref] = graph.ImportData{
					Ref:         name.Ref,
					SourceIndex: otherSourceIndex,
				}
			} else if existing.SourceIndex != otherSourceIndex {
				// Two different re-exports colliding makes it potentially ambiguous
				existing.PotentiallyAmbiguousExportStarRefs =
					append(existing.PotentiallyAmbiguousExportStarRefs, graph.ImportData{
						SourceIndex: otherSourceIndex,
						Ref:         name.Ref,
						NameLoc:     name.AliasLoc,
					})
				resolvedExports[alias] = existing
			}
		}

		// Search further through this file's export stars
		if c.addExportsForExportStar(resolvedExports, otherSourceIndex, sourceIndexStack) {
			sawCycle = true
		}
	}
	return
}

func (c *linkerContext) createWrapperForFile(sourceIndex uint32) {
	repr := c.graph.JS(sourceIndex)
	identifier := c.graph.Files[sourceIndex].InputFile.Source.IdentifierName

	switch repr.Meta.Wrap {
	// If this is a CommonJS file, we're going to need to generate a wrapper
	// for the CommonJS closure. That will end up looking something like this:
	//
	//   var require_foo = __commonJS((exports, module) => {
	//     ...
	//   });
	//
	// The wrapper can't be represented as a part since it contains other
	// parts. Instead we append a dummy part to the end of the file that
	// declares the wrapper and let the general-purpose reachability analysis
	// take care of it.
	case graph.WrapCJS:
		c.graph.Symbols.Get(repr.AST.WrapperRef).OriginalName = "require_" + identifier
		partIndex := c.graph.AddPartToFile(sourceIndex, ast.Part{
			SymbolUses: map[ast.Ref]ast.SymbolUse{
				repr.AST.WrapperRef: {CountEstimate: 1},
			},
			DeclaredSymbols: []ast.DeclaredSymbol{
				{Ref: repr.AST.ExportsRef, IsTopLevel: true},
				{Ref: repr.AST.ModuleRef, IsTopLevel: true},
				{Ref: repr.AST.WrapperRef, IsTopLevel: true},
			},
		})
		repr.Meta.WrapperPartIndex = ast.MakeIndex32(partIndex)

	// If this is a lazily-initialized ESM file, we're going to need to
	// generate a wrapper for the ESM closure. That will end up looking
	// something like this:
	//
	//   var init_foo = __esm(() => {
	//     ...
	//   });
	//
	case graph.WrapESM:
		c.graph.Symbols.Get(repr.AST.WrapperRef).OriginalName = "init_" + identifier
		partIndex := c.graph.AddPartToFile(sourceIndex, ast.Part{
			SymbolUses: map[ast.Ref]ast.SymbolUse{
				repr.AST.WrapperRef: {CountEstimate: 1},
			},
			DeclaredSymbols: []ast.DeclaredSymbol{
				{Ref: repr.AST.WrapperRef, IsTopLevel: true},
			},
		})
		repr.Meta.WrapperPartIndex = ast.MakeIndex32(partIndex)
	}
}

func (c *linkerContext) matchImportsWithExportsForFile(sourceIndex uint32) {
	repr := c.graph.JS(sourceIndex)
	source := c.source(sourceIndex)

	// Sort imports for determinism. Otherwise our unit tests will randomly
	// fail sometimes when error messages are reordered.
	sortedImportRefs := make([]int, 0, len(repr.NamedImports))
	for ref := range repr.NamedImports {
		sortedImportRefs = append(sortedImportRefs, int(ref.InnerIndex))
	}
	sort.Ints(sortedImportRefs)

	// Pair imports with their matching exports
	for _, innerIndex := range sortedImportRefs {
		// Re-use memory for the cycle detector
		c.cycleDetector = c.cycleDetector[:0]

		importRef := ast.Ref{SourceIndex: sourceIndex, InnerIndex: uint32(innerIndex)}
		namedImport := repr.NamedImports[importRef]
		result, reExports := c.matchImportWithExport(importTracker{sourceIndex: sourceIndex, importRef: importRef}, nil)

		switch result.kind {
		case matchImportIgnore:

		case matchImportNormal:
			repr.Meta.ImportsToBind[importRef] = graph.ImportData{
				ReExports:   reExports,
				SourceIndex: result.sourceIndex,
				Ref:         result.ref,
			}

		case matchImportNamespace:
			c.graph.Symbols.Get(importRef).NamespaceAlias = &ast.NamespaceAlias{
				NamespaceRef: result.namespaceRef,
				Alias:        result.alias,
			}

		case matchImportNormalAndNamespace:
			repr.Meta.ImportsToBind[importRef] = graph.ImportData{
				ReExports:   reExports,
				SourceIndex: result.sourceIndex,
				Ref:         result.ref,
			}

			c.graph.Symbols.Get(importRef).NamespaceAlias = &ast.NamespaceAlias{
				NamespaceRef: result.namespaceRef,
				Alias:        result.alias,
			}

		case matchImportCycle:
			// A cycle of re-exports never reaches a declaration. The binding
			// is undefined at run-time, which is a warning and not an error.
			c.graph.Symbols.Get(importRef).ImportItemStatus = ast.ImportItemMissing
			c.log.AddID(logger.MsgID_Link_CircularReexport, logger.Warning, source,
				rangeOfIdentifier(source, namedImport.AliasLoc, namedImport.Alias),
				fmt.Sprintf("Import %q will always be undefined because it is part of a re-export cycle", namedImport.Alias))

		case matchImportAmbiguous:
			r := rangeOfIdentifier(source, namedImport.AliasLoc, namedImport.Alias)
			var notes []logger.MsgData

			// Provide the locations of both ambiguous exports if possible
			if result.nameLoc.Start != 0 && result.otherNameLoc.Start != 0 {
				a := c.source(result.sourceIndex)
				b := c.source(result.otherSourceIndex)
				notes = []logger.MsgData{
					a.MsgData(rangeOfIdentifier(a, result.nameLoc, namedImport.Alias), "One matching export is here:"),
					b.MsgData(rangeOfIdentifier(b, result.otherNameLoc, namedImport.Alias), "Another matching export is here:"),
				}
			}

			// Names that "export *" provides more than once are left out of the
			// namespace, so reading one observes undefined
			c.graph.Symbols.Get(importRef).ImportItemStatus = ast.ImportItemMissing
			c.log.AddIDWithNotes(logger.MsgID_Link_AmbiguousExport, logger.Warning, source, r,
				fmt.Sprintf("Import %q will always be undefined because there are multiple matching exports", namedImport.Alias), notes)
		}
	}
}

type matchImportKind uint8

const (
	// The import is either external or undefined
	matchImportIgnore matchImportKind = iota

	// "sourceIndex" and "ref" are in use
	matchImportNormal

	// "namespaceRef" and "alias" are in use
	matchImportNamespace

	// Both "matchImportNormal" and "matchImportNamespace"
	matchImportNormalAndNamespace

	// The import could not be evaluated due to a cycle
	matchImportCycle

	// The import resolved to multiple symbols via "export * from"
	matchImportAmbiguous
)

type matchImportResult struct {
	alias            string
	kind             matchImportKind
	namespaceRef     ast.Ref
	sourceIndex      uint32
	nameLoc          logger.Loc // Optional, goes with sourceIndex, ignore if zero
	otherSourceIndex uint32
	otherNameLoc     logger.Loc // Optional, goes with otherSourceIndex, ignore if zero
	ref              ast.Ref
}

func (c *linkerContext) matchImportWithExport(
	tracker importTracker, reExportsIn []ast.Dependency,
) (result matchImportResult, reExports []ast.Dependency) {
	var ambiguousResults []matchImportResult
	reExports = reExportsIn

loop:
	for {
		// Make sure we avoid infinite loops trying to resolve cycles:
		//
		//   // foo.js
		//   export {a as b} from './foo.js'
		//   export {b as c} from './foo.js'
		//   export {c as a} from './foo.js'
		//
		// This uses a O(n^2) array scan instead of a O(n) map because the vast
		// majority of cases have one or two elements.
		for _, previousTracker := range c.cycleDetector {
			if tracker == previousTracker {
				result = matchImportResult{kind: matchImportCycle}
				break loop
			}
		}
		c.cycleDetector = append(c.cycleDetector, tracker)

		// Resolve the import by one step
		nextTracker, status, potentiallyAmbiguousExportStarRefs := c.advanceImportTracker(tracker)
		trackerRepr := c.graph.JS(tracker.sourceIndex)
		namedImport := trackerRepr.NamedImports[tracker.importRef]

		switch status {
		case importCommonJS, importCommonJSWithoutExports, importExternal:
			// If it's a CommonJS or external file, rewrite the import to a
			// property access. Don't do this if the namespace reference is invalid
			// though. This is the case for star imports, where the import is the
			// namespace.
			if namedImport.NamespaceRef != ast.InvalidRef {
				if result.kind == matchImportNormal {
					result.kind = matchImportNormalAndNamespace
					result.namespaceRef = namedImport.NamespaceRef
					result.alias = namedImport.Alias
				} else {
					result = matchImportResult{
						kind:         matchImportNamespace,
						namespaceRef: namedImport.NamespaceRef,
						alias:        namedImport.Alias,
					}
				}
			}

			switch status {
			case importCommonJSWithoutExports:
				// Warn about importing from a file that is known to not have any exports
				c.graph.Symbols.Get(tracker.importRef).ImportItemStatus = ast.ImportItemMissing
				c.warnImportIsUndefined(tracker.sourceIndex, namedImport, fmt.Sprintf(
					"Import %q will always be undefined because the file %q has no exports",
					namedImport.Alias, c.prettyPath(nextTracker.sourceIndex)))

			case importCommonJS:
				// Only complain when the exports are known exactly
				otherRepr := c.graph.Files[nextTracker.sourceIndex].InputFile.Repr
				if cjs, ok := otherRepr.(*graph.CJSRepr); ok && !namedImport.AliasIsStar &&
					namedImport.Alias != "default" && cjs.Inference.IsExact && !cjs.Inference.Has(namedImport.Alias) {
					c.warnImportIsUndefined(tracker.sourceIndex, namedImport, fmt.Sprintf(
						"Import %q will always be undefined because %q does not export it",
						namedImport.Alias, c.prettyPath(nextTracker.sourceIndex)))
				}
			}

		case importDynamicFallback:
			// If it's a file with dynamic export fallback, rewrite the import to a property access
			if result.kind == matchImportNormal {
				result.kind = matchImportNormalAndNamespace
				result.namespaceRef = nextTracker.importRef
				result.alias = namedImport.Alias
			} else {
				result = matchImportResult{
					kind:         matchImportNamespace,
					namespaceRef: nextTracker.importRef,
					alias:        namedImport.Alias,
				}
			}

		case importNoMatch:
			symbol := c.graph.Symbols.Get(tracker.importRef)
			source := c.source(tracker.sourceIndex)
			r := rangeOfIdentifier(source, namedImport.AliasLoc, namedImport.Alias)
			nextRepr := c.graph.JS(nextTracker.sourceIndex)
			nextPath := c.prettyPath(nextTracker.sourceIndex)

			switch {
			case nextRepr.Meta.HasExportStarCycle:
				// The name might have come from somewhere in the cycle but
				// nothing in it declares the name
				symbol.ImportItemStatus = ast.ImportItemMissing
				c.log.AddID(logger.MsgID_Link_CircularReexport, logger.Warning, source, r, fmt.Sprintf(
					"Import %q will always be undefined because the \"export *\" statements in %q form a cycle without declaring it",
					namedImport.Alias, nextPath))

			case symbol.ImportItemStatus == ast.ImportItemGenerated:
				// This is not an error because although it appears to be a named
				// import, it's actually an automatically-generated named import
				// that was originally a property access on an import star
				// namespace object:
				//
				//   import * as ns from 'foo'
				//   const undefinedValue = ns.notAnExport
				//
				// If this code wasn't bundled, this property access would just
				// resolve to undefined at run-time instead of failing at binding-
				// time, so we rewrite the value to undefined and only warn.
				symbol.ImportItemStatus = ast.ImportItemMissing
				msg := logger.Msg{
					Kind: logger.Warning,
					Data: source.MsgData(r, fmt.Sprintf(
						"Import %q will always be undefined because there is no matching export in %q",
						namedImport.Alias, nextPath)),
				}
				if helpers.IsInsideNodeModules(source.KeyPath.Text) {
					msg.Kind = logger.Debug
				}
				c.maybeCorrectObviousTypo(nextRepr, namedImport.Alias, &msg)
				c.log.AddMsgID(logger.MsgID_Link_ImportIsUndefined, msg)

			default:
				msg := logger.Msg{
					Kind: logger.Error,
					Data: source.MsgData(r, fmt.Sprintf(
						"No matching export in %q for import %q", nextPath, namedImport.Alias)),
				}
				c.maybeCorrectObviousTypo(nextRepr, namedImport.Alias, &msg)
				c.log.AddMsgID(logger.MsgID_Link_NoMatchingExport, msg)
			}

		case importFound:
			// If there are multiple ambiguous results due to use of "export * from"
			// statements, trace them all to see if they point to different things.
			for _, ambiguousTracker := range potentiallyAmbiguousExportStarRefs {
				// If this is a re-export of another import, follow the import
				if _, ok := c.graph.JS(ambiguousTracker.SourceIndex).NamedImports[ambiguousTracker.Ref]; ok {
					// Save and restore the cycle detector to avoid mixing information
					oldCycleDetector := c.cycleDetector
					ambiguousResult, newReExportFiles := c.matchImportWithExport(importTracker{
						sourceIndex: ambiguousTracker.SourceIndex,
						importRef:   ambiguousTracker.Ref,
					}, reExports)
					c.cycleDetector = oldCycleDetector
					ambiguousResults = append(ambiguousResults, ambiguousResult)
					reExports = newReExportFiles
				} else {
					ambiguousResults = append(ambiguousResults, matchImportResult{
						kind:        matchImportNormal,
						sourceIndex: ambiguousTracker.SourceIndex,
						ref:         ambiguousTracker.Ref,
						nameLoc:     ambiguousTracker.NameLoc,
					})
				}
			}

			// Defer the actual binding of this import until after we generate
			// namespace export code for all files. This has to be done for all
			// import-to-export matches, not just the initial import to the final
			// export, since all imports and re-exports must be merged together
			// for correctness.
			result = matchImportResult{
				kind:        matchImportNormal,
				sourceIndex: nextTracker.sourceIndex,
				ref:         nextTracker.importRef,
				nameLoc:     nextTracker.nameLoc,
			}

			// Depend on the statement(s) that declared this import symbol in the
			// original file
			for _, resolvedPartIndex := range trackerRepr.TopLevelSymbolToParts[tracker.importRef] {
				reExports = append(reExports, ast.Dependency{
					SourceIndex: tracker.sourceIndex,
					PartIndex:   resolvedPartIndex,
				})
			}

			// If this is a re-export of another import, continue for another
			// iteration of the loop to resolve that import as well
			if _, ok := c.graph.JS(nextTracker.sourceIndex).NamedImports[nextTracker.importRef]; ok {
				tracker = nextTracker
				continue
			}

		default:
			panic("Internal error")
		}

		// Stop now if we didn't explicitly "continue" above
		break
	}

	// If there is a potential ambiguity, all results must be the same
	for _, ambiguousResult := range ambiguousResults {
		if ambiguousResult != result {
			if result.kind == matchImportNormal && ambiguousResult.kind == matchImportNormal &&
				result.nameLoc.Start != 0 && ambiguousResult.nameLoc.Start != 0 {
				return matchImportResult{
					kind:             matchImportAmbiguous,
					sourceIndex:      result.sourceIndex,
					nameLoc:          result.nameLoc,
					otherSourceIndex: ambiguousResult.sourceIndex,
					otherNameLoc:     ambiguousResult.nameLoc,
				}, nil
			}
			return matchImportResult{kind: matchImportAmbiguous}, nil
		}
	}

	return
}

func (c *linkerContext) warnImportIsUndefined(sourceIndex uint32, namedImport graph.NamedImport, text string) {
	source := c.source(sourceIndex)
	kind := logger.Warning
	if helpers.IsInsideNodeModules(source.KeyPath.Text) {
		kind = logger.Debug
	}
	c.log.AddID(logger.MsgID_Link_ImportIsUndefined, kind, source,
		rangeOfIdentifier(source, namedImport.AliasLoc, namedImport.Alias), text)
}

// Attempt to correct an import name with a typo
func (c *linkerContext) maybeCorrectObviousTypo(repr *graph.JSRepr, name string, msg *logger.Msg) {
	if repr.Meta.ResolvedExportTypos == nil {
		valid := make([]string, 0, len(repr.Meta.ResolvedExports))
		for alias := range repr.Meta.ResolvedExports {
			valid = append(valid, alias)
		}
		sort.Strings(valid)
		typos := helpers.MakeTypoDetector(valid)
		repr.Meta.ResolvedExportTypos = &typos
	}

	if corrected, ok := repr.Meta.ResolvedExportTypos.MaybeCorrectTypo(name); ok {
		if msg.Data.Location != nil {
			msg.Data.Location.Suggestion = corrected
		}
		export := repr.Meta.ResolvedExports[corrected]
		text := fmt.Sprintf("Did you mean to import %q instead?", corrected)
		var note logger.MsgData
		if export.NameLoc.Start == 0 {
			// Don't report a source location for definitions without one. This can
			// happen with automatically-generated exports from non-JavaScript files.
			note.Text = text
		} else {
			source := c.source(export.SourceIndex)
			note = source.MsgData(rangeOfIdentifier(source, export.NameLoc, corrected), text)
		}
		msg.Notes = append(msg.Notes, note)
	}
}

type importTracker struct {
	sourceIndex uint32
	nameLoc     logger.Loc // Optional, goes with sourceIndex, ignore if zero
	importRef   ast.Ref
}

type importStatus uint8

const (
	// The imported file has no matching export
	importNoMatch importStatus = iota

	// The imported file has a matching export
	importFound

	// The imported file is CommonJS and has unknown exports
	importCommonJS

	// The import is missing but there is a dynamic fallback object
	importDynamicFallback

	// The import was treated as a CommonJS import but the file is known to have no exports
	importCommonJSWithoutExports

	// The imported file is external and has unknown exports
	importExternal
)

func (c *linkerContext) advanceImportTracker(tracker importTracker) (importTracker, importStatus, []graph.ImportData) {
	repr := c.graph.JS(tracker.sourceIndex)
	namedImport := repr.NamedImports[tracker.importRef]

	// Is this an external file?
	record := &repr.AST.ImportRecords[namedImport.ImportRecordIndex]
	if !record.SourceIndex.IsValid() {
		return importTracker{}, importExternal, nil
	}

	// Is this a named import of a file without any exports?
	otherSourceIndex := record.SourceIndex.GetIndex()
	otherRepr := c.graph.JS(otherSourceIndex)
	if !namedImport.AliasIsStar && namedImport.Alias != "default" &&
		len(otherRepr.AST.ExportRecords) == 0 && !otherRepr.AST.UsesCommonJSFeatures() {
		// Just warn about it and replace the import with "undefined"
		return importTracker{sourceIndex: otherSourceIndex, importRef: ast.InvalidRef}, importCommonJSWithoutExports, nil
	}

	// Is this a CommonJS file?
	if otherRepr.AST.ExportsKind == ast.ExportsCommonJS {
		return importTracker{sourceIndex: otherSourceIndex, importRef: ast.InvalidRef}, importCommonJS, nil
	}

	// Match this import star with an export star from the imported file
	if matchingExport := otherRepr.Meta.ResolvedExportStar; namedImport.AliasIsStar && matchingExport != nil {
		// Check to see if this is a re-export of another import
		return importTracker{
			sourceIndex: matchingExport.SourceIndex,
			importRef:   matchingExport.Ref,
			nameLoc:     matchingExport.NameLoc,
		}, importFound, matchingExport.PotentiallyAmbiguousExportStarRefs
	}

	// Match this import up with an export from the imported file
	if matchingExport, ok := otherRepr.Meta.ResolvedExports[namedImport.Alias]; ok {
		// Check to see if this is a re-export of another import
		return importTracker{
			sourceIndex: matchingExport.SourceIndex,
			importRef:   matchingExport.Ref,
			nameLoc:     matchingExport.NameLoc,
		}, importFound, matchingExport.PotentiallyAmbiguousExportStarRefs
	}

	// Is this a file with dynamic exports?
	if otherRepr.AST.ExportsKind == ast.ExportsESMWithDynamicFallback {
		return importTracker{sourceIndex: otherSourceIndex, importRef: otherRepr.AST.ExportsRef}, importDynamicFallback, nil
	}

	return importTracker{sourceIndex: otherSourceIndex}, importNoMatch, nil
}

func (c *linkerContext) sortAndFilterExportAliases(sourceIndex uint32) {
	////////////////////////////////////////////////////////////////////////////////
	// WARNING: This method is run in parallel over all files. Do not mutate data
	// for other files within this method or you will create a data race.
	////////////////////////////////////////////////////////////////////////////////

	repr := c.graph.JS(sourceIndex)
	aliases := make([]string, 0, len(repr.Meta.ResolvedExports))
	var ambiguous []string

nextAlias:
	for alias, export := range repr.Meta.ResolvedExports {
		// Re-exporting multiple symbols with the same name causes an ambiguous
		// export. These names cannot be used and should not end up in generated code.
		if len(export.PotentiallyAmbiguousExportStarRefs) > 0 {
			mainRef := export.Ref
			mainLoc := export.NameLoc
			if imported, ok := c.graph.JS(export.SourceIndex).Meta.ImportsToBind[export.Ref]; ok {
				mainRef = imported.Ref
				mainLoc = imported.NameLoc
			}

			for _, ambiguousExport := range export.PotentiallyAmbiguousExportStarRefs {
				ambiguousRef := ambiguousExport.Ref
				ambiguousLoc := ambiguousExport.NameLoc
				if imported, ok := c.graph.JS(ambiguousExport.SourceIndex).Meta.ImportsToBind[ambiguousExport.Ref]; ok {
					ambiguousRef = imported.Ref
					ambiguousLoc = imported.NameLoc
				}

				if mainRef != ambiguousRef {
					c.reportAmbiguousExport(sourceIndex, alias,
						export.SourceIndex, mainRef, mainLoc,
						ambiguousExport.SourceIndex, ambiguousRef, ambiguousLoc)
					ambiguous = append(ambiguous, alias)
					continue nextAlias
				}
			}
		}

		aliases = append(aliases, alias)
	}

	sort.Strings(aliases)
	sort.Strings(ambiguous)
	repr.Meta.SortedAndFilteredExportAliases = aliases
	repr.Meta.AmbiguousExportAliases = ambiguous
}

func (c *linkerContext) reportAmbiguousExport(
	sourceIndex uint32, alias string,
	mainSourceIndex uint32, mainRef ast.Ref, mainLoc logger.Loc,
	otherSourceIndex uint32, otherRef ast.Ref, otherLoc logger.Loc,
) {
	// Order the pair so both directions count as the same report
	key := [2]ast.Ref{mainRef, otherRef}
	if c.graph.StableRef(otherRef).Less(c.graph.StableRef(mainRef)) {
		key = [2]ast.Ref{otherRef, mainRef}
	}

	c.ambiguousMutex.Lock()
	seen := c.reportedAmbiguous[key]
	c.reportedAmbiguous[key] = true
	c.ambiguousMutex.Unlock()
	if seen {
		return
	}

	mainSource := c.source(mainSourceIndex)
	otherSource := c.source(otherSourceIndex)
	c.log.AddIDWithNotes(logger.MsgID_Link_AmbiguousExport, logger.Warning, nil, logger.Range{},
		fmt.Sprintf("Re-export of %q in %q is ambiguous and has been removed", alias, c.prettyPath(sourceIndex)),
		[]logger.MsgData{
			mainSource.MsgData(rangeOfIdentifier(mainSource, mainLoc, alias),
				fmt.Sprintf("One definition of %q comes from %q here:", alias, mainSource.PrettyPath)),
			otherSource.MsgData(rangeOfIdentifier(otherSource, otherLoc, alias),
				fmt.Sprintf("Another definition of %q comes from %q here:", alias, otherSource.PrettyPath)),
		})
}

func (c *linkerContext) createExportsForFile(sourceIndex uint32) {
	////////////////////////////////////////////////////////////////////////////////
	// WARNING: This method is run in parallel over all files. Do not mutate data
	// for other files within this method or you will create a data race.
	////////////////////////////////////////////////////////////////////////////////

	repr := c.graph.JS(sourceIndex)
	if !repr.Meta.NSExportPartIndex.IsValid() {
		return
	}

	// One entry per export, each read through its canonical declaration so
	// that the namespace object observes live bindings
	entries := make([]graph.NamespaceEntry, 0, len(repr.Meta.SortedAndFilteredExportAliases))
	nsExportDependencies := []ast.Dependency{}
	nsExportSymbolUses := make(map[ast.Ref]ast.SymbolUse)
	for _, alias := range repr.Meta.SortedAndFilteredExportAliases {
		export := repr.Meta.ResolvedExports[alias]

		// If this is an export of an import, reference the symbol that the import
		// was eventually resolved to. We need to do this because imports have
		// already been resolved by this point, so we can't generate a new import
		// and have that be resolved later.
		if importData, ok := c.graph.JS(export.SourceIndex).Meta.ImportsToBind[export.Ref]; ok {
			export.Ref = importData.Ref
			export.SourceIndex = importData.SourceIndex
			nsExportDependencies = append(nsExportDependencies, importData.ReExports...)
		}

		entries = append(entries, graph.NamespaceEntry{Alias: alias, Ref: export.Ref})
		nsExportSymbolUses[export.Ref] = ast.SymbolUse{CountEstimate: 1}

		// Make sure the part that declares the export is included
		for _, partIndex := range c.graph.JS(export.SourceIndex).TopLevelSymbolToParts[export.Ref] {
			// Use a non-local dependency since this is likely from a different
			// file if it came in through an export star
			nsExportDependencies = append(nsExportDependencies, ast.Dependency{
				SourceIndex: export.SourceIndex,
				PartIndex:   partIndex,
			})
		}
	}

	// Run-time fallbacks need the statements that import their targets
	for _, importRecordIndex := range repr.Meta.RuntimeReExports {
		for partIndex, part := range repr.AST.Parts {
			for _, index := range part.ImportRecordIndices {
				if index == importRecordIndex {
					nsExportDependencies = append(nsExportDependencies, ast.Dependency{
						SourceIndex: sourceIndex,
						PartIndex:   uint32(partIndex),
					})
				}
			}
		}
	}

	// Initialize the part that was allocated for us earlier. The information
	// here will be used after this during tree shaking.
	repr.AST.Parts[repr.Meta.NSExportPartIndex.GetIndex()] = ast.Part{
		Ops:             []ast.Op{{Kind: ast.OpExportsObject, Target: repr.AST.ExportsRef}},
		SymbolUses:      nsExportSymbolUses,
		Dependencies:    nsExportDependencies,
		DeclaredSymbols: []ast.DeclaredSymbol{{Ref: repr.AST.ExportsRef, IsTopLevel: true}},

		// This can be removed if nothing uses it
		CanBeRemovedIfUnused: true,

		// Make sure this is trimmed if unused even if tree shaking is disabled
		ForceTreeShaking: true,
	}
	repr.Meta.NamespaceEntries = entries
}

func (c *linkerContext) addLocalDependencies(sourceIndex uint32) {
	////////////////////////////////////////////////////////////////////////////////
	// WARNING: This method is run in parallel over all files. Do not mutate data
	// for other files within this method or you will create a data race.
	////////////////////////////////////////////////////////////////////////////////

	repr := c.graph.JS(sourceIndex)
	localDependencies := make(map[uint32]uint32)
	for partIndex := range repr.AST.Parts {
		part := &repr.AST.Parts[partIndex]

		// Sort the uses so the dependency list doesn't depend on map order
		refs := make([]ast.Ref, 0, len(part.SymbolUses))
		for ref := range part.SymbolUses {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].InnerIndex < refs[j].InnerIndex })

		for _, ref := range refs {
			// Imports of other files are handled in step 6
			if ref.SourceIndex != sourceIndex {
				continue
			}
			for _, otherPartIndex := range repr.TopLevelSymbolToParts[ref] {
				if oldPartIndex, ok := localDependencies[otherPartIndex]; !ok || oldPartIndex != uint32(partIndex) {
					localDependencies[otherPartIndex] = uint32(partIndex)
					part.Dependencies = append(part.Dependencies, ast.Dependency{
						SourceIndex: sourceIndex,
						PartIndex:   otherPartIndex,
					})
				}
			}
		}
	}
}

func (c *linkerContext) bindImportsForFile(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	repr := file.InputFile.Repr.JS()

	// Imported symbols pull in the parts that declare them, plus every part
	// along the way that re-exported them
	for partIndex := range repr.AST.Parts {
		part := &repr.AST.Parts[partIndex]
		refs := make([]ast.Ref, 0, len(part.SymbolUses))
		for ref := range part.SymbolUses {
			if _, ok := repr.Meta.ImportsToBind[ref]; ok {
				refs = append(refs, ref)
			}
		}
		sort.Slice(refs, func(i, j int) bool {
			return c.graph.StableRef(refs[i]).Less(c.graph.StableRef(refs[j]))
		})

		for _, ref := range refs {
			importData := repr.Meta.ImportsToBind[ref]
			for _, resolvedPartIndex := range c.graph.JS(importData.SourceIndex).TopLevelSymbolToParts[importData.Ref] {
				part.Dependencies = append(part.Dependencies, ast.Dependency{
					SourceIndex: importData.SourceIndex,
					PartIndex:   resolvedPartIndex,
				})
			}

			// Also bind to the re-export statements along the way
			part.Dependencies = append(part.Dependencies, importData.ReExports...)
		}
	}

	// Merge these symbols so they will share the same name
	importRefs := make([]ast.Ref, 0, len(repr.Meta.ImportsToBind))
	for importRef := range repr.Meta.ImportsToBind {
		importRefs = append(importRefs, importRef)
	}
	sort.Slice(importRefs, func(i, j int) bool {
		return c.graph.StableRef(importRefs[i]).Less(c.graph.StableRef(importRefs[j]))
	})
	for _, importRef := range importRefs {
		importData := repr.Meta.ImportsToBind[importRef]
		if importRef != importData.Ref {
			ast.MergeSymbols(c.graph.Symbols, importRef, importData.Ref)
		}
	}

	// If this is an entry point, depend on all exports so they are included
	if file.IsEntryPoint() {
		var dependencies []ast.Dependency

		for _, alias := range repr.Meta.SortedAndFilteredExportAliases {
			export := repr.Meta.ResolvedExports[alias]
			targetSourceIndex := export.SourceIndex
			targetRef := export.Ref

			// If this is an import, then target what the import points to
			targetRepr := c.graph.JS(targetSourceIndex)
			if importData, ok := targetRepr.Meta.ImportsToBind[targetRef]; ok {
				targetSourceIndex = importData.SourceIndex
				targetRef = importData.Ref
				targetRepr = c.graph.JS(targetSourceIndex)
				dependencies = append(dependencies, importData.ReExports...)
			}

			// Pull in all declarations of this symbol
			for _, partIndex := range targetRepr.TopLevelSymbolToParts[targetRef] {
				dependencies = append(dependencies, ast.Dependency{
					SourceIndex: targetSourceIndex,
					PartIndex:   partIndex,
				})
			}
		}

		// Ensure "exports" is included if the namespace is handed out whole
		if repr.Meta.ForceIncludeExportsForEntryPoint && repr.Meta.NSExportPartIndex.IsValid() {
			dependencies = append(dependencies, ast.Dependency{
				SourceIndex: sourceIndex,
				PartIndex:   repr.Meta.NSExportPartIndex.GetIndex(),
			})
		}

		// Wrapped entry points are started by calling their wrapper
		if repr.Meta.WrapperPartIndex.IsValid() {
			dependencies = append(dependencies, ast.Dependency{
				SourceIndex: sourceIndex,
				PartIndex:   repr.Meta.WrapperPartIndex.GetIndex(),
			})
		}

		partIndex := c.graph.AddPartToFile(sourceIndex, ast.Part{
			Dependencies: dependencies,
		})
		repr.Meta.EntryPointPartIndex = ast.MakeIndex32(partIndex)
	}

	// Encode import-specific constraints in the dependency graph
	for partIndex := range repr.AST.Parts {
		part := &repr.AST.Parts[partIndex]
		runtimeReExport := false

		for _, importRecordIndex := range part.ImportRecordIndices {
			record := &repr.AST.ImportRecords[importRecordIndex]
			if record.Flags.Has(ast.CallsRunTimeReExportFn) {
				runtimeReExport = true
			}
			if !record.SourceIndex.IsValid() {
				continue
			}

			// Dynamic imports of other chunks don't need anything in this one
			if record.Kind.IsDynamic() && c.options.CodeSplitting {
				continue
			}

			otherSourceIndex := record.SourceIndex.GetIndex()
			otherRepr := c.graph.JS(otherSourceIndex)

			if otherRepr.Meta.Wrap != graph.WrapNone {
				// This import calls the wrapper
				c.graph.GenerateSymbolImportAndUse(sourceIndex, uint32(partIndex), otherRepr.AST.WrapperRef, 1, otherSourceIndex)

				// This is an ES6 import of a CommonJS module, "require()" of an ES6
				// module, or "import()" of either. The importer needs the
				// namespace object in addition to the wrapper.
				if otherRepr.Meta.Wrap == graph.WrapESM && record.Kind != ast.ImportStmt {
					c.graph.GenerateSymbolImportAndUse(sourceIndex, uint32(partIndex), otherRepr.AST.ExportsRef, 1, otherSourceIndex)
				}
			} else if record.Kind == ast.ImportStmt && otherRepr.AST.ExportsKind == ast.ExportsESMWithDynamicFallback {
				// This is an import of a module that has a dynamic export fallback
				// object. In that case we need to depend on that object in case
				// something ends up needing to use it later. This could potentially
				// be omitted in some cases with more advanced analysis if this
				// dynamic export fallback object doesn't end up being needed.
				c.graph.GenerateSymbolImportAndUse(sourceIndex, uint32(partIndex), otherRepr.AST.ExportsRef, 1, otherSourceIndex)
			}
		}

		// If there's an ES6 export star statement of a non-ES6 module, then we're
		// going to need the namespace object of this module to attach the
		// fallback to
		if runtimeReExport {
			c.graph.GenerateSymbolImportAndUse(sourceIndex, uint32(partIndex), repr.AST.ExportsRef, 1, sourceIndex)
		}
	}
}
