package graph

import (
	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/helpers"
)

type EntryPointKind uint8

const (
	EntryPointNone EntryPointKind = iota
	EntryPointUserSpecified
	EntryPointDynamicImport
)

type EntryPoint struct {
	SourceIndex uint32
	Kind        EntryPointKind
}

type LinkerFile struct {
	InputFile InputFile

	// This holds all entry points that can reach this file. It will be used to
	// assign the parts in this file to a chunk.
	EntryBits helpers.BitSet

	// The minimum number of links in the module graph to get from an entry point
	// to this file
	DistanceFromEntryPoint uint32

	// If "EntryPointKind" is not "EntryPointNone", this is the index of the
	// corresponding entry point chunk.
	EntryPointChunkIndex uint32

	// This file is an entry point if and only if this is not "EntryPointNone".
	// Note that dynamically-imported files are allowed to also be specified by
	// the user as top-level entry points, so some dynamically-imported files
	// may be "EntryPointUserSpecified" instead of "EntryPointDynamicImport".
	EntryPointKind EntryPointKind

	// This is true if this file has been marked as live by the tree shaking
	// algorithm.
	IsLive bool
}

func (f *LinkerFile) IsEntryPoint() bool {
	return f.EntryPointKind != EntryPointNone
}

type LinkerGraph struct {
	Files       []LinkerFile
	Symbols     ast.SymbolMap
	EntryPoints []EntryPoint

	// We should avoid traversing all files in the bundle, because the linker
	// should be able to run a linking operation on a large bundle where only
	// a few files are needed (e.g. an incremental update). This holds all files
	// that could possibly be reached through the entry points. If you need to
	// iterate over all files in the linking operation, iterate over this array.
	// It is sorted in discovery order to keep builds deterministic (source
	// indices depend on scheduling).
	ReachableFiles []uint32

	// This maps from unstable source index to stable reachable file index. This
	// is useful as a deterministic key for sorting if you need to sort something
	// containing a source index (such as "ast.Ref" symbol references).
	StableSourceIndices []uint32
}

func MakeLinkerGraph(
	inputFiles []InputFile,
	entryPoints []EntryPoint,
	reachableFiles []uint32,
) LinkerGraph {
	symbols := ast.NewSymbolMap(len(inputFiles))
	files := make([]LinkerFile, len(inputFiles))

	// Clone various things since we may mutate them later. Scanned modules are
	// shared with the parse cache and with later incremental updates.
	for _, sourceIndex := range reachableFiles {
		file := LinkerFile{
			InputFile: inputFiles[sourceIndex],
		}

		file.InputFile.Repr = file.InputFile.Repr.clone()
		repr := file.InputFile.Repr.JS()

		// Clone the symbol map
		fileSymbols := append([]ast.Symbol{}, repr.AST.Symbols...)
		symbols.SymbolsForSource[sourceIndex] = fileSymbols
		repr.AST.Symbols = nil

		// Clone the parts
		repr.AST.Parts = append([]ast.Part{}, repr.AST.Parts...)
		for i := range repr.AST.Parts {
			part := &repr.AST.Parts[i]
			clone := make(map[ast.Ref]ast.SymbolUse, len(part.SymbolUses))
			for ref, uses := range part.SymbolUses {
				clone[ref] = uses
			}
			part.SymbolUses = clone
			part.Dependencies = append([]ast.Dependency{}, part.Dependencies...)
		}

		// Clone the import records
		repr.AST.ImportRecords = append([]ast.ImportRecord{}, repr.AST.ImportRecords...)

		repr.indexImportsAndExports()
		repr.TopLevelSymbolToParts = repr.AST.TopLevelSymbolToParts()

		if cjs, ok := file.InputFile.Repr.(*CJSRepr); ok {
			cjs.Inference = InferCJSExports(cjs.ExportWrites)
		}

		// Also associate some default metadata with the file
		resolvedExports := make(map[string]ExportData)
		for alias, name := range repr.NamedExports {
			resolvedExports[alias] = ExportData{
				Ref:         name.Ref,
				SourceIndex: sourceIndex,
				NameLoc:     name.AliasLoc,
			}
		}
		repr.Meta = JSReprMeta{
			ResolvedExports: resolvedExports,
			ImportsToBind:   make(map[ast.Ref]ImportData),
		}

		// All files start off as far as possible from an entry point
		file.DistanceFromEntryPoint = ^uint32(0)

		// Update the file in our copy of the file array
		files[sourceIndex] = file
	}

	// Mark all entry points so we don't add them again for import() expressions
	for _, entryPoint := range entryPoints {
		files[entryPoint.SourceIndex].EntryPointKind = entryPoint.Kind
	}

	// Create a way to convert source indices to a stable ordering
	stableSourceIndices := make([]uint32, len(inputFiles))
	for stableIndex, sourceIndex := range reachableFiles {
		stableSourceIndices[sourceIndex] = uint32(stableIndex)
	}

	return LinkerGraph{
		Symbols:             symbols,
		EntryPoints:         append([]EntryPoint{}, entryPoints...),
		Files:               files,
		ReachableFiles:      reachableFiles,
		StableSourceIndices: stableSourceIndices,
	}
}

func (g *LinkerGraph) JS(sourceIndex uint32) *JSRepr {
	return g.Files[sourceIndex].InputFile.Repr.JS()
}

func (g *LinkerGraph) StableRef(ref ast.Ref) ast.StableRef {
	return ast.StableRef{StableSourceIndex: g.StableSourceIndices[ref.SourceIndex], Ref: ref}
}

func (g *LinkerGraph) GenerateNewSymbol(sourceIndex uint32, kind ast.SymbolKind, originalName string) ast.Ref {
	sourceSymbols := &g.Symbols.SymbolsForSource[sourceIndex]

	ref := ast.Ref{
		SourceIndex: sourceIndex,
		InnerIndex:  uint32(len(*sourceSymbols)),
	}

	*sourceSymbols = append(*sourceSymbols, ast.Symbol{
		Kind:         kind,
		OriginalName: originalName,
		Link:         ast.InvalidRef,
	})

	return ref
}

func (g *LinkerGraph) AddPartToFile(sourceIndex uint32, part ast.Part) uint32 {
	// Invariant: this map is never null
	if part.SymbolUses == nil {
		part.SymbolUses = make(map[ast.Ref]ast.SymbolUse)
	}

	repr := g.JS(sourceIndex)
	partIndex := uint32(len(repr.AST.Parts))
	repr.AST.Parts = append(repr.AST.Parts, part)

	for _, declared := range part.DeclaredSymbols {
		if declared.IsTopLevel {
			repr.TopLevelSymbolToParts[declared.Ref] = append(repr.TopLevelSymbolToParts[declared.Ref], partIndex)
		}
	}

	return partIndex
}

func (g *LinkerGraph) GenerateSymbolImportAndUse(
	sourceIndex uint32,
	partIndex uint32,
	ref ast.Ref,
	useCount uint32,
	sourceIndexToImportFrom uint32,
) {
	if useCount == 0 {
		return
	}

	repr := g.JS(sourceIndex)
	part := &repr.AST.Parts[partIndex]

	// Mark this symbol as used by this part
	use := part.SymbolUses[ref]
	use.CountEstimate += useCount
	part.SymbolUses[ref] = use

	// Uphold invariants about the CommonJS "exports" and "module" symbols
	if ref == repr.AST.ExportsRef {
		repr.AST.UsesExportsRef = true
	}
	if ref == repr.AST.ModuleRef {
		repr.AST.UsesModuleRef = true
	}

	// Track that this specific symbol was imported
	if sourceIndexToImportFrom != sourceIndex {
		repr.Meta.ImportsToBind[ref] = ImportData{
			SourceIndex: sourceIndexToImportFrom,
			Ref:         ref,
		}
	}

	// Pull in all parts that declare this symbol
	targetRepr := g.JS(sourceIndexToImportFrom)
	for _, partIndex := range targetRepr.TopLevelSymbolToParts[ref] {
		part.Dependencies = append(part.Dependencies, ast.Dependency{
			SourceIndex: sourceIndexToImportFrom,
			PartIndex:   partIndex,
		})
	}
}
