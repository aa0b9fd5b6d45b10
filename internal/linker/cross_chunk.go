package linker

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
	"github.com/modlink/modlink/internal/renamer"
)

func (c *linkerContext) computeCrossChunkDependencies() error {
	c.timer.Begin("Compute cross-chunk dependencies")
	defer c.timer.End("Compute cross-chunk dependencies")

	// Without code splitting every chunk is self-contained
	if c.options.CodeSplitting {
		if err := c.computeCrossChunkEdges(); err != nil {
			return err
		}
	}

	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		if chunk.isEntryPoint {
			chunk.entryExports = c.entryExports(chunk.sourceIndex)
		}
	}

	c.computeChunkNames()
	return nil
}

func (c *linkerContext) computeCrossChunkEdges() error {
	type chunkMeta struct {
		imports        map[ast.Ref]bool
		exports        map[ast.Ref]bool
		dynamicImports map[uint32]bool
	}

	chunkMetas := make([]chunkMeta, len(c.chunks))

	// Remember what chunk each top-level symbol is declared in. Symbols with
	// multiple declarations such as repeated "var" statements with the same
	// name are all in the same file and therefore in the same chunk.
	for chunkIndex, chunk := range c.chunks {
		for sourceIndex := range chunk.filesWithPartsInChunk {
			for _, part := range c.graph.JS(sourceIndex).AST.Parts {
				if !part.IsLive {
					continue
				}
				for _, declared := range part.DeclaredSymbols {
					if declared.IsTopLevel {
						c.graph.Symbols.Get(declared.Ref).ChunkIndex = ast.MakeIndex32(uint32(chunkIndex))
					}
				}
			}
		}
	}

	// For each chunk, see what symbols it uses from other chunks. Do this in
	// parallel because it's the most expensive part of this function.
	group := errgroup.Group{}
	group.SetLimit(c.concurrency())
	for chunkIndex := range c.chunks {
		chunkIndex := chunkIndex
		group.Go(func() (err error) {
			defer c.recoverInternalError(&err)

			chunk := &c.chunks[chunkIndex]
			chunkMeta := &chunkMetas[chunkIndex]
			imports := make(map[ast.Ref]bool)
			chunkMeta.imports = imports
			chunkMeta.exports = make(map[ast.Ref]bool)

			// Go over each file in this chunk
			for sourceIndex := range chunk.filesWithPartsInChunk {
				repr := c.graph.JS(sourceIndex)

				// Go over each part in this file that's marked for inclusion in this chunk
				for _, part := range repr.AST.Parts {
					if !part.IsLive {
						continue
					}

					// Track dynamic imports of other chunks
					for _, importRecordIndex := range part.ImportRecordIndices {
						record := &repr.AST.ImportRecords[importRecordIndex]
						if record.SourceIndex.IsValid() && c.isExternalDynamicImport(record, sourceIndex) {
							otherChunkIndex := c.graph.Files[record.SourceIndex.GetIndex()].EntryPointChunkIndex
							if otherChunkIndex != uint32(chunkIndex) {
								if chunkMeta.dynamicImports == nil {
									chunkMeta.dynamicImports = make(map[uint32]bool)
								}
								chunkMeta.dynamicImports[otherChunkIndex] = true
							}
						}
					}

					// Record each symbol used in this part. This will later be matched up
					// with our map of which chunk a given symbol is declared in to
					// determine if the symbol needs to be imported from another chunk.
					for ref := range part.SymbolUses {
						symbol := c.graph.Symbols.Get(ref)

						// Ignore unbound symbols, which don't have declarations
						if symbol.Kind == ast.SymbolUnbound {
							continue
						}

						// Ignore symbols that are going to be replaced by undefined
						if symbol.ImportItemStatus == ast.ImportItemMissing {
							continue
						}

						// If this is imported from another file, follow the import
						// reference and reference the symbol in that file instead
						if importData, ok := repr.Meta.ImportsToBind[ref]; ok {
							ref = importData.Ref
							symbol = c.graph.Symbols.Get(ref)
						} else if repr.Meta.Wrap == graph.WrapCJS && ref != repr.AST.WrapperRef {
							// The only internal symbol that wrapped CommonJS files export
							// is the wrapper itself.
							continue
						}

						// If this is an import from a CommonJS file, it will become a
						// property access off the namespace symbol instead of a bare
						// identifier. In that case we want to pull in the namespace symbol
						// instead. The namespace symbol stores the result of "require()".
						if symbol.NamespaceAlias != nil {
							ref = symbol.NamespaceAlias.NamespaceRef
						}

						// We must record this relationship even for symbols that are not
						// imports. Due to code splitting, the definition of a symbol may
						// be moved to a separate chunk than the use of a symbol even if
						// the definition and use of that symbol are originally from the
						// same source file.
						imports[ref] = true
					}
				}
			}

			// Include the exports if this is an entry point chunk
			if chunk.isEntryPoint {
				repr := c.graph.JS(chunk.sourceIndex)
				if repr.Meta.Wrap != graph.WrapCJS {
					for _, export := range c.entryExports(chunk.sourceIndex) {
						ref := export.Ref
						if symbol := c.graph.Symbols.Get(ref); symbol.NamespaceAlias != nil {
							ref = symbol.NamespaceAlias.NamespaceRef
						}
						imports[ref] = true
					}
				}

				// Ensure "exports" is included if the namespace is handed out whole
				if repr.Meta.ForceIncludeExportsForEntryPoint {
					imports[repr.AST.ExportsRef] = true
				}

				// Include the wrapper if present
				if repr.Meta.Wrap != graph.WrapNone {
					imports[repr.AST.WrapperRef] = true
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Mark imported symbols as exported in the chunk from which they are declared
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		chunkMeta := chunkMetas[chunkIndex]

		// Find all uses in this chunk of symbols from other chunks
		chunk.importsFromOtherChunks = make(map[uint32][]ast.Ref)
		for importRef := range chunkMeta.imports {
			// Ignore uses that aren't top-level symbols
			if otherChunkIndex := c.graph.Symbols.Get(importRef).ChunkIndex; otherChunkIndex.IsValid() {
				if otherChunkIndex := otherChunkIndex.GetIndex(); otherChunkIndex != uint32(chunkIndex) {
					chunk.importsFromOtherChunks[otherChunkIndex] = append(chunk.importsFromOtherChunks[otherChunkIndex], importRef)
					chunkMetas[otherChunkIndex].exports[importRef] = true
				}
			}
		}

		// If this is an entry point, make sure we import all chunks belonging to
		// this entry point, even if there are no imports. We need to make sure
		// these chunks are evaluated for their side effects too.
		if chunk.isEntryPoint {
			for otherChunkIndex, otherChunk := range c.chunks {
				if chunkIndex != otherChunkIndex && otherChunk.entryBits.HasBit(chunk.entryPointBit) {
					imports := chunk.importsFromOtherChunks[uint32(otherChunkIndex)]
					chunk.importsFromOtherChunks[uint32(otherChunkIndex)] = imports
				}
			}
		}

		chunk.dynamicImports = nil
		for otherChunkIndex := range chunkMeta.dynamicImports {
			chunk.dynamicImports = append(chunk.dynamicImports, otherChunkIndex)
		}
		sort.Slice(chunk.dynamicImports, func(i, j int) bool { return chunk.dynamicImports[i] < chunk.dynamicImports[j] })
	}

	// Generate cross-chunk exports. These must be computed before cross-chunk
	// imports because of export alias renaming, which must consider all export
	// aliases simultaneously to avoid collisions.
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		chunk.exportsToOtherChunks = make(map[ast.Ref]string)
		r := renamer.ExportRenamer{}
		for _, ref := range renamer.SortedRefs(chunkMetas[chunkIndex].exports, c.graph.StableSourceIndices) {
			chunk.exportsToOtherChunks[ref] = r.NextRenamedName(c.graph.Symbols.Get(ref).OriginalName)
		}
	}

	// Generate cross-chunk imports. These must be computed after cross-chunk
	// exports because the export aliases must already be finalized so they can
	// be embedded in the generated import statements.
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		chunk.crossChunkImports = c.sortedCrossChunkImports(chunk)
	}
	return nil
}

// Chunks are imported in the order the walk over this chunk's modules first
// needed them. Chunks the walk never reached are only imported for their
// side effects and come last.
func (c *linkerContext) sortedCrossChunkImports(chunk *chunkInfo) []ChunkImport {
	result := make([]ChunkImport, 0, len(chunk.importsFromOtherChunks))
	for otherChunkIndex, refs := range chunk.importsFromOtherChunks {
		refs = append([]ast.Ref{}, refs...)
		sort.Slice(refs, func(i, j int) bool {
			return c.graph.StableRef(refs[i]).Less(c.graph.StableRef(refs[j]))
		})
		items := make([]ChunkImportItem, len(refs))
		exports := c.chunks[otherChunkIndex].exportsToOtherChunks
		for i, ref := range refs {
			items[i] = ChunkImportItem{Alias: exports[ref], Ref: ref}
		}
		result = append(result, ChunkImport{ChunkIndex: otherChunkIndex, Items: items})
	}

	sort.Slice(result, func(i, j int) bool {
		a, aOK := chunk.chunkOrder[result[i].ChunkIndex]
		b, bOK := chunk.chunkOrder[result[j].ChunkIndex]
		if aOK != bOK {
			return aOK
		}
		if aOK && a != b {
			return a < b
		}
		return result[i].ChunkIndex < result[j].ChunkIndex
	})
	return result
}

// The public exports of an entry point, each resolved to the symbol that
// actually holds the value
func (c *linkerContext) entryExports(sourceIndex uint32) []ChunkExport {
	repr := c.graph.JS(sourceIndex)
	if repr.Meta.Wrap == graph.WrapCJS {
		return nil
	}

	exports := make([]ChunkExport, 0, len(repr.Meta.SortedAndFilteredExportAliases))
	for _, alias := range repr.Meta.SortedAndFilteredExportAliases {
		export := repr.Meta.ResolvedExports[alias]
		targetRef := export.Ref

		// If this is an import, then target what the import points to
		if importData, ok := c.graph.JS(export.SourceIndex).Meta.ImportsToBind[targetRef]; ok {
			targetRef = importData.Ref
		}

		exports = append(exports, ChunkExport{Alias: alias, Ref: targetRef})
	}
	return exports
}

// Chunks that import each other can't both be evaluated first. Evaluation
// starts at the entry chunks and follows imports in order. An import of a
// chunk that is still being evaluated is deferred: that chunk finishes
// evaluating on its own, and the imported symbols are read through a cell
// that is resolved the first time it is accessed.
func (c *linkerContext) deferCyclicChunkImports() {
	// 0: white (unvisited), 1: gray (visiting), 2: black (visited)
	colors := make([]uint8, len(c.chunks))

	var visit func(uint32)
	visit = func(chunkIndex uint32) {
		colors[chunkIndex] = 1
		chunk := &c.chunks[chunkIndex]

		for i := range chunk.crossChunkImports {
			chunkImport := &chunk.crossChunkImports[i]
			switch colors[chunkImport.ChunkIndex] {
			case 0:
				visit(chunkImport.ChunkIndex)

			case 1:
				chunkImport.Deferred = true
				other := &c.chunks[chunkImport.ChunkIndex]
				c.log.AddID(logger.MsgID_Link_ChunkCycle, logger.Warning, nil, logger.Range{},
					fmt.Sprintf("Chunks %q and %q import each other, so %q is evaluated lazily on first use from %q",
						chunk.name, other.name, other.name, chunk.name))
			}
		}

		colors[chunkIndex] = 2
	}

	for chunkIndex, chunk := range c.chunks {
		if chunk.isEntryPoint && colors[chunkIndex] == 0 {
			visit(uint32(chunkIndex))
		}
	}
	for chunkIndex := range c.chunks {
		if colors[chunkIndex] == 0 {
			visit(uint32(chunkIndex))
		}
	}
}

// Entry chunks are named after their entry point. Other chunks are named
// after a hash of what they contain and how they connect to other chunks, so
// a chunk's name only changes when the chunk does.
func (c *linkerContext) computeChunkNames() {
	names := renamer.ExportRenamer{}

	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		chunk.hash = c.hashChunk(chunk)

		var base string
		if chunk.isEntryPoint {
			pretty := c.prettyPath(chunk.sourceIndex)
			base = path.Base(pretty)
			base = strings.TrimSuffix(base, path.Ext(base))
			if base == "" || base == "." || base == "/" {
				base = "entry"
			}
		} else {
			base = fmt.Sprintf("chunk-%08x", uint32(chunk.hash>>32))
		}
		chunk.name = names.NextRenamedName(base)
	}
}

func (c *linkerContext) hashChunk(chunk *chunkInfo) uint64 {
	hash := helpers.NewHasher()

	for _, sourceIndex := range chunk.filesInChunkInOrder {
		hash.WriteString(c.graph.Files[sourceIndex].InputFile.Source.KeyPath.Text)
		hash.WriteString(c.graph.Files[sourceIndex].InputFile.Source.KeyPath.Namespace)
	}
	for _, r := range chunk.partsInChunkInOrder {
		hash.WriteUint32(c.graph.StableSourceIndices[r.SourceIndex])
		hash.WriteUint32(r.PartIndexBegin)
		hash.WriteUint32(r.PartIndexEnd)
	}
	for _, chunkImport := range chunk.crossChunkImports {
		hash.WriteUint32(chunkImport.ChunkIndex)
		for _, item := range chunkImport.Items {
			hash.WriteString(item.Alias)
		}
	}
	for _, ref := range renamer.SortedRefs(refSet(chunk.exportsToOtherChunks), c.graph.StableSourceIndices) {
		hash.WriteString(chunk.exportsToOtherChunks[ref])
	}
	for _, otherChunkIndex := range chunk.dynamicImports {
		hash.WriteUint32(otherChunkIndex)
	}
	return hash.Sum64()
}

func refSet(refs map[ast.Ref]string) map[ast.Ref]bool {
	result := make(map[ast.Ref]bool, len(refs))
	for ref := range refs {
		result[ref] = true
	}
	return result
}
