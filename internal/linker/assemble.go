package linker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/renamer"
)

// Chunks are independent once cross-chunk dependencies are known, so each one
// is renamed and finalized on its own goroutine
func (c *linkerContext) generateChunksInParallel(ctx context.Context) ([]Chunk, error) {
	c.timer.Begin("Generate chunks")
	defer c.timer.End("Generate chunks")

	chunks := make([]Chunk, len(c.chunks))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency())

	for chunkIndex := range c.chunks {
		chunkIndex := chunkIndex
		group.Go(func() (err error) {
			defer c.recoverInternalError(&err)
			if err := ctx.Err(); err != nil {
				return err
			}
			chunks[chunkIndex] = c.generateChunk(uint32(chunkIndex))
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *linkerContext) generateChunk(chunkIndex uint32) Chunk {
	chunk := &c.chunks[chunkIndex]
	r := c.renameSymbolsInChunk(chunk)

	bits := chunk.entryBits.Bits()
	roots := make([]uint32, len(bits))
	for i, bit := range bits {
		roots[i] = uint32(bit)
	}

	// Each chunk gets its own copy so that callers can't observe each other
	imports := make([]ChunkImport, len(chunk.crossChunkImports))
	for i, chunkImport := range chunk.crossChunkImports {
		chunkImport.Items = append([]ChunkImportItem{}, chunkImport.Items...)
		imports[i] = chunkImport
	}

	exports := make([]ChunkExport, 0, len(chunk.exportsToOtherChunks))
	for _, ref := range renamer.SortedRefs(refSet(chunk.exportsToOtherChunks), c.graph.StableSourceIndices) {
		exports = append(exports, ChunkExport{
			Alias: chunk.exportsToOtherChunks[ref],
			Ref:   ref,
			Name:  r.NameForSymbol(ref),
		})
	}

	entryExports := make([]ChunkExport, len(chunk.entryExports))
	for i, export := range chunk.entryExports {
		export.Name = r.NameForSymbol(export.Ref)
		entryExports[i] = export
	}

	c.tracer.Debug("chunk",
		zap.String("name", chunk.name),
		zap.Int("modules", len(chunk.filesInChunkInOrder)),
		zap.Int("imports", len(imports)),
		zap.Int("exports", len(exports)))

	return Chunk{
		Name:                   chunk.name,
		Hash:                   chunk.hash,
		Roots:                  roots,
		IsEntryPoint:           chunk.isEntryPoint,
		SourceIndex:            chunk.sourceIndex,
		FilesInOrder:           append([]uint32{}, chunk.filesInChunkInOrder...),
		PartsInOrder:           append([]PartRange{}, chunk.partsInChunkInOrder...),
		ImportsFromOtherChunks: imports,
		ExportsToOtherChunks:   exports,
		EntryExports:           entryExports,
		DynamicImports:         append([]uint32{}, chunk.dynamicImports...),
		Names:                  r.Names(),
	}
}

// All modules in a chunk share one top-level scope. Symbols imported from
// other chunks claim their names first, then each module's symbols are added
// in evaluation order, so the first declaration of a name keeps it.
func (c *linkerContext) renameSymbolsInChunk(chunk *chunkInfo) *renamer.NumberRenamer {
	files := make([][]ast.Symbol, 0, len(chunk.filesInChunkInOrder))
	for _, sourceIndex := range chunk.filesInChunkInOrder {
		files = append(files, c.graph.Symbols.SymbolsForSource[sourceIndex])
	}
	r := renamer.NewNumberRenamer(c.graph.Symbols, renamer.ComputeReservedNames(files))

	for _, chunkImport := range chunk.crossChunkImports {
		for _, item := range chunkImport.Items {
			r.AddTopLevelSymbol(item.Ref)
		}
	}

	for _, sourceIndex := range chunk.filesInChunkInOrder {
		repr := c.graph.JS(sourceIndex)

		if repr.Meta.Wrap != graph.WrapNone {
			r.AddTopLevelSymbol(repr.AST.WrapperRef)
		}

		// The rest of a CommonJS module lives inside its wrapper's scope
		if repr.Meta.Wrap == graph.WrapCJS {
			continue
		}

		for _, part := range repr.AST.Parts {
			if !part.IsLive {
				continue
			}
			for _, declared := range part.DeclaredSymbols {
				if declared.IsTopLevel {
					r.AddTopLevelSymbol(declared.Ref)
				}
			}
		}
	}

	return r
}
