package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/renamer"
)

// Renders the chunk plan as text. Tests compare against this and the CLI
// prints it with "--verbose". Part details are only included if "parts" is
// true since they are very noisy.
func (r *Result) Dump(parts bool) string {
	sb := strings.Builder{}
	noOp := renamer.NewNoOpRenamer(r.Graph.Symbols)

	quoteSym := func(ref ast.Ref) string {
		return fmt.Sprintf("%d:%d [%s]", r.Graph.StableSourceIndices[ref.SourceIndex], ref.InnerIndex, noOp.NameForSymbol(ref))
	}

	for chunkIndex, chunk := range r.Chunks {
		if chunkIndex > 0 {
			sb.WriteByte('\n')
		}
		if chunk.IsEntryPoint {
			sb.WriteString(fmt.Sprintf("---------- %s (entry %s) ----------\n", chunk.Name, r.prettyPath(chunk.SourceIndex)))
		} else {
			sb.WriteString(fmt.Sprintf("---------- %s ----------\n", chunk.Name))
		}

		for _, chunkImport := range chunk.ImportsFromOtherChunks {
			aliases := make([]string, len(chunkImport.Items))
			for i, item := range chunkImport.Items {
				aliases[i] = item.Alias
			}
			deferred := ""
			if chunkImport.Deferred {
				deferred = " (deferred)"
			}
			sb.WriteString(fmt.Sprintf("import {%s} from %s%s\n",
				strings.Join(aliases, ", "), r.Chunks[chunkImport.ChunkIndex].Name, deferred))
		}

		for _, partRange := range chunk.PartsInOrder {
			repr := r.Graph.JS(partRange.SourceIndex)
			wrap := ""
			if repr.Meta.Wrap != graph.WrapNone {
				wrap = fmt.Sprintf(" (wrap %s)", repr.Meta.Wrap)
			}
			sb.WriteString(fmt.Sprintf("// %s parts %d-%d%s\n", r.prettyPath(partRange.SourceIndex),
				partRange.PartIndexBegin, partRange.PartIndexEnd-1, wrap))

			if !parts {
				continue
			}
			for partIndex := partRange.PartIndexBegin; partIndex < partRange.PartIndexEnd; partIndex++ {
				r.dumpPart(&sb, repr, partIndex, quoteSym)
			}
		}

		for _, export := range chunk.ExportsToOtherChunks {
			sb.WriteString(fmt.Sprintf("export {%s as %s}\n", export.Name, export.Alias))
		}
		for _, export := range chunk.EntryExports {
			sb.WriteString(fmt.Sprintf("export {%s as %s} (entry)\n", export.Name, export.Alias))
		}
		for _, otherChunkIndex := range chunk.DynamicImports {
			sb.WriteString(fmt.Sprintf("import(%s)\n", r.Chunks[otherChunkIndex].Name))
		}
	}

	return sb.String()
}

func (r *Result) dumpPart(sb *strings.Builder, repr *graph.JSRepr, partIndex uint32, quoteSym func(ast.Ref) string) {
	part := &repr.AST.Parts[partIndex]
	kind := ""
	if ast.MakeIndex32(partIndex) == repr.Meta.NSExportPartIndex {
		kind = " nsExportPart"
	} else if ast.MakeIndex32(partIndex) == repr.Meta.WrapperPartIndex {
		kind = " wrapperPart"
	} else if ast.MakeIndex32(partIndex) == repr.Meta.EntryPointPartIndex {
		kind = " entryPointPart"
	}
	sb.WriteString(fmt.Sprintf("  part %d%s live=%v removable=%v\n", partIndex, kind, part.IsLive, part.CanBeRemovedIfUnused))

	for _, declared := range part.DeclaredSymbols {
		if declared.IsTopLevel {
			sb.WriteString(fmt.Sprintf("    declares %s\n", quoteSym(declared.Ref)))
		}
	}

	// Map order is random so sort the uses
	uses := make([]string, 0, len(part.SymbolUses))
	for ref, use := range part.SymbolUses {
		uses = append(uses, fmt.Sprintf("    uses %s x%d\n", quoteSym(ref), use.CountEstimate))
	}
	sort.Strings(uses)
	for _, use := range uses {
		sb.WriteString(use)
	}

	for _, dep := range part.Dependencies {
		sb.WriteString(fmt.Sprintf("    depends on %s part %d\n", r.prettyPath(dep.SourceIndex), dep.PartIndex))
	}
	for _, op := range part.Ops {
		sb.WriteString(fmt.Sprintf("    %s\n", op.Kind))
	}
}

func (r *Result) prettyPath(sourceIndex uint32) string {
	return r.Graph.Files[sourceIndex].InputFile.Source.PrettyPath
}
