package linker

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
)

func (c *linkerContext) computeChunks() {
	c.timer.Begin("Compute chunks")
	defer c.timer.End("Compute chunks")

	chunks := make(map[string]chunkInfo)
	entryKeys := make([]string, 0, len(c.graph.EntryPoints))
	oneModulePerChunk := c.options.CodeSplitting && c.options.OneModulePerChunk

	// Create chunks for entry points
	for i, entryPoint := range c.graph.EntryPoints {
		// Create a chunk for the entry point here to ensure that the chunk is
		// always generated even if the resulting file is empty
		entryBits := helpers.NewBitSet(uint(len(c.graph.EntryPoints)))
		entryBits.SetBit(uint(i))
		key := entryBits.String()
		chunks[key] = chunkInfo{
			entryBits:             entryBits,
			isEntryPoint:          true,
			sourceIndex:           entryPoint.SourceIndex,
			entryPointBit:         uint(i),
			filesWithPartsInChunk: make(map[uint32]bool),
		}
		entryKeys = append(entryKeys, key)
	}

	// Figure out which chunk each file belongs to
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		if !file.IsLive || !c.hasLiveParts(sourceIndex) {
			continue
		}

		// Without code splitting, every entry point gets its own copy of every
		// module it can reach
		if !c.options.CodeSplitting {
			for _, bit := range file.EntryBits.Bits() {
				chunks[entryKeys[bit]].filesWithPartsInChunk[sourceIndex] = true
			}
			continue
		}

		key := file.EntryBits.String()
		if oneModulePerChunk {
			if bit, ok := c.entryPointBitOf(sourceIndex); !ok || key != entryKeys[bit] {
				key = fmt.Sprintf("%s/%08d", key, c.graph.StableSourceIndices[sourceIndex])
			}
		}
		chunk, ok := chunks[key]
		if !ok {
			chunk = chunkInfo{
				entryBits:             file.EntryBits,
				filesWithPartsInChunk: make(map[uint32]bool),
			}
			chunks[key] = chunk
		}
		chunk.filesWithPartsInChunk[sourceIndex] = true
	}

	// Sort the chunks for determinism. This matters because we use chunk
	// indices as sorting keys in a few places. Entry point chunks come first
	// in entry point order.
	sortedChunks := make([]chunkInfo, 0, len(chunks))
	sortedKeys := make([]string, 0, len(chunks))
	for _, key := range entryKeys {
		chunk := chunks[key]
		chunk.key = key
		sortedChunks = append(sortedChunks, chunk)
		delete(chunks, key)
	}
	for key := range chunks {
		sortedKeys = append(sortedKeys, key)
	}
	sort.Strings(sortedKeys)
	for _, key := range sortedKeys {
		chunk := chunks[key]
		chunk.key = key
		sortedChunks = append(sortedChunks, chunk)
	}

	if c.options.CodeSplitting && c.options.ChunkMergePolicy != nil {
		sortedChunks = c.mergeChunks(sortedChunks, c.options.ChunkMergePolicy)
	}

	// Map from the entry point file to its chunk. We will need this later if
	// a file contains a dynamic import to this entry point, since we'll need
	// to look up the path for this chunk to use with the import.
	chunkIndexForFile := make(map[uint32]uint32)
	for chunkIndex, chunk := range sortedChunks {
		if chunk.isEntryPoint {
			c.graph.Files[chunk.sourceIndex].EntryPointChunkIndex = uint32(chunkIndex)
		}
		if c.options.CodeSplitting {
			for sourceIndex := range chunk.filesWithPartsInChunk {
				chunkIndexForFile[sourceIndex] = uint32(chunkIndex)
			}
		}
	}

	// Determine the order of files (and parts) within the chunk ahead of time
	for chunkIndex := range sortedChunks {
		chunk := &sortedChunks[chunkIndex]
		chunk.filesInChunkInOrder, chunk.partsInChunkInOrder, chunk.chunkOrder = c.findImportedPartsInJSOrder(chunk, chunkIndexForFile)
	}

	c.chunks = sortedChunks
}

func (c *linkerContext) hasLiveParts(sourceIndex uint32) bool {
	for _, part := range c.graph.JS(sourceIndex).AST.Parts {
		if part.IsLive {
			return true
		}
	}
	return false
}

// Offers the policy every chunk it is allowed to touch and applies the groups
// it returns. Invalid groups are ignored so that a buggy policy can only make
// chunking worse, never incorrect.
func (c *linkerContext) mergeChunks(chunks []chunkInfo, policy config.ChunkMergePolicy) []chunkInfo {
	var candidates []config.MergeCandidate
	isCandidate := make(map[uint32]bool)
	memo := make(map[uint32]bool)

	for chunkIndex, chunk := range chunks {
		if chunk.isEntryPoint {
			continue
		}
		partCount := 0
		eligible := true
		for sourceIndex := range chunk.filesWithPartsInChunk {
			if !c.isSideEffectFree(sourceIndex, memo) {
				eligible = false
				break
			}
			for _, part := range c.graph.JS(sourceIndex).AST.Parts {
				if part.IsLive {
					partCount++
				}
			}
		}
		if !eligible {
			continue
		}

		bits := chunk.entryBits.Bits()
		roots := make([]uint32, len(bits))
		for i, bit := range bits {
			roots[i] = uint32(bit)
		}
		candidates = append(candidates, config.MergeCandidate{
			Roots:       roots,
			Index:       uint32(chunkIndex),
			ModuleCount: len(chunk.filesWithPartsInChunk),
			PartCount:   partCount,
		})
		isCandidate[uint32(chunkIndex)] = true
	}
	if len(candidates) < 2 {
		return chunks
	}

	removed := make(map[uint32]bool)
	for _, group := range policy.Merge(candidates) {
		if len(group) < 2 {
			continue
		}
		valid := true
		seen := make(map[uint32]bool, len(group))
		target := group[0]
		for _, index := range group {
			if !isCandidate[index] || removed[index] || seen[index] {
				valid = false
				break
			}
			seen[index] = true
			if index < target {
				target = index
			}
		}
		if !valid {
			c.tracer.Debug("ignoring invalid chunk merge group", zap.Any("group", group))
			continue
		}

		// The chunk with the lowest index absorbs the others
		into := &chunks[target]
		into.entryBits = into.entryBits.Copy()
		for _, index := range group {
			if index == target {
				continue
			}
			from := &chunks[index]
			into.entryBits.Or(from.entryBits)
			for sourceIndex := range from.filesWithPartsInChunk {
				into.filesWithPartsInChunk[sourceIndex] = true
			}
			removed[index] = true
		}
		for _, index := range group {
			delete(isCandidate, index)
		}
	}

	if len(removed) == 0 {
		return chunks
	}
	result := make([]chunkInfo, 0, len(chunks)-len(removed))
	for chunkIndex, chunk := range chunks {
		if !removed[uint32(chunkIndex)] {
			result = append(result, chunk)
		}
	}
	c.tracer.Debug("merged chunks", zap.Int("before", len(chunks)), zap.Int("after", len(result)))
	return result
}

// A module whose evaluation can't be observed: nothing it keeps has side
// effects and everything it imports is the same way. Wrapped modules are
// excluded since evaluating them is itself observable.
func (c *linkerContext) isSideEffectFree(sourceIndex uint32, memo map[uint32]bool) bool {
	if result, ok := memo[sourceIndex]; ok {
		return result
	}

	// Assume the best while in progress so that cycles terminate
	memo[sourceIndex] = true

	file := &c.graph.Files[sourceIndex]
	repr := file.InputFile.Repr.JS()
	result := repr.Meta.Wrap == graph.WrapNone
	if result && (file.InputFile.SideEffects.Kind == graph.HasSideEffects || !c.options.TreeShaking) {
		for _, part := range repr.AST.Parts {
			if part.IsLive && !part.CanBeRemovedIfUnused {
				result = false
				break
			}
		}
	}
	if result {
		for _, record := range repr.AST.ImportRecords {
			if record.Kind != ast.ImportStmt {
				continue
			}
			if !record.SourceIndex.IsValid() {
				if !record.Flags.Has(ast.IsExternalWithoutSideEffects) {
					result = false
					break
				}
			} else if !c.isSideEffectFree(record.SourceIndex.GetIndex(), memo) {
				result = false
				break
			}
		}
	}

	memo[sourceIndex] = result
	return result
}

type chunkOrder struct {
	sourceIndex uint32
	distance    uint32
	tieBreaker  uint32
}

// This type is just so we can use Go's native sort function
type chunkOrderArray []chunkOrder

func (a chunkOrderArray) Len() int          { return len(a) }
func (a chunkOrderArray) Swap(i int, j int) { a[i], a[j] = a[j], a[i] }

func (a chunkOrderArray) Less(i int, j int) bool {
	ai := a[i]
	aj := a[j]
	return ai.distance < aj.distance || (ai.distance == aj.distance && ai.tieBreaker < aj.tieBreaker)
}

func appendOrExtendPartRange(ranges []PartRange, sourceIndex uint32, partIndex uint32) []PartRange {
	if i := len(ranges) - 1; i >= 0 {
		if r := &ranges[i]; r.SourceIndex == sourceIndex && r.PartIndexEnd == partIndex {
			r.PartIndexEnd = partIndex + 1
			return ranges
		}
	}

	return append(ranges, PartRange{
		SourceIndex:    sourceIndex,
		PartIndexBegin: partIndex,
		PartIndexEnd:   partIndex + 1,
	})
}

// Modules are traversed in depth-first postorder over static imports in
// source order. This is the order in which they are evaluated:
//
//	  A
//	 / \
//	B   C
//	 \ /
//	  D
//
// If A imports B and then C, B imports D, and C imports D, then the
// traversal order is D B C A.
//
// The same walk also records the order in which modules in other chunks are
// first needed. Chunks are imported in that order.
func (c *linkerContext) findImportedPartsInJSOrder(
	chunk *chunkInfo,
	chunkIndexForFile map[uint32]uint32,
) (js []uint32, jsParts []PartRange, order map[uint32]uint32) {
	sorted := make(chunkOrderArray, 0, len(chunk.filesWithPartsInChunk))

	// Attach information to the files for use with sorting
	for sourceIndex := range chunk.filesWithPartsInChunk {
		file := &c.graph.Files[sourceIndex]
		sorted = append(sorted, chunkOrder{
			sourceIndex: sourceIndex,
			distance:    file.DistanceFromEntryPoint,
			tieBreaker:  c.graph.StableSourceIndices[sourceIndex],
		})
	}

	// Sort so files closest to an entry point come first. If two files are
	// equidistant to an entry point, then break the tie by sorting on the
	// stable source index derived from the DFS over all entry points.
	sort.Sort(sorted)

	visited := make(map[uint32]bool)
	jsPartsPrefix := []PartRange{}
	order = make(map[uint32]uint32)

	// Traverse the graph using this stable order and linearize the files with
	// dependencies before dependents
	var visit func(uint32)
	visit = func(sourceIndex uint32) {
		if visited[sourceIndex] {
			return
		}

		visited[sourceIndex] = true
		file := &c.graph.Files[sourceIndex]
		if !file.IsLive {
			return
		}
		repr := file.InputFile.Repr.JS()
		isFileInThisChunk := chunk.filesWithPartsInChunk[sourceIndex]

		// Wrapped files can't be split because they are all inside the wrapper
		canFileBeSplit := repr.Meta.Wrap == graph.WrapNone

		// Make sure the namespace object comes first before anything else in
		// this file
		nsPartIndex := repr.Meta.NSExportPartIndex
		if canFileBeSplit && isFileInThisChunk && nsPartIndex.IsValid() && repr.AST.Parts[nsPartIndex.GetIndex()].IsLive {
			jsParts = appendOrExtendPartRange(jsParts, sourceIndex, nsPartIndex.GetIndex())
		}

		for partIndex, part := range repr.AST.Parts {
			isPartInThisChunk := isFileInThisChunk && part.IsLive

			// Also traverse any files imported by this part
			for _, importRecordIndex := range part.ImportRecordIndices {
				record := &repr.AST.ImportRecords[importRecordIndex]
				if record.SourceIndex.IsValid() && (record.Kind == ast.ImportStmt || isPartInThisChunk) {
					if c.isExternalDynamicImport(record, sourceIndex) {
						// Don't follow import() dependencies
						continue
					}
					visit(record.SourceIndex.GetIndex())
				}
			}

			// Then include this part after the files it imports
			if isPartInThisChunk && canFileBeSplit && ast.MakeIndex32(uint32(partIndex)) != nsPartIndex {
				jsParts = appendOrExtendPartRange(jsParts, sourceIndex, uint32(partIndex))
			}
		}

		if isFileInThisChunk {
			js = append(js, sourceIndex)

			// Wrapped files are all-or-nothing so all parts must be contiguous
			if !canFileBeSplit {
				jsPartsPrefix = append(jsPartsPrefix, PartRange{
					SourceIndex:    sourceIndex,
					PartIndexBegin: 0,
					PartIndexEnd:   uint32(len(repr.AST.Parts)),
				})
			}
		} else if otherChunkIndex, ok := chunkIndexForFile[sourceIndex]; ok {
			if _, ok := order[otherChunkIndex]; !ok {
				order[otherChunkIndex] = uint32(len(order))
			}
		}
	}

	// An entry chunk starts from its entry point even if the entry point
	// itself was hoisted into a shared chunk
	if chunk.isEntryPoint {
		visit(chunk.sourceIndex)
	}
	for _, data := range sorted {
		visit(data.sourceIndex)
	}
	jsParts = append(jsPartsPrefix, jsParts...)
	return
}
