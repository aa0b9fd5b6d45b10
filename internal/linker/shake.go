package linker

import (
	"fmt"
	"strings"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

func (c *linkerContext) treeShakingAndCodeSplitting() {
	for _, sourceIndex := range c.graph.ReachableFiles {
		c.graph.Files[sourceIndex].EntryBits = helpers.NewBitSet(uint(len(c.graph.EntryPoints)))
	}

	// Tree shaking: Each entry point marks all files reachable from itself
	c.timer.Begin("Tree shaking")
	for _, entryPoint := range c.graph.EntryPoints {
		c.markFileLiveForTreeShaking(entryPoint.SourceIndex)
	}
	c.timer.End("Tree shaking")

	// Code splitting: Determine which entry points can reach which files. This
	// has to happen after tree shaking because there is an implicit dependency
	// between live parts within the same file. All liveness has to be computed
	// first before determining which entry points can reach which files.
	c.timer.Begin("Code splitting")
	for i, entryPoint := range c.graph.EntryPoints {
		c.markFileReachableForCodeSplitting(entryPoint.SourceIndex, uint(i), 0)
	}
	c.timer.End("Code splitting")
}

func (c *linkerContext) markFileReachableForCodeSplitting(sourceIndex uint32, entryPointBit uint, distanceFromEntryPoint uint32) {
	file := &c.graph.Files[sourceIndex]
	if !file.IsLive {
		return
	}
	traverseAgain := false

	// Track the minimum distance to an entry point
	if distanceFromEntryPoint < file.DistanceFromEntryPoint {
		file.DistanceFromEntryPoint = distanceFromEntryPoint
		traverseAgain = true
	}
	distanceFromEntryPoint++

	// Don't mark this file more than once
	if file.EntryBits.HasBit(entryPointBit) && !traverseAgain {
		return
	}
	file.EntryBits.SetBit(entryPointBit)

	repr := file.InputFile.Repr.JS()

	// Traverse into all imported files
	for i := range repr.AST.ImportRecords {
		record := &repr.AST.ImportRecords[i]
		if record.SourceIndex.IsValid() && !c.isExternalDynamicImport(record, sourceIndex) {
			c.markFileReachableForCodeSplitting(record.SourceIndex.GetIndex(), entryPointBit, distanceFromEntryPoint)
		}
	}

	// Traverse into all dependencies of all parts in this file
	for _, part := range repr.AST.Parts {
		for _, dependency := range part.Dependencies {
			if dependency.SourceIndex != sourceIndex {
				c.markFileReachableForCodeSplitting(dependency.SourceIndex, entryPointBit, distanceFromEntryPoint)
			}
		}
	}
}

func (c *linkerContext) markFileLiveForTreeShaking(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]

	// Don't mark this file more than once
	if file.IsLive {
		return
	}
	file.IsLive = true

	repr := file.InputFile.Repr.JS()

	// Modules that were declared free of side effects only keep what is used.
	// Entry points are always evaluated for their side effects.
	isPure := c.options.TreeShaking &&
		file.InputFile.SideEffects.Kind != graph.HasSideEffects &&
		!file.IsEntryPoint()

	// CommonJS modules are evaluated all at once by their wrapper
	isCommonJS := repr.AST.ExportsKind == ast.ExportsCommonJS

	for partIndex, part := range repr.AST.Parts {
		canBeRemovedIfUnused := part.CanBeRemovedIfUnused || isPure

		// Also include any statement-level imports
		for _, importRecordIndex := range part.ImportRecordIndices {
			record := &repr.AST.ImportRecords[importRecordIndex]
			if record.Kind != ast.ImportStmt {
				continue
			}

			if record.SourceIndex.IsValid() {
				otherSourceIndex := record.SourceIndex.GetIndex()

				// Don't include this module for its side effects if it can be
				// considered to have no side effects
				if otherFile := &c.graph.Files[otherSourceIndex]; c.options.TreeShaking &&
					otherFile.InputFile.SideEffects.Kind != graph.HasSideEffects && !otherFile.IsEntryPoint() {
					continue
				}

				// Otherwise, include this module for its side effects
				c.markFileLiveForTreeShaking(otherSourceIndex)
			} else if record.Flags.Has(ast.IsExternalWithoutSideEffects) {
				// This can be removed if it's unused
				continue
			}

			// If we get here then the import was included for its side effects, so
			// we must also keep this part
			if !isPure {
				canBeRemovedIfUnused = false
			}
		}

		if isCommonJS && !part.ForceTreeShaking {
			canBeRemovedIfUnused = false
		}

		// Include all parts in this file with side effects, or just include
		// everything if tree-shaking is disabled. Generated parts are still
		// tree-shaken even if tree-shaking is disabled.
		if !canBeRemovedIfUnused || (!part.ForceTreeShaking && !c.options.TreeShaking) {
			c.markPartLiveForTreeShaking(sourceIndex, uint32(partIndex))
		}
	}
}

// An "import()" of another module that is going to be its own chunk. Glob
// imports are a set of "import()" expressions and behave the same way.
func (c *linkerContext) isExternalDynamicImport(record *ast.ImportRecord, sourceIndex uint32) bool {
	return c.options.CodeSplitting &&
		record.Kind.IsDynamic() &&
		c.graph.Files[record.SourceIndex.GetIndex()].IsEntryPoint() &&
		record.SourceIndex.GetIndex() != sourceIndex
}

func (c *linkerContext) markPartLiveForTreeShaking(sourceIndex uint32, partIndex uint32) {
	repr := c.graph.JS(sourceIndex)
	part := &repr.AST.Parts[partIndex]

	// Don't mark this part more than once
	if part.IsLive {
		return
	}
	part.IsLive = true

	// Include the file containing this part
	c.markFileLiveForTreeShaking(sourceIndex)

	// Also include any dependencies
	for _, dep := range part.Dependencies {
		c.markPartLiveForTreeShaking(dep.SourceIndex, dep.PartIndex)
	}
}

// Reports every cycle of static imports once. Cycles are legal and are
// evaluated in depth-first order, but the modules involved may observe each
// other half-initialized, which is usually a mistake.
func (c *linkerContext) warnAboutCircularDependencies() {
	c.timer.Begin("Find circular dependencies")
	defer c.timer.End("Find circular dependencies")

	// Tarjan's strongly connected components algorithm
	type visitState struct {
		index   uint32
		lowLink uint32
		onStack bool
	}
	states := make(map[uint32]*visitState)
	stack := []uint32{}
	nextIndex := uint32(0)
	var components [][]uint32

	var visit func(uint32)
	visit = func(sourceIndex uint32) {
		state := &visitState{index: nextIndex, lowLink: nextIndex, onStack: true}
		states[sourceIndex] = state
		nextIndex++
		stack = append(stack, sourceIndex)

		for _, otherSourceIndex := range c.staticImportTargets(sourceIndex) {
			if other, ok := states[otherSourceIndex]; !ok {
				visit(otherSourceIndex)
				if other := states[otherSourceIndex]; other.lowLink < state.lowLink {
					state.lowLink = other.lowLink
				}
			} else if other.onStack && other.index < state.lowLink {
				state.lowLink = other.index
			}
		}

		if state.lowLink == state.index {
			var component []uint32
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				states[top].onStack = false
				component = append(component, top)
				if top == sourceIndex {
					break
				}
			}
			components = append(components, component)
		}
	}

	for _, entryPoint := range c.graph.EntryPoints {
		if _, ok := states[entryPoint.SourceIndex]; !ok {
			visit(entryPoint.SourceIndex)
		}
	}
	for _, sourceIndex := range c.graph.ReachableFiles {
		if _, ok := states[sourceIndex]; !ok {
			visit(sourceIndex)
		}
	}

	// Report in discovery order so the messages are deterministic
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		members := make(map[uint32]bool, len(component))
		root := component[0]
		for _, sourceIndex := range component {
			members[sourceIndex] = true
			if states[sourceIndex].index < states[root].index {
				root = sourceIndex
			}
		}

		if len(component) == 1 && !c.importsItself(root) {
			continue
		}
		c.reportCycle(root, c.findCyclePath(root, members))
	}
}

// Targets of static import statements in source order, without duplicates
func (c *linkerContext) staticImportTargets(sourceIndex uint32) []uint32 {
	var targets []uint32
	seen := make(map[uint32]bool)
	for _, record := range c.graph.JS(sourceIndex).AST.ImportRecords {
		if record.Kind == ast.ImportStmt && record.SourceIndex.IsValid() {
			if target := record.SourceIndex.GetIndex(); !seen[target] {
				seen[target] = true
				targets = append(targets, target)
			}
		}
	}
	return targets
}

func (c *linkerContext) importsItself(sourceIndex uint32) bool {
	for _, target := range c.staticImportTargets(sourceIndex) {
		if target == sourceIndex {
			return true
		}
	}
	return false
}

// Returns a path of static imports that starts and ends at "root" and only
// visits members of the root's strongly connected component
func (c *linkerContext) findCyclePath(root uint32, members map[uint32]bool) []uint32 {
	visited := make(map[uint32]bool)
	path := []uint32{root}

	var visit func(uint32) bool
	visit = func(sourceIndex uint32) bool {
		for _, target := range c.staticImportTargets(sourceIndex) {
			if target == root {
				path = append(path, root)
				return true
			}
			if !members[target] || visited[target] {
				continue
			}
			visited[target] = true
			path = append(path, target)
			if visit(target) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	visited[root] = true
	visit(root)
	return path
}

func (c *linkerContext) reportCycle(root uint32, path []uint32) {
	names := make([]string, len(path))
	for i, sourceIndex := range path {
		names[i] = c.prettyPath(sourceIndex)
	}

	// Point at the import that starts the cycle
	var r logger.Range
	if len(path) > 1 {
		for _, record := range c.graph.JS(root).AST.ImportRecords {
			if record.Kind == ast.ImportStmt && record.SourceIndex.IsValid() && record.SourceIndex.GetIndex() == path[1] {
				r = record.Range
				break
			}
		}
	}

	c.log.AddID(logger.MsgID_Link_CircularDependency, logger.Warning, c.source(root), r,
		fmt.Sprintf("Circular dependency: %s", strings.Join(names, " -> ")))
}

// An "import()" of a module that every importing root already loads
// statically doesn't split anything off. The module is evaluated up front
// and the "import()" only hands out the namespace.
func (c *linkerContext) warnAboutIneffectiveDynamicImports() {
	if !c.options.CodeSplitting {
		return
	}

	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		if !file.IsLive {
			continue
		}
		repr := file.InputFile.Repr.JS()

		for _, part := range repr.AST.Parts {
			if !part.IsLive {
				continue
			}
			for _, importRecordIndex := range part.ImportRecordIndices {
				record := &repr.AST.ImportRecords[importRecordIndex]
				if record.Kind != ast.ImportDynamic || !record.SourceIndex.IsValid() {
					continue
				}
				target := &c.graph.Files[record.SourceIndex.GetIndex()]
				if !target.IsEntryPoint() || record.SourceIndex.GetIndex() == sourceIndex {
					continue
				}

				// Ignore the target's own root since a module can always reach
				// itself
				importerBits := file.EntryBits.Copy()
				if bit, ok := c.entryPointBitOf(record.SourceIndex.GetIndex()); ok {
					importerBits.ClearBit(bit)
				}
				if importerBits.IsEmpty() || !importerBits.IsSubsetOf(target.EntryBits) {
					continue
				}

				c.log.AddID(logger.MsgID_Link_IneffectiveDynamicImport, logger.Warning, c.source(sourceIndex), record.Range,
					fmt.Sprintf("%q is dynamically imported here but is also statically imported by every module that loads this one, so it will not be split into a separate chunk",
						c.prettyPath(record.SourceIndex.GetIndex())))
			}
		}
	}
}

func (c *linkerContext) entryPointBitOf(sourceIndex uint32) (uint, bool) {
	for i, entryPoint := range c.graph.EntryPoints {
		if entryPoint.SourceIndex == sourceIndex {
			return uint(i), true
		}
	}
	return 0, false
}
