package hmr

import (
	"sort"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
)

type importerEdge struct {
	sourceIndex uint32
	recordIndex uint32
}

// Walks the module graph backwards, from a module to the modules that import
// it. Positions in the reachable file order keep every result deterministic.
type walker struct {
	bundle    *bundler.Bundle
	importers map[uint32][]importerEdge
	order     map[uint32]int
	isEntry   map[uint32]bool
}

func newWalker(bundle *bundler.Bundle) *walker {
	w := &walker{
		bundle:    bundle,
		importers: make(map[uint32][]importerEdge),
		order:     make(map[uint32]int, len(bundle.ReachableFiles())),
		isEntry:   make(map[uint32]bool),
	}

	for i, sourceIndex := range bundle.ReachableFiles() {
		w.order[sourceIndex] = i
	}
	for _, entryPoint := range bundle.EntryPoints() {
		w.isEntry[entryPoint.SourceIndex] = true
	}

	for _, sourceIndex := range bundle.ReachableFiles() {
		file, ok := bundle.File(sourceIndex)
		if !ok {
			continue
		}
		for recordIndex, record := range *file.Repr.ImportRecords() {
			if record.SourceIndex.IsValid() && record.Kind != ast.ImportEntryPoint {
				target := record.SourceIndex.GetIndex()
				w.importers[target] = append(w.importers[target], importerEdge{
					sourceIndex: sourceIndex,
					recordIndex: uint32(recordIndex),
				})
			}
		}
	}
	return w
}

func (w *walker) isReachable(sourceIndex uint32) bool {
	_, ok := w.order[sourceIndex]
	return ok
}

func (w *walker) accept(sourceIndex uint32) ast.HotAccept {
	file, _ := w.bundle.File(sourceIndex)
	return file.Repr.JS().AST.HotAccept
}

// Distinct direct importers
func (w *walker) importersOf(sourceIndex uint32) []uint32 {
	var result []uint32
	seen := make(map[uint32]bool)
	for _, edge := range w.importers[sourceIndex] {
		if !seen[edge.sourceIndex] && edge.sourceIndex != sourceIndex {
			seen[edge.sourceIndex] = true
			result = append(result, edge.sourceIndex)
		}
	}
	return result
}

// Follows importers breadth-first until every path has reached a module that
// accepts the change. A module accepts a change if it accepts itself, or if it
// accepts updates of the import that leads back to the change. Reaching an
// entry point that accepts nothing means the whole program has to reload.
//
// The visited set makes this terminate on cycles, and a self-accepting module
// stops the walk even if the change can get back to it.
func (w *walker) propagate(changed uint32) (scope []uint32, boundaries []uint32, fullReload bool) {
	visited := map[uint32]bool{changed: true}
	isBoundary := make(map[uint32]bool)
	queue := []uint32{changed}
	scope = []uint32{changed}

	for len(queue) > 0 {
		sourceIndex := queue[0]
		queue = queue[1:]

		if w.accept(sourceIndex).Kind == ast.AcceptSelf {
			if !isBoundary[sourceIndex] {
				isBoundary[sourceIndex] = true
				boundaries = append(boundaries, sourceIndex)
			}
			continue
		}

		edges := w.importers[sourceIndex]
		if w.isEntry[sourceIndex] || len(edges) == 0 {
			return scope, nil, true
		}

		for _, edge := range edges {
			if w.accept(edge.sourceIndex).AcceptsRecord(edge.recordIndex) {
				if !isBoundary[edge.sourceIndex] {
					isBoundary[edge.sourceIndex] = true
					boundaries = append(boundaries, edge.sourceIndex)
					if !visited[edge.sourceIndex] {
						scope = append(scope, edge.sourceIndex)
					}
				}
				continue
			}
			if !visited[edge.sourceIndex] {
				visited[edge.sourceIndex] = true
				scope = append(scope, edge.sourceIndex)
				queue = append(queue, edge.sourceIndex)
			}
		}
	}

	return scope, boundaries, false
}

func (w *walker) sorted(sourceIndices []uint32) []uint32 {
	result := append([]uint32{}, sourceIndices...)
	sort.Slice(result, func(i, j int) bool {
		return w.order[result[i]] < w.order[result[j]]
	})
	return result
}
