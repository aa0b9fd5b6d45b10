package renamer

import (
	"sort"
	"strconv"

	"github.com/modlink/modlink/internal/ast"
)

// Names that generated code can't use for anything else. Unbound symbols are
// globals that are referenced by name, and some symbols are pinned to their
// original name. The returned map is in the form that the number renamer
// uses for its collision counts.
func ComputeReservedNames(files [][]ast.Symbol) map[string]uint32 {
	names := make(map[string]uint32)

	for _, symbols := range files {
		for _, symbol := range symbols {
			if symbol.Kind == ast.SymbolUnbound || symbol.MustNotBeRenamed {
				names[symbol.OriginalName] = 1
			}
		}
	}

	return names
}

type Renamer interface {
	NameForSymbol(ref ast.Ref) string
}

////////////////////////////////////////////////////////////////////////////////
// noOpRenamer

type noOpRenamer struct {
	symbols ast.SymbolMap
}

// Every symbol keeps its original name. Chunks that hold a single module have
// nothing to collide with, and debug output uses this to show the names the
// parser produced.
func NewNoOpRenamer(symbols ast.SymbolMap) Renamer {
	return &noOpRenamer{
		symbols: symbols,
	}
}

func (r *noOpRenamer) NameForSymbol(ref ast.Ref) string {
	ref = ast.FollowSymbols(r.symbols, ref)
	return r.symbols.Get(ref).OriginalName
}

////////////////////////////////////////////////////////////////////////////////
// NumberRenamer

// Top-level symbols of every module in a chunk share one scope. Collisions
// are resolved by appending the smallest unused number, starting at 2, in
// the order the symbols are added. Callers add symbols in execution order so
// the first declaration of a name keeps it.
type NumberRenamer struct {
	symbols ast.SymbolMap
	names   [][]string
	root    numberScope
}

func NewNumberRenamer(symbols ast.SymbolMap, reservedNames map[string]uint32) *NumberRenamer {
	return &NumberRenamer{
		symbols: symbols,
		names:   make([][]string, len(symbols.SymbolsForSource)),
		root:    numberScope{nameCounts: reservedNames},
	}
}

func (r *NumberRenamer) NameForSymbol(ref ast.Ref) string {
	ref = ast.FollowSymbols(r.symbols, ref)
	if inner := r.names[ref.SourceIndex]; inner != nil {
		if name := inner[ref.InnerIndex]; name != "" {
			return name
		}
	}
	return r.symbols.Get(ref).OriginalName
}

func (r *NumberRenamer) AddTopLevelSymbol(ref ast.Ref) {
	r.assignName(&r.root, ref)
}

// All names handed out so far, for inspection. The map is keyed by the
// canonical ref of each symbol.
func (r *NumberRenamer) Names() map[ast.Ref]string {
	result := make(map[ast.Ref]string)
	for sourceIndex, inner := range r.names {
		for innerIndex, name := range inner {
			if name != "" {
				result[ast.Ref{SourceIndex: uint32(sourceIndex), InnerIndex: uint32(innerIndex)}] = name
			}
		}
	}
	return result
}

func (r *NumberRenamer) assignName(scope *numberScope, ref ast.Ref) {
	ref = ast.FollowSymbols(r.symbols, ref)

	// Don't rename the same symbol more than once
	inner := r.names[ref.SourceIndex]
	if inner != nil && inner[ref.InnerIndex] != "" {
		return
	}

	// Don't rename unbound symbols or symbols marked as reserved names
	symbol := r.symbols.Get(ref)
	if symbol.Kind == ast.SymbolUnbound || symbol.MustNotBeRenamed {
		return
	}

	// Compute a new name
	name := scope.findUnusedName(symbol.OriginalName)

	// Store the new name
	if inner == nil {
		inner = make([]string, len(r.symbols.SymbolsForSource[ref.SourceIndex]))
		r.names[ref.SourceIndex] = inner
	}
	inner[ref.InnerIndex] = name
}

type numberScope struct {
	// This is used as a set of used names in this scope. This also maps the name
	// to the number of times the name has experienced a collision. When a name
	// collides with an already-used name, we need to rename it. This is done by
	// incrementing a number at the end until the name is unused. We save the
	// count here so that subsequent collisions can start counting from where the
	// previous collision ended instead of having to start counting from 1.
	nameCounts map[string]uint32
}

func (s *numberScope) findUnusedName(name string) string {
	if tries, ok := s.nameCounts[name]; ok {
		prefix := name

		// Keep incrementing the number until the name is unused
		for {
			tries++
			name = prefix + strconv.Itoa(int(tries))
			if _, ok := s.nameCounts[name]; !ok {
				// Store the count so we can start here next time instead of
				// starting from 1. This means we avoid O(n^2) behavior.
				s.nameCounts[prefix] = tries
				break
			}
		}
	}

	// Each name starts off with a count of 1 so that the first collision with
	// "name" is called "name2"
	s.nameCounts[name] = 1
	return name
}

////////////////////////////////////////////////////////////////////////////////
// ExportRenamer

// Picks the aliases a chunk exports its symbols to other chunks under. These
// live in their own namespace, separate from the chunk's top-level names.
type ExportRenamer struct {
	used map[string]uint32
}

func (r *ExportRenamer) NextRenamedName(name string) string {
	if r.used == nil {
		r.used = make(map[string]uint32)
	}
	if tries, ok := r.used[name]; ok {
		prefix := name
		for {
			tries++
			name = prefix + strconv.Itoa(int(tries))
			if _, ok := r.used[name]; !ok {
				break
			}
		}
		r.used[prefix] = tries
	}
	r.used[name] = 1
	return name
}

// Sorts refs by the discovery order of their module and then by their
// index within it
func SortedRefs(refs map[ast.Ref]bool, stableSourceIndices []uint32) []ast.Ref {
	stable := make(ast.StableRefArray, 0, len(refs))
	for ref := range refs {
		stable = append(stable, ast.StableRef{StableSourceIndex: stableSourceIndices[ref.SourceIndex], Ref: ref})
	}
	sort.Sort(stable)
	result := make([]ast.Ref, len(stable))
	for i, item := range stable {
		result[i] = item.Ref
	}
	return result
}
