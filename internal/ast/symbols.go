package ast

// Files are parsed independently and may be parsed in parallel, so each
// module allocates its own symbols. A symbol is identified by the module's
// source index plus the symbol's index within that module. The linker joins
// the per-module arrays into one two-level map without copying them.
type Ref struct {
	SourceIndex uint32
	InnerIndex  uint32
}

var InvalidRef Ref = Ref{^uint32(0), ^uint32(0)}

type SymbolKind uint8

const (
	// A top-level "let", "const" or "var" declaration
	SymbolOther SymbolKind = iota

	// Functions and classes can have their names queried at run-time, so the
	// keep-names feature attaches the original name to them
	SymbolFunction
	SymbolClass

	// A binding created by an import clause. After linking it is merged with
	// the declaration it resolves to.
	SymbolImport

	// "exports", "module", the namespace object and the wrapper function. The
	// linker creates these for every module.
	SymbolGenerated

	// A name that is referenced but never declared, such as a global. These
	// are never renamed.
	SymbolUnbound
)

func (kind SymbolKind) IsFunctionOrClass() bool {
	return kind == SymbolFunction || kind == SymbolClass
}

func (kind SymbolKind) String() string {
	switch kind {
	case SymbolOther:
		return "other"
	case SymbolFunction:
		return "function"
	case SymbolClass:
		return "class"
	case SymbolImport:
		return "import"
	case SymbolGenerated:
		return "generated"
	case SymbolUnbound:
		return "unbound"
	default:
		panic("Internal error")
	}
}

type ImportItemStatus uint8

const (
	ImportItemNone ImportItemStatus = iota

	// The linker doesn't report import/export mismatch errors
	ImportItemGenerated

	// The import resolved to nothing. Reads observe "undefined".
	ImportItemMissing
)

// Property access off of a namespace object. Imports that can only be
// resolved at run-time (CommonJS, externals, "export *" fallbacks) are
// represented this way instead of as a direct binding.
type NamespaceAlias struct {
	NamespaceRef Ref
	Alias        string
}

type Symbol struct {
	// This is the name that came from the parser. Printed names may be renamed
	// to avoid name collisions. Do not use the original name during printing.
	OriginalName string

	// For correctness, this must be stored on the symbol instead of indirectly
	// associated with the Ref for the symbol somehow. Re-exported symbols are
	// collapsed using MergeSymbols() and renamed symbols from other files that
	// end up at this symbol must be able to tell if it has a namespace alias.
	NamespaceAlias *NamespaceAlias

	// Symbols that have been merged form a linked-list where the last link is
	// the symbol to use. This link is an invalid ref if it's the last link. If
	// this isn't invalid, you need to FollowSymbols to get the real one.
	Link Ref

	// An estimate of the number of uses of this symbol. It should always be
	// non-zero when the symbol is used.
	UseCountEstimate uint32

	// This is for generating cross-chunk imports and exports for code splitting
	ChunkIndex Index32

	Kind SymbolKind

	// Certain symbols must not be renamed. Unbound globals are one example.
	MustNotBeRenamed bool

	ImportItemStatus ImportItemStatus
}

type SymbolMap struct {
	// This could be represented as a "map[Ref]Symbol" but a two-level array is
	// more efficient since it doesn't involve a hash. Each module only creates
	// symbols in a single inner array, so the maps for several modules can be
	// joined by making a single outer array containing all of the inner arrays.
	SymbolsForSource [][]Symbol
}

func NewSymbolMap(sourceCount int) SymbolMap {
	return SymbolMap{make([][]Symbol, sourceCount)}
}

func (sm SymbolMap) Get(ref Ref) *Symbol {
	return &sm.SymbolsForSource[ref.SourceIndex][ref.InnerIndex]
}

// Returns the canonical ref that represents the ref for the provided symbol.
// This may not be the provided ref if the symbol has been merged with another
// symbol.
func FollowSymbols(symbols SymbolMap, ref Ref) Ref {
	symbol := symbols.Get(ref)
	if symbol.Link == InvalidRef {
		return ref
	}

	link := FollowSymbols(symbols, symbol.Link)

	// Only write if needed to avoid concurrent map update hazards
	if symbol.Link != link {
		symbol.Link = link
	}

	return link
}

// Use this before calling "FollowSymbols" from separate goroutines. Reading
// is safe but path compression is a write, so all compression happens up
// front here.
func FollowAllSymbols(symbols SymbolMap) {
	for sourceIndex, inner := range symbols.SymbolsForSource {
		for symbolIndex := range inner {
			FollowSymbols(symbols, Ref{uint32(sourceIndex), uint32(symbolIndex)})
		}
	}
}

// Makes "old" point to "new" by joining the linked lists for the two symbols
// together. That way "FollowSymbols" on both "old" and "new" will result in
// the same ref.
func MergeSymbols(symbols SymbolMap, old Ref, new Ref) Ref {
	if old == new {
		return new
	}

	oldSymbol := symbols.Get(old)
	if oldSymbol.Link != InvalidRef {
		oldSymbol.Link = MergeSymbols(symbols, oldSymbol.Link, new)
		return oldSymbol.Link
	}

	newSymbol := symbols.Get(new)
	if newSymbol.Link != InvalidRef {
		newSymbol.Link = MergeSymbols(symbols, old, newSymbol.Link)
		return newSymbol.Link
	}

	oldSymbol.Link = new
	newSymbol.UseCountEstimate += oldSymbol.UseCountEstimate
	if oldSymbol.MustNotBeRenamed {
		newSymbol.MustNotBeRenamed = true
	}
	return new
}

// Sorting by ref alone is not deterministic because source indices depend on
// the order modules finished parsing. Callers map source indices to stable
// indices first.
type StableRef struct {
	StableSourceIndex uint32
	Ref               Ref
}

type StableRefArray []StableRef

func (a StableRefArray) Len() int               { return len(a) }
func (a StableRefArray) Swap(i int, j int)      { a[i], a[j] = a[j], a[i] }
func (a StableRefArray) Less(i int, j int) bool { return a[i].Less(a[j]) }

func (a StableRef) Less(b StableRef) bool {
	return a.StableSourceIndex < b.StableSourceIndex ||
		(a.StableSourceIndex == b.StableSourceIndex && a.Ref.InnerIndex < b.Ref.InnerIndex)
}
