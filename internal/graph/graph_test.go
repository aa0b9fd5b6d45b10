package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/logger"
)

func TestInferCJSExports(t *testing.T) {
	inference := InferCJSExports([]CJSExportWrite{
		{Kind: CJSWriteProperty, Name: "a"},
		{Kind: CJSWriteReplace, Keys: []string{"c", "b"}},
		{Kind: CJSWriteProperty, Name: "d"},
	})
	assert.Equal(t, []string{"b", "c", "d"}, inference.Names)
	assert.True(t, inference.IsExact)
	assert.False(t, inference.Has("a"), "replacement discards earlier writes")
	assert.True(t, inference.Has("d"))

	inference = InferCJSExports([]CJSExportWrite{
		{Kind: CJSWriteProperty, Name: "a"},
		{Kind: CJSWriteDynamic},
		{Kind: CJSWriteProperty, Name: "b"},
	})
	assert.Equal(t, []string{"b"}, inference.Names)
	assert.False(t, inference.IsExact)

	inference = InferCJSExports([]CJSExportWrite{
		{Kind: CJSWriteDynamic},
		{Kind: CJSWriteReplace, Keys: []string{"x"}},
	})
	assert.True(t, inference.IsExact)
}

func TestMakeLinkerGraphClonesAndIndexes(t *testing.T) {
	local := ast.Ref{SourceIndex: 0, InnerIndex: 0}
	reexport := ast.Ref{SourceIndex: 0, InnerIndex: 1}
	ns := ast.Ref{SourceIndex: 0, InnerIndex: 2}
	imported := ast.Ref{SourceIndex: 0, InnerIndex: 3}

	repr := &ESMRepr{JSRepr{AST: ast.AST{
		Symbols: []ast.Symbol{
			{OriginalName: "x", Link: ast.InvalidRef},
			{OriginalName: "y", Link: ast.InvalidRef, Kind: ast.SymbolImport},
			{OriginalName: "import_b", Link: ast.InvalidRef},
			{OriginalName: "z", Link: ast.InvalidRef, Kind: ast.SymbolImport},
		},
		Parts: []ast.Part{{
			DeclaredSymbols: []ast.DeclaredSymbol{{Ref: local, IsTopLevel: true}},
			SymbolUses:      map[ast.Ref]ast.SymbolUse{imported: {CountEstimate: 1}},
		}},
		ImportRecords: []ast.ImportRecord{{
			Specifier:    "./b",
			NamespaceRef: ns,
			Items:        []ast.ImportItem{{Alias: "z", Ref: imported}},
		}},
		ExportRecords: []ast.ExportRecord{
			{Kind: ast.ExportLocal, Alias: "x", Ref: local},
			{Kind: ast.ExportReExport, Alias: "y", ImportedAlias: "w", Ref: reexport},
			{Kind: ast.ExportStar},
		},
	}}}
	inputFiles := []InputFile{{Source: logger.Source{Index: 0}, Repr: repr}}

	g := MakeLinkerGraph(inputFiles, []EntryPoint{{SourceIndex: 0, Kind: EntryPointUserSpecified}}, []uint32{0})
	js := g.JS(0)

	require.NotSame(t, repr, g.Files[0].InputFile.Repr)
	assert.True(t, g.Files[0].IsEntryPoint())
	assert.Equal(t, map[ast.Ref][]uint32{local: {0}}, js.TopLevelSymbolToParts)
	assert.Equal(t, []uint32{0}, js.ExportStarImportRecords)
	assert.Equal(t, NamedImport{Alias: "z", NamespaceRef: ns}, js.NamedImports[imported])
	assert.Equal(t, NamedImport{Alias: "w", NamespaceRef: ns, IsExported: true}, js.NamedImports[reexport])
	assert.Equal(t, local, js.Meta.ResolvedExports["x"].Ref)
	assert.Equal(t, reexport, js.Meta.ResolvedExports["y"].Ref)

	// Mutating the clone leaves the scanned module alone
	js.AST.Parts[0].SymbolUses[local] = ast.SymbolUse{CountEstimate: 1}
	g.Symbols.Get(local).OriginalName = "renamed"
	assert.Len(t, repr.AST.Parts[0].SymbolUses, 1)
	assert.Equal(t, "x", repr.AST.Symbols[0].OriginalName)
}

func TestGenerateSymbolImportAndUse(t *testing.T) {
	newRepr := func(source uint32) *ESMRepr {
		declared := ast.Ref{SourceIndex: source, InnerIndex: 0}
		return &ESMRepr{JSRepr{AST: ast.AST{
			Symbols: []ast.Symbol{{OriginalName: "v", Link: ast.InvalidRef}},
			Parts:   []ast.Part{{DeclaredSymbols: []ast.DeclaredSymbol{{Ref: declared, IsTopLevel: true}}}},
		}}}
	}
	g := MakeLinkerGraph([]InputFile{{Repr: newRepr(0)}, {Repr: newRepr(1)}}, nil, []uint32{0, 1})

	partIndex := g.AddPartToFile(0, ast.Part{})
	target := ast.Ref{SourceIndex: 1, InnerIndex: 0}
	g.GenerateSymbolImportAndUse(0, partIndex, target, 1, 1)

	part := g.JS(0).AST.Parts[partIndex]
	assert.Equal(t, uint32(1), part.SymbolUses[target].CountEstimate)
	assert.Equal(t, []ast.Dependency{{SourceIndex: 1, PartIndex: 0}}, part.Dependencies)
	assert.Equal(t, ImportData{SourceIndex: 1, Ref: target}, g.JS(0).Meta.ImportsToBind[target])

	ref := g.GenerateNewSymbol(1, ast.SymbolGenerated, "exports")
	assert.Equal(t, ast.Ref{SourceIndex: 1, InnerIndex: 1}, ref)
	assert.Equal(t, ast.InvalidRef, g.Symbols.Get(ref).Link)
}

func TestStarImportsAreNamedImports(t *testing.T) {
	ns := ast.Ref{SourceIndex: 0, InnerIndex: 0}
	reexported := ast.Ref{SourceIndex: 0, InnerIndex: 1}
	repr := &ESMRepr{JSRepr{AST: ast.AST{
		Symbols: []ast.Symbol{
			{OriginalName: "ns", Link: ast.InvalidRef},
			{OriginalName: "other", Link: ast.InvalidRef},
		},
		ImportRecords: []ast.ImportRecord{
			{Specifier: "./a", NamespaceRef: ns, Flags: ast.ContainsImportStar},
			{Specifier: "./b", NamespaceRef: reexported},
		},
		ExportRecords: []ast.ExportRecord{
			{Kind: ast.ExportNamespace, Alias: "other", Ref: reexported, ImportRecordIndex: 1},
		},
	}}}

	g := MakeLinkerGraph([]InputFile{{Repr: repr}}, nil, []uint32{0})
	js := g.JS(0)

	assert.Equal(t, NamedImport{Alias: "*", NamespaceRef: ast.InvalidRef, AliasIsStar: true}, js.NamedImports[ns])
	assert.Equal(t, NamedImport{
		Alias:             "*",
		NamespaceRef:      ast.InvalidRef,
		ImportRecordIndex: 1,
		AliasIsStar:       true,
		IsExported:        true,
	}, js.NamedImports[reexported])
	assert.Equal(t, reexported, js.NamedExports["other"].Ref)
}
