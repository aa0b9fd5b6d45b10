package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex32(t *testing.T) {
	var zero Index32
	assert.False(t, zero.IsValid())

	index := MakeIndex32(0)
	require.True(t, index.IsValid())
	assert.Equal(t, uint32(0), index.GetIndex())
	assert.Equal(t, uint32(7), MakeIndex32(7).GetIndex())
}

func TestImportKindFromString(t *testing.T) {
	for text, expected := range map[string]ImportKind{
		"":        ImportStmt,
		"static":  ImportStmt,
		"require": ImportRequire,
		"dynamic": ImportDynamic,
		"glob":    ImportGlob,
	} {
		kind, ok := ImportKindFromString(text)
		require.True(t, ok, text)
		assert.Equal(t, expected, kind, text)
	}

	_, ok := ImportKindFromString("url")
	assert.False(t, ok)
	assert.True(t, ImportGlob.IsDynamic())
	assert.False(t, ImportRequire.IsDynamic())
}

func newSymbols(counts ...int) SymbolMap {
	symbols := NewSymbolMap(len(counts))
	for source, count := range counts {
		inner := make([]Symbol, count)
		for i := range inner {
			inner[i].Link = InvalidRef
		}
		symbols.SymbolsForSource[source] = inner
	}
	return symbols
}

func TestMergeAndFollowSymbols(t *testing.T) {
	symbols := newSymbols(2, 2, 1)
	a := Ref{0, 1}
	b := Ref{1, 0}
	c := Ref{2, 0}
	symbols.Get(a).UseCountEstimate = 2
	symbols.Get(a).MustNotBeRenamed = true

	assert.Equal(t, b, MergeSymbols(symbols, a, b))
	assert.Equal(t, c, MergeSymbols(symbols, b, c))

	assert.Equal(t, c, FollowSymbols(symbols, a))
	assert.Equal(t, c, symbols.Get(a).Link, "path compression")
	assert.Equal(t, uint32(2), symbols.Get(c).UseCountEstimate)
	assert.True(t, symbols.Get(c).MustNotBeRenamed)

	// Merging an already-linked symbol appends to the end of its list
	d := Ref{0, 0}
	assert.Equal(t, d, MergeSymbols(symbols, a, d))
	assert.Equal(t, d, symbols.Get(c).Link)
	assert.Equal(t, d, FollowSymbols(symbols, a))
	assert.Equal(t, d, FollowSymbols(symbols, b))
	assert.Equal(t, d, FollowSymbols(symbols, d))
}

func TestTopLevelSymbolToParts(t *testing.T) {
	x := Ref{0, 0}
	y := Ref{0, 1}
	tree := AST{Parts: []Part{
		{DeclaredSymbols: []DeclaredSymbol{{Ref: x, IsTopLevel: true}}},
		{DeclaredSymbols: []DeclaredSymbol{{Ref: y, IsTopLevel: true}, {Ref: x, IsTopLevel: true}}},
		{DeclaredSymbols: []DeclaredSymbol{{Ref: Ref{0, 2}}}},
	}}
	assert.Equal(t, map[Ref][]uint32{x: {0, 1}, y: {1}}, tree.TopLevelSymbolToParts())
}

func TestHotAccept(t *testing.T) {
	accept := HotAccept{Kind: AcceptDeps, DepRecordIndices: []uint32{3}}
	assert.True(t, accept.AcceptsRecord(3))
	assert.False(t, accept.AcceptsRecord(1))
	assert.False(t, HotAccept{Kind: AcceptSelf}.AcceptsRecord(0))
}

func TestValueString(t *testing.T) {
	v := Value{Kind: ValueObject, Fields: []Field{
		{Key: "a", Value: Value{Kind: ValueNumber, Number: 1}},
		{Key: "b", Value: Value{Kind: ValueString, Text: "x"}},
	}}
	assert.Equal(t, `{a: 1, b: "x"}`, v.String())
	assert.Equal(t, []string{"a", "b"}, v.Keys())
	assert.Equal(t, "undefined", Value{}.String())
	assert.Equal(t, "1.5", Value{Kind: ValueNumber, Number: 1.5}.String())
}
