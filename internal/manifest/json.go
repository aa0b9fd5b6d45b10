package manifest

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

// A JSON module exports the whole value as "default" plus one named export
// per top-level key of an object. Every part is data, so all of them can be
// removed if unused.
func parseJSON(source *logger.Source) (graph.InputFileRepr, error) {
	if !gjson.Valid(source.Contents) {
		return nil, &bundler.SyntaxError{Text: fmt.Sprintf("Invalid JSON in %q", source.PrettyPath)}
	}
	root := gjson.Parse(source.Contents)

	p := dataModule(source)
	var keys []string
	partForKey := make(map[string]uint32)

	if root.IsObject() {
		root.ForEach(func(key, value gjson.Result) bool {
			name := key.String()

			// The last duplicate key wins, just like "JSON.parse"
			if partIndex, ok := partForKey[name]; ok {
				p.parts[partIndex].Ops[0].Value = jsonValue(value)
				return true
			}

			ref := p.newSymbol(ast.SymbolOther, forceValidIdentifier(name))
			partForKey[name] = uint32(len(p.parts))
			keys = append(keys, name)
			p.addDataPart(ref, jsonValue(value))
			p.exportRecords = append(p.exportRecords, ast.ExportRecord{
				Alias:    name,
				AliasLoc: logger.Loc{Start: int32(key.Index)},
				Ref:      ref,
				Kind:     ast.ExportLocal,
			})
			return true
		})
	}

	defaultRef := p.newSymbol(ast.SymbolOther, source.IdentifierName+"_default")
	p.addDataPart(defaultRef, jsonValue(root))
	p.exportRecords = append(p.exportRecords, ast.ExportRecord{
		Alias: "default",
		Ref:   defaultRef,
		Kind:  ast.ExportLocal,
	})

	return &graph.JSONRepr{JSRepr: graph.JSRepr{AST: p.dataAST()}, Keys: keys}, nil
}

func jsonValue(result gjson.Result) ast.Value {
	switch result.Type {
	case gjson.String:
		return ast.Value{Kind: ast.ValueString, Text: result.Str}
	case gjson.Number:
		return ast.Value{Kind: ast.ValueNumber, Number: result.Num}
	case gjson.True, gjson.False:
		return ast.Value{Kind: ast.ValueBool, Bool: result.Bool()}
	case gjson.JSON:
		// Arrays are objects with index keys
		value := ast.Value{Kind: ast.ValueObject}
		index := 0
		isArray := result.IsArray()
		result.ForEach(func(key, item gjson.Result) bool {
			name := key.String()
			if isArray {
				name = strconv.Itoa(index)
				index++
			}
			value.Fields = append(value.Fields, ast.Field{Key: name, Value: jsonValue(item)})
			return true
		})
		return value
	}
	return ast.Value{}
}

// Property names that aren't identifiers still need a symbol name
func forceValidIdentifier(text string) string {
	sb := strings.Builder{}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if isIdentifierContinue(c) && (i > 0 || isIdentifierStart(c)) {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

// An asset module's default export is the URL the file is published at
func parseAsset(source *logger.Source) graph.InputFileRepr {
	base := path.Base(source.KeyPath.Text)
	ext := path.Ext(base)
	url := fmt.Sprintf("%s-%08x%s", strings.TrimSuffix(base, ext), uint32(helpers.ContentHash(source.Contents)>>32), ext)

	p := dataModule(source)
	defaultRef := p.newSymbol(ast.SymbolOther, source.IdentifierName+"_default")
	p.addDataPart(defaultRef, ast.Value{Kind: ast.ValueString, Text: url})
	p.exportRecords = append(p.exportRecords, ast.ExportRecord{
		Alias: "default",
		Ref:   defaultRef,
		Kind:  ast.ExportLocal,
	})

	return &graph.AssetRepr{JSRepr: graph.JSRepr{AST: p.dataAST()}, URL: url}
}

func dataModule(source *logger.Source) *moduleParser {
	p := &moduleParser{source: source}
	p.exportsRef = p.newSymbol(ast.SymbolGenerated, source.IdentifierName+"_exports")
	p.moduleRef = p.newSymbol(ast.SymbolGenerated, source.IdentifierName+"_module")
	p.wrapperRef = p.newSymbol(ast.SymbolGenerated, "wrapper")
	return p
}

func (p *moduleParser) addDataPart(ref ast.Ref, value ast.Value) {
	op := newOp(ast.OpSet)
	op.Target = ref
	op.Value = value
	p.parts = append(p.parts, ast.Part{
		Ops:                  []ast.Op{op},
		DeclaredSymbols:      []ast.DeclaredSymbol{{Ref: ref, IsTopLevel: true}},
		CanBeRemovedIfUnused: true,
	})
}

func (p *moduleParser) dataAST() ast.AST {
	return ast.AST{
		Parts:         p.parts,
		Symbols:       p.symbols,
		ExportRecords: p.exportRecords,
		ExportsRef:    p.exportsRef,
		ModuleRef:     p.moduleRef,
		WrapperRef:    p.wrapperRef,
		ExportsKind:   ast.ExportsESM,
	}
}
