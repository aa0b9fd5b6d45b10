package manifest

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

// Module files are a list of statements, one per line, optionally preceded
// by a YAML front matter block:
//
//	---
//	format: cjs
//	accept: [./dep.js]
//	---
//	exports.a = 1
//
// JSON files and assets are recognized by their extension.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

var assetExtensions = map[string]bool{
	".css":   true,
	".gif":   true,
	".jpeg":  true,
	".jpg":   true,
	".png":   true,
	".svg":   true,
	".txt":   true,
	".wasm":  true,
	".woff":  true,
	".woff2": true,
}

func (*Parser) Parse(ctx context.Context, source logger.Source) (graph.InputFileRepr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source.IdentifierName == "" {
		source.IdentifierName = helpers.IdentifierNameFromPath(source.KeyPath.Text)
	}

	ext := path.Ext(source.KeyPath.Text)
	switch {
	case ext == ".json":
		return parseJSON(&source)
	case assetExtensions[ext]:
		return parseAsset(&source), nil
	}
	return parseModule(&source)
}

type frontMatter struct {
	Format string    `yaml:"format"`
	Accept yaml.Node `yaml:"accept"`
}

// Returns the decoded front matter and the offset of the first body line
func parseFrontMatter(source *logger.Source) (frontMatter, int, error) {
	var fm frontMatter
	contents := source.Contents
	if !strings.HasPrefix(contents, "---\n") && !strings.HasPrefix(contents, "---\r\n") {
		return fm, 0, nil
	}

	start := strings.IndexByte(contents, '\n') + 1
	end := start
	for {
		newline := strings.IndexByte(contents[end:], '\n')
		line := contents[end:]
		if newline != -1 {
			line = contents[end : end+newline]
		}
		if strings.TrimRight(line, "\r") == "---" {
			break
		}
		if newline == -1 {
			return fm, 0, &bundler.SyntaxError{
				Text:  "Expected \"---\" to end the front matter",
				Range: logger.Range{Loc: logger.Loc{Start: int32(len(contents))}},
			}
		}
		end += newline + 1
	}

	if err := yaml.Unmarshal([]byte(contents[start:end]), &fm); err != nil {
		return fm, 0, &bundler.SyntaxError{
			Text:  fmt.Sprintf("Invalid front matter: %s", strings.TrimPrefix(err.Error(), "yaml: ")),
			Range: logger.Range{Loc: logger.Loc{Start: int32(start)}},
		}
	}

	bodyStart := end + 3
	if bodyStart < len(contents) && contents[bodyStart] == '\r' {
		bodyStart++
	}
	if bodyStart < len(contents) && contents[bodyStart] == '\n' {
		bodyStart++
	}
	return fm, bodyStart, nil
}

type declKind uint8

const (
	// Forward references that are never declared end up unbound
	declNone declKind = iota

	// "var" and "function" can be repeated
	declVar

	// "let", "const" and "class" can't
	declLexical

	declImport
)

type localExport struct {
	name  token
	alias token
}

type generatedItemKey struct {
	recordIndex uint32
	alias       string
}

type pendingRead struct {
	partIndex uint32
	ref       ast.Ref
}

type moduleParser struct {
	source        *logger.Source
	symbols       []ast.Symbol
	scope         map[string]ast.Ref
	declared      map[ast.Ref]declKind
	parts         []ast.Part
	importRecords []ast.ImportRecord
	exportRecords []ast.ExportRecord
	exportWrites  []graph.CJSExportWrite
	exportedNames map[string]bool
	localExports  []localExport
	pendingReads  []pendingRead

	// "import * as ns" namespaces and the generated items for "ns.x" reads
	starImports    map[ast.Ref]uint32
	generatedItems map[generatedItemKey]ast.Ref
	recordParts    map[uint32]uint32

	exportsRef ast.Ref
	moduleRef  ast.Ref
	wrapperRef ast.Ref

	// Set once "module.exports" is replaced. From then on "exports" still
	// names the original object, so writes through it export nothing.
	exportsDetached bool

	// The first statement using each module system, for error messages
	esmSyntax *logger.Range
	cjsSyntax *logger.Range
}

func parseModule(source *logger.Source) (graph.InputFileRepr, error) {
	fm, bodyStart, err := parseFrontMatter(source)
	if err != nil {
		return nil, err
	}

	p := &moduleParser{
		source:         source,
		scope:          make(map[string]ast.Ref),
		declared:       make(map[ast.Ref]declKind),
		exportedNames:  make(map[string]bool),
		starImports:    make(map[ast.Ref]uint32),
		generatedItems: make(map[generatedItemKey]ast.Ref),
		recordParts:    make(map[uint32]uint32),
	}
	p.exportsRef = p.newSymbol(ast.SymbolGenerated, "exports")
	p.moduleRef = p.newSymbol(ast.SymbolGenerated, "module")
	p.wrapperRef = p.newSymbol(ast.SymbolGenerated, "wrapper")

	body := source.Contents[bodyStart:]
	for offset := 0; offset < len(body); {
		line := body[offset:]
		next := len(body)
		if newline := strings.IndexByte(line, '\n'); newline != -1 {
			line = line[:newline]
			next = offset + newline + 1
		}
		lineOffset := int32(bodyStart + offset)
		offset = next

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}

		lex, err := tokenizeLine(source, line, lineOffset)
		if err != nil {
			return nil, err
		}
		if err := p.parseStatementLine(lex); err != nil {
			return nil, err
		}
	}

	return p.finish(fm)
}

func (p *moduleParser) newSymbol(kind ast.SymbolKind, name string) ast.Ref {
	ref := ast.Ref{SourceIndex: p.source.Index, InnerIndex: uint32(len(p.symbols))}
	p.symbols = append(p.symbols, ast.Symbol{
		OriginalName: name,
		Link:         ast.InvalidRef,
		Kind:         kind,
	})
	return ref
}

func (p *moduleParser) declare(name token, kind ast.SymbolKind, decl declKind) (ast.Ref, error) {
	if name.Text == "exports" || name.Text == "module" || name.Text == "require" {
		return ast.InvalidRef, &bundler.SyntaxError{
			Text:  fmt.Sprintf("Cannot declare %q in a module", name.Text),
			Range: name.Range,
		}
	}

	ref, ok := p.scope[name.Text]
	if !ok {
		ref = p.newSymbol(kind, name.Text)
		p.scope[name.Text] = ref
		p.declared[ref] = decl
		return ref, nil
	}

	switch previous := p.declared[ref]; {
	case previous == declNone:
		// This was referenced before it was declared
		p.symbols[ref.InnerIndex].Kind = kind
		p.declared[ref] = decl

	case previous == declVar && decl == declVar:
		if kind == ast.SymbolFunction {
			p.symbols[ref.InnerIndex].Kind = kind
		}

	default:
		return ast.InvalidRef, &bundler.SyntaxError{
			Text:  fmt.Sprintf("The symbol %q has already been declared", name.Text),
			Range: name.Range,
		}
	}
	return ref, nil
}

// Names that are never declared become unbound globals when parsing ends
func (p *moduleParser) reference(name token) ast.Ref {
	switch name.Text {
	case "exports":
		p.noteCJS(name.Range)
		return p.exportsRef
	case "module":
		p.noteCJS(name.Range)
		return p.moduleRef
	}
	if ref, ok := p.scope[name.Text]; ok {
		return ref
	}
	ref := p.newSymbol(ast.SymbolUnbound, name.Text)
	p.scope[name.Text] = ref
	p.declared[ref] = declNone
	return ref
}

func (p *moduleParser) noteESM(r logger.Range) {
	if p.esmSyntax == nil {
		p.esmSyntax = &r
	}
}

func (p *moduleParser) noteCJS(r logger.Range) {
	if p.cjsSyntax == nil {
		p.cjsSyntax = &r
	}
}

func (p *moduleParser) use(part *ast.Part, ref ast.Ref) {
	if part.SymbolUses == nil {
		part.SymbolUses = make(map[ast.Ref]ast.SymbolUse)
	}
	use := part.SymbolUses[ref]
	use.CountEstimate++
	part.SymbolUses[ref] = use
	p.symbols[ref.InnerIndex].UseCountEstimate++
}

// Reading an identifier can't be removed if it turns out to be a global,
// since that may throw
func (p *moduleParser) read(part *ast.Part, ref ast.Ref) {
	p.use(part, ref)
	p.pendingReads = append(p.pendingReads, pendingRead{partIndex: uint32(len(p.parts)), ref: ref})
}

func declareTopLevel(part *ast.Part, ref ast.Ref) {
	part.DeclaredSymbols = append(part.DeclaredSymbols, ast.DeclaredSymbol{Ref: ref, IsTopLevel: true})
}

func newOp(kind ast.OpKind) ast.Op {
	return ast.Op{Kind: kind, Target: ast.InvalidRef, Source: ast.InvalidRef}
}

func (p *moduleParser) addImportRecord(kind ast.ImportKind, specifier token) uint32 {
	p.importRecords = append(p.importRecords, ast.ImportRecord{
		Range:        specifier.Range,
		Specifier:    specifier.Text,
		NamespaceRef: ast.InvalidRef,
		Kind:         kind,
	})
	return uint32(len(p.importRecords) - 1)
}

func (p *moduleParser) generatedNamespace(specifier string) ast.Ref {
	return p.newSymbol(ast.SymbolOther, "import_"+helpers.IdentifierNameFromPath(specifier))
}

func (p *moduleParser) parseStatementLine(lex *lexer) error {
	part := ast.Part{}
	isPure := false

	// "pure = 1" assigns to a variable named "pure"
	for lex.is("pure") && !(lex.peekAt(1).Kind == TPunct && lex.peekAt(1).Text == "=") {
		lex.next()
		isPure = true
	}

	keep, err := p.parseStatement(lex, &part)
	if err != nil {
		return err
	}
	if err := lex.expectEnd(); err != nil {
		return err
	}
	if !keep {
		return nil
	}

	if isPure {
		part.CanBeRemovedIfUnused = true
		p.pendingReads = p.pendingReads[:len(p.pendingReads)-countReadsFor(p.pendingReads, uint32(len(p.parts)))]
	}
	p.parts = append(p.parts, part)
	return nil
}

func countReadsFor(reads []pendingRead, partIndex uint32) int {
	n := 0
	for i := len(reads) - 1; i >= 0 && reads[i].partIndex == partIndex; i-- {
		n++
	}
	return n
}

// Returns false if the statement doesn't generate a part
func (p *moduleParser) parseStatement(lex *lexer, part *ast.Part) (bool, error) {
	t := lex.peek()
	if t.Kind != TIdentifier {
		return false, lex.unexpected("statement")
	}

	switch t.Text {
	case "import":
		// "import('./x')" is an expression
		if next := lex.peekAt(1); next.Kind == TPunct && next.Text == "(" {
			return true, p.parseLoad(lex, part, ast.InvalidRef, false)
		}
		return true, p.parseImport(lex, part)

	case "export":
		return p.parseExport(lex, part)

	case "let", "const", "var", "function", "class":
		_, err := p.parseDeclaration(lex, part)
		return true, err

	case "log":
		return true, p.parseLog(lex, part)

	case "require", "await", "try":
		return true, p.parseLoad(lex, part, ast.InvalidRef, false)

	case "glob":
		return true, p.parseGlob(lex, part)

	case "exports", "module":
		if next := lex.peekAt(1); next.Kind == TPunct && (next.Text == "." || next.Text == "[") {
			return true, p.parseExportsWrite(lex, part)
		}
	}

	return true, p.parseAssignment(lex, part)
}

func (p *moduleParser) parseImport(lex *lexer, part *ast.Part) error {
	keyword := lex.next()
	p.noteESM(keyword.Range)

	// "import './x'"
	if lex.peek().Kind == TString {
		specifier := lex.next()
		recordIndex := p.addImportRecord(ast.ImportStmt, specifier)
		record := &p.importRecords[recordIndex]
		record.Flags |= ast.WasOriginallyBareImport
		record.NamespaceRef = p.generatedNamespace(specifier.Text)
		p.finishImportPart(part, recordIndex)
		return nil
	}

	var items []ast.ImportItem
	var flags ast.ImportRecordFlags
	starRef := ast.InvalidRef
	hasClause := true

	// "import d from" or "import d, {a} from"
	if t := lex.peek(); t.Kind == TIdentifier && t.Text != "from" {
		lex.next()
		ref, err := p.declare(t, ast.SymbolImport, declImport)
		if err != nil {
			return err
		}
		items = append(items, ast.ImportItem{Alias: "default", AliasLoc: t.Range.Loc, Ref: ref})
		flags |= ast.ContainsDefaultAlias
		hasClause = lex.eat(",")
	}

	switch {
	case !hasClause:

	case lex.eat("*"):
		if err := lex.expect("as"); err != nil {
			return err
		}
		name, err := lex.expectKind(TIdentifier)
		if err != nil {
			return err
		}
		if starRef, err = p.declare(name, ast.SymbolImport, declImport); err != nil {
			return err
		}
		flags |= ast.ContainsImportStar

	case lex.eat("{"):
		for !lex.eat("}") {
			alias, err := p.expectAlias(lex)
			if err != nil {
				return err
			}
			name := alias
			if lex.eat("as") {
				if name, err = lex.expectKind(TIdentifier); err != nil {
					return err
				}
			} else if alias.Kind != TIdentifier {
				return lex.unexpected("\"as\"")
			}
			ref, err := p.declare(name, ast.SymbolImport, declImport)
			if err != nil {
				return err
			}
			items = append(items, ast.ImportItem{Alias: alias.Text, AliasLoc: alias.Range.Loc, Ref: ref})
			if alias.Text == "default" {
				flags |= ast.ContainsDefaultAlias
			}
			if !lex.eat(",") {
				if err := lex.expect("}"); err != nil {
					return err
				}
				break
			}
		}

	default:
		return lex.unexpected("import clause")
	}

	if err := lex.expect("from"); err != nil {
		return err
	}
	specifier, err := lex.expectKind(TString)
	if err != nil {
		return err
	}

	recordIndex := p.addImportRecord(ast.ImportStmt, specifier)
	record := &p.importRecords[recordIndex]
	record.Items = items
	record.Flags |= flags
	if starRef != ast.InvalidRef {
		record.NamespaceRef = starRef
		p.starImports[starRef] = recordIndex
	} else {
		record.NamespaceRef = p.generatedNamespace(specifier.Text)
	}

	for _, item := range items {
		declareTopLevel(part, item.Ref)
	}
	p.finishImportPart(part, recordIndex)
	return nil
}

// Import statements can be removed if unused. The shaker keeps them anyway
// when the imported module has side effects.
func (p *moduleParser) finishImportPart(part *ast.Part, recordIndex uint32) {
	declareTopLevel(part, p.importRecords[recordIndex].NamespaceRef)
	part.ImportRecordIndices = append(part.ImportRecordIndices, recordIndex)
	part.CanBeRemovedIfUnused = true
	p.recordParts[recordIndex] = uint32(len(p.parts))
}

// Aliases in import and export clauses can be keywords or strings
func (p *moduleParser) expectAlias(lex *lexer) (token, error) {
	t := lex.peek()
	if t.Kind != TIdentifier && t.Kind != TString {
		return t, lex.unexpected("identifier")
	}
	lex.next()
	return t, nil
}

func (p *moduleParser) addExportName(alias token) error {
	if p.exportedNames[alias.Text] {
		return &bundler.SyntaxError{
			Text:  fmt.Sprintf("Multiple exports with the same name %q", alias.Text),
			Range: alias.Range,
		}
	}
	p.exportedNames[alias.Text] = true
	return nil
}

func (p *moduleParser) parseExport(lex *lexer, part *ast.Part) (bool, error) {
	keyword := lex.next()
	p.noteESM(keyword.Range)

	switch t := lex.peek(); {
	case t.Kind == TIdentifier && (t.Text == "let" || t.Text == "const" || t.Text == "var" ||
		t.Text == "function" || t.Text == "class"):
		name, err := p.parseDeclaration(lex, part)
		if err != nil {
			return false, err
		}
		if err := p.addExportName(name); err != nil {
			return false, err
		}
		p.exportRecords = append(p.exportRecords, ast.ExportRecord{
			Alias:    name.Text,
			AliasLoc: name.Range.Loc,
			Ref:      p.scope[name.Text],
			Kind:     ast.ExportLocal,
		})
		return true, nil

	case lex.is("default"):
		return true, p.parseExportDefault(lex, part)

	case lex.is("*"):
		lex.next()
		var name token
		hasName := lex.eat("as")
		if hasName {
			var err error
			if name, err = p.expectAlias(lex); err != nil {
				return false, err
			}
		}
		if err := lex.expect("from"); err != nil {
			return false, err
		}
		specifier, err := lex.expectKind(TString)
		if err != nil {
			return false, err
		}
		recordIndex := p.addImportRecord(ast.ImportStmt, specifier)
		record := &p.importRecords[recordIndex]

		if hasName {
			// "export * as ns from"
			if err := p.addExportName(name); err != nil {
				return false, err
			}
			record.NamespaceRef = p.newSymbol(ast.SymbolImport, name.Text)
			record.Flags |= ast.ContainsImportStar
			p.exportRecords = append(p.exportRecords, ast.ExportRecord{
				Alias:             name.Text,
				AliasLoc:          name.Range.Loc,
				Ref:               record.NamespaceRef,
				ImportRecordIndex: recordIndex,
				Kind:              ast.ExportNamespace,
			})
		} else {
			// "export * from"
			record.NamespaceRef = p.generatedNamespace(specifier.Text)
			record.Flags |= ast.IsExportStar
			p.exportRecords = append(p.exportRecords, ast.ExportRecord{
				ImportRecordIndex: recordIndex,
				Kind:              ast.ExportStar,
			})
		}
		p.finishImportPart(part, recordIndex)
		return true, nil

	case lex.is("{"):
		lex.next()
		type clauseItem struct {
			name  token
			alias token
		}
		var clause []clauseItem
		for !lex.eat("}") {
			name, err := p.expectAlias(lex)
			if err != nil {
				return false, err
			}
			alias := name
			if lex.eat("as") {
				if alias, err = p.expectAlias(lex); err != nil {
					return false, err
				}
			}
			if err := p.addExportName(alias); err != nil {
				return false, err
			}
			clause = append(clause, clauseItem{name: name, alias: alias})
			if !lex.eat(",") {
				if err := lex.expect("}"); err != nil {
					return false, err
				}
				break
			}
		}

		// "export {a as b}" only adds export records. The names are resolved
		// once the whole module has been seen.
		if !lex.eat("from") {
			for _, item := range clause {
				if item.name.Kind != TIdentifier {
					return false, &bundler.SyntaxError{
						Text:  "Expected identifier but found string",
						Range: item.name.Range,
					}
				}
				p.localExports = append(p.localExports, localExport{name: item.name, alias: item.alias})
			}
			return false, nil
		}

		// "export {a as b} from"
		specifier, err := lex.expectKind(TString)
		if err != nil {
			return false, err
		}
		recordIndex := p.addImportRecord(ast.ImportStmt, specifier)
		record := &p.importRecords[recordIndex]
		record.NamespaceRef = p.generatedNamespace(specifier.Text)
		for _, item := range clause {
			ref := p.newSymbol(ast.SymbolImport, item.alias.Text)
			declareTopLevel(part, ref)
			if item.name.Text == "default" {
				record.Flags |= ast.ContainsDefaultAlias
			}
			p.exportRecords = append(p.exportRecords, ast.ExportRecord{
				Alias:             item.alias.Text,
				AliasLoc:          item.alias.Range.Loc,
				Ref:               ref,
				ImportedAlias:     item.name.Text,
				ImportRecordIndex: recordIndex,
				Kind:              ast.ExportReExport,
			})
		}
		p.finishImportPart(part, recordIndex)
		return true, nil
	}

	return false, lex.unexpected("export clause")
}

func (p *moduleParser) parseExportDefault(lex *lexer, part *ast.Part) error {
	alias := lex.next()
	if err := p.addExportName(alias); err != nil {
		return err
	}
	hiddenName := p.source.IdentifierName + "_default"

	// "export default function f" and "export default class C" are live
	if t := lex.peek(); t.Kind == TIdentifier && (t.Text == "function" || t.Text == "class") {
		lex.next()
		kind, valueKind := ast.SymbolFunction, ast.ValueFunction
		if t.Text == "class" {
			kind, valueKind = ast.SymbolClass, ast.ValueClass
		}

		var ref ast.Ref
		valueName := "default"
		if name := lex.peek(); name.Kind == TIdentifier {
			lex.next()
			var err error
			if ref, err = p.declare(name, kind, declVar); err != nil {
				return err
			}
			valueName = name.Text
		} else {
			ref = p.newSymbol(kind, hiddenName)
		}

		declareTopLevel(part, ref)
		op := newOp(ast.OpSet)
		op.Target = ref
		op.Value = ast.Value{Kind: valueKind, Text: valueName}
		part.Ops = append(part.Ops, op)
		part.CanBeRemovedIfUnused = true
		p.exportRecords = append(p.exportRecords, ast.ExportRecord{
			Alias:    "default",
			AliasLoc: alias.Range.Loc,
			Ref:      ref,
			Kind:     ast.ExportLocal,
		})
		return nil
	}

	// "export default <expression>" captures the value once
	ref := p.newSymbol(ast.SymbolOther, hiddenName)
	declareTopLevel(part, ref)
	removable, err := p.parseInitializer(lex, part, ref, "default")
	if err != nil {
		return err
	}
	part.CanBeRemovedIfUnused = removable
	p.exportRecords = append(p.exportRecords, ast.ExportRecord{
		Alias:    "default",
		AliasLoc: alias.Range.Loc,
		Ref:      ref,
		Kind:     ast.ExportLocal,
		Liveness: ast.Snapshot,
	})
	return nil
}

// Returns the declared name
func (p *moduleParser) parseDeclaration(lex *lexer, part *ast.Part) (token, error) {
	keyword := lex.next()

	switch keyword.Text {
	case "function", "class":
		name, err := lex.expectKind(TIdentifier)
		if err != nil {
			return name, err
		}
		kind, valueKind, decl := ast.SymbolFunction, ast.ValueFunction, declVar
		if keyword.Text == "class" {
			kind, valueKind, decl = ast.SymbolClass, ast.ValueClass, declLexical
		}
		ref, err := p.declare(name, kind, decl)
		if err != nil {
			return name, err
		}
		declareTopLevel(part, ref)
		op := newOp(ast.OpSet)
		op.Target = ref
		op.Value = ast.Value{Kind: valueKind, Text: name.Text}
		part.Ops = append(part.Ops, op)
		part.CanBeRemovedIfUnused = true
		return name, nil
	}

	name, err := lex.expectKind(TIdentifier)
	if err != nil {
		return name, err
	}
	decl := declLexical
	if keyword.Text == "var" {
		decl = declVar
	}

	// Anonymous functions take the name of the variable they initialize
	kind := ast.SymbolOther
	if next := lex.peekAt(1); lex.is("=") && next.Kind == TIdentifier {
		switch next.Text {
		case "function":
			kind = ast.SymbolFunction
		case "class":
			kind = ast.SymbolClass
		}
	}

	ref, err := p.declare(name, kind, decl)
	if err != nil {
		return name, err
	}
	declareTopLevel(part, ref)

	if !lex.eat("=") {
		op := newOp(ast.OpSet)
		op.Target = ref
		part.Ops = append(part.Ops, op)
		part.CanBeRemovedIfUnused = true
		return name, nil
	}

	removable, err := p.parseInitializer(lex, part, ref, name.Text)
	if err != nil {
		return name, err
	}
	part.CanBeRemovedIfUnused = removable
	return name, nil
}

// Stores the expression in "target". Loads are allowed here in addition to
// plain values. Returns whether the statement can be removed if unused.
func (p *moduleParser) parseInitializer(lex *lexer, part *ast.Part, target ast.Ref, name string) (bool, error) {
	if t := lex.peek(); t.Kind == TIdentifier {
		next := lex.peekAt(1)
		isCall := next.Kind == TPunct && next.Text == "("
		if (t.Text == "require" && isCall) || (t.Text == "import" && isCall) || t.Text == "await" || t.Text == "try" {
			return false, p.parseLoad(lex, part, target, false)
		}
	}

	value, ref, err := p.parseValue(lex, part)
	if err != nil {
		return false, err
	}
	if ref != ast.InvalidRef {
		op := newOp(ast.OpCopy)
		op.Target = target
		op.Source = ref
		part.Ops = append(part.Ops, op)
		return true, nil
	}

	if (value.Kind == ast.ValueFunction || value.Kind == ast.ValueClass) && value.Text == "" {
		value.Text = name
	}
	op := newOp(ast.OpSet)
	op.Target = target
	op.Value = value
	part.Ops = append(part.Ops, op)
	return true, nil
}

// Either returns a literal value or a valid ref for an identifier
func (p *moduleParser) parseValue(lex *lexer, part *ast.Part) (ast.Value, ast.Ref, error) {
	t := lex.peek()

	switch t.Kind {
	case TString:
		lex.next()
		return ast.Value{Kind: ast.ValueString, Text: t.Text}, ast.InvalidRef, nil

	case TNumber:
		lex.next()
		number, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return ast.Value{}, ast.InvalidRef, &bundler.SyntaxError{
				Text:  fmt.Sprintf("Invalid number %q", t.Text),
				Range: t.Range,
			}
		}
		return ast.Value{Kind: ast.ValueNumber, Number: number}, ast.InvalidRef, nil

	case TPunct:
		if t.Text == "{" {
			value, err := p.parseObject(lex)
			return value, ast.InvalidRef, err
		}

	case TIdentifier:
		lex.next()
		switch t.Text {
		case "true", "false":
			return ast.Value{Kind: ast.ValueBool, Bool: t.Text == "true"}, ast.InvalidRef, nil

		case "undefined", "null":
			return ast.Value{}, ast.InvalidRef, nil

		case "function", "class":
			kind := ast.ValueFunction
			if t.Text == "class" {
				kind = ast.ValueClass
			}
			value := ast.Value{Kind: kind}
			if name := lex.peek(); name.Kind == TIdentifier {
				lex.next()
				value.Text = name.Text
			}
			return value, ast.InvalidRef, nil
		}

		ref := p.reference(t)
		p.read(part, ref)
		return ast.Value{}, ref, nil
	}

	return ast.Value{}, ast.InvalidRef, lex.unexpected("value")
}

func (p *moduleParser) parseObject(lex *lexer) (ast.Value, error) {
	lex.next()
	value := ast.Value{Kind: ast.ValueObject}

	for !lex.eat("}") {
		key := lex.peek()
		if key.Kind != TIdentifier && key.Kind != TString && key.Kind != TNumber {
			return value, lex.unexpected("property name")
		}
		lex.next()
		if err := lex.expect(":"); err != nil {
			return value, err
		}

		var field ast.Value
		var err error
		switch t := lex.peek(); {
		case t.Kind == TPunct && t.Text == "{":
			field, err = p.parseObject(lex)
		case t.Kind == TIdentifier && t.Text != "true" && t.Text != "false" && t.Text != "undefined" &&
			t.Text != "null" && t.Text != "function" && t.Text != "class":
			err = &bundler.SyntaxError{Text: "Object literals may only contain values", Range: t.Range}
		default:
			field, _, err = p.parseValue(lex, nil)
		}
		if err != nil {
			return value, err
		}
		value.Fields = append(value.Fields, ast.Field{Key: key.Text, Value: field})

		if !lex.eat(",") {
			if err := lex.expect("}"); err != nil {
				return value, err
			}
			break
		}
	}
	return value, nil
}

// Handles "require('x')", "import('x')", "await import('x')" and "try ..."
func (p *moduleParser) parseLoad(lex *lexer, part *ast.Part, target ast.Ref, handlesErrors bool) error {
	if lex.eat("try") {
		return p.parseLoad(lex, part, target, true)
	}
	lex.eat("await")

	callee := lex.next()
	kind := ast.ImportRequire
	opKind := ast.OpRequire
	switch callee.Text {
	case "require":
	case "import":
		kind = ast.ImportDynamic
		opKind = ast.OpDynamicImport
	default:
		return &bundler.SyntaxError{
			Text:  fmt.Sprintf("Expected \"require\" or \"import\" but found %q", callee.Text),
			Range: callee.Range,
		}
	}

	if err := lex.expect("("); err != nil {
		return err
	}
	specifier, err := lex.expectKind(TString)
	if err != nil {
		return err
	}
	if err := lex.expect(")"); err != nil {
		return err
	}

	recordIndex := p.addImportRecord(kind, specifier)
	record := &p.importRecords[recordIndex]
	record.NamespaceRef = target
	if handlesErrors {
		record.Flags |= ast.HandlesImportErrors
	}

	op := newOp(opKind)
	op.Target = target
	op.ImportRecordIndex = recordIndex
	part.Ops = append(part.Ops, op)
	part.ImportRecordIndices = append(part.ImportRecordIndices, recordIndex)
	return nil
}

// "glob './a.js', './b.js'" lazily imports every listed match
func (p *moduleParser) parseGlob(lex *lexer, part *ast.Part) error {
	lex.next()
	for {
		specifier, err := lex.expectKind(TString)
		if err != nil {
			return err
		}
		recordIndex := p.addImportRecord(ast.ImportGlob, specifier)
		op := newOp(ast.OpDynamicImport)
		op.ImportRecordIndex = recordIndex
		part.Ops = append(part.Ops, op)
		part.ImportRecordIndices = append(part.ImportRecordIndices, recordIndex)
		if !lex.eat(",") {
			return nil
		}
	}
}

func (p *moduleParser) parseLog(lex *lexer, part *ast.Part) error {
	lex.next()

	// "log name f" logs the run-time name of a function or class
	if lex.is("name") && lex.peekAt(1).Kind == TIdentifier {
		lex.next()
		name := lex.next()
		ref := p.reference(name)
		p.use(part, ref)
		op := newOp(ast.OpLogName)
		op.Source = ref
		part.Ops = append(part.Ops, op)
		return nil
	}

	value, ref, err := p.parseValue(lex, part)
	if err != nil {
		return err
	}
	if ref == ast.InvalidRef {
		op := newOp(ast.OpLog)
		op.Value = value
		part.Ops = append(part.Ops, op)
		return nil
	}

	if !lex.eat(".") {
		op := newOp(ast.OpLogValue)
		op.Source = ref
		part.Ops = append(part.Ops, op)
		return nil
	}
	member, err := p.expectAlias(lex)
	if err != nil {
		return err
	}

	// Property reads off of an import star become generated imports so that
	// they can be bound statically
	if recordIndex, ok := p.starImports[ref]; ok {
		p.unuse(part, ref)
		item := p.generatedImportItem(recordIndex, member)
		p.use(part, item)
		op := newOp(ast.OpLogValue)
		op.Source = item
		part.Ops = append(part.Ops, op)
		return nil
	}

	op := newOp(ast.OpLogMember)
	op.Source = ref
	op.Member = member.Text
	part.Ops = append(part.Ops, op)
	return nil
}

func (p *moduleParser) unuse(part *ast.Part, ref ast.Ref) {
	use := part.SymbolUses[ref]
	if use.CountEstimate <= 1 {
		delete(part.SymbolUses, ref)
	} else {
		use.CountEstimate--
		part.SymbolUses[ref] = use
	}
	p.symbols[ref.InnerIndex].UseCountEstimate--
}

func (p *moduleParser) generatedImportItem(recordIndex uint32, member token) ast.Ref {
	key := generatedItemKey{recordIndex: recordIndex, alias: member.Text}
	if ref, ok := p.generatedItems[key]; ok {
		return ref
	}

	ref := p.newSymbol(ast.SymbolImport, member.Text)
	p.symbols[ref.InnerIndex].ImportItemStatus = ast.ImportItemGenerated
	p.generatedItems[key] = ref

	record := &p.importRecords[recordIndex]
	record.Items = append(record.Items, ast.ImportItem{Alias: member.Text, AliasLoc: member.Range.Loc, Ref: ref})
	declareTopLevel(&p.parts[p.recordParts[recordIndex]], ref)
	return ref
}

// "exports.a = v", "exports[k] = v", "module.exports = v" and
// "module.exports.a = v"
func (p *moduleParser) parseExportsWrite(lex *lexer, part *ast.Part) error {
	object := lex.next()
	ref := p.reference(object)
	p.use(part, ref)

	if object.Text == "module" {
		if err := lex.expect("."); err != nil {
			return err
		}
		if err := lex.expect("exports"); err != nil {
			return err
		}

		if lex.eat("=") {
			value, source, err := p.parseValue(lex, part)
			if err != nil {
				return err
			}
			op := newOp(ast.OpModuleExportsReplace)
			op.Value = value
			op.Source = source
			part.Ops = append(part.Ops, op)
			p.exportsDetached = true

			if source == ast.InvalidRef && value.Kind == ast.ValueObject {
				p.exportWrites = append(p.exportWrites, graph.CJSExportWrite{Kind: graph.CJSWriteReplace, Keys: value.Keys()})
			} else {
				p.exportWrites = append(p.exportWrites, graph.CJSExportWrite{Kind: graph.CJSWriteDynamic})
			}
			return nil
		}
	}

	detached := object.Text == "exports" && p.exportsDetached

	var op ast.Op
	switch {
	case lex.eat("."):
		name, err := p.expectAlias(lex)
		if err != nil {
			return err
		}
		op = newOp(ast.OpExportsSet)
		op.Member = name.Text
		if !detached {
			p.exportWrites = append(p.exportWrites, graph.CJSExportWrite{Kind: graph.CJSWriteProperty, Name: name.Text})
		}

	case lex.eat("["):
		key := lex.peek()
		if key.Kind != TIdentifier && key.Kind != TString {
			return lex.unexpected("property name")
		}
		lex.next()
		if err := lex.expect("]"); err != nil {
			return err
		}
		op = newOp(ast.OpExportsDynamic)
		op.Member = key.Text
		if !detached {
			p.exportWrites = append(p.exportWrites, graph.CJSExportWrite{Kind: graph.CJSWriteDynamic})
		}

	default:
		return lex.unexpected("\".\"")
	}

	if err := lex.expect("="); err != nil {
		return err
	}
	value, source, err := p.parseValue(lex, part)
	if err != nil {
		return err
	}
	op.Target = ref
	op.Value = value
	op.Source = source
	part.Ops = append(part.Ops, op)
	return nil
}

// "x = v" has an effect outside of this statement, so it's never removable
func (p *moduleParser) parseAssignment(lex *lexer, part *ast.Part) error {
	name, err := lex.expectKind(TIdentifier)
	if err != nil {
		return err
	}
	if err := lex.expect("="); err != nil {
		return err
	}
	ref := p.reference(name)
	if p.declared[ref] == declImport {
		return &bundler.SyntaxError{
			Text:  fmt.Sprintf("Cannot assign to import %q", name.Text),
			Range: name.Range,
		}
	}
	p.use(part, ref)

	if _, err := p.parseInitializer(lex, part, ref, name.Text); err != nil {
		return err
	}
	part.CanBeRemovedIfUnused = false
	return nil
}

func (p *moduleParser) finish(fm frontMatter) (graph.InputFileRepr, error) {
	source := p.source

	for _, export := range p.localExports {
		ref, ok := p.scope[export.name.Text]
		if !ok || p.declared[ref] == declNone {
			return nil, &bundler.SyntaxError{
				Text:  fmt.Sprintf("%q is not declared in this file", export.name.Text),
				Range: export.name.Range,
			}
		}
		p.exportRecords = append(p.exportRecords, ast.ExportRecord{
			Alias:    export.alias.Text,
			AliasLoc: export.alias.Range.Loc,
			Ref:      ref,
			Kind:     ast.ExportLocal,
		})
	}

	// Anything never declared is a global
	for ref, decl := range p.declared {
		if decl == declNone {
			symbol := &p.symbols[ref.InnerIndex]
			symbol.Kind = ast.SymbolUnbound
			symbol.MustNotBeRenamed = true
		}
	}
	for _, read := range p.pendingReads {
		if p.symbols[read.ref.InnerIndex].Kind == ast.SymbolUnbound {
			p.parts[read.partIndex].CanBeRemovedIfUnused = false
		}
	}

	isCommonJS := false
	switch fm.Format {
	case "", "esm":
		if p.esmSyntax != nil && p.cjsSyntax != nil {
			return nil, &bundler.SyntaxError{
				Text:  "Cannot use \"exports\" or \"module\" in a file with import or export statements",
				Range: *p.cjsSyntax,
			}
		}
		if fm.Format == "esm" && p.cjsSyntax != nil {
			return nil, &bundler.SyntaxError{
				Text:  "Cannot use \"exports\" or \"module\" in an ECMAScript module",
				Range: *p.cjsSyntax,
			}
		}
		isCommonJS = fm.Format == "" && p.cjsSyntax != nil

	case "cjs", "commonjs":
		if p.esmSyntax != nil {
			return nil, &bundler.SyntaxError{
				Text:  "Import and export statements are not allowed in a CommonJS module",
				Range: *p.esmSyntax,
			}
		}
		isCommonJS = true

	default:
		return nil, &bundler.SyntaxError{Text: fmt.Sprintf("Unknown module format %q", fm.Format)}
	}

	hotAccept, err := p.parseAccept(fm.Accept)
	if err != nil {
		return nil, err
	}

	tree := ast.AST{
		Parts:          p.parts,
		Symbols:        p.symbols,
		ImportRecords:  p.importRecords,
		ExportRecords:  p.exportRecords,
		ExportsRef:     p.exportsRef,
		ModuleRef:      p.moduleRef,
		WrapperRef:     p.wrapperRef,
		HotAccept:      hotAccept,
		UsesExportsRef: p.symbols[p.exportsRef.InnerIndex].UseCountEstimate > 0,
		UsesModuleRef:  p.symbols[p.moduleRef.InnerIndex].UseCountEstimate > 0,
	}

	if isCommonJS {
		tree.ExportsKind = ast.ExportsCommonJS
		return &graph.CJSRepr{
			JSRepr:       graph.JSRepr{AST: tree},
			ExportWrites: p.exportWrites,
		}, nil
	}

	// The namespace object of an ECMAScript module is named after the file
	p.symbols[p.exportsRef.InnerIndex].OriginalName = source.IdentifierName + "_exports"
	p.symbols[p.moduleRef.InnerIndex].OriginalName = source.IdentifierName + "_module"
	if p.esmSyntax != nil || fm.Format == "esm" {
		tree.ExportsKind = ast.ExportsESM
	}
	return &graph.ESMRepr{JSRepr: graph.JSRepr{AST: tree}}, nil
}

// "accept: self" or a list of the dependency specifiers that are accepted
func (p *moduleParser) parseAccept(node yaml.Node) (ast.HotAccept, error) {
	var specifiers []string

	switch node.Kind {
	case 0:
		return ast.HotAccept{}, nil

	case yaml.ScalarNode:
		if node.Value == "self" || node.Value == "true" {
			return ast.HotAccept{Kind: ast.AcceptSelf}, nil
		}
		specifiers = []string{node.Value}

	case yaml.SequenceNode:
		if err := node.Decode(&specifiers); err != nil {
			return ast.HotAccept{}, &bundler.SyntaxError{Text: fmt.Sprintf("Invalid \"accept\" list: %s", err.Error())}
		}

	default:
		return ast.HotAccept{}, &bundler.SyntaxError{Text: "Expected \"accept\" to be \"self\" or a list of dependencies"}
	}

	accept := ast.HotAccept{Kind: ast.AcceptDeps}
	for _, specifier := range specifiers {
		found := false
		for recordIndex, record := range p.importRecords {
			if record.Specifier == specifier {
				accept.DepRecordIndices = append(accept.DepRecordIndices, uint32(recordIndex))
				found = true
			}
		}
		if !found {
			return ast.HotAccept{}, &bundler.SyntaxError{
				Text: fmt.Sprintf("Cannot accept updates to %q because this file doesn't import it", specifier),
			}
		}
	}
	return accept, nil
}
