// Package runtime evaluates a linked chunk plan. It plays the part of the
// generated code plus its helpers: CommonJS wrappers, lazy ECMAScript module
// initializers, namespace objects with live getters and chunk loading. The
// result is the trace of everything the program logged, which makes the
// observable behavior of a plan testable without printing any code.
package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
)

type Options struct {
	// Functions and classes report the name they were written with instead
	// of the name they were given in their chunk
	KeepNames bool

	// The exports of external modules, keyed by import specifier. Externals
	// that aren't listed are empty objects.
	Externals map[string]ast.Value
}

type Execution struct {
	// One line per log statement, in evaluation order
	Trace []string

	// The entry module's exports, read through live bindings
	Exports Value
}

// Something the program did that would throw. Evaluation stops at the first
// one and the trace up to that point is kept.
type RuntimeError struct {
	Text  string
	Trace []string
}

func (e *RuntimeError) Error() string {
	return e.Text
}

type evalState uint8

const (
	notStarted evalState = iota
	evaluating
	evaluated
)

type cell struct {
	value Value
}

type cjsModule struct {
	exports Value

	// The object "exports" refers to. It stays the same when "module.exports"
	// is replaced.
	alias Value
}

type dynamicImport struct {
	target      ast.Ref
	sourceIndex uint32
	recordIndex uint32
}

type program struct {
	result  *linker.Result
	options Options
	symbols ast.SymbolMap
	tracer  *zap.Logger

	cells     map[ast.Ref]*cell
	globals   map[string]Value
	externals map[string]Value

	chunks      []evalState
	chunkOfFile map[uint32]uint32

	// Symbols imported through a deferred chunk import and the chunk that
	// declares them. The first read evaluates that chunk.
	lazy map[ast.Ref]uint32

	esmInits   map[uint32]evalState
	cjsModules map[uint32]*cjsModule
	namespaces map[uint32]bool
	pending    []dynamicImport
	trace      []string
}

// Evaluates one entry chunk along with every chunk it loads. Each call starts
// from a fresh program, so several runs can share the same result.
func Run(result *linker.Result, chunkIndex uint32, options Options) (exec *Execution, err error) {
	if int(chunkIndex) >= len(result.Chunks) || !result.Chunks[chunkIndex].IsEntryPoint {
		return nil, fmt.Errorf("chunk %d is not an entry chunk", chunkIndex)
	}

	p := &program{
		result:      result,
		options:     options,
		symbols:     result.Graph.Symbols,
		tracer:      logger.Tracer(),
		cells:       make(map[ast.Ref]*cell),
		globals:     make(map[string]Value),
		externals:   make(map[string]Value),
		chunks:      make([]evalState, len(result.Chunks)),
		chunkOfFile: make(map[uint32]uint32),
		lazy:        make(map[ast.Ref]uint32),
		esmInits:    make(map[uint32]evalState),
		cjsModules:  make(map[uint32]*cjsModule),
		namespaces:  make(map[uint32]bool),
	}

	defer func() {
		if r := recover(); r != nil {
			thrown, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			thrown.Trace = p.trace
			exec, err = nil, thrown
		}
	}()

	p.evaluateChunk(chunkIndex)

	// "import()" settles after the code that called it has finished
	for len(p.pending) > 0 {
		next := p.pending[0]
		p.pending = p.pending[1:]
		value := p.loadDynamicImport(next)
		if next.target != ast.InvalidRef {
			p.write(next.target, value)
		}
	}

	return &Execution{Trace: p.trace, Exports: p.entryExports(chunkIndex)}, nil
}

// Like "Run" but picks the entry chunk by name
func RunEntry(result *linker.Result, name string, options Options) (*Execution, error) {
	for chunkIndex, chunk := range result.Chunks {
		if chunk.IsEntryPoint && chunk.Name == name {
			return Run(result, uint32(chunkIndex), options)
		}
	}
	return nil, fmt.Errorf("there is no entry chunk named %q", name)
}

func (p *program) throw(format string, args ...interface{}) {
	panic(&RuntimeError{Text: fmt.Sprintf(format, args...)})
}

func (p *program) log(text string) {
	p.trace = append(p.trace, text)
}

func (p *program) repr(sourceIndex uint32) *graph.JSRepr {
	return p.result.Graph.JS(sourceIndex)
}

func (p *program) evaluateChunk(chunkIndex uint32) {
	if p.chunks[chunkIndex] != notStarted {
		return
	}
	p.chunks[chunkIndex] = evaluating
	chunk := &p.result.Chunks[chunkIndex]
	p.tracer.Debug("evaluating chunk", zap.String("name", chunk.Name))

	for _, sourceIndex := range chunk.FilesInOrder {
		if _, ok := p.chunkOfFile[sourceIndex]; !ok {
			p.chunkOfFile[sourceIndex] = chunkIndex
		}
	}

	var deferred []uint32
	for _, chunkImport := range chunk.ImportsFromOtherChunks {
		if chunkImport.Deferred {
			for _, item := range chunkImport.Items {
				p.lazy[p.canonical(item.Ref)] = chunkImport.ChunkIndex
			}
			deferred = append(deferred, chunkImport.ChunkIndex)
			continue
		}
		p.evaluateChunk(chunkImport.ChunkIndex)
	}

	for _, partRange := range chunk.PartsInOrder {
		// Wrapped modules only run when something asks for them
		if p.repr(partRange.SourceIndex).Meta.Wrap != graph.WrapNone {
			p.ensureNamespace(partRange.SourceIndex)
			continue
		}
		for partIndex := partRange.PartIndexBegin; partIndex < partRange.PartIndexEnd; partIndex++ {
			p.runPart(partRange.SourceIndex, partIndex)
		}
	}

	// A wrapped entry point is started by calling its wrapper
	if chunk.IsEntryPoint {
		switch p.repr(chunk.SourceIndex).Meta.Wrap {
		case graph.WrapCJS:
			p.requireCJS(chunk.SourceIndex)
		case graph.WrapESM:
			p.initESM(chunk.SourceIndex)
		}
	}
	p.chunks[chunkIndex] = evaluated

	// A deferred chunk that nothing has read from yet still runs for its side
	// effects
	for _, otherChunkIndex := range deferred {
		p.evaluateChunk(otherChunkIndex)
	}
}

func (p *program) runPart(sourceIndex uint32, partIndex uint32) {
	repr := p.repr(sourceIndex)
	part := &repr.AST.Parts[partIndex]
	if !part.IsLive {
		return
	}

	for _, recordIndex := range part.ImportRecordIndices {
		if record := &repr.AST.ImportRecords[recordIndex]; record.Kind == ast.ImportStmt {
			p.importStatement(record)
		}
	}

	for i := range part.Ops {
		p.runOp(sourceIndex, &part.Ops[i])
	}
}

// Import statements of wrapped modules call the wrapper. Imports of CommonJS
// and external modules also bind the namespace that named imports read from.
func (p *program) importStatement(record *ast.ImportRecord) {
	if !record.SourceIndex.IsValid() {
		if record.NamespaceRef != ast.InvalidRef {
			p.write(record.NamespaceRef, p.external(record))
		}
		return
	}

	target := record.SourceIndex.GetIndex()
	switch p.repr(target).Meta.Wrap {
	case graph.WrapCJS:
		ns := toESM(p.requireCJS(target))
		if record.NamespaceRef != ast.InvalidRef {
			p.write(record.NamespaceRef, ns)
		}

	case graph.WrapESM:
		p.initESM(target)
	}
}

func (p *program) runOp(sourceIndex uint32, op *ast.Op) {
	switch op.Kind {
	case ast.OpSet:
		p.write(op.Target, fromLiteral(op.Value, p.functionName(sourceIndex, op.Target, op.Value)))

	case ast.OpCopy:
		p.write(op.Target, p.read(op.Source))

	case ast.OpLog:
		p.log(op.Value.String())

	case ast.OpLogValue:
		p.log(p.read(op.Source).String())

	case ast.OpLogMember:
		p.log(p.member(p.read(op.Source), op.Member).String())

	case ast.OpLogName:
		name, ok := p.read(op.Source).Name()
		if !ok {
			p.throw("%q is not a function or class", p.symbols.Get(op.Source).OriginalName)
		}
		p.log(name)

	case ast.OpExportsSet, ast.OpExportsDynamic:
		module := p.cjsModules[sourceIndex]
		if module == nil {
			p.throw("exports is not defined")
		}
		value := p.operand(op)
		target := module.exports
		if op.Target != ast.InvalidRef && p.canonical(op.Target) == p.canonical(p.repr(sourceIndex).AST.ExportsRef) {
			target = module.alias
		}
		if target.object == nil {
			p.throw("Cannot set properties of %s (setting %q)", target, op.Member)
		}
		target.object.Set(op.Member, value)

	case ast.OpModuleExportsReplace:
		module := p.cjsModules[sourceIndex]
		if module == nil {
			p.throw("module is not defined")
		}
		module.exports = p.operand(op)

	case ast.OpRequire:
		record := &p.repr(sourceIndex).AST.ImportRecords[op.ImportRecordIndex]
		value := p.require(record)
		if op.Target != ast.InvalidRef {
			p.write(op.Target, value)
		}

	case ast.OpDynamicImport:
		p.pending = append(p.pending, dynamicImport{
			target:      op.Target,
			sourceIndex: sourceIndex,
			recordIndex: op.ImportRecordIndex,
		})

	case ast.OpExportsObject:
		p.ensureNamespace(sourceIndex)
	}
}

func (p *program) operand(op *ast.Op) Value {
	if op.Source != ast.InvalidRef {
		return p.read(op.Source)
	}
	return fromLiteral(op.Value, op.Value.Text)
}

// Without keep-names a function or class is named after the identifier it
// ends up declared as, which is the renamed one
func (p *program) functionName(sourceIndex uint32, target ast.Ref, literal ast.Value) string {
	if p.options.KeepNames || target == ast.InvalidRef {
		return literal.Text
	}
	if chunkIndex, ok := p.chunkOfFile[sourceIndex]; ok {
		if name, ok := p.result.Chunks[chunkIndex].Names[p.canonical(target)]; ok {
			return name
		}
	}
	return literal.Text
}

func (p *program) canonical(ref ast.Ref) ast.Ref {
	for {
		link := p.symbols.Get(ref).Link
		if link == ast.InvalidRef {
			return ref
		}
		ref = link
	}
}

func (p *program) read(ref ast.Ref) Value {
	ref = p.canonical(ref)
	if chunkIndex, ok := p.lazy[ref]; ok {
		delete(p.lazy, ref)
		p.evaluateChunk(chunkIndex)
	}

	symbol := p.symbols.Get(ref)
	if symbol.ImportItemStatus == ast.ImportItemMissing {
		return undefined
	}
	if alias := symbol.NamespaceAlias; alias != nil {
		return p.member(p.read(alias.NamespaceRef), alias.Alias)
	}
	if symbol.Kind == ast.SymbolUnbound {
		return p.globals[symbol.OriginalName]
	}

	if c, ok := p.cells[ref]; ok {
		return c.value
	}
	return undefined
}

func (p *program) write(ref ast.Ref, value Value) {
	ref = p.canonical(ref)
	if symbol := p.symbols.Get(ref); symbol.Kind == ast.SymbolUnbound {
		p.globals[symbol.OriginalName] = value
		return
	}
	p.cells[ref] = &cell{value: value}
}

func (p *program) member(object Value, key string) Value {
	if object.IsUndefined() {
		p.throw("Cannot read properties of undefined (reading %q)", key)
	}
	return object.Get(key)
}

// Builds the namespace object of an ECMAScript module. Each property reads
// the canonical binding, so the object observes live bindings.
func (p *program) ensureNamespace(sourceIndex uint32) {
	if p.namespaces[sourceIndex] {
		return
	}
	p.namespaces[sourceIndex] = true

	repr := p.repr(sourceIndex)
	nsPartIndex := repr.Meta.NSExportPartIndex
	if !nsPartIndex.IsValid() || !repr.AST.Parts[nsPartIndex.GetIndex()].IsLive {
		return
	}

	ns := newObject()
	for _, entry := range repr.Meta.NamespaceEntries {
		ref := entry.Ref
		ns.define(entry.Alias, func() Value { return p.read(ref) })
	}
	for _, recordIndex := range repr.Meta.RuntimeReExports {
		record := &repr.AST.ImportRecords[recordIndex]
		ns.fallbacks = append(ns.fallbacks, func() Value { return p.reExportTarget(record) })
	}
	p.write(repr.AST.ExportsRef, objectValue(ns))
}

func (p *program) reExportTarget(record *ast.ImportRecord) Value {
	if record.SourceIndex.IsValid() {
		if target := record.SourceIndex.GetIndex(); p.repr(target).Meta.Wrap != graph.WrapCJS {
			return p.namespaceOf(target)
		}
	}
	return p.read(record.NamespaceRef)
}

func (p *program) initESM(sourceIndex uint32) {
	if p.esmInits[sourceIndex] != notStarted {
		return
	}
	p.esmInits[sourceIndex] = evaluating
	p.ensureNamespace(sourceIndex)

	repr := p.repr(sourceIndex)
	for partIndex := range repr.AST.Parts {
		if ast.MakeIndex32(uint32(partIndex)) != repr.Meta.NSExportPartIndex {
			p.runPart(sourceIndex, uint32(partIndex))
		}
	}
	p.esmInits[sourceIndex] = evaluated
}

// Runs a CommonJS module the first time it's required and returns its
// "module.exports". A module that is still running hands out whatever it
// has exported so far.
func (p *program) requireCJS(sourceIndex uint32) Value {
	if module, ok := p.cjsModules[sourceIndex]; ok {
		return module.exports
	}

	exports := objectValue(newObject())
	module := &cjsModule{exports: exports, alias: exports}
	p.cjsModules[sourceIndex] = module
	repr := p.repr(sourceIndex)

	moduleObject := newObject()
	moduleObject.define("exports", func() Value { return module.exports })
	p.cells[p.canonical(repr.AST.ExportsRef)] = &cell{value: exports}
	p.cells[p.canonical(repr.AST.ModuleRef)] = &cell{value: objectValue(moduleObject)}

	for partIndex := range repr.AST.Parts {
		p.runPart(sourceIndex, uint32(partIndex))
	}
	return module.exports
}

// The namespace an ECMAScript importer sees for a CommonJS module. The
// properties read through to "module.exports" and "default" is the whole
// thing.
func toESM(exports Value) Value {
	ns := newObject()
	if exports.object != nil {
		for _, key := range exports.object.Keys() {
			key := key
			if key != "default" {
				ns.define(key, func() Value { return exports.object.Get(key) })
			}
		}
	}
	ns.Set("default", exports)
	return objectValue(ns)
}

func (p *program) namespaceOf(sourceIndex uint32) Value {
	repr := p.repr(sourceIndex)
	switch repr.Meta.Wrap {
	case graph.WrapCJS:
		return toESM(p.requireCJS(sourceIndex))
	case graph.WrapESM:
		p.initESM(sourceIndex)
	}
	return p.read(repr.AST.ExportsRef)
}

func (p *program) require(record *ast.ImportRecord) Value {
	if !record.SourceIndex.IsValid() {
		return p.external(record)
	}
	target := record.SourceIndex.GetIndex()
	if p.repr(target).Meta.Wrap == graph.WrapCJS {
		return p.requireCJS(target)
	}
	return p.namespaceOf(target)
}

func (p *program) external(record *ast.ImportRecord) Value {
	if value, ok := p.externals[record.Specifier]; ok {
		return value
	}
	literal, ok := p.options.Externals[record.Specifier]
	if !ok {
		if record.Flags.Has(ast.HandlesImportErrors) {
			return undefined
		}
		literal = ast.Value{Kind: ast.ValueObject}
	}
	value := fromLiteral(literal, literal.Text)
	p.externals[record.Specifier] = value
	return value
}

func (p *program) loadDynamicImport(next dynamicImport) Value {
	record := &p.repr(next.sourceIndex).AST.ImportRecords[next.recordIndex]
	if !record.SourceIndex.IsValid() {
		return p.external(record)
	}
	target := record.SourceIndex.GetIndex()

	// With code splitting the target is the entry point of its own chunk
	if importerChunk, ok := p.chunkOfFile[next.sourceIndex]; ok {
		for _, otherChunkIndex := range p.result.Chunks[importerChunk].DynamicImports {
			if other := &p.result.Chunks[otherChunkIndex]; other.IsEntryPoint && other.SourceIndex == target {
				p.evaluateChunk(otherChunkIndex)
			}
		}
	}

	if _, ok := p.chunkOfFile[target]; !ok {
		p.throw("Cannot find module %q", p.result.Graph.Files[target].InputFile.Source.PrettyPath)
	}
	return p.namespaceOf(target)
}

func (p *program) entryExports(chunkIndex uint32) Value {
	chunk := &p.result.Chunks[chunkIndex]
	if p.repr(chunk.SourceIndex).Meta.Wrap == graph.WrapCJS {
		return p.requireCJS(chunk.SourceIndex)
	}

	exports := newObject()
	for _, export := range chunk.EntryExports {
		ref := export.Ref
		exports.define(export.Alias, func() Value { return p.read(ref) })
	}
	return objectValue(exports)
}
