package ast

import (
	"strconv"
	"strings"
)

type ExportsKind uint8

const (
	// This file doesn't have any kind of export, so it's impossible to say what
	// kind of file this is. An empty file is in this category, for example.
	ExportsNone ExportsKind = iota

	// The exports are stored on "module" and/or "exports". Calling "require()"
	// on this module returns "module.exports". All imports to this module are
	// allowed but may return undefined.
	ExportsCommonJS

	// All export names are known explicitly. Calling "require()" on this module
	// generates an exports object (stored in "exports") with getters for the
	// export names. Named imports to this module are only allowed if they are
	// in the set of export names.
	ExportsESM

	// Some export names are known explicitly, but others fall back to a dynamic
	// run-time object. This is necessary when using the "export * from" syntax
	// with either a CommonJS module or an external module (i.e. a module whose
	// export names are not known at compile-time).
	ExportsESMWithDynamicFallback
)

func (kind ExportsKind) IsDynamic() bool {
	return kind == ExportsCommonJS || kind == ExportsESMWithDynamicFallback
}

type AcceptKind uint8

const (
	AcceptNone AcceptKind = iota

	// "import.meta.hot.accept()": the module absorbs its own updates
	AcceptSelf

	// "import.meta.hot.accept(['./dep'])": the module absorbs updates to the
	// listed dependencies
	AcceptDeps
)

type HotAccept struct {
	// Indices into the import record list of the accepting module
	DepRecordIndices []uint32

	Kind AcceptKind
}

func (accept HotAccept) AcceptsRecord(importRecordIndex uint32) bool {
	if accept.Kind != AcceptDeps {
		return false
	}
	for _, index := range accept.DepRecordIndices {
		if index == importRecordIndex {
			return true
		}
	}
	return false
}

type AST struct {
	Parts         []Part
	Symbols       []Symbol
	ImportRecords []ImportRecord
	ExportRecords []ExportRecord

	// Every module gets these symbols even if it never uses them. The linker
	// declares them in generated parts when they are needed.
	ExportsRef Ref
	ModuleRef  Ref
	WrapperRef Ref

	HotAccept   HotAccept
	ExportsKind ExportsKind

	// True if the module reads or writes "exports" or "module" directly
	UsesExportsRef bool
	UsesModuleRef  bool
}

func (ast *AST) UsesCommonJSFeatures() bool {
	return ast.UsesExportsRef || ast.UsesModuleRef
}

// Maps every top-level symbol to the parts that declare it. A symbol may be
// declared by more than one part.
func (ast *AST) TopLevelSymbolToParts() map[Ref][]uint32 {
	result := make(map[Ref][]uint32)
	for partIndex, part := range ast.Parts {
		for _, declared := range part.DeclaredSymbols {
			if declared.IsTopLevel {
				result[declared.Ref] = append(result[declared.Ref], uint32(partIndex))
			}
		}
	}
	return result
}

// Each module is made up of multiple parts, and each part consists of one or
// more top-level statements. Parts are used for tree shaking and code
// splitting analysis. Individual parts of a module can be discarded by tree
// shaking and can be assigned to separate chunks by code splitting.
type Part struct {
	// What evaluating this part does. The linker never looks inside these
	// except to generate them; they are interpreted by the run-time evaluator
	// and carried through to the code printer.
	Ops []Op

	// Each is an index into the module-level import record list
	ImportRecordIndices []uint32

	// All symbols that are declared in this part. Note that a given symbol may
	// have multiple declarations, and so may end up being declared in multiple
	// parts (e.g. multiple "var" declarations with the same name). Also note
	// that this list isn't deduplicated and may contain duplicates.
	DeclaredSymbols []DeclaredSymbol

	// An estimate of the number of uses of all symbols used within this part
	SymbolUses map[Ref]SymbolUse

	// This tracks which other parts this part depends on. The parser fills in
	// dependencies on parts in the same module, and the linker adds the rest.
	Dependencies []Dependency

	// If true, this part can be removed if none of the declared symbols are
	// used. If the module containing this part is imported, then all parts that
	// don't have this flag enabled must be included.
	CanBeRemovedIfUnused bool

	// This is used for generated parts that we don't want to be present if they
	// aren't needed. This enables tree shaking for these parts even if global
	// tree shaking isn't enabled.
	ForceTreeShaking bool

	// Set by the shaker
	IsLive bool
}

type Dependency struct {
	SourceIndex uint32
	PartIndex   uint32
}

type DeclaredSymbol struct {
	Ref        Ref
	IsTopLevel bool
}

type SymbolUse struct {
	CountEstimate uint32
}

type OpKind uint8

const (
	// Target = Value
	OpSet OpKind = iota

	// Target = Source, copying the current value
	OpCopy

	// Appends Value to the evaluation trace
	OpLog

	// Appends the current value of Source to the evaluation trace
	OpLogValue

	// Appends Source[Member] to the evaluation trace
	OpLogMember

	// Appends the run-time name of the function or class in Source
	OpLogName

	// "exports.Member = Value" in a CommonJS module. Target is the "exports"
	// or "module" symbol the write goes through.
	OpExportsSet

	// "module.exports = Value" in a CommonJS module
	OpModuleExportsReplace

	// "exports[computed] = Value": the written name is unknowable statically
	OpExportsDynamic

	// Stores "require(...)" of the import record in the record's namespace
	OpRequire

	// Stores "await import(...)" of the import record in the record's
	// namespace once the current evaluation has finished
	OpDynamicImport

	// Generated by the linker: Target = the namespace object of this module
	OpExportsObject
)

var opKindNames = []string{
	"set",
	"copy",
	"log",
	"log-value",
	"log-member",
	"log-name",
	"exports-set",
	"module-exports",
	"exports-dynamic",
	"require",
	"dynamic-import",
	"exports-object",
}

func (kind OpKind) String() string {
	return opKindNames[kind]
}

type Op struct {
	Value             Value
	Member            string
	Target            Ref
	Source            Ref
	ImportRecordIndex uint32
	Kind              OpKind
}

type ValueKind uint8

const (
	ValueUndefined ValueKind = iota
	ValueNumber
	ValueString
	ValueBool
	ValueFunction
	ValueClass
	ValueObject
)

// A literal value as written in the source. Functions and classes are opaque:
// only their identity and their run-time name are observable.
type Value struct {
	Text   string
	Fields []Field
	Number float64
	Bool   bool
	Kind   ValueKind
}

type Field struct {
	Key   string
	Value Value
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case ValueString:
		return strconv.Quote(v.Text)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueFunction:
		return "[Function]"
	case ValueClass:
		return "[Class]"
	case ValueObject:
		sb := strings.Builder{}
		sb.WriteByte('{')
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(field.Key)
			sb.WriteString(": ")
			sb.WriteString(field.Value.String())
		}
		sb.WriteByte('}')
		return sb.String()
	default:
		return "undefined"
	}
}

// Returns the keys of an object literal in source order
func (v Value) Keys() []string {
	if v.Kind != ValueObject {
		return nil
	}
	keys := make([]string, len(v.Fields))
	for i, field := range v.Fields {
		keys[i] = field.Key
	}
	return keys
}
