package ast

// This file contains the data structures that pass from the parser
// collaborator to the linker: import records, export records and the index
// type used to refer to other modules. Module formats share these so that the
// linker can treat every module in a format-agnostic manner.

import (
	"github.com/modlink/modlink/internal/logger"
)

type ImportKind uint8

const (
	// An entry point provided by the user
	ImportEntryPoint ImportKind = iota

	// An ES6 import or re-export statement
	ImportStmt

	// A call to "require()"
	ImportRequire

	// An "import()" expression with a string argument
	ImportDynamic

	// A synthetic import generated for a glob pattern such as
	// "import.meta.glob('./pages/*.js')". Each match behaves like a lazily
	// evaluated "import()" of that module.
	ImportGlob
)

func (kind ImportKind) String() string {
	switch kind {
	case ImportStmt:
		return "import-statement"
	case ImportRequire:
		return "require-call"
	case ImportDynamic:
		return "dynamic-import"
	case ImportGlob:
		return "glob-import"
	case ImportEntryPoint:
		return "entry-point"
	default:
		panic("Internal error")
	}
}

// Dynamic and glob imports both create chunk roots when code splitting is
// enabled. They never constrain the order of static evaluation.
func (kind ImportKind) IsDynamic() bool {
	return kind == ImportDynamic || kind == ImportGlob
}

func ImportKindFromString(text string) (ImportKind, bool) {
	switch text {
	case "", "import", "import-statement", "static":
		return ImportStmt, true
	case "require", "require-call":
		return ImportRequire, true
	case "dynamic", "dynamic-import":
		return ImportDynamic, true
	case "glob", "glob-import":
		return ImportGlob, true
	}
	return 0, false
}

type ImportRecordFlags uint16

const (
	// If this is true, the import contains syntax like "* as ns". This is used
	// to determine whether modules that have no exports need to be wrapped in a
	// CommonJS wrapper or not.
	ContainsImportStar ImportRecordFlags = 1 << iota

	// If this is true, the import contains an import for the alias "default",
	// either via the "import x from" or "import {default as x} from" syntax.
	ContainsDefaultAlias

	// If true, this "export * from 'path'" statement is evaluated at run-time
	// because the target has exports that can only be discovered at run-time
	CallsRunTimeReExportFn

	// True for the following cases:
	//
	//   try { require('x') } catch { handle }
	//   try { await import('x') } catch { handle }
	//   import('x').catch(handle)
	//
	// In these cases we shouldn't generate an error if the path could not be
	// resolved.
	HandlesImportErrors

	// If true, this was originally written as a bare "import 'file'" statement
	WasOriginallyBareImport

	// If true, this import can be removed if it's unused
	IsExternalWithoutSideEffects

	// Set by the parser for "export * from 'path'" statements
	IsExportStar
)

func (flags ImportRecordFlags) Has(flag ImportRecordFlags) bool {
	return (flags & flag) != 0
}

// One binding requested by an import statement. "Ref" is the local symbol in
// the importing module. Namespace imports use "ImportRecord.NamespaceRef"
// instead and are not listed here.
type ImportItem struct {
	Alias    string
	AliasLoc logger.Loc
	Ref      Ref
}

type ImportRecord struct {
	Path  logger.Path
	Range logger.Range

	// The raw text written in the import statement. "Path" is filled in from
	// this by the resolver during the scan phase.
	Specifier string

	// Every import record has a namespace symbol in the importing module. It
	// holds the whole module object for "import * as ns", the result of a
	// "require()" call, or the object that named imports are read from when
	// the target can only be inspected at run-time.
	NamespaceRef Ref

	// The named bindings requested by this import. This is empty for
	// namespace-only and side-effect-only imports.
	Items []ImportItem

	// The resolved source index for an internal import (within the bundle) or
	// invalid for an external import (not included in the bundle)
	SourceIndex Index32

	Flags ImportRecordFlags
	Kind  ImportKind
}

type ExportKind uint8

const (
	// "export let x" or "export {x as y}"
	ExportLocal ExportKind = iota

	// "export {x as y} from 'path'"
	ExportReExport

	// "export * as ns from 'path'"
	ExportNamespace

	// "export * from 'path'"
	ExportStar
)

func (kind ExportKind) String() string {
	switch kind {
	case ExportLocal:
		return "local"
	case ExportReExport:
		return "re-export"
	case ExportNamespace:
		return "namespace"
	case ExportStar:
		return "star"
	default:
		panic("Internal error")
	}
}

type Liveness uint8

const (
	// Reads always observe the current value of the declaration
	LiveBinding Liveness = iota

	// The value is captured once when the exporting module evaluates. This is
	// what "export default <expression>" does: the parser declares a hidden
	// variable and assigns the expression to it, and importers bind to that
	// variable instead of to anything the expression referenced.
	Snapshot
)

type ExportRecord struct {
	// The exported name. This is empty for "export * from".
	Alias    string
	AliasLoc logger.Loc

	// For local exports this is the declaration. For re-exports this is a
	// symbol generated by the parser in the exporting module that the linker
	// binds to the re-exported declaration. For namespace re-exports this is
	// the namespace symbol of the import record.
	Ref Ref

	// For re-exports, the name in the other module
	ImportedAlias string

	// Only valid for re-exports, namespace re-exports and star re-exports
	ImportRecordIndex uint32

	Kind     ExportKind
	Liveness Liveness
}

// This stores a 32-bit index where the zero value is an invalid index. This is
// a better alternative to storing the index as a pointer since that has the
// same properties but takes up more space and costs an extra pointer traversal.
type Index32 struct {
	flippedBits uint32
}

func MakeIndex32(index uint32) Index32 {
	return Index32{flippedBits: ^index}
}

func (i Index32) IsValid() bool {
	return i.flippedBits != 0
}

func (i Index32) GetIndex() uint32 {
	return ^i.flippedBits
}
