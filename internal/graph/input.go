package graph

// The code in this file mainly represents data that passes from the scan phase
// to the link phase. There is currently one exception: the "meta" member of
// the JavaScript representation. That could have been stored separately but
// is stored together for convenience and to avoid an extra level of
// indirection. Instead it's kept in a separate type to keep things organized.

import (
	"sort"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/logger"
)

type InputFile struct {
	Source      logger.Source
	Repr        InputFileRepr
	SideEffects SideEffects
}

type SideEffects struct {
	// The "package.json" file that declared this module side-effect free. This
	// is only used in messages.
	PackageJSONPath string

	Kind SideEffectsKind
}

type SideEffectsKind uint8

const (
	// The default value conservatively considers all modules to have side
	// effects.
	HasSideEffects SideEffectsKind = iota

	// This module was listed as not having side effects by a "package.json"
	// file in one of our containing directories with a "sideEffects" field.
	NoSideEffects_PackageJSON

	// This module is data (JSON or an asset) that is known to not have side
	// effects.
	NoSideEffects_PureData
)

type Format uint8

const (
	FormatESM Format = iota
	FormatCJS
	FormatJSON
	FormatAsset
)

func (format Format) String() string {
	switch format {
	case FormatESM:
		return "esm"
	case FormatCJS:
		return "cjs"
	case FormatJSON:
		return "json"
	case FormatAsset:
		return "asset"
	default:
		panic("Internal error")
	}
}

func FormatFromString(text string) (Format, bool) {
	switch text {
	case "", "esm":
		return FormatESM, true
	case "cjs", "commonjs":
		return FormatCJS, true
	case "json":
		return FormatJSON, true
	case "asset":
		return FormatAsset, true
	}
	return 0, false
}

// This is a closed set: every module is exactly one of "*ESMRepr", "*CJSRepr",
// "*JSONRepr" or "*AssetRepr". All of them share a "JSRepr" so that the linker
// can treat them uniformly once their format-specific records are consumed.
type InputFileRepr interface {
	ImportRecords() *[]ast.ImportRecord
	JS() *JSRepr
	Format() Format
	clone() InputFileRepr
}

type JSRepr struct {
	AST  ast.AST
	Meta JSReprMeta

	// These are derived from the import and export records when the linker
	// graph is created. They are what the binder actually consults.
	NamedImports            map[ast.Ref]NamedImport
	NamedExports            map[string]NamedExport
	ExportStarImportRecords []uint32
	TopLevelSymbolToParts   map[ast.Ref][]uint32
}

func (repr *JSRepr) ImportRecords() *[]ast.ImportRecord {
	return &repr.AST.ImportRecords
}

func (repr *JSRepr) JS() *JSRepr {
	return repr
}

type ESMRepr struct {
	JSRepr
}

func (*ESMRepr) Format() Format { return FormatESM }

func (repr *ESMRepr) clone() InputFileRepr {
	clone := *repr
	return &clone
}

type CJSRepr struct {
	JSRepr

	// Every write to "exports" or "module.exports" in evaluation order
	ExportWrites []CJSExportWrite

	// Filled in when the linker graph is created
	Inference CJSInference
}

func (*CJSRepr) Format() Format { return FormatCJS }

func (repr *CJSRepr) clone() InputFileRepr {
	clone := *repr
	return &clone
}

type JSONRepr struct {
	JSRepr

	// Top-level keys in source order. Each one is also a named export.
	Keys []string
}

func (*JSONRepr) Format() Format { return FormatJSON }

func (repr *JSONRepr) clone() InputFileRepr {
	clone := *repr
	return &clone
}

type AssetRepr struct {
	JSRepr

	// The default export of an asset module is its public URL
	URL string
}

func (*AssetRepr) Format() Format { return FormatAsset }

func (repr *AssetRepr) clone() InputFileRepr {
	clone := *repr
	return &clone
}

type CJSWriteKind uint8

const (
	// "exports.name = value" or "module.exports.name = value"
	CJSWriteProperty CJSWriteKind = iota

	// "module.exports = { ... }"
	CJSWriteReplace

	// "exports[name] = value" where the name is not known statically, or a
	// replacement with something other than an object literal
	CJSWriteDynamic
)

type CJSExportWrite struct {
	// The property name for property writes
	Name string

	// The object literal's keys for replacements
	Keys []string

	Kind CJSWriteKind
}

// The names a CommonJS module is statically known to export. Access to a
// name that isn't listed here still works, it just can't be checked at link
// time.
type CJSInference struct {
	Names []string

	// If false, something wrote an export whose name can't be known statically
	// after the last replacement, so a missing name proves nothing.
	IsExact bool
}

func (inference CJSInference) Has(name string) bool {
	i := sort.SearchStrings(inference.Names, name)
	return i < len(inference.Names) && inference.Names[i] == name
}

// Replaying the writes in evaluation order means a whole-object replacement
// discards every property written before it.
func InferCJSExports(writes []CJSExportWrite) CJSInference {
	names := make(map[string]bool)
	isExact := true

	for _, write := range writes {
		switch write.Kind {
		case CJSWriteProperty:
			names[write.Name] = true

		case CJSWriteReplace:
			names = make(map[string]bool, len(write.Keys))
			for _, key := range write.Keys {
				names[key] = true
			}
			isExact = true

		case CJSWriteDynamic:
			names = make(map[string]bool)
			isExact = false
		}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	return CJSInference{Names: sorted, IsExact: isExact}
}

type NamedImport struct {
	Alias             string
	AliasLoc          logger.Loc
	NamespaceRef      ast.Ref
	ImportRecordIndex uint32

	// "import * as ns" and "export * as ns from". The namespace symbol itself
	// is the import, so "NamespaceRef" is invalid.
	AliasIsStar bool

	// True for the generated import symbol behind "export {x} from"
	IsExported bool
}

type NamedExport struct {
	Ref      ast.Ref
	AliasLoc logger.Loc
}

// Turns the parser's flat import and export records into the maps the
// binder works with.
func (repr *JSRepr) indexImportsAndExports() {
	repr.NamedImports = make(map[ast.Ref]NamedImport)
	repr.NamedExports = make(map[string]NamedExport)
	repr.ExportStarImportRecords = nil

	for recordIndex, record := range repr.AST.ImportRecords {
		if record.Flags.Has(ast.ContainsImportStar) && record.NamespaceRef != ast.InvalidRef {
			repr.NamedImports[record.NamespaceRef] = NamedImport{
				Alias:             "*",
				NamespaceRef:      ast.InvalidRef,
				ImportRecordIndex: uint32(recordIndex),
				AliasIsStar:       true,
			}
		}
		for _, item := range record.Items {
			repr.NamedImports[item.Ref] = NamedImport{
				Alias:             item.Alias,
				AliasLoc:          item.AliasLoc,
				NamespaceRef:      record.NamespaceRef,
				ImportRecordIndex: uint32(recordIndex),
			}
		}
	}

	for _, export := range repr.AST.ExportRecords {
		switch export.Kind {
		case ast.ExportLocal:
			repr.NamedExports[export.Alias] = NamedExport{Ref: export.Ref, AliasLoc: export.AliasLoc}

		case ast.ExportNamespace:
			repr.NamedImports[export.Ref] = NamedImport{
				Alias:             "*",
				AliasLoc:          export.AliasLoc,
				NamespaceRef:      ast.InvalidRef,
				ImportRecordIndex: export.ImportRecordIndex,
				AliasIsStar:       true,
				IsExported:        true,
			}
			repr.NamedExports[export.Alias] = NamedExport{Ref: export.Ref, AliasLoc: export.AliasLoc}

		case ast.ExportReExport:
			record := &repr.AST.ImportRecords[export.ImportRecordIndex]
			repr.NamedImports[export.Ref] = NamedImport{
				Alias:             export.ImportedAlias,
				AliasLoc:          export.AliasLoc,
				NamespaceRef:      record.NamespaceRef,
				ImportRecordIndex: export.ImportRecordIndex,
				IsExported:        true,
			}
			repr.NamedExports[export.Alias] = NamedExport{Ref: export.Ref, AliasLoc: export.AliasLoc}

		case ast.ExportStar:
			repr.ExportStarImportRecords = append(repr.ExportStarImportRecords, export.ImportRecordIndex)
		}
	}
}

// Returns a shallow copy whose import records can be mutated without
// affecting the original. Parsed modules are shared through the parse cache.
func CloneRepr(repr InputFileRepr) InputFileRepr {
	clone := repr.clone()
	records := clone.ImportRecords()
	*records = append([]ast.ImportRecord{}, *records...)
	return clone
}
