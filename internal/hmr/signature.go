package hmr

import (
	"sort"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
)

// A digest of the names a module exports and the way it exports them. Two
// versions of a module with the same signature can be swapped without
// relinking anything that imports them.
type Signature uint64

func SignatureOf(repr graph.InputFileRepr) Signature {
	hash := helpers.NewHasher()
	hash.WriteString(repr.Format().String())
	for _, name := range exportNames(repr) {
		hash.WriteString(name)
	}
	return Signature(hash.Sum64())
}

// Sorted export names. Star re-exports contribute their specifier since the
// names they forward depend on another module.
func exportNames(repr graph.InputFileRepr) []string {
	var names []string

	switch r := repr.(type) {
	case *graph.CJSRepr:
		inference := graph.InferCJSExports(r.ExportWrites)
		names = append(names, inference.Names...)
		if !inference.IsExact {
			names = append(names, "[dynamic]")
		}

	case *graph.JSONRepr:
		names = append(names, r.Keys...)
		names = append(names, "default")

	case *graph.AssetRepr:
		names = append(names, "default")

	default:
		tree := &repr.JS().AST
		for _, export := range tree.ExportRecords {
			if export.Kind == ast.ExportStar {
				names = append(names, "* from "+tree.ImportRecords[export.ImportRecordIndex].Specifier)
				continue
			}
			names = append(names, export.Alias)
		}
	}

	sort.Strings(names)
	return names
}

// Covers what a module imports and how, in source order
func importsSignatureOf(repr graph.InputFileRepr) Signature {
	hash := helpers.NewHasher()
	for _, record := range *repr.ImportRecords() {
		hash.WriteString(record.Kind.String())
		hash.WriteString(record.Path.Namespace)
		hash.WriteString(record.Path.Text)
		hash.WriteUint32(uint32(len(record.Items)))
		for _, item := range record.Items {
			hash.WriteString(item.Alias)
		}
	}
	return Signature(hash.Sum64())
}
