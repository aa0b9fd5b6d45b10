package linker

import (
	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
)

// The output of linking. The graph holds the linked modules (with tree
// shaking marks and merged symbols) that the chunks refer to.
type Result struct {
	Graph  graph.LinkerGraph
	Chunks []Chunk
}

type PartRange struct {
	SourceIndex    uint32
	PartIndexBegin uint32
	PartIndexEnd   uint32
}

type Chunk struct {
	// Unique within a build. Entry chunks are named after their entry module
	// and other chunks after a hash of their contents.
	Name string
	Hash uint64

	// Indices into "Result.Graph.EntryPoints" of every root that loads this
	// chunk, in increasing order
	Roots []uint32

	// Only valid for entry chunks
	IsEntryPoint bool
	SourceIndex  uint32

	// Modules in evaluation order, and the live parts of those modules in
	// evaluation order. Wrapped modules come first and always cover the whole
	// module since their parts are evaluated by the wrapper.
	FilesInOrder []uint32
	PartsInOrder []PartRange

	// Other chunks this one needs, in the order they must be evaluated
	ImportsFromOtherChunks []ChunkImport

	// Symbols declared in this chunk that other chunks use
	ExportsToOtherChunks []ChunkExport

	// For entry chunks: the module's public exports
	EntryExports []ChunkExport

	// Entry chunks loaded by "import()" expressions in this chunk
	DynamicImports []uint32

	// The final top-level name of every symbol declared or imported in this
	// chunk, keyed by the symbol's canonical ref
	Names map[ast.Ref]string
}

type ChunkImport struct {
	ChunkIndex uint32
	Items      []ChunkImportItem

	// Set when this import closes a cycle between chunks. The imported chunk
	// is not evaluated up front. Instead it is evaluated the first time one
	// of the imported symbols is read.
	Deferred bool
}

type ChunkImportItem struct {
	// The name the other chunk exports the symbol under
	Alias string
	Ref   ast.Ref
}

type ChunkExport struct {
	Alias string
	Ref   ast.Ref

	// The local name of the symbol in this chunk
	Name string
}

func (c *Chunk) ImportFrom(chunkIndex uint32) (ChunkImport, bool) {
	for _, chunkImport := range c.ImportsFromOtherChunks {
		if chunkImport.ChunkIndex == chunkIndex {
			return chunkImport, true
		}
	}
	return ChunkImport{}, false
}

func (c *Chunk) HasFile(sourceIndex uint32) bool {
	for _, other := range c.FilesInOrder {
		if other == sourceIndex {
			return true
		}
	}
	return false
}

type chunkInfo struct {
	// Files with the same entry bits share a chunk. This is the string form
	// of those bits (plus the module index when every module is its own chunk).
	key string

	entryBits             helpers.BitSet
	filesWithPartsInChunk map[uint32]bool

	filesInChunkInOrder []uint32
	partsInChunkInOrder []PartRange

	// The position at which each other chunk is first needed while walking
	// this chunk's modules in evaluation order
	chunkOrder map[uint32]uint32

	importsFromOtherChunks map[uint32][]ast.Ref
	exportsToOtherChunks   map[ast.Ref]string
	crossChunkImports      []ChunkImport
	dynamicImports         []uint32
	entryExports           []ChunkExport

	name string
	hash uint64

	// For code splitting
	entryPointBit uint
	sourceIndex   uint32
	isEntryPoint  bool
}
