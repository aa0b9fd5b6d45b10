package config

import "sort"

// A chunk that a merge policy is allowed to combine with others. Only chunks
// that are not entry chunks and whose modules are all free of side effects
// are ever offered, so merging can change what gets loaded but never what
// gets evaluated observably.
type MergeCandidate struct {
	// The chunk roots (entry points and dynamic import targets) that load this
	// chunk, as indices into the entry point list
	Roots []uint32

	// Identifies the chunk within this build
	Index       uint32
	ModuleCount int
	PartCount   int
}

// Decides which candidate chunks to combine. Each returned group (a list of
// "MergeCandidate.Index" values) becomes one chunk. Candidates not mentioned
// in any group are left alone. The result must be deterministic for a given
// input.
type ChunkMergePolicy interface {
	Merge(candidates []MergeCandidate) [][]uint32
}

// Combines every candidate with at most "MaxParts" live parts into a single
// chunk. A tiny shared chunk usually costs more in request overhead than the
// few bytes it saves some roots from loading.
type SmallChunkPolicy struct {
	MaxParts int
}

func (policy SmallChunkPolicy) Merge(candidates []MergeCandidate) [][]uint32 {
	var small []uint32
	for _, candidate := range candidates {
		if candidate.PartCount <= policy.MaxParts {
			small = append(small, candidate.Index)
		}
	}
	if len(small) < 2 {
		return nil
	}
	sort.Slice(small, func(i, j int) bool { return small[i] < small[j] })
	return [][]uint32{small}
}
