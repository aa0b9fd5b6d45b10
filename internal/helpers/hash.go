package helpers

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hashes module contents for the parse cache and for signature digests
func ContentHash(contents string) uint64 {
	return xxhash.Sum64String(contents)
}

// Accumulates a deterministic digest over a sequence of strings and
// integers. Strings are length-prefixed so "ab"+"c" and "a"+"bc" differ.
type Hasher struct {
	digest *xxhash.Digest
	buffer [8]byte
}

func NewHasher() *Hasher {
	return &Hasher{digest: xxhash.New()}
}

func (h *Hasher) WriteUint32(value uint32) {
	binary.LittleEndian.PutUint32(h.buffer[:4], value)
	h.digest.Write(h.buffer[:4])
}

func (h *Hasher) WriteString(text string) {
	h.WriteUint32(uint32(len(text)))
	h.digest.WriteString(text)
}

func (h *Hasher) Sum64() uint64 {
	return h.digest.Sum64()
}

// From: http://boost.sourceforge.net/doc/html/boost/hash_combine.html
func HashCombine(seed uint32, hash uint32) uint32 {
	return seed ^ (hash + 0x9e3779b9 + (seed << 6) + (seed >> 2))
}
