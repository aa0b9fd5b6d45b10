package helpers

import (
	"bytes"
	"math/bits"
)

// A fixed-size set of small integers. Chunk roots are numbered densely so a
// module's root set is one of these, and its String form is a map key.
type BitSet struct {
	entries []byte
}

func NewBitSet(bitCount uint) BitSet {
	return BitSet{make([]byte, (bitCount+7)/8)}
}

func (bs BitSet) HasBit(bit uint) bool {
	return (bs.entries[bit/8] & (1 << (bit & 7))) != 0
}

func (bs BitSet) SetBit(bit uint) {
	bs.entries[bit/8] |= 1 << (bit & 7)
}

func (bs BitSet) ClearBit(bit uint) {
	bs.entries[bit/8] &^= 1 << (bit & 7)
}

func (bs BitSet) Equals(other BitSet) bool {
	return bytes.Equal(bs.entries, other.entries)
}

func (bs BitSet) IsEmpty() bool {
	for _, b := range bs.entries {
		if b != 0 {
			return false
		}
	}
	return true
}

func (bs BitSet) Count() int {
	n := 0
	for _, b := range bs.entries {
		n += bits.OnesCount8(b)
	}
	return n
}

// Reports whether every bit set in "bs" is also set in "other"
func (bs BitSet) IsSubsetOf(other BitSet) bool {
	for i, b := range bs.entries {
		if b&^other.entries[i] != 0 {
			return false
		}
	}
	return true
}

func (bs BitSet) Copy() BitSet {
	return BitSet{append([]byte(nil), bs.entries...)}
}

func (bs BitSet) Or(other BitSet) {
	for i, b := range other.entries {
		bs.entries[i] |= b
	}
}

// Returns the set bits in increasing order
func (bs BitSet) Bits() []uint {
	var result []uint
	for i, b := range bs.entries {
		for b != 0 {
			bit := uint(bits.TrailingZeros8(b))
			result = append(result, uint(i)*8+bit)
			b &= b - 1
		}
	}
	return result
}

func (bs BitSet) String() string {
	return string(bs.entries)
}
