package dedup

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"
)

// BandedBloom is a [bands x bits] Bloom matrix. A paragraph's band signature
// matches when at least one band has all of its hash positions set. Bits
// only ever transition 0 to 1 for the lifetime of a run.
//
// BandedBloom itself is not safe for concurrent use; the Coordinator
// serializes access to it.
type BandedBloom struct {
	bits   uint
	hashes int
	bands  []*bitset.BitSet
}

// NewBandedBloom creates an empty matrix with the given geometry.
func NewBandedBloom(bands int, bits uint, hashes int) *BandedBloom {
	rows := make([]*bitset.BitSet, bands)
	for i := range rows {
		rows[i] = bitset.New(bits)
	}
	return &BandedBloom{bits: bits, hashes: hashes, bands: rows}
}

// positions derives the hash positions for one band value: murmur3 with
// seeds 0..hashes-1 over the little-endian value bytes, reduced mod bits.
func (f *BandedBloom) positions(value uint32) []uint {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	out := make([]uint, f.hashes)
	for i := 0; i < f.hashes; i++ {
		out[i] = uint(murmur3.SeedSum32(uint32(i), buf[:])) % f.bits
	}
	return out
}

// Test reports whether any band fully matches the signature.
func (f *BandedBloom) Test(signature []uint32) bool {
	for band, value := range signature {
		if f.testBand(band, value) {
			return true
		}
	}
	return false
}

func (f *BandedBloom) testBand(band int, value uint32) bool {
	for _, pos := range f.positions(value) {
		if !f.bands[band].Test(pos) {
			return false
		}
	}
	return true
}

// Put sets the signature's positions in every band.
func (f *BandedBloom) Put(signature []uint32) {
	for band, value := range signature {
		for _, pos := range f.positions(value) {
			f.bands[band].Set(pos)
		}
	}
}

// TestAndPut reports whether the signature was already present and, if not,
// inserts it. The check and the insert are a single step so callers get
// first-writer-wins for free when access is serialized.
func (f *BandedBloom) TestAndPut(signature []uint32) bool {
	if f.Test(signature) {
		return true
	}
	f.Put(signature)
	return false
}

// SetBits returns the total number of set bits across all bands.
func (f *BandedBloom) SetBits() uint {
	var total uint
	for _, band := range f.bands {
		total += band.Count()
	}
	return total
}
