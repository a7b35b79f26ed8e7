package crashpipeline

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// bloomSlots and bloomHashes satisfy spec 4.11's "Bloom filter of
// crashers (>=65k slots, 3 hashes)". No Bloom-filter library appears
// anywhere in the retrieval pack, so this is a plain bit set addressed
// by three offsets carved out of one blake2b digest.
const (
	bloomSlots  = 1 << 16
	bloomHashes = 3
)

// bloomFilter is a fixed-size bit set over testcase ids.
type bloomFilter struct {
	bits []uint64
}

func newBloomFilter() *bloomFilter {
	return &bloomFilter{bits: make([]uint64, bloomSlots/64)}
}

// bloomOffsets derives bloomHashes independent slot indices from one
// 256-bit digest of the testcase id, avoiding bloomHashes separate
// hash invocations (the "enhanced double hashing" trick: g_i = h1 + i*h2).
func bloomOffsets(testcaseID uint64) [bloomHashes]uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], testcaseID)
	digest := blake2b.Sum256(buf[:])

	h1 := binary.LittleEndian.Uint64(digest[0:8])
	h2 := binary.LittleEndian.Uint64(digest[8:16])

	var out [bloomHashes]uint32
	for i := 0; i < bloomHashes; i++ {
		out[i] = uint32((h1 + uint64(i)*h2) % bloomSlots)
	}
	return out
}

// Add records testcaseID as a crasher.
func (b *bloomFilter) Add(testcaseID uint64) {
	for _, off := range bloomOffsets(testcaseID) {
		b.bits[off/64] |= 1 << (off % 64)
	}
}

// MightContain reports whether testcaseID may have crashed. False
// positives are possible by design; false negatives are not.
func (b *bloomFilter) MightContain(testcaseID uint64) bool {
	for _, off := range bloomOffsets(testcaseID) {
		if b.bits[off/64]&(1<<(off%64)) == 0 {
			return false
		}
	}
	return true
}
