// Package bloom implements the fixed-k, double-indexing Bloom filter used by
// SSTables to skip disk reads for keys that are definitely absent.
//
// Grounded on the teacher's filter.go BloomFilter (bit-packed []uint64,
// Marshal-to-bytes layout), re-hashed with FNV-1a per the serialization and
// sizing rules the spec fixes explicitly: the teacher's unsafe-pointer xxhash
// style mixing doesn't reproduce those rules, so the hash function is
// replaced while the bit-packing idiom is kept.
package bloom

import (
	"encoding/binary"
	"hash/fnv"
)

// Filter is a probabilistic set-membership test with no false negatives.
type Filter struct {
	k        uint64
	bitCount uint64
	words    []uint64
}

// New sizes a filter heuristically for n expected entries: max(64, 10*n) bits
// and k=3 hash functions, per spec.
func New(n int) *Filter {
	bits := uint64(n) * 10
	if bits < 64 {
		bits = 64
	}
	return &Filter{
		k:        3,
		bitCount: bits,
		words:    make([]uint64, (bits+63)/64),
	}
}

// Add records key's membership.
func (f *Filter) Add(key []byte) {
	for i := uint64(0); i < f.k; i++ {
		bit := f.hash(key, i) % f.bitCount
		f.words[bit/64] |= 1 << (bit % 64)
	}
}

// MayContain returns false only when at least one hashed bit is clear, i.e.
// the key is definitely absent. A true result may be a false positive.
func (f *Filter) MayContain(key []byte) bool {
	for i := uint64(0); i < f.k; i++ {
		bit := f.hash(key, i) % f.bitCount
		if f.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// hash double-indexes FNV-1a seeded by the hash index, per spec.
func (f *Filter) hash(key []byte, index uint64) uint64 {
	h := fnv.New64a()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], index)
	h.Write(seed[:])
	h.Write(key)
	return h.Sum64()
}

// Marshal serializes the filter as k(8 LE) | bitCount(8 LE) | words(8 LE each).
func (f *Filter) Marshal() []byte {
	buf := make([]byte, 16+len(f.words)*8)
	binary.LittleEndian.PutUint64(buf[0:8], f.k)
	binary.LittleEndian.PutUint64(buf[8:16], f.bitCount)
	for i, w := range f.words {
		binary.LittleEndian.PutUint64(buf[16+i*8:16+(i+1)*8], w)
	}
	return buf
}

// Unmarshal recovers a filter from bytes produced by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < 16 {
		return nil, errCorruptFilter
	}
	k := binary.LittleEndian.Uint64(data[0:8])
	bitCount := binary.LittleEndian.Uint64(data[8:16])
	wordCount := (bitCount + 63) / 64
	if uint64(len(data)-16) < wordCount*8 {
		return nil, errCorruptFilter
	}
	words := make([]uint64, wordCount)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[16+i*8 : 16+(i+1)*8])
	}
	return &Filter{k: k, bitCount: bitCount, words: words}, nil
}

// Size returns the marshaled byte length of the filter.
func (f *Filter) Size() int {
	return 16 + len(f.words)*8
}
