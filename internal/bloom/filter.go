// Package bloom provides the entity-id bloom filter stored in artifact sidecars.
// A negative answer is exact, so readers can skip an artifact for an entity
// the filter has never seen.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// EntityFilter is a murmur3 double-hashing bloom filter over entity ids.
// It is built once per artifact and read-only afterwards.
type EntityFilter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with at least numBits bits and numHashes hash functions.
func New(numBits, numHashes int) *EntityFilter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}
	words := (numBits + 63) / 64
	return &EntityFilter{
		bits:      make([]uint64, words),
		numBits:   uint64(words * 64),
		numHashes: uint64(numHashes),
	}
}

// ForEntities sizes a filter for n distinct entities at false positive rate fpr.
func ForEntities(n int, fpr float64) *EntityFilter {
	bits, hashes := OptimalParameters(n, fpr)
	return New(bits, hashes)
}

// OptimalParameters returns m = -n ln(p) / ln(2)^2 bits and k = (m/n) ln(2)
// hashes, with small-input floors.
func OptimalParameters(n int, fpr float64) (numBits, numHashes int) {
	if n <= 0 {
		n = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}
	m := -float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(m / float64(n) * math.Ln2))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records an entity id.
func (f *EntityFilter) Add(entityID string) {
	h1, h2 := murmur3.Sum128([]byte(entityID))
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain returns false only if entityID was never added.
func (f *EntityFilter) MayContain(entityID string) bool {
	h1, h2 := murmur3.Sum128([]byte(entityID))
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of ids added.
func (f *EntityFilter) Count() uint64 {
	return f.count
}

// NumBits returns the filter size in bits.
func (f *EntityFilter) NumBits() int {
	return int(f.numBits)
}
