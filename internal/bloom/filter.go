// Package bloom implements the id filters stored in partition sidecars.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over int64 identifiers (taxi and driver ids).
// It is not safe for concurrent mutation; partition builders own one each.
type Filter struct {
	words  []uint64
	m      uint64
	k      uint64
	count  uint64
	keyBuf [8]byte
}

// New creates a filter with at least numBits bits and numHashes probes.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}
	words := (numBits + 63) / 64
	return &Filter{
		words: make([]uint64, words),
		m:     uint64(words * 64),
		k:     uint64(numHashes),
	}
}

// ForCapacity sizes a filter for n ids at false positive rate p.
func ForCapacity(n int, p float64) *Filter {
	return New(Parameters(n, p))
}

// Parameters returns bits m = -n ln p / ln²2 and probes k = (m/n) ln 2.
func Parameters(n int, p float64) (numBits, numHashes int) {
	if n <= 0 {
		n = 1000
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	numBits = max(64, int(math.Ceil(m)))
	numHashes = max(1, int(math.Ceil(m/float64(n)*math.Ln2)))
	return numBits, numHashes
}

// AddID inserts id.
func (f *Filter) AddID(id int64) {
	h1, h2 := f.hash(id)
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		f.words[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContainID reports whether id may have been added. A false result is definite.
func (f *Filter) MayContainID(id int64) bool {
	h1, h2 := f.hash(id)
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		if f.words[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) hash(id int64) (uint64, uint64) {
	binary.LittleEndian.PutUint64(f.keyBuf[:], uint64(id))
	return murmur3.Sum128(f.keyBuf[:])
}

// NumBits returns the filter size in bits.
func (f *Filter) NumBits() int { return int(f.m) }

// NumHashes returns the number of probes per id.
func (f *Filter) NumHashes() int { return int(f.k) }

// Count returns the number of ids added.
func (f *Filter) Count() uint64 { return f.count }

// EstimatedFPR is (1 - e^(-kn/m))^k for the current fill.
func (f *Filter) EstimatedFPR() float64 {
	if f.count == 0 {
		return 0
	}
	k, n, m := float64(f.k), float64(f.count), float64(f.m)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
