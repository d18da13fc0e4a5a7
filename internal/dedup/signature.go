// Package dedup implements corpus-scale near-duplicate elimination:
// word-shingle MinHash signatures, banded LSH, and a Bloom-backed
// coordinator that enforces first-writer-wins across all workers.
package dedup

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/twmb/murmur3"
)

const (
	// DefaultSeed feeds the permutation PRNG.
	DefaultSeed = 1854201893
	// DefaultPrime is the modulus for the universal hash family. It is the
	// smallest prime above 2^32.
	DefaultPrime = 4294967311

	maxHash = 1<<32 - 1
)

// BandGeometry picks the band count B and rows-per-band R with B*R = p that
// minimize |threshold - (1/B)^(1/R)|. Ties resolve to the smallest B.
func BandGeometry(permutations int, threshold float64) (bands, rows int) {
	bands, rows = 1, permutations
	bestErr := math.Inf(1)
	for b := 1; b <= permutations; b++ {
		if permutations%b != 0 {
			continue
		}
		r := permutations / b
		estimated := math.Pow(1.0/float64(b), 1.0/float64(r))
		err := math.Abs(estimated - threshold)
		if err < bestErr {
			bestErr = err
			bands, rows = b, r
		}
	}
	return bands, rows
}

// Signature computes banded MinHash signatures for paragraphs.
type Signature struct {
	permutations int
	ngramSize    int
	bands        int
	rows         int
	prime        uint64
	a            []uint64
	b            []uint64
}

// NewSignature draws the permutation vectors from a PRNG seeded with seed,
// so equal seeds yield identical signatures across runs.
func NewSignature(permutations, ngramSize, bands, rows int, seed int64, prime uint64) *Signature {
	rng := rand.New(rand.NewSource(seed))
	a := make([]uint64, permutations)
	b := make([]uint64, permutations)
	for i := range a {
		a[i] = uint64(rng.Int63n(maxHash-1)) + 1
		b[i] = uint64(rng.Int63n(maxHash + 1))
	}
	return &Signature{
		permutations: permutations,
		ngramSize:    ngramSize,
		bands:        bands,
		rows:         rows,
		prime:        prime,
		a:            a,
		b:            b,
	}
}

// Bands returns the band count B.
func (s *Signature) Bands() int { return s.bands }

// splitASCII tokenizes on ASCII whitespace.
func splitASCII(text string) []string {
	var words []string
	start := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}

// shingles returns the set of k-word windows joined by single spaces. A text
// with fewer than k words contributes its single joined form.
func (s *Signature) shingles(text string) map[string]struct{} {
	words := splitASCII(text)
	out := make(map[string]struct{})
	if len(words) < s.ngramSize {
		out[joinWords(words)] = struct{}{}
		return out
	}
	for i := 0; i+s.ngramSize <= len(words); i++ {
		out[joinWords(words[i:i+s.ngramSize])] = struct{}{}
	}
	return out
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	}
	n := len(words) - 1
	for _, w := range words {
		n += len(w)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, words[0]...)
	for _, w := range words[1:] {
		buf = append(buf, ' ')
		buf = append(buf, w...)
	}
	return string(buf)
}

// minhash folds every shingle into the component-wise minimum of the
// universal hash family. An empty shingle set yields the zero vector.
func (s *Signature) minhash(shingles map[string]struct{}) []uint32 {
	sig := make([]uint32, s.permutations)
	if len(shingles) == 0 {
		return sig
	}
	for i := range sig {
		sig[i] = maxHash
	}
	for shingle := range shingles {
		h := uint64(murmur3.StringSum32(shingle))
		for i := range sig {
			v := uint32((s.a[i]*h + s.b[i]) % s.prime)
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// bandSignature reduces P MinHash values to B band values: each band sums
// the murmur hashes of its R values mod 2^32.
func (s *Signature) bandSignature(minhash []uint32) []uint32 {
	out := make([]uint32, s.bands)
	var buf [4]byte
	for band := 0; band < s.bands; band++ {
		var sum uint64
		for r := 0; r < s.rows; r++ {
			binary.LittleEndian.PutUint32(buf[:], minhash[band*s.rows+r])
			sum += uint64(murmur3.Sum32(buf[:]))
		}
		out[band] = uint32(sum)
	}
	return out
}

// Compute returns the length-B band signature for a paragraph.
func (s *Signature) Compute(text string) []uint32 {
	return s.bandSignature(s.minhash(s.shingles(text)))
}
