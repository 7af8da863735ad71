// Package sketch computes k-mer sketch similarities between genomes and
// projects them to two dimensions for plotting.
//
// Sketches follow the sourmash scaled MinHash conventions: canonical k-mers
// hashed with the first 64 bits of MurmurHash3 x64_128 (seed 42), keeping
// every hash below 2^64/scaled.
package sketch

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/spaolacci/murmur3"
)

// Seed is the MurmurHash3 seed used by sourmash.
const Seed = 42

// Params configures sketching.
type Params struct {
	KSize     int  `json:"ksize" yaml:"ksize"`
	Scaled    int  `json:"scaled" yaml:"scaled"`
	Abundance bool `json:"abundance" yaml:"abundance"`
}

// DefaultParams returns k=11, scaled=1, no abundance tracking.
func DefaultParams() Params {
	return Params{KSize: 11, Scaled: 1}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.KSize < 1 {
		return fmt.Errorf("ksize must be positive, got %d", p.KSize)
	}
	if p.Scaled < 1 {
		return fmt.Errorf("scaled must be positive, got %d", p.Scaled)
	}
	return nil
}

// ErrIncompatible is returned when comparing sketches built differently.
var ErrIncompatible = errors.New("incompatible sketches")

// MinHash is a scaled MinHash sketch of one sequence.
type MinHash struct {
	ksize     int
	maxHash   uint64
	abundance bool
	hashes    map[uint64]uint32
}

// NewMinHash creates an empty sketch.
func NewMinHash(p Params) (*MinHash, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &MinHash{
		ksize:     p.KSize,
		maxHash:   maxHashForScaled(p.Scaled),
		abundance: p.Abundance,
		hashes:    make(map[uint64]uint32),
	}, nil
}

func maxHashForScaled(scaled int) uint64 {
	if scaled == 1 {
		return math.MaxUint64
	}
	return uint64(math.Round(math.Exp2(64) / float64(scaled)))
}

// AddSequence adds the canonical k-mers of seq. K-mers holding anything
// other than A, C, G or T are skipped.
func (m *MinHash) AddSequence(seq string) {
	k := m.ksize
	if len(seq) < k {
		return
	}

	fwd := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		fwd[i] = upper(seq[i])
	}
	rc := make([]byte, len(fwd))
	for i, c := range fwd {
		rc[len(fwd)-1-i] = complement(c)
	}

	// next invalid base at or after i
	invalid := make([]int, len(fwd)+1)
	invalid[len(fwd)] = len(fwd)
	for i := len(fwd) - 1; i >= 0; i-- {
		if complement(fwd[i]) == 0 {
			invalid[i] = i
		} else {
			invalid[i] = invalid[i+1]
		}
	}

	n := len(fwd)
	for i := 0; i+k <= n; i++ {
		if invalid[i] < i+k {
			continue
		}
		kmer := fwd[i : i+k]
		rev := rc[n-i-k : n-i]
		if string(rev) < string(kmer) {
			kmer = rev
		}
		m.add(murmur3.Sum64WithSeed(kmer, Seed))
	}
}

func (m *MinHash) add(h uint64) {
	if h > m.maxHash {
		return
	}
	if m.abundance {
		m.hashes[h]++
	} else {
		m.hashes[h] = 1
	}
}

// Len returns the number of hashes kept.
func (m *MinHash) Len() int {
	return len(m.hashes)
}

// Hashes returns the kept hashes in increasing order.
func (m *MinHash) Hashes() []uint64 {
	out := make([]uint64, 0, len(m.hashes))
	for h := range m.hashes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TrackAbundance reports whether hash multiplicities are kept.
func (m *MinHash) TrackAbundance() bool {
	return m.abundance
}

func (m *MinHash) compatible(o *MinHash) error {
	if m.ksize != o.ksize || m.maxHash != o.maxHash {
		return fmt.Errorf("%w: ksize %d/%d", ErrIncompatible, m.ksize, o.ksize)
	}
	return nil
}

// Jaccard returns |A ∩ B| / |A ∪ B| over the hash sets.
func (m *MinHash) Jaccard(o *MinHash) (float64, error) {
	if err := m.compatible(o); err != nil {
		return 0, err
	}
	small, large := m.hashes, o.hashes
	if len(small) > len(large) {
		small, large = large, small
	}
	common := 0
	for h := range small {
		if _, ok := large[h]; ok {
			common++
		}
	}
	union := len(m.hashes) + len(o.hashes) - common
	if union == 0 {
		return 0, nil
	}
	return float64(common) / float64(union), nil
}

// Angular returns the angular similarity of the abundance vectors,
// 1 - 2*acos(cosine)/pi.
func (m *MinHash) Angular(o *MinHash) (float64, error) {
	if err := m.compatible(o); err != nil {
		return 0, err
	}
	var dot, na, nb float64
	for h, a := range m.hashes {
		na += float64(a) * float64(a)
		if b, ok := o.hashes[h]; ok {
			dot += float64(a) * float64(b)
		}
	}
	for _, b := range o.hashes {
		nb += float64(b) * float64(b)
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	cos := math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))
	return 1 - 2*math.Acos(cos)/math.Pi, nil
}

// Similarity compares two sketches: Jaccard when abundance is ignored or
// not tracked, angular similarity otherwise.
func (m *MinHash) Similarity(o *MinHash, ignoreAbundance bool) (float64, error) {
	if ignoreAbundance || !m.abundance || !o.abundance {
		return m.Jaccard(o)
	}
	return m.Angular(o)
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func complement(c byte) byte {
	switch c {
	case 'A':
		return 'T'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	case 'T':
		return 'A'
	default:
		return 0
	}
}
