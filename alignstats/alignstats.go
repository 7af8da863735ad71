// Package alignstats reports how reads mapped to the reference genome.
package alignstats

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
)

// Stats summarizes a BAM file. Read counts include primary alignments only.
type Stats struct {
	Total      int              `json:"total"`
	Mapped     int              `json:"mapped"`
	Unmapped   int              `json:"unmapped"`
	References []ReferenceStats `json:"references"`
}

// ReferenceStats covers one reference sequence.
type ReferenceStats struct {
	Name         string  `json:"name"`
	Length       int     `json:"length"`
	Reads        int     `json:"reads"`
	CoveredBases int     `json:"covered_bases"`
	Coverage     float64 `json:"coverage"`
	MeanDepth    float64 `json:"mean_depth"`
}

// MappedFraction returns mapped / total, or 0 without reads.
func (s *Stats) MappedFraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Mapped) / float64(s.Total)
}

// ComputeFile reads the BAM file at path.
func ComputeFile(path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Compute(f)
}

// Compute reads BAM records from r.
func Compute(r io.Reader) (*Stats, error) {
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return nil, fmt.Errorf("reading BAM header: %w", err)
	}
	defer br.Close()

	refs := br.Header().Refs()
	depth := make([][]int32, len(refs))
	reads := make([]int, len(refs))
	for i, ref := range refs {
		depth[i] = make([]int32, ref.Len())
	}

	s := &Stats{}
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading BAM record: %w", err)
		}
		if rec.Flags&(sam.Secondary|sam.Supplementary) != 0 {
			continue
		}
		s.Total++
		if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil || rec.Ref.ID() < 0 {
			s.Unmapped++
			continue
		}
		s.Mapped++
		id := rec.Ref.ID()
		if id >= len(refs) {
			continue
		}
		reads[id]++
		addDepth(depth[id], rec)
	}

	for i, ref := range refs {
		rs := ReferenceStats{Name: ref.Name(), Length: ref.Len(), Reads: reads[i]}
		var sum int64
		for _, d := range depth[i] {
			if d > 0 {
				rs.CoveredBases++
			}
			sum += int64(d)
		}
		if rs.Length > 0 {
			rs.Coverage = float64(rs.CoveredBases) / float64(rs.Length)
			rs.MeanDepth = float64(sum) / float64(rs.Length)
		}
		s.References = append(s.References, rs)
	}
	sort.SliceStable(s.References, func(i, j int) bool {
		return s.References[i].Reads > s.References[j].Reads
	})
	return s, nil
}

// addDepth counts the reference bases covered by the aligned read.
func addDepth(depth []int32, rec *sam.Record) {
	pos := rec.Pos
	for _, c := range rec.Cigar {
		switch c.Type() {
		case sam.CigarMatch, sam.CigarMismatch, sam.CigarEqual:
			for i := 0; i < c.Len(); i++ {
				if p := pos + i; p >= 0 && p < len(depth) {
					depth[p]++
				}
			}
			pos += c.Len()
		case sam.CigarDeletion, sam.CigarSkipped:
			pos += c.Len()
		}
	}
}
