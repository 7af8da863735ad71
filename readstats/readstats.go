// Package readstats summarizes uploaded sequencing reads.
package readstats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/xopen"
)

// ErrEmpty is returned for inputs without any record.
var ErrEmpty = errors.New("no sequence records found")

// ErrFormat is returned for inputs that are neither FASTQ nor FASTA.
var ErrFormat = errors.New("not a FASTQ or FASTA file")

// Stats describes a read set.
type Stats struct {
	File    string  `json:"file"`
	Format  string  `json:"format"`
	Records int     `json:"records"`
	Bases   int64   `json:"bases"`
	MinLen  int     `json:"min_len"`
	MaxLen  int     `json:"max_len"`
	MeanLen float64 `json:"mean_len"`
	N50     int     `json:"n50"`
}

// Formats reported by Sniff.
const (
	FormatFASTQ = "FASTQ"
	FormatFASTA = "FASTA"
)

// Sniff reports the format of a (possibly compressed) sequence file from
// its first non-blank byte.
func Sniff(path string) (string, error) {
	r, err := xopen.Ropen(path)
	if errors.Is(err, xopen.ErrNoContent) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()

	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return "", ErrEmpty
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '@':
			return FormatFASTQ, nil
		case '>':
			return FormatFASTA, nil
		default:
			return "", ErrFormat
		}
	}
}

// Compute reads every record of path. progress, when not nil, is called
// after each record.
func Compute(path string, progress func()) (*Stats, error) {
	format, err := Sniff(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	reader, err := fastx.NewDefaultReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer reader.Close()

	var lengths []int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		lengths = append(lengths, len(record.Seq.Seq))
		if progress != nil {
			progress()
		}
	}
	if len(lengths) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}

	s := Summarize(lengths)
	s.File = path
	s.Format = format
	return s, nil
}

// Summarize computes length statistics.
func Summarize(lengths []int) *Stats {
	s := &Stats{Records: len(lengths)}
	if len(lengths) == 0 {
		return s
	}
	s.MinLen = lengths[0]
	for _, l := range lengths {
		s.Bases += int64(l)
		if l < s.MinLen {
			s.MinLen = l
		}
		if l > s.MaxLen {
			s.MaxLen = l
		}
	}
	s.MeanLen = float64(s.Bases) / float64(len(lengths))
	s.N50 = n50(lengths, s.Bases)
	return s
}

// n50 is the length L such that records of length >= L hold at least half
// of all bases.
func n50(lengths []int, total int64) int {
	sorted := make([]int, len(lengths))
	copy(sorted, lengths)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	var sum int64
	for _, l := range sorted {
		sum += int64(l)
		if sum*2 >= total {
			return l
		}
	}
	return 0
}
