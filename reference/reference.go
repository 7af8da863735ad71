// Package reference describes the pathogen reference sets.
//
// Each set (TBEV, CCHF) has a reference genome in FASTA and GenBank form, a
// minimap2 index, the project metadata table and a reference database of
// public genomes, all kept in the resources directory.
package reference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/runner"
)

// Name identifies a reference set.
type Name string

// Known reference sets.
const (
	TBEV Name = "TBEV"
	CCHF Name = "CCHF"
)

// ErrUnknownReference is returned for names other than TBEV and CCHF.
var ErrUnknownReference = errors.New("need the reference to be either TBEV or CCHF")

// All returns every known reference set.
func All() []Name {
	return []Name{CCHF, TBEV}
}

// Parse validates a reference name.
func Parse(s string) (Name, error) {
	switch n := Name(strings.ToUpper(strings.TrimSpace(s))); n {
	case TBEV, CCHF:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReference, s)
	}
}

// AuspiceConfigFile is shared by every reference set.
const AuspiceConfigFile = "auspice_config.json"

// Set holds the file locations of one reference set.
type Set struct {
	Name Name

	FASTA         string
	GenBank       string
	Index         string
	Metadata      string
	NCBI          string
	AuspiceConfig string

	// Lock guards writes to Metadata and NCBI across processes.
	Lock string
}

// NewSet lays out the files of name under dir.
func NewSet(name Name, dir string) *Set {
	p := func(suffix string) string {
		return filepath.Join(dir, string(name)+suffix)
	}
	return &Set{
		Name:          name,
		FASTA:         p("_reference.fasta"),
		GenBank:       p("_reference.gb"),
		Index:         p("_reference.mmi"),
		Metadata:      p("_metadata.tsv"),
		NCBI:          p("_NCBI_metadata.tsv"),
		AuspiceConfig: filepath.Join(dir, AuspiceConfigFile),
		Lock:          p("_metadata.lock"),
	}
}

// Indexer runs external tools.
type Indexer interface {
	Run(ctx context.Context, s runner.Step) error
}

// EnsureIndex builds the minimap2 index when it does not exist yet.
func (s *Set) EnsureIndex(ctx context.Context, r Indexer) error {
	if _, err := os.Stat(s.Index); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := os.Stat(s.FASTA); err != nil {
		return fmt.Errorf("reference genome for %s: %w", s.Name, err)
	}
	return r.Run(ctx, runner.Step{
		Tool: "minimap2",
		Args: []string{"-d", s.Index, s.FASTA},
	})
}

// SelectConsensus applies the per-pathogen consensus policy. TBEV keeps
// every consensus record; CCHF keeps only the shortest one (the first on
// ties).
func (s *Set) SelectConsensus(seqs []metadata.Sequence) []metadata.Sequence {
	if s.Name != CCHF || len(seqs) <= 1 {
		return seqs
	}
	shortest := 0
	for i, q := range seqs {
		if len(q.Seq) < len(seqs[shortest].Seq) {
			shortest = i
		}
	}
	return []metadata.Sequence{seqs[shortest]}
}

// LoadMetadata loads the project table.
func (s *Set) LoadMetadata() (*metadata.Table, error) {
	return metadata.Load(s.Metadata)
}

// LoadNCBI loads the reference database. A missing file is an empty table.
func (s *Set) LoadNCBI() (*metadata.Table, error) {
	return metadata.Load(s.NCBI)
}

// ExportBase is the file name stem used for exports of this set.
func (s *Set) ExportBase() string {
	return string(s.Name)
}
