package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/runner"
	"go.uber.org/zap"
)

// Selection picks records for a nextstrain build or an embedding.
type Selection struct {
	Reference reference.Name `json:"reference"`
	// Names of the records to include; empty selects every candidate.
	Names []string `json:"names,omitempty"`
	// IncludeNCBI adds the reference database to the candidates.
	IncludeNCBI bool `json:"include_ncbi,omitempty"`
}

// Candidates returns the records a selection chooses from: the project
// table, followed by the reference database when requested.
func (p *Pipeline) Candidates(ref reference.Name, includeNCBI bool) (*metadata.Table, error) {
	project, ncbi, err := p.catalog.Tables(ref)
	if err != nil {
		return nil, err
	}
	if includeNCBI {
		return metadata.Concat(project, ncbi), nil
	}
	return project, nil
}

// Select resolves a selection against the current tables, by name.
func (p *Pipeline) Select(sel Selection) ([]metadata.Record, error) {
	name, err := reference.Parse(string(sel.Reference))
	if err != nil {
		return nil, err
	}
	table, err := p.Candidates(name, sel.IncludeNCBI)
	if err != nil {
		return nil, err
	}
	if len(sel.Names) == 0 {
		return table.Records(), nil
	}
	return table.Select(sel.Names)
}

// NextstrainResult locates the outputs of a build.
type NextstrainResult struct {
	Records int    `json:"records"`
	Auspice string `json:"auspice"`
	Tree    string `json:"tree"`
}

// Nextstrain aligns the records and runs the augur pipeline on them.
func (p *Pipeline) Nextstrain(ctx context.Context, r Runner, dir string, ref reference.Name, records []metadata.Record) (*NextstrainResult, error) {
	if len(records) < MinNextstrainRecords {
		return nil, fmt.Errorf("%w (got %d)", ErrTooFewRecords, len(records))
	}
	name, err := reference.Parse(string(ref))
	if err != nil {
		return nil, err
	}
	set := p.catalog.Set(name)

	start := time.Now()
	if err := p.CreateMSA(ctx, r, dir, set, records); err != nil {
		return nil, err
	}
	if err := p.RunAugur(ctx, r, dir, set, records); err != nil {
		return nil, err
	}

	p.logger.Info("nextstrain build finished",
		zap.String("reference", string(name)),
		zap.Int("records", len(records)),
		zap.String("dir", dir),
		zap.Duration("elapsed", time.Since(start)))
	return &NextstrainResult{
		Records: len(records),
		Auspice: filepath.Join(dir, AuspiceFile),
		Tree:    filepath.Join(dir, RefinedTree),
	}, nil
}

// CreateMSA writes the records as FASTA and aligns them to the reference
// with augur align.
func (p *Pipeline) CreateMSA(ctx context.Context, r Runner, dir string, set *reference.Set, records []metadata.Record) error {
	input := filepath.Join(dir, AlignmentInput)
	if err := metadata.WriteFASTAFile(input, records); err != nil {
		return fmt.Errorf("writing alignment input: %w", err)
	}
	err := r.Run(ctx, runner.Step{
		Tool: "augur",
		Args: []string{
			"align",
			"--sequences", input,
			"--reference-sequence", set.GenBank,
			"--fill-gaps",
			"--output", filepath.Join(dir, MSAFile),
			"--nthreads", strconv.Itoa(p.threads),
		},
	})
	if err != nil {
		return fmt.Errorf("augur align: %w", err)
	}
	return nil
}

// RunAugur builds the tree, reconstructs ancestral sequences and traits,
// and exports the auspice JSON.
func (p *Pipeline) RunAugur(ctx context.Context, r Runner, dir string, set *reference.Set, records []metadata.Record) error {
	f := func(name string) string { return filepath.Join(dir, name) }
	var (
		meta      = f(AugurMetadata)
		alignment = f(MSAFile)
		tree      = f(TreeFile)
		refined   = f(RefinedTree)
		nodeData  = f(NodeDataFile)
		ancestral = f(AncestralFile)
		translate = f(TranslateFile)
		traits    = f(TraitsFile)
		auspice   = f(AuspiceFile)
	)

	if err := metadata.WriteTSVFile(meta, records, metadata.AugurColumns); err != nil {
		return fmt.Errorf("writing augur metadata: %w", err)
	}

	steps := []struct {
		name string
		args []string
	}{
		{"tree", []string{
			"--alignment", alignment,
			"--method", "iqtree",
			"--output", tree,
			"--nthreads", strconv.Itoa(p.threads),
		}},
		{"refine", []string{
			"--tree", tree,
			"--alignment", alignment,
			"--metadata", meta,
			"--output-tree", refined,
			"--output-node-data", nodeData,
		}},
		{"ancestral", []string{
			"--tree", refined,
			"--alignment", alignment,
			"--inference", "joint",
			"--output-node-data", ancestral,
		}},
		{"translate", []string{
			"--tree", refined,
			"--ancestral-sequences", ancestral,
			"--reference-sequence", set.GenBank,
			"--output-node-data", translate,
		}},
		{"traits", append(append([]string{
			"--tree", refined,
			"--metadata", meta,
			"--columns"}, TraitColumns...),
			"--confidence",
			"--output-node-data", traits,
		)},
		{"export", []string{
			"v2",
			"--tree", refined,
			"--metadata", meta,
			"--node-data", nodeData, traits, ancestral, translate,
			"--auspice-config", set.AuspiceConfig,
			"--output", auspice,
		}},
	}

	for _, s := range steps {
		step := runner.Step{Tool: "augur", Args: append([]string{s.name}, s.args...)}
		if err := r.Run(ctx, step); err != nil {
			return fmt.Errorf("augur %s: %w", s.name, err)
		}
	}
	return nil
}

// View opens the build in the nextstrain viewer. It blocks until the
// viewer exits or ctx is done.
func (p *Pipeline) View(ctx context.Context, r Runner, dir string) error {
	return r.Run(ctx, runner.Step{Tool: "nextstrain", Args: []string{"view", dir}})
}
