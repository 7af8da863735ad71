// Package pipeline drives the external tools that turn uploaded reads into
// consensus assemblies and selected assemblies into a nextstrain build.
//
// Every operation works inside a directory owned by a single job; the only
// shared state is the metadata table, which is updated through the
// reference catalog.
package pipeline

import (
	"context"
	"errors"
	"runtime"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/runner"
	"go.uber.org/zap"
)

// Runner executes tool steps. *runner.Exec implements it.
type Runner interface {
	Run(ctx context.Context, s runner.Step) error
	Pipe(ctx context.Context, a, b runner.Step) error
}

// MinNextstrainRecords is the smallest selection accepted by Nextstrain.
const MinNextstrainRecords = 4

// ErrTooFewRecords is returned when a nextstrain selection is too small.
var ErrTooFewRecords = errors.New("you need more than 3 uploaded/selected to run nextstrain")

// ErrNoConsensus is returned when bcftools produced no consensus record.
var ErrNoConsensus = errors.New("no consensus sequence produced")

// Files written to a job directory.
const (
	SAMFile        = "to_ref.sam"
	BAMFile        = "to_ref_sorted.bam"
	VCFFile        = "calls.vcf.gz"
	ConsensusFile  = "consensus.fasta"
	FastQCDir      = "fastqc"
	AlignmentInput = "combined_alignment.fasta"
	MSAFile        = "msa.fasta"
	AugurMetadata  = "metadata.tsv"
	TreeFile       = "augur_output_tree.nwk"
	RefinedTree    = "augur_output_tree_refined.nwk"
	NodeDataFile   = "augur_refined_node.json"
	AncestralFile  = "augur_ancestral.json"
	TranslateFile  = "augur_muts.json"
	TraitsFile     = "augur_traits.json"
	AuspiceFile    = "augur_auspice.json"
)

// TraitColumns are reconstructed by augur traits.
var TraitColumns = []string{metadata.ColCountry, metadata.ColHost, metadata.ColIsolationSource}

// Tools needed by each operation.
var (
	AssembleTools   = []string{"minimap2", "samtools", "bcftools", "tabix"}
	NextstrainTools = []string{"augur"}
)

// Pipeline runs assemblies and nextstrain builds.
type Pipeline struct {
	catalog *reference.Catalog
	threads int
	fastqc  bool
	logger  *zap.Logger
}

// Option is a functional option for configuring the pipeline.
type Option func(*Pipeline)

// WithThreads sets the thread count given to minimap2 and augur.
func WithThreads(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.threads = n
		}
	}
}

// WithFastQC enables a fastqc report on every assembly.
func WithFastQC(enabled bool) Option {
	return func(p *Pipeline) {
		p.fastqc = enabled
	}
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline over the reference catalog.
func New(catalog *reference.Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog: catalog,
		threads: runtime.NumCPU(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Catalog returns the reference catalog.
func (p *Pipeline) Catalog() *reference.Catalog {
	return p.catalog
}

// RequiredTools lists the binaries an assembly run needs.
func (p *Pipeline) RequiredTools() []string {
	tools := append([]string(nil), AssembleTools...)
	if p.fastqc {
		tools = append(tools, "fastqc")
	}
	return tools
}
