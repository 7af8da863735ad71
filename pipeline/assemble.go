package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kzlab/vgs/alignstats"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/readstats"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/runner"
	"go.uber.org/zap"
)

// AssembleRequest describes one uploaded run.
type AssembleRequest struct {
	Reference  reference.Name      `json:"reference"`
	Reads      string              `json:"reads"`
	Submission metadata.Submission `json:"submission"`
}

// AssembleResult is what an assembly added to the metadata table.
type AssembleResult struct {
	Records []metadata.Record `json:"records"`
	Reads   *readstats.Stats  `json:"reads,omitempty"`
	Mapping *alignstats.Stats `json:"mapping,omitempty"`
	FastQC  string            `json:"fastqc,omitempty"`
}

// Names returns the identifiers of the appended records.
func (r *AssembleResult) Names() []string {
	names := make([]string, len(r.Records))
	for i, rec := range r.Records {
		names[i] = rec.Name
	}
	return names
}

// Assemble maps the reads to the reference, calls variants, builds the
// consensus and appends it to the metadata table of the reference.
func (p *Pipeline) Assemble(ctx context.Context, r Runner, dir string, req AssembleRequest) (*AssembleResult, error) {
	start := time.Now()
	name, err := reference.Parse(string(req.Reference))
	if err != nil {
		return nil, err
	}
	set := p.catalog.Set(name)
	log := p.logger.With(zap.String("reference", string(set.Name)), zap.String("dir", dir))

	reads, err := readstats.Compute(req.Reads, nil)
	if err != nil {
		return nil, fmt.Errorf("checking reads: %w", err)
	}
	log.Info("reads accepted",
		zap.String("format", reads.Format),
		zap.Int("records", reads.Records),
		zap.Int64("bases", reads.Bases))

	if err := set.EnsureIndex(ctx, r); err != nil {
		return nil, fmt.Errorf("indexing reference: %w", err)
	}

	result := &AssembleResult{Reads: reads}
	if p.fastqc {
		out := filepath.Join(dir, FastQCDir)
		if err := os.MkdirAll(out, 0755); err != nil {
			return nil, err
		}
		if err := r.Run(ctx, runner.Step{
			Tool: "fastqc",
			Args: []string{"-o", out, "-t", strconv.Itoa(p.threads), req.Reads},
		}); err != nil {
			return nil, fmt.Errorf("fastqc: %w", err)
		}
		result.FastQC = out
	}

	sam := filepath.Join(dir, SAMFile)
	bam := filepath.Join(dir, BAMFile)
	vcf := filepath.Join(dir, VCFFile)
	consensus := filepath.Join(dir, ConsensusFile)

	if err := r.Run(ctx, runner.Step{
		Tool:   "minimap2",
		Args:   []string{"-ax", "map-ont", "-t", strconv.Itoa(p.threads), set.Index, req.Reads},
		Stdout: sam,
	}); err != nil {
		return nil, fmt.Errorf("mapping reads: %w", err)
	}

	if err := r.Pipe(ctx,
		runner.Step{Tool: "samtools", Args: []string{"view", "-bS", sam}},
		runner.Step{Tool: "samtools", Args: []string{"sort", "-o", bam}},
	); err != nil {
		return nil, fmt.Errorf("sorting alignments: %w", err)
	}

	if mapping, err := alignstats.ComputeFile(bam); err != nil {
		log.Warn("mapping statistics unavailable", zap.Error(err))
	} else {
		result.Mapping = mapping
		log.Info("reads mapped",
			zap.Int("mapped", mapping.Mapped),
			zap.Int("unmapped", mapping.Unmapped))
	}

	if err := r.Pipe(ctx,
		runner.Step{Tool: "bcftools", Args: []string{"mpileup", "-Ou", "-f", set.FASTA, bam}},
		runner.Step{Tool: "bcftools", Args: []string{"call", "-mv", "-Oz", "-o", vcf}},
	); err != nil {
		return nil, fmt.Errorf("calling variants: %w", err)
	}

	if err := r.Run(ctx, runner.Step{Tool: "tabix", Args: []string{"-p", "vcf", vcf}}); err != nil {
		return nil, fmt.Errorf("indexing variants: %w", err)
	}

	if err := r.Run(ctx, runner.Step{
		Tool:   "bcftools",
		Args:   []string{"consensus", "-f", set.FASTA, vcf},
		Stdout: consensus,
	}); err != nil {
		return nil, fmt.Errorf("building consensus: %w", err)
	}

	seqs, err := metadata.ReadFASTAFile(consensus)
	if err != nil {
		return nil, fmt.Errorf("reading consensus: %w", err)
	}
	selected := set.SelectConsensus(seqs)
	if len(selected) == 0 {
		return nil, ErrNoConsensus
	}
	if len(selected) != len(seqs) {
		if err := metadata.WriteSequencesFile(consensus, selected); err != nil {
			return nil, fmt.Errorf("writing consensus: %w", err)
		}
	}

	err = p.catalog.Update(set.Name, func(project, ncbi *metadata.Table) error {
		result.Records = project.Append(req.Submission, selected, ncbi.Names())
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("assembly added",
		zap.Strings("names", result.Names()),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}
