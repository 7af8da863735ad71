package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/seqid"
	"go.uber.org/zap"
)

// Object types queried for reference genomes.
const (
	GenomeObject   = "genome"
	SequenceObject = "genome_sequence"
)

// IDColumns maps object types to their primary ID column.
var IDColumns = map[string]string{
	GenomeObject:   "genome_id",
	SequenceObject: "sequence_id",
}

// GenomeFields are the genome metadata columns fetched per genome.
var GenomeFields = []string{
	"genome_id", "genome_name", "strain", "collection_date", "collection_year",
	"isolation_country", "isolation_source", "host_name",
}

// SequenceFields are the genome_sequence columns fetched per contig.
var SequenceFields = []string{
	"genome_id", "sequence_id", "accession", "description", "length", "sequence",
}

// idBatch bounds the number of genome ids in one in() filter.
const idBatch = 200

// Genome is the metadata of a public genome.
type Genome struct {
	ID              string
	Name            string
	Strain          string
	Date            string
	Country         string
	IsolationSource string
	Host            string
}

// Contig is one sequence of a genome.
type Contig struct {
	GenomeID    string
	Accession   string
	Description string
	Sequence    string
}

// Genomes returns the public genomes of a taxon, sorted by genome id.
func (c *Client) Genomes(ctx context.Context, taxonID string) ([]Genome, error) {
	q := NewQuery().
		Select(GenomeFields...).
		Eq("taxon_lineage_ids", taxonID).
		Eq("public", "true").
		Sort("genome_id", false)
	rows, err := c.Query(ctx, GenomeObject, q)
	if err != nil {
		return nil, fmt.Errorf("querying genomes of taxon %s: %w", taxonID, err)
	}

	genomes := make([]Genome, 0, len(rows))
	for _, row := range rows {
		g := Genome{
			ID:              field(row, "genome_id"),
			Name:            field(row, "genome_name"),
			Strain:          field(row, "strain"),
			Date:            field(row, "collection_date"),
			Country:         field(row, "isolation_country"),
			IsolationSource: field(row, "isolation_source"),
			Host:            field(row, "host_name"),
		}
		if g.Date == "" {
			g.Date = field(row, "collection_year")
		}
		if g.ID != "" {
			genomes = append(genomes, g)
		}
	}
	return genomes, nil
}

// Contigs returns the sequences of the given genomes, keyed by genome id.
// progress, when not nil, is called with the number of genomes done.
func (c *Client) Contigs(ctx context.Context, genomeIDs []string, progress func(done int)) (map[string][]Contig, error) {
	out := make(map[string][]Contig, len(genomeIDs))
	for start := 0; start < len(genomeIDs); start += idBatch {
		end := min(start+idBatch, len(genomeIDs))
		q := NewQuery().
			Select(SequenceFields...).
			In("genome_id", genomeIDs[start:end]...).
			Sort("sequence_id", false)
		rows, err := c.Query(ctx, SequenceObject, q)
		if err != nil {
			return nil, fmt.Errorf("querying genome sequences: %w", err)
		}
		for _, row := range rows {
			ct := Contig{
				GenomeID:    field(row, "genome_id"),
				Accession:   field(row, "accession"),
				Description: field(row, "description"),
				Sequence:    strings.ToUpper(field(row, "sequence")),
			}
			if ct.Accession == "" {
				ct.Accession = field(row, "sequence_id")
			}
			if ct.Sequence != "" {
				out[ct.GenomeID] = append(out[ct.GenomeID], ct)
			}
		}
		if progress != nil {
			progress(end)
		}
	}
	return out, nil
}

// ReferenceRecords turns genomes and their contigs into reference database
// rows. Each genome contributes one row per contig or, with shortestOnly,
// only its shortest contig (the segment used for multi-segment viruses).
// Names are cleaned accessions made unique against taken and each other.
func ReferenceRecords(genomes []Genome, contigs map[string][]Contig, shortestOnly bool, taken []string) []metadata.Record {
	ids := seqid.NewAllocator(taken)
	var records []metadata.Record

	for _, g := range genomes {
		cs := contigs[g.ID]
		if len(cs) == 0 {
			continue
		}
		if shortestOnly {
			cs = []Contig{shortest(cs)}
		}
		for _, ct := range cs {
			name := accessionName(ct.Accession)
			if name == "" {
				name = accessionName(g.ID)
			}
			desc := g.Name
			if g.Strain != "" && !strings.Contains(desc, g.Strain) {
				desc += " " + g.Strain
			}
			records = append(records, metadata.Record{
				Name:            ids.Assign(name),
				Length:          len(ct.Sequence),
				Date:            g.Date,
				Country:         g.Country,
				IsolationSource: g.IsolationSource,
				Host:            g.Host,
				Desc:            strings.TrimSpace(ct.Accession + " " + desc),
				Seq:             ct.Sequence,
			})
		}
	}
	return records
}

// accessionName cleans an accession into an identifier. A trailing ".N"
// version survives cleaning, so MN123456.1 stays MN123456.1.
func accessionName(acc string) string {
	dot := strings.LastIndex(acc, ".")
	if dot < 0 {
		return seqid.CleanName(acc)
	}
	version := acc[dot+1:]
	if version == "" || strings.Trim(version, "0123456789") != "" {
		return seqid.CleanName(acc)
	}
	base := seqid.CleanName(acc[:dot])
	if base == "" {
		return ""
	}
	return base + "." + version
}

// FetchReferences downloads the public genomes of a taxon and builds the
// reference database rows.
func (c *Client) FetchReferences(ctx context.Context, taxonID string, shortestOnly bool, taken []string, progress func(done, total int)) ([]metadata.Record, error) {
	genomes, err := c.Genomes(ctx, taxonID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("genomes found", zap.String("taxon", taxonID), zap.Int("count", len(genomes)))

	ids := make([]string, len(genomes))
	for i, g := range genomes {
		ids[i] = g.ID
	}
	var report func(int)
	if progress != nil {
		report = func(done int) { progress(done, len(ids)) }
	}
	contigs, err := c.Contigs(ctx, ids, report)
	if err != nil {
		return nil, err
	}
	return ReferenceRecords(genomes, contigs, shortestOnly, taken), nil
}

func shortest(cs []Contig) Contig {
	best := cs[0]
	for _, c := range cs[1:] {
		if len(c.Sequence) < len(best.Sequence) {
			best = c
		}
	}
	return best
}

// field returns a record value as text. Numbers come back from the API as
// float64 and lists as []any.
func field(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
