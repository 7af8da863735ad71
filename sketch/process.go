package sketch

import (
	"context"
	"errors"

	"github.com/kzlab/vgs/metadata"
)

// ErrNoRecords is returned when there is nothing to embed.
var ErrNoRecords = errors.New("no records to embed")

// Result is an embedding of project and reference records.
type Result struct {
	Params Params            `json:"params"`
	Labels []metadata.Record `json:"labels"`
	Matrix [][]float64       `json:"matrix"`
	Points []Point           `json:"points"`
}

// Process sketches the selected project records followed by every reference
// record, compares all pairs and embeds the result. Project rows are labelled
// TypeProject and reference rows TypeGenbank.
func Process(ctx context.Context, project, reference []metadata.Record, p Params) (*Result, error) {
	labels := make([]metadata.Record, 0, len(project)+len(reference))
	for _, r := range project {
		r.Type = metadata.TypeProject
		labels = append(labels, r)
	}
	for _, r := range reference {
		r.Type = metadata.TypeGenbank
		labels = append(labels, r)
	}
	if len(labels) == 0 {
		return nil, ErrNoRecords
	}

	seqs := make([]string, len(labels))
	for i, r := range labels {
		seqs[i] = r.Seq
	}
	sketches, err := SketchAll(ctx, seqs, p)
	if err != nil {
		return nil, err
	}
	matrix, err := CompareAll(ctx, sketches, !p.Abundance)
	if err != nil {
		return nil, err
	}
	points, err := Embed(matrix)
	if err != nil {
		return nil, err
	}
	return &Result{Params: p, Labels: labels, Matrix: matrix, Points: points}, nil
}
