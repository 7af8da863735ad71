package sketch

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SketchAll builds one sketch per sequence, in parallel.
func SketchAll(ctx context.Context, seqs []string, p Params) ([]*MinHash, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := make([]*MinHash, len(seqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, s := range seqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mh, err := NewMinHash(p)
			if err != nil {
				return err
			}
			mh.AddSequence(s)
			out[i] = mh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CompareAll returns the symmetric similarity matrix of sketches with 1 on
// the diagonal. Rows are computed in parallel.
func CompareAll(ctx context.Context, sketches []*MinHash, ignoreAbundance bool) ([][]float64, error) {
	n := len(sketches)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				sim, err := sketches[i].Similarity(sketches[j], ignoreAbundance)
				if err != nil {
					return fmt.Errorf("comparing %d and %d: %w", i, j, err)
				}
				// Row i owns cells (i, j>i) and (j, i); no other row writes them.
				matrix[i][j] = sim
				matrix[j][i] = sim
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matrix, nil
}
