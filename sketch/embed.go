package sketch

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Point is a 2-D embedding coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Embed places every row of a similarity matrix in the plane by classical
// multidimensional scaling of the dissimilarities 1 - s.
func Embed(similarity [][]float64) ([]Point, error) {
	n := len(similarity)
	switch n {
	case 0:
		return nil, nil
	case 1:
		return []Point{{}}, nil
	}

	// squared dissimilarities
	d2 := make([]float64, n*n)
	for i, row := range similarity {
		if len(row) != n {
			return nil, fmt.Errorf("similarity matrix row %d has %d columns, want %d", i, len(row), n)
		}
		for j := range row {
			d := 1 - (similarity[i][j]+similarity[j][i])/2
			if i == j {
				d = 0
			}
			d2[i*n+j] = d * d
		}
	}

	// double centering: B = -1/2 J D² J
	rowMean := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rowMean[i] += d2[i*n+j]
		}
		total += rowMean[i]
		rowMean[i] /= float64(n)
	}
	grand := total / float64(n*n)

	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			b.SetSym(i, j, -0.5*(d2[i*n+j]-rowMean[i]-rowMean[j]+grand))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(b, true); !ok {
		return nil, errors.New("eigendecomposition did not converge")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	points := make([]Point, n)
	for axis := 0; axis < 2; axis++ {
		col := order[axis]
		if values[col] <= 0 {
			continue
		}
		scale := math.Sqrt(values[col])
		for i := 0; i < n; i++ {
			v := vectors.At(i, col) * scale
			if axis == 0 {
				points[i].X = v
			} else {
				points[i].Y = v
			}
		}
	}
	return points, nil
}
