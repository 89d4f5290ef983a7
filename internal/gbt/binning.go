package gbt

import (
	"sort"
)

// MaxBins bounds the histogram size per feature.
const MaxBins = 256

// binner maps raw feature values onto histogram bins. A value x falls in bin
// b = number of cuts <= x, so a split at cut c sends x < c left.
type binner struct {
	cuts [][]float64 // per feature, ascending
}

// newBinner computes cut points per feature from the training matrix. Features
// with at most MaxBins distinct values get one cut per distinct value after the
// smallest; others get quantile cuts.
func newBinner(x [][]float64, nFeatures int) *binner {
	b := &binner{cuts: make([][]float64, nFeatures)}
	col := make([]float64, len(x))
	for j := 0; j < nFeatures; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		sort.Float64s(col)
		b.cuts[j] = cutPoints(col)
	}
	return b
}

func cutPoints(sorted []float64) []float64 {
	distinct := make([]float64, 0, MaxBins)
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
			if len(distinct) > MaxBins {
				break
			}
		}
	}
	if len(distinct) <= MaxBins {
		if len(distinct) < 2 {
			return nil
		}
		return append([]float64(nil), distinct[1:]...)
	}

	cuts := make([]float64, 0, MaxBins-1)
	n := len(sorted)
	for q := 1; q < MaxBins; q++ {
		v := sorted[q*n/MaxBins]
		if v == sorted[0] {
			continue
		}
		if len(cuts) == 0 || v > cuts[len(cuts)-1] {
			cuts = append(cuts, v)
		}
	}
	return cuts
}

// bin returns the bin index of v for feature j.
func (b *binner) bin(j int, v float64) uint16 {
	cuts := b.cuts[j]
	return uint16(sort.Search(len(cuts), func(k int) bool { return cuts[k] > v }))
}

// numBins returns the bin count of feature j.
func (b *binner) numBins(j int) int {
	return len(b.cuts[j]) + 1
}

// transform bins the whole matrix column-major.
func (b *binner) transform(x [][]float64) [][]uint16 {
	out := make([][]uint16, len(b.cuts))
	for j := range b.cuts {
		out[j] = make([]uint16, len(x))
		for i := range x {
			out[j][i] = b.bin(j, x[i][j])
		}
	}
	return out
}
