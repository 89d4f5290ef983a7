// Package gbt implements gradient-boosted regression trees minimizing squared
// error, with histogram split finding, row subsampling and per-tree column
// sampling. Fitting is deterministic for a given seed.
package gbt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyInput is returned when Fit receives no rows.
	ErrEmptyInput = errors.New("empty training input")
	// ErrShape is returned when rows disagree in width or with the target length.
	ErrShape = errors.New("feature matrix shape mismatch")
	// ErrNonFinite is returned when the training data contains NaN or Inf.
	ErrNonFinite = errors.New("non-finite training value")
)

// Model is a fitted ensemble. It is immutable after Fit.
type Model struct {
	BaseScore   float64 `json:"base_score"`
	NumFeatures int     `json:"num_features"`
	Params      Params  `json:"params"`
	Trees       []Tree  `json:"trees"`
}

// Fit trains a model on the row-major matrix x and targets y.
func Fit(ctx context.Context, x [][]float64, y []float64, params Params) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := len(x)
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d rows, %d targets", ErrShape, n, len(y))
	}
	d := len(x[0])
	if d == 0 {
		return nil, fmt.Errorf("%w: zero feature columns", ErrShape)
	}
	for i, row := range x {
		if len(row) != d {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), d)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d column %d", ErrNonFinite, i, j)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, fmt.Errorf("%w: target row %d", ErrNonFinite, i)
		}
	}

	m := &Model{
		BaseScore:   stat.Mean(y, nil),
		NumFeatures: d,
		Params:      params,
		Trees:       make([]Tree, 0, params.NEstimators),
	}

	bins := newBinner(x, d)
	g := &grower{
		binned:   bins.transform(x),
		bins:     bins,
		grad:     make([]float64, n),
		maxDepth: params.MaxDepth,
		eta:      params.LearningRate,
	}

	rng := rand.New(rand.NewSource(params.Seed))
	nCols := max(1, int(params.ColsampleByTree*float64(d)))
	allRows := make([]int, n)
	for i := range allRows {
		allRows[i] = i
	}
	allFeatures := make([]int, d)
	for j := range allFeatures {
		allFeatures[j] = j
	}

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.BaseScore
	}

	rows := make([]int, 0, n)
	for t := 0; t < params.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fit interrupted after %d trees: %w", t, err)
		}

		for i := range g.grad {
			g.grad[i] = pred[i] - y[i]
		}

		rows = rows[:0]
		if params.Subsample < 1 {
			for i := 0; i < n; i++ {
				if rng.Float64() < params.Subsample {
					rows = append(rows, i)
				}
			}
		}
		if len(rows) == 0 {
			rows = append(rows, allRows...)
		}

		g.features = allFeatures
		if nCols < d {
			sampled := rng.Perm(d)[:nCols]
			sort.Ints(sampled)
			g.features = sampled
		}

		tree := g.build(rows)
		for i := range pred {
			pred[i] += tree.predict(x[i])
		}
		m.Trees = append(m.Trees, tree)
	}
	return m, nil
}

// PredictRow returns the prediction for one feature row.
func (m *Model) PredictRow(row []float64) float64 {
	out := m.BaseScore
	for i := range m.Trees {
		out += m.Trees[i].predict(row)
	}
	return out
}

// Predict returns one prediction per row of x.
func (m *Model) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != m.NumFeatures {
			return nil, fmt.Errorf("%w: row %d has %d columns, model expects %d", ErrShape, i, len(row), m.NumFeatures)
		}
		out[i] = m.PredictRow(row)
	}
	return out, nil
}

// Validate checks the structural integrity of a decoded model.
func (m *Model) Validate() error {
	if m.NumFeatures < 1 {
		return fmt.Errorf("%w: model has %d features", ErrShape, m.NumFeatures)
	}
	for t, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= m.NumFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", t, i, n.Feature)
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d: bad child index", t, i)
			}
		}
	}
	return nil
}
