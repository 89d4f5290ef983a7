package tuner

import (
	"errors"
	"fmt"

	"github.com/fractal-lba/salesforecast/internal/gbt"
)

// ErrEmptyGrid is returned when a grid axis has no values.
var ErrEmptyGrid = errors.New("empty hyperparameter grid axis")

// Grid is the Cartesian product of five hyperparameter axes.
type Grid struct {
	NEstimators     []int     `yaml:"n_estimators" json:"n_estimators"`
	MaxDepth        []int     `yaml:"max_depth" json:"max_depth"`
	LearningRate    []float64 `yaml:"learning_rate" json:"learning_rate"`
	Subsample       []float64 `yaml:"subsample" json:"subsample"`
	ColsampleByTree []float64 `yaml:"colsample_bytree" json:"colsample_bytree"`
}

// DefaultGrid returns the reference 3x3x3x2x2 grid.
func DefaultGrid() Grid {
	return Grid{
		NEstimators:     []int{175, 200, 225},
		MaxDepth:        []int{5, 6, 7},
		LearningRate:    []float64{0.075, 0.1, 0.125},
		Subsample:       []float64{0.8, 0.9},
		ColsampleByTree: []float64{0.8, 0.9},
	}
}

// Size returns the number of combinations.
func (g Grid) Size() int {
	return len(g.NEstimators) * len(g.MaxDepth) * len(g.LearningRate) * len(g.Subsample) * len(g.ColsampleByTree)
}

// Validate checks that every axis is non-empty and every combination is valid.
func (g Grid) Validate() error {
	axes := []struct {
		name string
		n    int
	}{
		{"n_estimators", len(g.NEstimators)},
		{"max_depth", len(g.MaxDepth)},
		{"learning_rate", len(g.LearningRate)},
		{"subsample", len(g.Subsample)},
		{"colsample_bytree", len(g.ColsampleByTree)},
	}
	for _, a := range axes {
		if a.n == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyGrid, a.name)
		}
	}
	for _, p := range g.Combinations(gbt.DefaultParams()) {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Combinations enumerates the grid in its defined order: axes nest in field
// order with the last axis varying fastest. Fields the grid does not cover,
// such as the seed, come from base.
func (g Grid) Combinations(base gbt.Params) []gbt.Params {
	out := make([]gbt.Params, 0, g.Size())
	for _, n := range g.NEstimators {
		for _, d := range g.MaxDepth {
			for _, lr := range g.LearningRate {
				for _, ss := range g.Subsample {
					for _, cs := range g.ColsampleByTree {
						p := base
						p.NEstimators = n
						p.MaxDepth = d
						p.LearningRate = lr
						p.Subsample = ss
						p.ColsampleByTree = cs
						out = append(out, p)
					}
				}
			}
		}
	}
	return out
}
