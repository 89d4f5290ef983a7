package gbt

import (
	"errors"
	"fmt"
)

// ErrInvalidParams is returned by Fit when a hyperparameter is out of range.
var ErrInvalidParams = errors.New("invalid gbt params")

// Params are the boosting hyperparameters.
type Params struct {
	NEstimators     int     `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	Subsample       float64 `json:"subsample" yaml:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree" yaml:"colsample_bytree"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

// DefaultParams returns the fixed training defaults.
func DefaultParams() Params {
	return Params{
		NEstimators:     200,
		MaxDepth:        6,
		LearningRate:    0.1,
		Subsample:       1.0,
		ColsampleByTree: 1.0,
		Seed:            42,
	}
}

// Validate checks every field is in range.
func (p Params) Validate() error {
	switch {
	case p.NEstimators < 1:
		return fmt.Errorf("%w: n_estimators must be >= 1, got %d", ErrInvalidParams, p.NEstimators)
	case p.MaxDepth < 1:
		return fmt.Errorf("%w: max_depth must be >= 1, got %d", ErrInvalidParams, p.MaxDepth)
	case p.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be > 0, got %v", ErrInvalidParams, p.LearningRate)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("%w: subsample must be in (0, 1], got %v", ErrInvalidParams, p.Subsample)
	case p.ColsampleByTree <= 0 || p.ColsampleByTree > 1:
		return fmt.Errorf("%w: colsample_bytree must be in (0, 1], got %v", ErrInvalidParams, p.ColsampleByTree)
	}
	return nil
}

// String renders the params compactly for logs.
func (p Params) String() string {
	return fmt.Sprintf("n_estimators=%d max_depth=%d learning_rate=%g subsample=%g colsample_bytree=%g",
		p.NEstimators, p.MaxDepth, p.LearningRate, p.Subsample, p.ColsampleByTree)
}
