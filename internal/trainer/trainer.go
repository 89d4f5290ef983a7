// Package trainer fits a single boosted-tree model on the time-ordered split
// of a feature table.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fractal-lba/salesforecast/internal/eval"
	"github.com/fractal-lba/salesforecast/internal/features"
	"github.com/fractal-lba/salesforecast/internal/gbt"
)

// ErrEmptySplit is returned when the training or validation slice has no rows.
var ErrEmptySplit = errors.New("empty train or validation split")

// Dataset is the prepared train/validation split of one feature table.
type Dataset struct {
	Columns    []string // Feature columns, in matrix order
	Categories []string // Store types, reference first

	XTrain [][]float64
	YTrain []float64
	XValid [][]float64
	YValid []float64

	Cutoff      int // First validation row
	NumRows     int
	DatasetHash string
	GeneratedAt time.Time
}

// Result is the outcome of one fit.
type Result struct {
	Model    *gbt.Model
	Params   gbt.Params
	RMSE     float64 // Validation RMSE
	Duration time.Duration
}

// Split prepares the time-ordered split: the first SplitIndex(n) rows of the
// table, in its Store/Dept/Date order, train and the rest validate.
func Split(tbl *features.Table) (*Dataset, error) {
	n := tbl.Len()
	cut := features.SplitIndex(n)
	if cut == 0 || cut == n {
		return nil, fmt.Errorf("%w: %d rows give cutoff %d", ErrEmptySplit, n, cut)
	}

	columns := tbl.Columns()
	x, err := tbl.Matrix(columns, 0, n)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble feature matrix: %w", err)
	}
	y := tbl.Targets()

	return &Dataset{
		Columns:     columns,
		Categories:  append([]string(nil), tbl.Categories...),
		XTrain:      x[:cut],
		YTrain:      y[:cut],
		XValid:      x[cut:],
		YValid:      y[cut:],
		Cutoff:      cut,
		NumRows:     n,
		DatasetHash: tbl.Hash(),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// Fit trains one model on ds and scores it on the validation slice. A fit
// failure is returned as is; there are no retries.
func Fit(ctx context.Context, ds *Dataset, params gbt.Params) (*Result, error) {
	start := time.Now()

	model, err := gbt.Fit(ctx, ds.XTrain, ds.YTrain, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}

	pred, err := model.Predict(ds.XValid)
	if err != nil {
		return nil, fmt.Errorf("failed to predict validation slice: %w", err)
	}

	rmse := eval.RMSE(ds.YValid, pred)
	if math.IsNaN(rmse) || math.IsInf(rmse, 0) {
		return nil, fmt.Errorf("%w: validation RMSE is %v", gbt.ErrNonFinite, rmse)
	}

	return &Result{
		Model:    model,
		Params:   params,
		RMSE:     rmse,
		Duration: time.Since(start),
	}, nil
}

// Train splits the table and fits a single model with params.
func Train(ctx context.Context, tbl *features.Table, params gbt.Params) (*Dataset, *Result, error) {
	ds, err := Split(tbl)
	if err != nil {
		return nil, nil, err
	}
	res, err := Fit(ctx, ds, params)
	if err != nil {
		return nil, nil, err
	}
	return ds, res, nil
}
