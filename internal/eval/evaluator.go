package eval

import (
	"fmt"

	"github.com/fractal-lba/salesforecast/internal/features"
	"github.com/fractal-lba/salesforecast/internal/table"
)

// Predictor produces one prediction per feature row.
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// EvaluateModel scores a model on the validation slice of a feature table.
// columns is the model's feature column list, in training order.
func EvaluateModel(tbl *features.Table, model Predictor, columns []string) (*Metrics, error) {
	n := tbl.Len()
	cut := features.SplitIndex(n)
	if cut >= n {
		return nil, fmt.Errorf("%w: validation slice of %d rows is empty", ErrNoRows, n)
	}

	x, err := tbl.Matrix(columns, cut, n)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble validation matrix: %w", err)
	}
	pred, err := model.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("failed to predict validation slice: %w", err)
	}
	return Compute(tbl.Targets()[cut:], pred)
}

// EvaluateForecast scores a persisted forecast table on the same validation
// slice, after sorting it by (Store, Dept, Date).
func EvaluateForecast(records []table.ForecastRecord) (*Metrics, error) {
	sorted := table.SortForecasts(records)
	n := len(sorted)
	cut := features.SplitIndex(n)
	if cut >= n {
		return nil, fmt.Errorf("%w: validation slice of %d rows is empty", ErrNoRows, n)
	}

	actual := make([]float64, 0, n-cut)
	pred := make([]float64, 0, n-cut)
	for _, r := range sorted[cut:] {
		actual = append(actual, r.WeeklySales)
		pred = append(pred, r.Prediction)
	}
	return Compute(actual, pred)
}
