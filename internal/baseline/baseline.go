// Package baseline scores the naive last-week forecast that any trained model
// has to beat.
package baseline

import (
	"errors"
	"fmt"

	"github.com/fractal-lba/salesforecast/internal/eval"
	"github.com/fractal-lba/salesforecast/internal/table"
)

// ErrNoHistory is returned when no series has a prior week to predict from.
var ErrNoHistory = errors.New("no series has a prior week")

// Method is the report label of the last-week baseline.
const Method = "last_week"

// Result holds the baseline predictions and their score.
type Result struct {
	Keys      []table.SeriesKey
	Actual    []float64
	Predicted []float64 // Previous record's Weekly_Sales within the series
	Excluded  int       // First week of each series
	Metrics   *eval.Metrics
}

// LastWeek predicts every week's sales with the previous record of the same
// (Store, Dept) series, in date order. The first record of each series has
// no prediction and is excluded from scoring.
func LastWeek(records []table.SalesRecord) (*Result, error) {
	if len(records) == 0 {
		return nil, table.ErrEmpty
	}
	if err := table.CheckUnique(records); err != nil {
		return nil, err
	}
	sorted := table.SortSales(records)

	res := &Result{}
	for i := range sorted {
		r := &sorted[i]
		if i == 0 || sorted[i-1].Key() != r.Key() {
			res.Excluded++
			continue
		}
		res.Keys = append(res.Keys, r.Key())
		res.Actual = append(res.Actual, r.WeeklySales)
		res.Predicted = append(res.Predicted, sorted[i-1].WeeklySales)
	}
	if len(res.Actual) == 0 {
		return nil, fmt.Errorf("%w: %d series of one week each", ErrNoHistory, res.Excluded)
	}

	m, err := eval.Compute(res.Actual, res.Predicted)
	if err != nil {
		return nil, fmt.Errorf("failed to score baseline: %w", err)
	}
	res.Metrics = m
	return res, nil
}

// RMSE returns the RMSE of the last-week baseline over records.
func RMSE(records []table.SalesRecord) (float64, error) {
	res, err := LastWeek(records)
	if err != nil {
		return 0, err
	}
	return res.Metrics.RMSE, nil
}
