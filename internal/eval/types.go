package eval

import (
	"errors"
	"strconv"
)

var (
	// ErrLengthMismatch is returned when actual and predicted series differ in length.
	ErrLengthMismatch = errors.New("actual and predicted length mismatch")
	// ErrNoRows is returned when there is nothing to score.
	ErrNoRows = errors.New("no rows to evaluate")
)

// Metrics contains the accuracy metrics of one prediction series.
type Metrics struct {
	N int `json:"n"` // Rows scored

	RMSE float64 `json:"rmse"` // sqrt(mean((actual - predicted)^2))

	// MAPE is a percentage over rows with actual != 0; nil when no row qualifies.
	MAPE     *float64 `json:"mape"`
	MAPERows int      `json:"mape_rows"`

	// SMAPE is a percentage over rows with (|actual|+|predicted|)/2 != 0; nil when no row qualifies.
	SMAPE     *float64 `json:"smape"`
	SMAPERows int      `json:"smape_rows"`

	ResidualMean float64 `json:"residual_mean"` // mean(actual - predicted)
	ResidualStd  float64 `json:"residual_std"`  // population std of (actual - predicted)
}

// FormatPercent renders an optional percentage, "undefined" when absent.
func FormatPercent(v *float64) string {
	if v == nil {
		return "undefined"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64) + "%"
}
