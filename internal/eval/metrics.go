package eval

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Compute computes all metrics for a prediction series. Inputs are not modified.
func Compute(actual, predicted []float64) (*Metrics, error) {
	if len(actual) != len(predicted) {
		return nil, fmt.Errorf("%w: %d actual, %d predicted", ErrLengthMismatch, len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return nil, ErrNoRows
	}

	m := &Metrics{N: len(actual)}

	m.RMSE = RMSE(actual, predicted)

	computeMAPE(actual, predicted, m)

	computeSMAPE(actual, predicted, m)

	computeResiduals(actual, predicted, m)

	return m, nil
}

// RMSE returns sqrt(mean((actual - predicted)^2)). The slices must have equal,
// non-zero length.
func RMSE(actual, predicted []float64) float64 {
	var sum float64
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// computeMAPE skips rows whose actual is zero.
func computeMAPE(actual, predicted []float64, m *Metrics) {
	var sum float64
	for i, a := range actual {
		if a == 0 {
			continue
		}
		sum += math.Abs((a - predicted[i]) / a)
		m.MAPERows++
	}
	if m.MAPERows > 0 {
		v := sum / float64(m.MAPERows) * 100
		m.MAPE = &v
	}
}

// computeSMAPE excludes rows whose denominator is zero from both the sum and the count.
func computeSMAPE(actual, predicted []float64, m *Metrics) {
	var sum float64
	for i, a := range actual {
		p := predicted[i]
		denom := (math.Abs(a) + math.Abs(p)) / 2
		if denom == 0 {
			continue
		}
		sum += math.Abs(p-a) / denom
		m.SMAPERows++
	}
	if m.SMAPERows > 0 {
		v := sum / float64(m.SMAPERows) * 100
		m.SMAPE = &v
	}
}

func computeResiduals(actual, predicted []float64, m *Metrics) {
	resid := make([]float64, len(actual))
	for i := range actual {
		resid[i] = actual[i] - predicted[i]
	}
	m.ResidualMean = stat.Mean(resid, nil)
	m.ResidualStd = stat.PopStdDev(resid, nil)
}
