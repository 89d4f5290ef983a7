package features

// TrainFraction is the share of rows, in table order, used for training.
const TrainFraction = 0.8

// SplitIndex returns the row cutoff of the time-ordered split: rows [0, cut)
// train, rows [cut, n) validate. The cutoff is a row index over the whole
// Store/Dept/Date-sorted table, not a per-series split.
func SplitIndex(n int) int {
	return int(float64(n) * TrainFraction)
}
