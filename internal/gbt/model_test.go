package gbt

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
)

// synthetic returns a step function of x0 plus a linear term in x1 and a noise column.
func synthetic(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x0 := rng.Float64() * 10
		x1 := rng.Float64()
		x[i] = []float64{x0, x1, rng.NormFloat64()}
		y[i] = 3 * x1
		if x0 > 5 {
			y[i] += 20
		}
	}
	return x, y
}

func rmse(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(a)))
}

func TestFit_LearnsSignal(t *testing.T) {
	x, y := synthetic(500, 1)
	params := DefaultParams()
	params.NEstimators = 50
	params.MaxDepth = 3

	m, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if len(m.Trees) != 50 {
		t.Errorf("got %d trees, want 50", len(m.Trees))
	}

	pred, err := m.Predict(x)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	mean := make([]float64, len(y))
	for i := range mean {
		mean[i] = m.BaseScore
	}
	if got, base := rmse(y, pred), rmse(y, mean); got > base/5 {
		t.Errorf("training RMSE %v should be well below the constant model's %v", got, base)
	}
}

func TestFit_Deterministic(t *testing.T) {
	x, y := synthetic(300, 2)
	params := Params{NEstimators: 20, MaxDepth: 4, LearningRate: 0.1, Subsample: 0.8, ColsampleByTree: 0.67, Seed: 42}

	m1, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatal(err)
	}

	b1, _ := json.Marshal(m1)
	b2, _ := json.Marshal(m2)
	if string(b1) != string(b2) {
		t.Error("two fits with the same seed should produce identical models")
	}
}

func TestFit_ConstantTarget(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	y := []float64{7, 7, 7, 7}

	params := DefaultParams()
	params.NEstimators = 3
	m, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatal(err)
	}
	for i, tree := range m.Trees {
		if len(tree.Nodes) != 1 || !tree.Nodes[0].Leaf {
			t.Errorf("tree %d should be a single leaf, got %d nodes", i, len(tree.Nodes))
		}
	}
	if got := m.PredictRow([]float64{100}); got != 7 {
		t.Errorf("prediction = %v, want 7", got)
	}
}

func TestFit_SplitThreshold(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	y := []float64{0, 0, 10, 10}
	params := Params{NEstimators: 1, MaxDepth: 1, LearningRate: 1, Subsample: 1, ColsampleByTree: 1}

	m, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatal(err)
	}
	root := m.Trees[0].Nodes[0]
	if root.Leaf || root.Feature != 0 || root.Threshold != 3 {
		t.Fatalf("root = %+v, want split on feature 0 at 3", root)
	}
	// Leaf weight is -G/(H+lambda): left G = 2*(5-0) = 10, H = 2.
	if got, want := m.PredictRow([]float64{1.5}), 5-10.0/3; math.Abs(got-want) > 1e-12 {
		t.Errorf("left prediction = %v, want %v", got, want)
	}
	if got, want := m.PredictRow([]float64{3}), 5+10.0/3; math.Abs(got-want) > 1e-12 {
		t.Errorf("right prediction = %v, want %v", got, want)
	}
}

func TestFit_Errors(t *testing.T) {
	ctx := context.Background()
	ok := DefaultParams()

	tests := []struct {
		name   string
		x      [][]float64
		y      []float64
		params Params
		want   error
	}{
		{"empty", nil, nil, ok, ErrEmptyInput},
		{"target length", [][]float64{{1}, {2}}, []float64{1}, ok, ErrShape},
		{"ragged", [][]float64{{1, 2}, {2}}, []float64{1, 2}, ok, ErrShape},
		{"nan", [][]float64{{math.NaN()}}, []float64{1}, ok, ErrNonFinite},
		{"zero estimators", [][]float64{{1}}, []float64{1}, Params{MaxDepth: 1, LearningRate: 0.1, Subsample: 1, ColsampleByTree: 1}, ErrInvalidParams},
		{"subsample", [][]float64{{1}}, []float64{1}, Params{NEstimators: 1, MaxDepth: 1, LearningRate: 0.1, Subsample: 1.5, ColsampleByTree: 1}, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(ctx, tt.x, tt.y, tt.params)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFit_Cancelled(t *testing.T) {
	x, y := synthetic(50, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Fit(ctx, x, y, DefaultParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestModel_JSONRoundTrip(t *testing.T) {
	x, y := synthetic(200, 4)
	params := DefaultParams()
	params.NEstimators = 10

	m, err := Fit(context.Background(), x, y, params)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back Model
	if err := json.Unmarshal(blob, &back); err != nil {
		t.Fatal(err)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("decoded model invalid: %v", err)
	}

	p1, _ := m.Predict(x)
	p2, _ := back.Predict(x)
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("row %d: prediction %v after round trip, want %v", i, p2[i], p1[i])
		}
	}

	if _, err := back.Predict([][]float64{{1, 2}}); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for narrow row, got %v", err)
	}
}

func TestCutPoints(t *testing.T) {
	if cuts := cutPoints([]float64{1, 1, 1}); len(cuts) != 0 {
		t.Errorf("constant column cuts = %v, want none", cuts)
	}

	cuts := cutPoints([]float64{1, 2, 2, 5})
	if len(cuts) != 2 || cuts[0] != 2 || cuts[1] != 5 {
		t.Errorf("cuts = %v, want [2 5]", cuts)
	}

	wide := make([]float64, 10000)
	for i := range wide {
		wide[i] = float64(i)
	}
	cuts = cutPoints(wide)
	if len(cuts) > MaxBins-1 {
		t.Errorf("got %d cuts, limit is %d", len(cuts), MaxBins-1)
	}
	for i := 1; i < len(cuts); i++ {
		if cuts[i] <= cuts[i-1] {
			t.Fatalf("cuts not strictly ascending at %d", i)
		}
	}
}
