package baseline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fractal-lba/salesforecast/internal/table"
)

func series(store, dept int, sales ...float64) []table.SalesRecord {
	start := time.Date(2011, 3, 4, 0, 0, 0, 0, time.UTC)
	out := make([]table.SalesRecord, len(sales))
	for i, s := range sales {
		out[i] = table.SalesRecord{Store: store, Dept: dept, Date: start.AddDate(0, 0, 7*i), WeeklySales: s, Type: "A"}
	}
	return out
}

func TestLastWeek_SingleSeries(t *testing.T) {
	res, err := LastWeek(series(1, 1, 100, 110, 105))
	if err != nil {
		t.Fatalf("LastWeek failed: %v", err)
	}

	wantPred := []float64{100, 110}
	if len(res.Predicted) != 2 || res.Predicted[0] != wantPred[0] || res.Predicted[1] != wantPred[1] {
		t.Errorf("predicted = %v, want %v", res.Predicted, wantPred)
	}
	if res.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", res.Excluded)
	}

	want := math.Sqrt((100.0 + 25.0) / 2)
	if math.Abs(res.Metrics.RMSE-want) > 1e-12 {
		t.Errorf("RMSE = %v, want %v", res.Metrics.RMSE, want)
	}
}

func TestLastWeek_SeriesDoNotLeak(t *testing.T) {
	records := append(series(2, 5, 7, 7, 7), series(1, 3, 50, 60)...)
	// Reverse so the input is unsorted.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	res, err := LastWeek(records)
	if err != nil {
		t.Fatalf("LastWeek failed: %v", err)
	}
	if res.Excluded != 2 || len(res.Actual) != 3 {
		t.Fatalf("excluded %d, scored %d; want 2 and 3", res.Excluded, len(res.Actual))
	}
	// Store 1 sorts first: 60 predicted by 50, then store 2 is exact.
	if res.Keys[0] != (table.SeriesKey{Store: 1, Dept: 3}) || res.Predicted[0] != 50 {
		t.Errorf("first scored row = %v predicted %v", res.Keys[0], res.Predicted[0])
	}
	want := math.Sqrt(100.0 / 3)
	if got, _ := RMSE(records); math.Abs(got-want) > 1e-12 {
		t.Errorf("RMSE = %v, want %v", got, want)
	}
}

func TestLastWeek_Errors(t *testing.T) {
	if _, err := LastWeek(nil); !errors.Is(err, table.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	records := append(series(1, 1, 10), series(1, 2, 20)...)
	if _, err := LastWeek(records); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory, got %v", err)
	}
}

func TestLastWeek_DuplicateWeek(t *testing.T) {
	records := series(1, 1, 10, 20, 30)
	records = append(records, records[1])
	records[3].WeeklySales = 25

	if _, err := LastWeek(records); !errors.Is(err, table.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if _, err := RMSE(records); !errors.Is(err, table.ErrDuplicateKey) {
		t.Errorf("RMSE: expected ErrDuplicateKey, got %v", err)
	}
}
