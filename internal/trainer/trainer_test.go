package trainer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fractal-lba/salesforecast/internal/eval"
	"github.com/fractal-lba/salesforecast/internal/features"
	"github.com/fractal-lba/salesforecast/internal/gbt"
	"github.com/fractal-lba/salesforecast/internal/table"
)

// buildTable makes a feature table of stores x depts x weeks with a seasonal pattern.
func buildTable(t *testing.T, stores, depts, weeks int) *features.Table {
	t.Helper()
	var records []table.SalesRecord
	start := time.Date(2010, 2, 5, 0, 0, 0, 0, time.UTC)
	for s := 1; s <= stores; s++ {
		for d := 1; d <= depts; d++ {
			for w := 0; w < weeks; w++ {
				records = append(records, table.SalesRecord{
					Store:       s,
					Dept:        d,
					Date:        start.AddDate(0, 0, 7*w),
					WeeklySales: float64(1000*s+100*d) + 50*math.Sin(float64(w)/4),
					IsHoliday:   w%13 == 0,
					Type:        []string{"A", "B", "C"}[s%3],
					Size:        float64(10000 * s),
					Temperature: 40 + float64(w%20),
					FuelPrice:   2.5,
					CPI:         210,
				})
			}
		}
	}
	tbl, err := features.NewBuilder(nil).Build(records)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return tbl
}

func TestSplit(t *testing.T) {
	tbl := buildTable(t, 3, 2, 10) // 60 rows

	ds, err := Split(tbl)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if ds.Cutoff != 48 || len(ds.XTrain) != 48 || len(ds.XValid) != 12 {
		t.Errorf("split = %d/%d at %d, want 48/12 at 48", len(ds.XTrain), len(ds.XValid), ds.Cutoff)
	}
	// Validation is the tail of the sorted table, not a per-series split.
	if ds.YValid[0] != tbl.Records[48].WeeklySales {
		t.Errorf("first validation target = %v, want row 48's %v", ds.YValid[0], tbl.Records[48].WeeklySales)
	}
	if len(ds.Columns) != len(features.BaseColumns())+2 {
		t.Errorf("columns = %v", ds.Columns)
	}
	if ds.DatasetHash == "" {
		t.Error("dataset hash should be set")
	}
}

func TestSplit_Empty(t *testing.T) {
	tbl := buildTable(t, 1, 1, 1)
	if _, err := Split(tbl); !errors.Is(err, ErrEmptySplit) {
		t.Errorf("expected ErrEmptySplit, got %v", err)
	}
}

func TestTrain(t *testing.T) {
	tbl := buildTable(t, 3, 2, 20)
	params := gbt.DefaultParams()
	params.NEstimators = 30

	ds, res, err := Train(context.Background(), tbl, params)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(res.Model.Trees) != 30 {
		t.Errorf("got %d trees, want 30", len(res.Model.Trees))
	}
	if res.Params != params {
		t.Errorf("params = %+v, want %+v", res.Params, params)
	}

	pred, err := res.Model.Predict(ds.XValid)
	if err != nil {
		t.Fatal(err)
	}
	if want := eval.RMSE(ds.YValid, pred); res.RMSE != want {
		t.Errorf("RMSE = %v, want %v", res.RMSE, want)
	}

	_, again, err := Train(context.Background(), tbl, params)
	if err != nil {
		t.Fatal(err)
	}
	if again.RMSE != res.RMSE {
		t.Errorf("retraining gave RMSE %v, want identical %v", again.RMSE, res.RMSE)
	}
}

func TestFit_InvalidParams(t *testing.T) {
	ds, err := Split(buildTable(t, 1, 1, 10))
	if err != nil {
		t.Fatal(err)
	}
	params := gbt.DefaultParams()
	params.MaxDepth = 0
	if _, err := Fit(context.Background(), ds, params); !errors.Is(err, gbt.ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestFit_NonFiniteValidation(t *testing.T) {
	ds, err := Split(buildTable(t, 1, 1, 10))
	if err != nil {
		t.Fatal(err)
	}
	ds.YValid[len(ds.YValid)-1] = math.NaN()

	params := gbt.DefaultParams()
	params.NEstimators = 5
	if _, err := Fit(context.Background(), ds, params); !errors.Is(err, gbt.ErrNonFinite) {
		t.Errorf("expected ErrNonFinite, got %v", err)
	}
}
