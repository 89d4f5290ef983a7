package features

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fractal-lba/salesforecast/internal/table"
)

func week(i int) time.Time {
	return time.Date(2010, 2, 5, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*i)
}

// series builds one (store, dept) group of weekly records with the given sales.
func series(store, dept int, storeType string, sales ...float64) []table.SalesRecord {
	out := make([]table.SalesRecord, len(sales))
	for i, s := range sales {
		out[i] = table.SalesRecord{
			Store: store, Dept: dept, Date: week(i), WeeklySales: s,
			Type: storeType, Size: 1000, Temperature: 50, FuelPrice: 3, CPI: 200, Unemployment: 8,
		}
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuild_HandComputedLagRolling(t *testing.T) {
	records := append(series(1, 1, "A", 10, 20, 30, 40, 50, 60), series(2, 5, "B", 6, 5, 4, 3, 2, 1)...)
	// Shuffle the input order; Build must sort.
	records[0], records[11] = records[11], records[0]

	tbl, err := NewBuilder(nil).Build(records)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tbl.Len() != 12 {
		t.Fatalf("got %d rows, want 12", tbl.Len())
	}

	g1 := tbl.Records[0:6]
	g2 := tbl.Records[6:12]

	tests := []struct {
		name             string
		rec              Record
		lag, mean, stdev float64
	}{
		{"g1 row5", g1[4], 40, 25, math.Sqrt(500.0 / 3)},
		{"g1 row6", g1[5], 50, 35, math.Sqrt(500.0 / 3)},
		{"g2 row5", g2[4], 3, 4.5, math.Sqrt(5.0 / 3)},
		{"g2 row6", g2[5], 2, 3.5, math.Sqrt(5.0 / 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !approx(tt.rec.Lag1, tt.lag) {
				t.Errorf("lag_1 = %v, want %v", tt.rec.Lag1, tt.lag)
			}
			if !approx(tt.rec.RollingMean4, tt.mean) {
				t.Errorf("rolling_mean_4 = %v, want %v", tt.rec.RollingMean4, tt.mean)
			}
			if !approx(tt.rec.RollingStd4, tt.stdev) {
				t.Errorf("rolling_std_4 = %v, want %v", tt.rec.RollingStd4, tt.stdev)
			}
		})
	}

	// First row of each group has no history; first four have no full window.
	for _, g := range [][]Record{g1, g2} {
		if g[0].Lag1 != 0 {
			t.Errorf("first row lag_1 = %v, want 0", g[0].Lag1)
		}
		for p := 0; p < RollingWindow; p++ {
			if g[p].RollingMean4 != 0 || g[p].RollingStd4 != 0 {
				t.Errorf("row %d rolling = (%v, %v), want zeros", p, g[p].RollingMean4, g[p].RollingStd4)
			}
		}
	}
}

func TestBuild_LagEqualsPreviousWeek(t *testing.T) {
	records := append(series(1, 1, "A", 5, 7, 9, 11), series(1, 2, "A", 100, 200)...)
	tbl, err := NewBuilder(nil).Build(records)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for i, r := range tbl.Records {
		var want float64
		if i > 0 && tbl.Records[i-1].Store == r.Store && tbl.Records[i-1].Dept == r.Dept {
			want = tbl.Records[i-1].WeeklySales
		}
		if r.Lag1 != want {
			t.Errorf("row %d lag_1 = %v, want %v", i, r.Lag1, want)
		}
	}
}

func TestBuild_RollingExcludesCurrentWeek(t *testing.T) {
	a := series(1, 1, "A", 1, 2, 3, 4, 5, 6)
	b := series(1, 1, "A", 1, 2, 3, 4, 999, 6)

	ta, err := NewBuilder(nil).Build(a)
	if err != nil {
		t.Fatal(err)
	}
	tb, err := NewBuilder(nil).Build(b)
	if err != nil {
		t.Fatal(err)
	}

	ra, rb := ta.Records[4], tb.Records[4]
	if ra.RollingMean4 != rb.RollingMean4 || ra.RollingStd4 != rb.RollingStd4 || ra.Lag1 != rb.Lag1 {
		t.Errorf("changing week 5 changed its own lag/rolling features: %+v vs %+v", ra, rb)
	}
}

func TestBuild_TemporalFields(t *testing.T) {
	records := series(1, 1, "A", 1)
	records[0].Date = time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC) // Friday, ISO week 52
	records[0].IsHoliday = true

	tbl, err := NewBuilder(nil).Build(records)
	if err != nil {
		t.Fatal(err)
	}
	r := tbl.Records[0]
	if r.Year != 2010 || r.Month != 12 || r.WeekOfYear != 52 || r.DayOfWeek != 4 {
		t.Errorf("temporal = (%d, %d, %d, %d), want (2010, 12, 52, 4)", r.Year, r.Month, r.WeekOfYear, r.DayOfWeek)
	}
	if r.IsHoliday != 1 {
		t.Errorf("IsHoliday = %v, want 1", r.IsHoliday)
	}
}

func TestBuild_DropFirstOneHot(t *testing.T) {
	records := append(series(1, 1, "C", 1, 2), series(2, 1, "A", 1, 2)...)
	records = append(records, series(3, 1, "B", 1, 2)...)

	tbl, err := NewBuilder(nil).Build(records)
	if err != nil {
		t.Fatal(err)
	}

	cols := tbl.IndicatorColumns()
	if len(cols) != 2 || cols[0] != "StoreType_B" || cols[1] != "StoreType_C" {
		t.Fatalf("indicator columns = %v, want [StoreType_B StoreType_C]", cols)
	}

	storeType := map[int]string{1: "C", 2: "A", 3: "B"}
	for _, r := range tbl.Records {
		sum := 0.0
		for _, v := range r.TypeIndicators {
			sum += v
		}
		if sum > 1 {
			t.Errorf("store %d indicator sum = %v", r.Store, sum)
		}
		if (sum == 0) != (storeType[r.Store] == "A") {
			t.Errorf("store %d (type %s) indicator sum = %v", r.Store, storeType[r.Store], sum)
		}
	}
}

func TestBuild_PinnedCategories(t *testing.T) {
	records := append(series(1, 1, "A", 1), series(2, 1, "Z", 1)...)

	_, err := NewBuilder([]string{"A", "B", "C"}).Build(records)
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}

	tbl, err := NewBuilder([]string{"A", "B", "C"}).Build(series(1, 1, "A", 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if got := tbl.IndicatorColumns(); len(got) != 2 {
		t.Errorf("pinned categories should always yield 2 indicators, got %v", got)
	}
}

func TestBuild_PrefixProducesSameFeatures(t *testing.T) {
	full := append(series(1, 1, "A", 3, 1, 4, 1, 5, 9, 2, 6), series(1, 2, "B", 2, 7, 1, 8, 2, 8)...)

	var prefix []table.SalesRecord
	for _, r := range full {
		if r.Date.Before(week(5)) {
			prefix = append(prefix, r)
		}
	}

	tf, err := NewBuilder(nil).Build(full)
	if err != nil {
		t.Fatal(err)
	}
	tp, err := NewBuilder(nil).Build(prefix)
	if err != nil {
		t.Fatal(err)
	}

	type key struct {
		store, dept int
		date        time.Time
	}
	byKey := make(map[key]Record)
	for _, r := range tf.Records {
		byKey[key{r.Store, r.Dept, r.Date}] = r
	}
	for _, r := range tp.Records {
		f := byKey[key{r.Store, r.Dept, r.Date}]
		if f.Lag1 != r.Lag1 || f.RollingMean4 != r.RollingMean4 || f.RollingStd4 != r.RollingStd4 {
			t.Errorf("store %d dept %d %s: prefix features differ from full-history features",
				r.Store, r.Dept, r.Date.Format(table.DateLayout))
		}
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := NewBuilder(nil).Build(nil); !errors.Is(err, table.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	dup := append(series(1, 1, "A", 1), series(1, 1, "A", 2)...)
	if _, err := NewBuilder(nil).Build(dup); !errors.Is(err, table.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestMatrix_ColumnMismatch(t *testing.T) {
	tbl, err := NewBuilder(nil).Build(series(1, 1, "A", 1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}

	trained := append(BaseColumns(), "StoreType_B", "StoreType_C")
	if _, err := tbl.Matrix(trained, 0, tbl.Len()); !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch for absent indicator columns, got %v", err)
	}

	x, err := tbl.Matrix(tbl.Columns(), 0, tbl.Len())
	if err != nil {
		t.Fatalf("Matrix failed: %v", err)
	}
	if len(x) != 3 || len(x[0]) != len(BaseColumns()) {
		t.Errorf("matrix shape = %dx%d", len(x), len(x[0]))
	}
	if x[2][len(x[2])-3] != 2 {
		t.Errorf("lag_1 of row 3 = %v, want 2", x[2][len(x[2])-3])
	}
}

func TestFeatureCSVRoundTrip(t *testing.T) {
	records := append(series(1, 1, "A", 10, 20, 30, 40, 50), series(2, 3, "B", 1, 2)...)
	tbl, err := NewBuilder(nil).Build(records)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "features.csv")
	if err := tbl.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	back, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if got, want := back.Columns(), tbl.Columns(); len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	x1, _ := tbl.Matrix(tbl.Columns(), 0, tbl.Len())
	x2, err := back.Matrix(tbl.Columns(), 0, back.Len())
	if err != nil {
		t.Fatalf("Matrix on reloaded table failed: %v", err)
	}
	for i := range x1 {
		for j := range x1[i] {
			if !approx(x1[i][j], x2[i][j]) {
				t.Errorf("cell (%d, %d) = %v, want %v", i, j, x2[i][j], x1[i][j])
			}
		}
	}
	if tbl.Hash() != back.Hash() {
		t.Error("hash should survive a CSV round trip")
	}
	if len(back.Categories) != 2 || back.Categories[0] != "A" || back.Categories[1] != "B" {
		t.Errorf("categories = %v, want [A B]", back.Categories)
	}
}

func TestDecode_WithoutStoreTypes(t *testing.T) {
	tbl, err := NewBuilder(nil).Build(append(series(1, 1, "A", 10, 20), series(2, 1, "B", 5, 6)...))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "features.csv")
	if err := tbl.Write(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_, body, _ := strings.Cut(string(data), "\n")

	back, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(back.Categories) != 2 || back.Categories[0] != "" || back.Categories[1] != "B" {
		t.Errorf("categories = %v, want [\"\" B]", back.Categories)
	}

	_, err = Decode(strings.NewReader("# store_types:A,C\n" + body))
	if !errors.Is(err, table.ErrSchema) {
		t.Errorf("expected ErrSchema for store_types that disagree with the columns, got %v", err)
	}
}

func TestDecode_NonFinite(t *testing.T) {
	tbl, err := NewBuilder(nil).Build(series(1, 1, "A", 10, 20))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "features.csv")
	if err := tbl.Write(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Weekly_Sales is the third column.
	lines := strings.Split(string(data), "\n")
	cells := strings.Split(lines[3], ",")
	cells[2] = "NaN"
	lines[3] = strings.Join(cells, ",")

	_, err = Decode(strings.NewReader(strings.Join(lines, "\n")))
	if !errors.Is(err, table.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if !strings.Contains(err.Error(), table.ColWeeklySales) {
		t.Errorf("error should name %s: %v", table.ColWeeklySales, err)
	}
}
