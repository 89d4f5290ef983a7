package features

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fractal-lba/salesforecast/internal/table"
)

var (
	// ErrUnknownCategory is returned when Type holds a value outside the pinned category set.
	ErrUnknownCategory = errors.New("unknown store type category")
	// ErrColumnMismatch is returned when the requested feature columns differ from the ones the table carries.
	ErrColumnMismatch = errors.New("feature column mismatch")
)

// Derived column names.
const (
	ColYear         = "Year"
	ColMonth        = "Month"
	ColWeekOfYear   = "WeekOfYear"
	ColDayOfWeek    = "DayOfWeek"
	ColLag1         = "lag_1"
	ColRollingMean4 = "rolling_mean_4"
	ColRollingStd4  = "rolling_std_4"

	// TypePrefix prefixes every store-type indicator column.
	TypePrefix = "StoreType_"
)

// Record is a SalesRecord plus its derived fields, fully numeric.
// Date is kept only to build forecast rows; it is never a model feature.
type Record struct {
	Store       int
	Dept        int
	Date        time.Time
	WeeklySales float64

	IsHoliday    float64
	Size         float64
	Temperature  float64
	FuelPrice    float64
	MarkDowns    [table.NumMarkDowns]float64
	CPI          float64
	Unemployment float64

	Year       int
	Month      int
	WeekOfYear int
	DayOfWeek  int

	Lag1         float64
	RollingMean4 float64
	RollingStd4  float64

	// TypeIndicators is aligned with Table.IndicatorColumns.
	TypeIndicators []float64
}

// Table is the model-ready feature table.
type Table struct {
	Records []Record

	// Categories holds every store type seen, reference category first.
	Categories []string
}

// IndicatorColumns returns the one-hot column names, one per non-reference category.
func (t *Table) IndicatorColumns() []string {
	if len(t.Categories) < 2 {
		return nil
	}
	cols := make([]string, 0, len(t.Categories)-1)
	for _, c := range t.Categories[1:] {
		cols = append(cols, TypePrefix+c)
	}
	return cols
}

// BaseColumns is the fixed, ordered list of non-indicator model features.
func BaseColumns() []string {
	cols := []string{
		table.ColStore, table.ColDept, table.ColIsHoliday, table.ColSize,
		table.ColTemperature, table.ColFuelPrice,
	}
	for i := 0; i < table.NumMarkDowns; i++ {
		cols = append(cols, table.MarkDownColumn(i))
	}
	return append(cols,
		table.ColCPI, table.ColUnemployment,
		ColYear, ColMonth, ColWeekOfYear, ColDayOfWeek,
		ColLag1, ColRollingMean4, ColRollingStd4,
	)
}

// Columns returns the full feature column list the table produces, in model order.
func (t *Table) Columns() []string {
	return append(BaseColumns(), t.IndicatorColumns()...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Records)
}

// Targets returns Weekly_Sales for every row.
func (t *Table) Targets() []float64 {
	y := make([]float64, len(t.Records))
	for i := range t.Records {
		y[i] = t.Records[i].WeeklySales
	}
	return y
}

// value reads one named feature from a record; ok is false for unknown names.
func (t *Table) value(r *Record, col string, indicators map[string]int) (float64, bool) {
	switch col {
	case table.ColStore:
		return float64(r.Store), true
	case table.ColDept:
		return float64(r.Dept), true
	case table.ColIsHoliday:
		return r.IsHoliday, true
	case table.ColSize:
		return r.Size, true
	case table.ColTemperature:
		return r.Temperature, true
	case table.ColFuelPrice:
		return r.FuelPrice, true
	case table.ColCPI:
		return r.CPI, true
	case table.ColUnemployment:
		return r.Unemployment, true
	case ColYear:
		return float64(r.Year), true
	case ColMonth:
		return float64(r.Month), true
	case ColWeekOfYear:
		return float64(r.WeekOfYear), true
	case ColDayOfWeek:
		return float64(r.DayOfWeek), true
	case ColLag1:
		return r.Lag1, true
	case ColRollingMean4:
		return r.RollingMean4, true
	case ColRollingStd4:
		return r.RollingStd4, true
	}
	for i := 0; i < table.NumMarkDowns; i++ {
		if col == table.MarkDownColumn(i) {
			return r.MarkDowns[i], true
		}
	}
	if idx, ok := indicators[col]; ok {
		return r.TypeIndicators[idx], true
	}
	return 0, false
}

// Matrix assembles the row-major feature matrix for rows [from, to) using exactly
// the given columns. The columns must equal the table's own column set: a column
// the table lacks, or one it produces that is not requested, is ErrColumnMismatch.
func (t *Table) Matrix(columns []string, from, to int) ([][]float64, error) {
	if err := t.CheckColumns(columns); err != nil {
		return nil, err
	}
	if from < 0 || to > len(t.Records) || from > to {
		return nil, fmt.Errorf("row range [%d, %d) out of bounds for %d rows", from, to, len(t.Records))
	}

	indicators := make(map[string]int)
	for i, c := range t.IndicatorColumns() {
		indicators[c] = i
	}

	x := make([][]float64, 0, to-from)
	for i := from; i < to; i++ {
		r := &t.Records[i]
		row := make([]float64, len(columns))
		for j, col := range columns {
			v, _ := t.value(r, col, indicators)
			row[j] = v
		}
		x = append(x, row)
	}
	return x, nil
}

// CheckColumns compares the requested columns with the ones the table produces.
func (t *Table) CheckColumns(columns []string) error {
	have := t.Columns()
	haveSet := make(map[string]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	wantSet := make(map[string]bool, len(columns))
	var missing, extra []string
	for _, c := range columns {
		if wantSet[c] {
			return fmt.Errorf("%w: column %s requested twice", ErrColumnMismatch, c)
		}
		wantSet[c] = true
		if !haveSet[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range have {
		if !wantSet[c] {
			extra = append(extra, c)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return fmt.Errorf("%w: missing %v, unexpected %v", ErrColumnMismatch, missing, extra)
	}
	return nil
}

// Hash returns a SHA-256 over the feature values and targets, for artifact provenance.
func (t *Table) Hash() string {
	hasher := sha256.New()
	cols := t.Columns()
	fmt.Fprintf(hasher, "%s\n", strings.Join(cols, ","))
	x, _ := t.Matrix(cols, 0, t.Len())
	for i, row := range x {
		for _, v := range row {
			fmt.Fprintf(hasher, "%.9g,", v)
		}
		fmt.Fprintf(hasher, "%.9g\n", t.Records[i].WeeklySales)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
