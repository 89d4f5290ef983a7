package table

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrSchema is returned when a source file is missing a required column or a value cannot be parsed.
	ErrSchema = errors.New("schema mismatch")
	// ErrDuplicateKey is returned when (Store, Dept, Date) is not unique.
	ErrDuplicateKey = errors.New("duplicate (Store, Dept, Date) key")
	// ErrEmpty is returned when a table has no rows.
	ErrEmpty = errors.New("empty table")
)

// NumMarkDowns is the number of MarkDown discount fields per record.
const NumMarkDowns = 5

// DateLayout is the on-disk date format of every table.
const DateLayout = "2006-01-02"

// SeriesKey identifies one weekly series.
type SeriesKey struct {
	Store int `json:"store" yaml:"store"`
	Dept  int `json:"dept" yaml:"dept"`
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("store=%d dept=%d", k.Store, k.Dept)
}

// SalesRecord is one row of the combined table: one store-department-week.
type SalesRecord struct {
	Store       int
	Dept        int
	Date        time.Time
	WeeklySales float64

	IsHoliday    bool
	Type         string
	Size         float64
	Temperature  float64
	FuelPrice    float64
	MarkDowns    [NumMarkDowns]float64
	CPI          float64
	Unemployment float64
}

// Key returns the series the record belongs to.
func (r *SalesRecord) Key() SeriesKey {
	return SeriesKey{Store: r.Store, Dept: r.Dept}
}

// ForecastRecord joins the actual and predicted sales of one store-department-week.
type ForecastRecord struct {
	Store       int
	Dept        int
	Date        time.Time
	WeeklySales float64
	Prediction  float64
}

// Key returns the series the record belongs to.
func (r *ForecastRecord) Key() SeriesKey {
	return SeriesKey{Store: r.Store, Dept: r.Dept}
}

// lessKey orders by Store, Dept, Date ascending.
func lessKey(s1, d1 int, t1 time.Time, s2, d2 int, t2 time.Time) bool {
	if s1 != s2 {
		return s1 < s2
	}
	if d1 != d2 {
		return d1 < d2
	}
	return t1.Before(t2)
}

// SortSales returns a copy of records sorted by (Store, Dept, Date) ascending.
// The input slice is left untouched.
func SortSales(records []SalesRecord) []SalesRecord {
	out := make([]SalesRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		return lessKey(a.Store, a.Dept, a.Date, b.Store, b.Dept, b.Date)
	})
	return out
}

// SortForecasts returns a copy of records sorted by (Store, Dept, Date) ascending.
func SortForecasts(records []ForecastRecord) []ForecastRecord {
	out := make([]ForecastRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		return lessKey(a.Store, a.Dept, a.Date, b.Store, b.Dept, b.Date)
	})
	return out
}

// CheckUnique verifies that (Store, Dept, Date) is unique across records.
func CheckUnique(records []SalesRecord) error {
	type key struct {
		store, dept int
		date        string
	}
	seen := make(map[key]struct{}, len(records))
	for i := range records {
		r := &records[i]
		k := key{r.Store, r.Dept, r.Date.Format(DateLayout)}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: store=%d dept=%d date=%s", ErrDuplicateKey, r.Store, r.Dept, k.date)
		}
		seen[k] = struct{}{}
	}
	return nil
}
