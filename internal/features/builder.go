package features

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fractal-lba/salesforecast/internal/table"
)

// RollingWindow is the number of prior weeks summarized by the rolling features.
const RollingWindow = 4

// Builder turns the combined table into a feature table.
type Builder struct {
	// categories pins the store-type set (reference first). Empty means discover by scan.
	categories []string
}

// NewBuilder creates a builder. When categories is empty the store types are
// discovered from the data and sorted, the first becoming the reference category.
func NewBuilder(categories []string) *Builder {
	return &Builder{categories: append([]string(nil), categories...)}
}

// Build derives the feature table. The input is not modified.
//
// Steps, in order: sort by (Store, Dept, Date); temporal fields; per-series
// lag/rolling features over strictly prior weeks; drop-first one-hot of Type;
// IsHoliday as 0/1. Date is not a feature column.
func (b *Builder) Build(records []table.SalesRecord) (*Table, error) {
	if len(records) == 0 {
		return nil, table.ErrEmpty
	}
	if err := table.CheckUnique(records); err != nil {
		return nil, err
	}

	sorted := table.SortSales(records)

	categories, err := b.scanCategories(sorted)
	if err != nil {
		return nil, err
	}
	catIndex := make(map[string]int, len(categories))
	for i, c := range categories {
		catIndex[c] = i
	}

	out := &Table{
		Records:    make([]Record, len(sorted)),
		Categories: categories,
	}

	for i := range sorted {
		src := &sorted[i]
		rec := &out.Records[i]

		rec.Store = src.Store
		rec.Dept = src.Dept
		rec.Date = src.Date
		rec.WeeklySales = src.WeeklySales
		rec.Size = src.Size
		rec.Temperature = src.Temperature
		rec.FuelPrice = src.FuelPrice
		rec.MarkDowns = src.MarkDowns
		rec.CPI = src.CPI
		rec.Unemployment = src.Unemployment

		rec.Year = src.Date.Year()
		rec.Month = int(src.Date.Month())
		_, rec.WeekOfYear = src.Date.ISOWeek()
		rec.DayOfWeek = (int(src.Date.Weekday()) + 6) % 7 // Monday=0

		if src.IsHoliday {
			rec.IsHoliday = 1
		}

		rec.TypeIndicators = make([]float64, len(categories)-min(1, len(categories)))
		if idx := catIndex[src.Type]; idx > 0 {
			rec.TypeIndicators[idx-1] = 1
		}
	}

	deriveLagFeatures(out.Records)
	return out, nil
}

// scanCategories returns the category list, reference first.
func (b *Builder) scanCategories(records []table.SalesRecord) ([]string, error) {
	if len(b.categories) > 0 {
		known := make(map[string]bool, len(b.categories))
		for _, c := range b.categories {
			known[c] = true
		}
		for i := range records {
			if !known[records[i].Type] {
				return nil, fmt.Errorf("%w: %q (store %d, known %v)",
					ErrUnknownCategory, records[i].Type, records[i].Store, b.categories)
			}
		}
		return append([]string(nil), b.categories...), nil
	}

	seen := make(map[string]bool)
	var categories []string
	for i := range records {
		if !seen[records[i].Type] {
			seen[records[i].Type] = true
			categories = append(categories, records[i].Type)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

// deriveLagFeatures fills lag_1 and the rolling window features per series.
// records must already be sorted by (Store, Dept, Date); every value at row i
// reads only earlier rows of the same series. Insufficient history yields 0.
func deriveLagFeatures(records []Record) {
	start := 0
	for start < len(records) {
		end := start + 1
		for end < len(records) && records[end].Store == records[start].Store && records[end].Dept == records[start].Dept {
			end++
		}

		group := records[start:end]
		for p := range group {
			if p >= 1 {
				group[p].Lag1 = group[p-1].WeeklySales
			}
			if p >= RollingWindow {
				window := make([]float64, RollingWindow)
				for k := 0; k < RollingWindow; k++ {
					window[k] = group[p-RollingWindow+k].WeeklySales
				}
				group[p].RollingMean4, group[p].RollingStd4 = stat.MeanStdDev(window, nil)
			}
		}
		start = end
	}
}
