package features

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fractal-lba/salesforecast/internal/table"
)

// fileColumns is the on-disk column order: identifiers, target, then the remaining features.
func (t *Table) fileColumns() []string {
	cols := t.Columns()
	out := make([]string, 0, len(cols)+1)
	out = append(out, cols[0], cols[1], table.ColWeeklySales)
	return append(out, cols[2:]...)
}

// storeTypesKey labels the comment line carrying the full category list,
// reference first, since drop-first encoding has no column for it.
const storeTypesKey = "store_types:"

// Write persists the feature table as CSV. Date is not written.
func (t *Table) Write(path string) error {
	cols := t.fileColumns()
	indicators := make(map[string]int)
	for i, c := range t.IndicatorColumns() {
		indicators[c] = i
	}
	comment := ""
	if len(t.Categories) > 0 {
		comment = storeTypesKey + strings.Join(t.Categories, ",")
	}
	return table.WriteCSVWithComment(path, comment, cols, len(t.Records), func(i int) []string {
		r := &t.Records[i]
		row := make([]string, len(cols))
		for j, col := range cols {
			if col == table.ColWeeklySales {
				row[j] = table.FormatFloat(r.WeeklySales)
				continue
			}
			v, _ := t.value(r, col, indicators)
			row[j] = table.FormatFloat(v)
		}
		return row
	})
}

// Read loads a feature table written by Write. Files without a store_types
// line leave Categories[0] empty.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a feature table from r.
func Decode(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	stored, err := readStoreTypes(br)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(br)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", table.ErrSchema, err)
	}
	required := append(BaseColumns(), table.ColWeeklySales)
	h, err := table.ParseHeader(header, required)
	if err != nil {
		return nil, err
	}

	t := &Table{Categories: []string{""}}
	var indicatorIdx []int
	for i, name := range header {
		if strings.HasPrefix(name, TypePrefix) {
			t.Categories = append(t.Categories, strings.TrimPrefix(name, TypePrefix))
			indicatorIdx = append(indicatorIdx, i)
		}
	}
	if len(indicatorIdx) == 0 {
		t.Categories = nil
	}
	if stored != nil {
		indicated := []string{""}
		if t.Categories != nil {
			indicated = t.Categories
		}
		if len(stored) != len(indicated) || !slices.Equal(stored[1:], indicated[1:]) {
			return nil, fmt.Errorf("%w: store_types %v disagree with indicator columns %v",
				table.ErrSchema, stored, indicated[1:])
		}
		t.Categories = stored
	}

	num := func(row []string, col string, line int) (float64, error) {
		s := strings.TrimSpace(row[h[col]])
		v, err := table.ParseFinite(s)
		if err != nil {
			return 0, fmt.Errorf("%w: line %d column %s value %q: %v", table.ErrSchema, line, col, s, err)
		}
		return v, nil
	}

	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", table.ErrSchema, line, err)
		}

		vals := make(map[string]float64, len(required))
		for _, col := range required {
			v, err := num(row, col, line)
			if err != nil {
				return nil, err
			}
			vals[col] = v
		}

		rec := Record{
			Store:        int(vals[table.ColStore]),
			Dept:         int(vals[table.ColDept]),
			WeeklySales:  vals[table.ColWeeklySales],
			IsHoliday:    vals[table.ColIsHoliday],
			Size:         vals[table.ColSize],
			Temperature:  vals[table.ColTemperature],
			FuelPrice:    vals[table.ColFuelPrice],
			CPI:          vals[table.ColCPI],
			Unemployment: vals[table.ColUnemployment],
			Year:         int(vals[ColYear]),
			Month:        int(vals[ColMonth]),
			WeekOfYear:   int(vals[ColWeekOfYear]),
			DayOfWeek:    int(vals[ColDayOfWeek]),
			Lag1:         vals[ColLag1],
			RollingMean4: vals[ColRollingMean4],
			RollingStd4:  vals[ColRollingStd4],
		}
		for i := 0; i < table.NumMarkDowns; i++ {
			rec.MarkDowns[i] = vals[table.MarkDownColumn(i)]
		}
		rec.TypeIndicators = make([]float64, len(indicatorIdx))
		for k, idx := range indicatorIdx {
			v, err := table.ParseFinite(strings.TrimSpace(row[idx]))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s value %q: %v", table.ErrSchema, line, header[idx], row[idx], err)
			}
			rec.TypeIndicators[k] = v
		}
		t.Records = append(t.Records, rec)
	}

	if len(t.Records) == 0 {
		return nil, table.ErrEmpty
	}
	return t, nil
}

// readStoreTypes consumes an optional leading "# store_types:" line.
func readStoreTypes(br *bufio.Reader) ([]string, error) {
	prefix, err := br.Peek(len(table.CommentPrefix))
	if err != nil || string(prefix) != table.CommentPrefix {
		return nil, nil
	}
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read comment line: %w", err)
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, table.CommentPrefix))
	rest, ok := strings.CutPrefix(line, storeTypesKey)
	if !ok || strings.TrimSpace(rest) == "" {
		return nil, nil
	}
	types := strings.Split(rest, ",")
	for i := range types {
		types[i] = strings.TrimSpace(types[i])
	}
	return types, nil
}
