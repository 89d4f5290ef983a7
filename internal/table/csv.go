package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommentPrefix starts a metadata line ahead of a CSV header.
const CommentPrefix = "# "

// Column names of the combined table.
const (
	ColStore        = "Store"
	ColDept         = "Dept"
	ColDate         = "Date"
	ColWeeklySales  = "Weekly_Sales"
	ColIsHoliday    = "IsHoliday"
	ColType         = "Type"
	ColSize         = "Size"
	ColTemperature  = "Temperature"
	ColFuelPrice    = "Fuel_Price"
	ColCPI          = "CPI"
	ColUnemployment = "Unemployment"
	ColPrediction   = "Prediction"
)

// MarkDownColumn returns the column name of the i-th (0-based) MarkDown field.
func MarkDownColumn(i int) string {
	return "MarkDown" + strconv.Itoa(i+1)
}

// CombinedColumns lists the columns the combined table must carry.
func CombinedColumns() []string {
	cols := []string{
		ColStore, ColDept, ColDate, ColWeeklySales, ColIsHoliday, ColType,
		ColSize, ColTemperature, ColFuelPrice,
	}
	for i := 0; i < NumMarkDowns; i++ {
		cols = append(cols, MarkDownColumn(i))
	}
	return append(cols, ColCPI, ColUnemployment)
}

// ForecastColumns lists the columns of the forecast table, in order.
func ForecastColumns() []string {
	return []string{ColStore, ColDept, ColDate, ColWeeklySales, ColPrediction}
}

// Header maps column names to their index in a CSV header row.
type Header map[string]int

// ParseHeader indexes a header row and verifies the required columns are present.
func ParseHeader(row []string, required []string) (Header, error) {
	h := make(Header, len(row))
	for i, name := range row {
		h[strings.TrimSpace(strings.Trim(name, "\""))] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := h[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %v", ErrSchema, missing)
	}
	return h, nil
}

// rowReader parses typed values out of one CSV row, remembering the first error.
type rowReader struct {
	h    Header
	row  []string
	line int
	err  error
}

func (r *rowReader) raw(col string) string {
	idx := r.h[col]
	if idx >= len(r.row) {
		r.fail(col, "", "short row")
		return ""
	}
	return strings.TrimSpace(r.row[idx])
}

func (r *rowReader) fail(col, val, why string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: line %d column %s value %q: %s", ErrSchema, r.line, col, val, why)
	}
}

// ParseFinite parses a real value, rejecting NaN and infinities.
func ParseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a finite number")
	}
	return v, nil
}

// Float parses a real-valued column. Absent values are an error; upstream fills them.
func (r *rowReader) Float(col string) float64 {
	s := r.raw(col)
	v, err := ParseFinite(s)
	if err != nil {
		r.fail(col, s, err.Error())
	}
	return v
}

// FloatOrZero is Float with an empty cell read as 0.
func (r *rowReader) FloatOrZero(col string) float64 {
	if r.raw(col) == "" {
		return 0
	}
	return r.Float(col)
}

// Int parses an integer id column, tolerating a trailing ".0".
func (r *rowReader) Int(col string) int {
	s := r.raw(col)
	v, err := strconv.Atoi(strings.TrimSuffix(s, ".0"))
	if err != nil {
		r.fail(col, s, "not an integer")
	}
	return v
}

// Bool parses True/False/1/0.
func (r *rowReader) Bool(col string) bool {
	s := r.raw(col)
	switch strings.ToLower(s) {
	case "true", "1", "1.0":
		return true
	case "false", "0", "0.0":
		return false
	}
	r.fail(col, s, "not a boolean")
	return false
}

// Date parses a YYYY-MM-DD date, ignoring any time suffix.
func (r *rowReader) Date(col string) time.Time {
	s := r.raw(col)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		r.fail(col, s, "not a date")
	}
	return t
}

func (r *rowReader) String(col string) string {
	return r.raw(col)
}

// scanCSV opens path, validates the header, and calls fn for every data row.
func scanCSV(path string, required []string, fn func(r *rowReader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return scanReader(f, required, fn)
}

func scanReader(src io.Reader, required []string, fn func(r *rowReader) error) error {
	reader := csv.NewReader(bufio.NewReader(src))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: no header row", ErrSchema)
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	h, err := ParseHeader(header, required)
	if err != nil {
		return err
	}

	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrSchema, line, err)
		}
		if err := fn(&rowReader{h: h, row: row, line: line}); err != nil {
			return err
		}
	}
}

// ReadCombined loads the combined table written by the ingestion stage.
func ReadCombined(path string) ([]SalesRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeCombined(f)
}

// DecodeCombined parses a combined table from r.
func DecodeCombined(src io.Reader) ([]SalesRecord, error) {
	var records []SalesRecord
	err := scanReader(src, CombinedColumns(), func(r *rowReader) error {
		rec := SalesRecord{
			Store:        r.Int(ColStore),
			Dept:         r.Int(ColDept),
			Date:         r.Date(ColDate),
			WeeklySales:  r.Float(ColWeeklySales),
			IsHoliday:    r.Bool(ColIsHoliday),
			Type:         r.String(ColType),
			Size:         r.Float(ColSize),
			Temperature:  r.Float(ColTemperature),
			FuelPrice:    r.Float(ColFuelPrice),
			CPI:          r.Float(ColCPI),
			Unemployment: r.Float(ColUnemployment),
		}
		for i := 0; i < NumMarkDowns; i++ {
			rec.MarkDowns[i] = r.FloatOrZero(MarkDownColumn(i))
		}
		if r.err != nil {
			return r.err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	if err := CheckUnique(records); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadForecast loads a forecast table.
func ReadForecast(path string) ([]ForecastRecord, error) {
	var records []ForecastRecord
	err := scanCSV(path, ForecastColumns(), func(r *rowReader) error {
		rec := ForecastRecord{
			Store:       r.Int(ColStore),
			Dept:        r.Int(ColDept),
			Date:        r.Date(ColDate),
			WeeklySales: r.Float(ColWeeklySales),
			Prediction:  r.Float(ColPrediction),
		}
		if r.err != nil {
			return r.err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return records, nil
}

// WriteForecast persists forecast records as CSV, creating the parent directory.
func WriteForecast(path string, records []ForecastRecord) error {
	return WriteCSV(path, ForecastColumns(), len(records), func(i int) []string {
		r := &records[i]
		return []string{
			strconv.Itoa(r.Store),
			strconv.Itoa(r.Dept),
			r.Date.Format(DateLayout),
			FormatFloat(r.WeeklySales),
			FormatFloat(r.Prediction),
		}
	})
}

// WriteCombined persists sales records in the combined-table layout.
func WriteCombined(path string, records []SalesRecord) error {
	return WriteCSV(path, CombinedColumns(), len(records), func(i int) []string {
		r := &records[i]
		row := []string{
			strconv.Itoa(r.Store),
			strconv.Itoa(r.Dept),
			r.Date.Format(DateLayout),
			FormatFloat(r.WeeklySales),
			strconv.FormatBool(r.IsHoliday),
			r.Type,
			FormatFloat(r.Size),
			FormatFloat(r.Temperature),
			FormatFloat(r.FuelPrice),
		}
		for _, md := range r.MarkDowns {
			row = append(row, FormatFloat(md))
		}
		return append(row, FormatFloat(r.CPI), FormatFloat(r.Unemployment))
	})
}

// WriteCSV writes a header and n rows produced by row(i) to path.
func WriteCSV(path string, header []string, n int, row func(i int) []string) error {
	return WriteCSVWithComment(path, "", header, n, row)
}

// WriteCSVWithComment is WriteCSV with a leading "# comment" line when comment
// is not empty.
func WriteCSVWithComment(path, comment string, header []string, n int, row func(i int) []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	if comment != "" {
		if _, err := buf.WriteString(CommentPrefix + comment + "\n"); err != nil {
			return err
		}
	}
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

// FormatFloat renders a float with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
