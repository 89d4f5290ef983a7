package table

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const combinedHeader = "Store,Dept,Date,Weekly_Sales,IsHoliday,Type,Size,Temperature,Fuel_Price,MarkDown1,MarkDown2,MarkDown3,MarkDown4,MarkDown5,CPI,Unemployment\n"

func TestDecodeCombined(t *testing.T) {
	src := combinedHeader +
		"1,1,2010-02-05,24924.5,False,A,151315,42.31,2.572,0,0,0,0,0,211.096358,8.106\n" +
		"1,1,2010-02-12,46039.49,True,A,151315,38.51,2.548,0,0,0,0,0,211.24217,8.106\n"

	records, err := DecodeCombined(strings.NewReader(src))
	if err != nil {
		t.Fatalf("DecodeCombined failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	r := records[1]
	if r.Store != 1 || r.Dept != 1 {
		t.Errorf("key = (%d, %d), want (1, 1)", r.Store, r.Dept)
	}
	if !r.Date.Equal(time.Date(2010, 2, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", r.Date)
	}
	if !r.IsHoliday {
		t.Error("IsHoliday should be true")
	}
	if r.Type != "A" || r.WeeklySales != 46039.49 || r.CPI != 211.24217 {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestDecodeCombined_MissingColumn(t *testing.T) {
	src := "Store,Dept,Date,Weekly_Sales\n1,1,2010-02-05,10\n"
	_, err := DecodeCombined(strings.NewReader(src))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if !strings.Contains(err.Error(), "IsHoliday") {
		t.Errorf("error should name the missing column: %v", err)
	}
}

func TestDecodeCombined_BadValue(t *testing.T) {
	src := combinedHeader + "1,1,2010-02-05,abc,False,A,1,1,1,0,0,0,0,0,1,1\n"
	_, err := DecodeCombined(strings.NewReader(src))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestDecodeCombined_NonFinite(t *testing.T) {
	tests := []struct {
		name   string
		row    string
		column string
	}{
		{"nan sales", "1,1,2010-02-05,NaN,False,A,1,1,1,0,0,0,0,0,1,1\n", "Weekly_Sales"},
		{"inf cpi", "1,1,2010-02-05,10,False,A,1,1,1,0,0,0,0,0,Inf,1\n", "CPI"},
		{"negative inf markdown", "1,1,2010-02-05,10,False,A,1,1,1,-Inf,0,0,0,0,1,1\n", "MarkDown1"},
		{"signed inf size", "1,1,2010-02-05,10,False,A,+Inf,1,1,0,0,0,0,0,1,1\n", "Size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCombined(strings.NewReader(combinedHeader + tt.row))
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("expected ErrSchema, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.column) {
				t.Errorf("error should name column %s: %v", tt.column, err)
			}
		})
	}
}

func TestDecodeCombined_EmptyMarkDown(t *testing.T) {
	src := combinedHeader + "1,1,2010-02-05,10,False,A,1,1,1,,5.5,,,,1,1\n"
	records, err := DecodeCombined(strings.NewReader(src))
	if err != nil {
		t.Fatalf("DecodeCombined failed: %v", err)
	}
	if got := records[0].MarkDowns; got != [NumMarkDowns]float64{0, 5.5, 0, 0, 0} {
		t.Errorf("MarkDowns = %v, want [0 5.5 0 0 0]", got)
	}

	// Only markdowns are zero-filled.
	src = combinedHeader + "1,1,2010-02-05,10,False,A,1,1,1,0,0,0,0,0,,1\n"
	if _, err := DecodeCombined(strings.NewReader(src)); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema for an empty CPI, got %v", err)
	}
}

func TestDecodeCombined_Duplicate(t *testing.T) {
	row := "1,1,2010-02-05,10,False,A,1,1,1,0,0,0,0,0,1,1\n"
	_, err := DecodeCombined(strings.NewReader(combinedHeader + row + row))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestDecodeCombined_Empty(t *testing.T) {
	_, err := DecodeCombined(strings.NewReader(combinedHeader))
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestCombinedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "combined.csv")
	in := []SalesRecord{{
		Store: 3, Dept: 20, Date: time.Date(2011, 5, 6, 0, 0, 0, 0, time.UTC),
		WeeklySales: -12.5, IsHoliday: true, Type: "B", Size: 37392,
		Temperature: 70.1, FuelPrice: 3.9, MarkDowns: [NumMarkDowns]float64{1, 2, 3, 4, 5},
		CPI: 214.7, Unemployment: 7.3,
	}}
	if err := WriteCombined(path, in); err != nil {
		t.Fatalf("WriteCombined failed: %v", err)
	}
	out, err := ReadCombined(path)
	if err != nil {
		t.Fatalf("ReadCombined failed: %v", err)
	}
	if out[0] != in[0] {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out[0], in[0])
	}
}

func TestSortSales(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2010, 1, day, 0, 0, 0, 0, time.UTC) }
	in := []SalesRecord{
		{Store: 2, Dept: 1, Date: d(1)},
		{Store: 1, Dept: 2, Date: d(8)},
		{Store: 1, Dept: 2, Date: d(1)},
		{Store: 1, Dept: 1, Date: d(15)},
	}
	out := SortSales(in)

	want := []struct{ store, dept, day int }{{1, 1, 15}, {1, 2, 1}, {1, 2, 8}, {2, 1, 1}}
	for i, w := range want {
		if out[i].Store != w.store || out[i].Dept != w.dept || out[i].Date.Day() != w.day {
			t.Errorf("row %d = (%d, %d, %d), want %v", i, out[i].Store, out[i].Dept, out[i].Date.Day(), w)
		}
	}
	if in[0].Store != 2 {
		t.Error("SortSales must not reorder its input")
	}
}
