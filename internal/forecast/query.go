package forecast

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fractal-lba/salesforecast/internal/cache"
	"github.com/fractal-lba/salesforecast/internal/eval"
	"github.com/fractal-lba/salesforecast/internal/table"
)

// ErrEmptySelection is returned when a query matches no forecast rows.
var ErrEmptySelection = errors.New("no forecast rows for this selection")

// SampleRows is the number of trailing rows shown for a selection.
const SampleRows = 10

// Selection is the forecast of one series.
type Selection struct {
	Key  table.SeriesKey
	Rows []table.ForecastRecord // Date order

	RMSE  float64
	SMAPE *float64 // nil when every row has a zero denominator
}

// Tail returns the last n rows of the selection.
func (s *Selection) Tail(n int) []table.ForecastRecord {
	if n >= len(s.Rows) {
		return s.Rows
	}
	return s.Rows[len(s.Rows)-n:]
}

// forecastIndex is a parsed forecast table grouped by series.
type forecastIndex struct {
	series map[table.SeriesKey][]table.ForecastRecord
	stores []int
	depts  map[int][]int
}

// Store answers per-series queries over a forecast CSV. Parsed tables are
// cached and reloaded when the file's modification time changes.
type Store struct {
	path  string
	cache *cache.LRUWithTTL[string, *forecastIndex]
}

// NewStore creates a query store over the forecast table at path. A ttl of 0
// keeps a parsed table until the file changes.
func NewStore(path string, ttl time.Duration) (*Store, error) {
	c, err := cache.NewLRUWithTTL[string, *forecastIndex](4, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create forecast cache: %w", err)
	}
	return &Store{path: path, cache: c}, nil
}

// CacheStats exposes the table cache statistics.
func (s *Store) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Store) load() (*forecastIndex, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat forecast table: %w", err)
	}
	return s.cache.GetOrLoad(s.path, info.ModTime().UnixNano(), func() (*forecastIndex, error) {
		records, err := table.ReadForecast(s.path)
		if err != nil {
			return nil, err
		}
		return buildIndex(records), nil
	})
}

func buildIndex(records []table.ForecastRecord) *forecastIndex {
	idx := &forecastIndex{
		series: groupSeries(records),
		depts:  make(map[int][]int),
	}
	for k := range idx.series {
		if _, ok := idx.depts[k.Store]; !ok {
			idx.stores = append(idx.stores, k.Store)
		}
		idx.depts[k.Store] = append(idx.depts[k.Store], k.Dept)
	}
	sort.Ints(idx.stores)
	for _, d := range idx.depts {
		sort.Ints(d)
	}
	return idx
}

// Stores lists the stores present in the table, ascending.
func (s *Store) Stores() ([]int, error) {
	idx, err := s.load()
	if err != nil {
		return nil, err
	}
	return idx.stores, nil
}

// Depts lists the departments of store, ascending.
func (s *Store) Depts(store int) ([]int, error) {
	idx, err := s.load()
	if err != nil {
		return nil, err
	}
	return idx.depts[store], nil
}

// Select returns the forecast of one series with its RMSE and sMAPE over all
// of the series' rows. An unknown series is ErrEmptySelection.
func (s *Store) Select(key table.SeriesKey) (*Selection, error) {
	idx, err := s.load()
	if err != nil {
		return nil, err
	}
	rows := idx.series[key]
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySelection, key)
	}

	actual := make([]float64, len(rows))
	pred := make([]float64, len(rows))
	for i, r := range rows {
		actual[i] = r.WeeklySales
		pred[i] = r.Prediction
	}
	m, err := eval.Compute(actual, pred)
	if err != nil {
		return nil, fmt.Errorf("failed to score selection: %w", err)
	}
	return &Selection{Key: key, Rows: rows, RMSE: m.RMSE, SMAPE: m.SMAPE}, nil
}
