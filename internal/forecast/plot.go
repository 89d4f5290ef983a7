package forecast

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fractal-lba/salesforecast/internal/table"
)

// DefaultPlotPairs is the fixed sample of series rendered after a forecast.
var DefaultPlotPairs = []table.SeriesKey{
	{Store: 1, Dept: 1},
	{Store: 2, Dept: 10},
	{Store: 3, Dept: 20},
}

// PlotPath returns the image path of one series under dir.
func PlotPath(dir string, key table.SeriesKey) string {
	return filepath.Join(dir, fmt.Sprintf("forecast_s%d_d%d.png", key.Store, key.Dept))
}

// PlotSeries renders actual and predicted sales of one series to a PNG.
// rows must belong to key and be in date order.
func PlotSeries(path string, key table.SeriesKey, rows []table.ForecastRecord) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySelection, key)
	}

	actual := make(plotter.XYs, len(rows))
	predicted := make(plotter.XYs, len(rows))
	for i, r := range rows {
		x := float64(r.Date.Unix())
		actual[i] = plotter.XY{X: x, Y: r.WeeklySales}
		predicted[i] = plotter.XY{X: x, Y: r.Prediction}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Store %d Dept %d", key.Store, key.Dept)
	p.Y.Label.Text = "Weekly Sales"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Add(plotter.NewGrid())

	al, err := plotter.NewLine(actual)
	if err != nil {
		return err
	}
	al.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	al.Width = vg.Points(1.5)
	p.Add(al)
	p.Legend.Add("Actual", al)

	pl, err := plotter.NewLine(predicted)
	if err != nil {
		return err
	}
	pl.Color = color.RGBA{R: 220, G: 110, B: 20, A: 255}
	pl.Width = vg.Points(1)
	pl.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(pl)
	p.Legend.Add("Predicted", pl)
	p.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot dir: %w", err)
	}
	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}

// Plot renders the sample pairs into dir and returns the paths written.
// Plots are diagnostics: a pair that is missing or fails to render is logged
// and counted, never returned as an error.
func (g *Generator) Plot(dir string, records []table.ForecastRecord, pairs []table.SeriesKey) []string {
	bySeries := groupSeries(records)

	var written []string
	for _, key := range pairs {
		path := PlotPath(dir, key)
		if err := PlotSeries(path, key, bySeries[key]); err != nil {
			g.log.Warn("skipping forecast plot", "series", key.String(), "error", err)
			if g.metrics != nil {
				g.metrics.PlotFailures.Inc()
			}
			continue
		}
		g.log.Info("saved forecast plot", "path", path)
		written = append(written, path)
	}
	return written
}

// groupSeries splits records by series, each in date order.
func groupSeries(records []table.ForecastRecord) map[table.SeriesKey][]table.ForecastRecord {
	sorted := table.SortForecasts(records)
	out := make(map[table.SeriesKey][]table.ForecastRecord)
	for i := range sorted {
		k := sorted[i].Key()
		out[k] = append(out[k], sorted[i])
	}
	return out
}
