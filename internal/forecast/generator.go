// Package forecast applies a stored model to the full history, renders the
// diagnostic plots and answers per-series queries over the forecast table.
package forecast

import (
	"context"
	"fmt"

	"github.com/fractal-lba/salesforecast/internal/features"
	"github.com/fractal-lba/salesforecast/internal/logger"
	"github.com/fractal-lba/salesforecast/internal/metrics"
	"github.com/fractal-lba/salesforecast/internal/registry"
	"github.com/fractal-lba/salesforecast/internal/table"
	"github.com/fractal-lba/salesforecast/pkg/otel"
)

// Generator produces one prediction per store-department-week.
type Generator struct {
	categories []string
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// Option configures a Generator.
type Option func(*Generator)

// WithCategories pins the store-type set used to rebuild the features.
func WithCategories(categories []string) Option {
	return func(g *Generator) { g.categories = categories }
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Generator) { g.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator creates a generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{log: logger.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate rebuilds the features of records with the same transform used for
// training, assembles the matrix in the artifact's recorded column order and
// predicts every row. Output is sorted by (Store, Dept, Date).
//
// The recorded columns are authoritative: if the rebuilt table lacks one of
// them (a store type absent from records) or carries one more, Generate fails
// with features.ErrColumnMismatch instead of filling zeros.
func (g *Generator) Generate(ctx context.Context, records []table.SalesRecord, art *registry.Artifact) ([]table.ForecastRecord, error) {
	_, span := otel.StartSpan(ctx, "forecast.generate")
	defer span.End()

	tbl, err := features.NewBuilder(g.categories).Build(records)
	if err != nil {
		otel.RecordError(span, err, "feature rebuild failed")
		return nil, fmt.Errorf("failed to rebuild features: %w", err)
	}
	n := tbl.Len()
	g.log.Info("rebuilt features for inference", "rows", n, "categories", tbl.Categories)

	x, err := tbl.Matrix(art.Card.FeatureColumns, 0, n)
	if err != nil {
		otel.RecordError(span, err, "feature columns do not match the model")
		return nil, fmt.Errorf("model %s: %w", art.Card.Name, err)
	}
	g.log.Info("prepared feature matrix", "rows", len(x), "columns", len(art.Card.FeatureColumns))

	pred, err := art.Model.Predict(x)
	if err != nil {
		otel.RecordError(span, err, "prediction failed")
		return nil, fmt.Errorf("failed to predict: %w", err)
	}

	out := make([]table.ForecastRecord, n)
	for i := range tbl.Records {
		r := &tbl.Records[i]
		out[i] = table.ForecastRecord{
			Store:       r.Store,
			Dept:        r.Dept,
			Date:        r.Date,
			WeeklySales: r.WeeklySales,
			Prediction:  pred[i],
		}
	}

	if g.metrics != nil {
		g.metrics.RowsPredicted.Add(float64(n))
	}
	span.SetAttributes(otel.AttrRows.Int(n))
	return out, nil
}
