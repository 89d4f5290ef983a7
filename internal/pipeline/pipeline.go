// Package pipeline runs the forecasting stages in dependency order. Each stage
// reads its inputs from the configured paths, writes its outputs, and is
// traced, timed, logged and recorded in the run ledger.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fractal-lba/salesforecast/internal/config"
	"github.com/fractal-lba/salesforecast/internal/logger"
	"github.com/fractal-lba/salesforecast/internal/metrics"
	"github.com/fractal-lba/salesforecast/internal/registry"
	"github.com/fractal-lba/salesforecast/internal/runlog"
	"github.com/fractal-lba/salesforecast/internal/tuner"
	"github.com/fractal-lba/salesforecast/pkg/otel"
)

// Stage names.
const (
	StageFeatures         = "features"
	StageTrain            = "train"
	StageTune             = "tune"
	StageForecast         = "forecast"
	StageEvaluate         = "evaluate"
	StageEvaluateForecast = "evaluate_forecast"
	StageBaseline         = "baseline"
	StageReport           = "report"
)

// Pipeline holds the configuration and shared services of one run.
type Pipeline struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	ledger   runlog.Store
	registry *registry.Registry
	fit      tuner.FitFunc
	runID    string
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLedger(s runlog.Store) Option {
	return func(p *Pipeline) { p.ledger = s }
}

// WithFitFunc replaces the fit used by the tune stage.
func WithFitFunc(fit tuner.FitFunc) Option {
	return func(p *Pipeline) { p.fit = fit }
}

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// New creates a pipeline for cfg.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		log:      logger.Nop(),
		metrics:  metrics.New(),
		ledger:   runlog.Nop{},
		registry: registry.New(cfg.ModelDir),
		runID:    uuid.NewString(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("run_id", p.runID)
	return p
}

// RunID returns the id every ledger entry of this pipeline carries.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Registry returns the artifact registry.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// stage runs fn as the named stage.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := otel.StartSpan(ctx, "stage."+name, otel.StageAttributes(p.runID, name)...)
	defer span.End()

	p.log.Info("stage started", "stage", name)
	start := p.now()

	err := fn(ctx)

	elapsed := p.now().Sub(start)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		otel.RecordError(span, err, "stage failed")
		p.log.Error("stage failed", "stage", name, "duration", elapsed, "error", err)
	} else {
		p.log.Info("stage finished", "stage", name, "duration", elapsed)
	}
	p.metrics.StageRuns.WithLabelValues(name, outcome).Inc()
	p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	p.record(ctx, runlog.KindStage, name,
		map[string]float64{"duration_seconds": elapsed.Seconds()},
		map[string]string{"outcome": outcome})

	if err != nil {
		return fmt.Errorf("stage %s failed: %w", name, err)
	}
	return nil
}

// record appends a ledger entry. Ledger failures are logged, not returned.
func (p *Pipeline) record(ctx context.Context, kind, name string, values map[string]float64, labels map[string]string) {
	e := runlog.Entry{
		RunID:     p.runID,
		Kind:      kind,
		Name:      name,
		Timestamp: p.now().UTC(),
		Values:    values,
		Labels:    labels,
	}
	if err := p.ledger.Append(ctx, e); err != nil {
		p.log.Warn("failed to append run ledger entry", "kind", kind, "name", name, "error", err)
	}
}
