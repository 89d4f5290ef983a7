// Package tuner runs a grid search over boosting hyperparameters on a single
// fixed time-ordered split and keeps the lowest-RMSE model.
package tuner

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/salesforecast/internal/gbt"
	"github.com/fractal-lba/salesforecast/internal/logger"
	"github.com/fractal-lba/salesforecast/internal/metrics"
	"github.com/fractal-lba/salesforecast/internal/runlog"
	"github.com/fractal-lba/salesforecast/internal/trainer"
	"github.com/fractal-lba/salesforecast/pkg/otel"
)

// FitFunc fits one candidate. trainer.Fit is the production implementation.
type FitFunc func(ctx context.Context, ds *trainer.Dataset, params gbt.Params) (*trainer.Result, error)

// Trial is the outcome of one grid point.
type Trial struct {
	Index    int
	Params   gbt.Params
	RMSE     float64
	Duration time.Duration
}

// Result is the outcome of a grid search.
type Result struct {
	Best      *trainer.Result
	BestIndex int
	Trials    []Trial // Grid order
}

// Tuner evaluates grid candidates on a bounded worker pool.
type Tuner struct {
	fit      FitFunc
	workers  int
	log      *logger.Logger
	metrics  *metrics.Metrics
	ledger   runlog.Store
	runID    string
	progress *rate.Sometimes
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithFitFunc replaces the fit function.
func WithFitFunc(fit FitFunc) Option {
	return func(t *Tuner) { t.fit = fit }
}

// WithWorkers bounds the number of concurrent fits. Values below 1 mean NumCPU.
func WithWorkers(n int) Option {
	return func(t *Tuner) {
		if n > 0 {
			t.workers = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(t *Tuner) { t.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tuner) { t.metrics = m }
}

// WithLedger records every trial under runID.
func WithLedger(store runlog.Store, runID string) Option {
	return func(t *Tuner) {
		t.ledger = store
		t.runID = runID
	}
}

// New creates a tuner that fits with trainer.Fit on NumCPU workers.
func New(opts ...Option) *Tuner {
	t := &Tuner{
		fit:      trainer.Fit,
		workers:  runtime.NumCPU(),
		log:      logger.Nop(),
		ledger:   runlog.Nop{},
		progress: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tune fits every grid combination on ds and returns the one with the lowest
// validation RMSE. Ties go to the candidate earliest in grid order, whatever
// order the fits complete in. The first fit error aborts the search.
func (t *Tuner) Tune(ctx context.Context, ds *trainer.Dataset, grid Grid, base gbt.Params) (*Result, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	combos := grid.Combinations(base)

	res := &Result{
		BestIndex: -1,
		Trials:    make([]Trial, len(combos)),
	}
	var (
		mu   sync.Mutex
		done atomic.Int64
	)

	t.log.Info("starting grid search", "candidates", len(combos), "workers", t.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, params := range combos {
		i, params := i, params
		g.Go(func() error {
			fitted, err := t.runTrial(gctx, ds, i, params)
			if err != nil {
				return err
			}

			mu.Lock()
			res.Trials[i] = Trial{Index: i, Params: params, RMSE: fitted.RMSE, Duration: fitted.Duration}
			// Equivalent to a strict < scan in grid order.
			if res.BestIndex < 0 || fitted.RMSE < res.Best.RMSE ||
				(fitted.RMSE == res.Best.RMSE && i < res.BestIndex) {
				res.Best = fitted
				res.BestIndex = i
			}
			mu.Unlock()

			n := done.Add(1)
			t.progress.Do(func() {
				t.log.Info("grid search progress", "completed", n, "total", len(combos))
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if t.metrics != nil {
		t.metrics.BestRMSE.Set(res.Best.RMSE)
	}
	t.log.Info("grid search finished",
		"best_index", res.BestIndex,
		"best_rmse", res.Best.RMSE,
		"best_params", res.Best.Params.String(),
	)
	return res, nil
}

func (t *Tuner) runTrial(ctx context.Context, ds *trainer.Dataset, i int, p gbt.Params) (*trainer.Result, error) {
	ctx, span := otel.StartSpan(ctx, "tuner.trial",
		otel.TrialAttributes(i, p.NEstimators, p.MaxDepth, p.LearningRate, p.Subsample, p.ColsampleByTree)...)
	defer span.End()

	fitted, err := t.fit(ctx, ds, p)
	if err != nil {
		if t.metrics != nil {
			t.metrics.FitErrors.Inc()
		}
		otel.RecordError(span, err, "trial fit failed")
		return nil, fmt.Errorf("trial %d (%s): %w", i, p, err)
	}
	span.SetAttributes(otel.AttrRMSE.Float64(fitted.RMSE))

	if t.metrics != nil {
		t.metrics.FitsTotal.Inc()
		t.metrics.FitDuration.Observe(fitted.Duration.Seconds())
	}
	t.log.Debug("trial finished", "trial", i, "rmse", fitted.RMSE, "params", p.String())

	entry := runlog.Entry{
		RunID:     t.runID,
		Kind:      runlog.KindTrial,
		Name:      "trial-" + strconv.Itoa(i),
		Timestamp: time.Now().UTC(),
		Values: map[string]float64{
			"rmse":             fitted.RMSE,
			"n_estimators":     float64(p.NEstimators),
			"max_depth":        float64(p.MaxDepth),
			"learning_rate":    p.LearningRate,
			"subsample":        p.Subsample,
			"colsample_bytree": p.ColsampleByTree,
			"duration_seconds": fitted.Duration.Seconds(),
		},
	}
	if err := t.ledger.Append(ctx, entry); err != nil {
		t.log.Warn("failed to record trial", "trial", i, "error", err)
	}
	return fitted, nil
}
