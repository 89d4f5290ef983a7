package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for a pipeline run
type Metrics struct {
	Registry *prometheus.Registry

	// Stage execution
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Model fitting
	FitsTotal      prometheus.Counter
	FitErrors      prometheus.Counter
	FitDuration    prometheus.Histogram
	ValidationRMSE prometheus.Gauge
	BestRMSE       prometheus.Gauge

	// Evaluation gauges, labeled by what was scored ("model", "forecast", "baseline")
	EvalRMSE  *prometheus.GaugeVec
	EvalMAPE  *prometheus.GaugeVec
	EvalSMAPE *prometheus.GaugeVec

	// Forecast output
	RowsPredicted prometheus.Counter
	PlotFailures  prometheus.Counter
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		StageRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesfc_stage_runs_total",
				Help: "Pipeline stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salesfc_stage_duration_seconds",
				Help:    "Wall time per pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"stage"},
		),

		FitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "salesfc_fits_total",
			Help: "Number of model fits completed",
		}),
		FitErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "salesfc_fit_errors_total",
			Help: "Number of model fits that failed",
		}),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesfc_fit_duration_seconds",
			Help:    "Wall time per model fit",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		ValidationRMSE: factory.NewGauge(prometheus.GaugeOpts{
			Name: "salesfc_validation_rmse",
			Help: "Validation RMSE of the most recent fit",
		}),
		BestRMSE: factory.NewGauge(prometheus.GaugeOpts{
			Name: "salesfc_tuning_best_rmse",
			Help: "Lowest validation RMSE found by the last grid search",
		}),

		EvalRMSE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "salesfc_eval_rmse",
				Help: "RMSE over the validation slice",
			},
			[]string{"source"},
		),
		EvalMAPE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "salesfc_eval_mape_percent",
				Help: "MAPE over non-zero actuals in the validation slice",
			},
			[]string{"source"},
		),
		EvalSMAPE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "salesfc_eval_smape_percent",
				Help: "Symmetric MAPE over the validation slice",
			},
			[]string{"source"},
		),

		RowsPredicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "salesfc_rows_predicted_total",
			Help: "Forecast rows written",
		}),
		PlotFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "salesfc_plot_failures_total",
			Help: "Diagnostic plots that could not be rendered",
		}),
	}
}

// ObserveEval records evaluation results. Undefined percentages are left unset.
func (m *Metrics) ObserveEval(source string, rmse float64, mape, smape *float64) {
	m.EvalRMSE.WithLabelValues(source).Set(rmse)
	if mape != nil {
		m.EvalMAPE.WithLabelValues(source).Set(*mape)
	}
	if smape != nil {
		m.EvalSMAPE.WithLabelValues(source).Set(*smape)
	}
}

// WriteTextfile exports the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
