package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fractal-lba/salesforecast/internal/config"
	"github.com/fractal-lba/salesforecast/internal/eval"
	"github.com/fractal-lba/salesforecast/internal/forecast"
	"github.com/fractal-lba/salesforecast/internal/logger"
	"github.com/fractal-lba/salesforecast/internal/metrics"
	"github.com/fractal-lba/salesforecast/internal/pipeline"
	"github.com/fractal-lba/salesforecast/internal/runlog"
	"github.com/fractal-lba/salesforecast/internal/table"
	"github.com/fractal-lba/salesforecast/pkg/otel"
)

var version = "0.1.0"

var (
	// Global flags
	configFile string
	logMode    string

	// show
	showStore int
	showDept  int

	// evaluate
	fromForecast bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "salesforecast",
		Short: "Weekly sales forecasting per store and department",
		Long: `Builds lag/rolling features from the combined sales table, trains and
tunes a gradient-boosted tree model on a time-ordered split, forecasts every
store-department-week and scores the model against a last-week baseline.
Each subcommand runs one stage; "run" executes all of them in order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (YAML); defaults to $SALESFC_CONFIG")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "Log mode: dev or prod (overrides config)")

	rootCmd.AddCommand(featuresCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(tuneCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(baselineCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(showCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app wires the services every stage command needs.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	ledger   runlog.Store
	tracer   *sdktrace.TracerProvider
	pipeline *pipeline.Pipeline
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logMode != "" {
		cfg.LogMode = logMode
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	otelCfg := otel.DefaultConfig("salesforecast")
	otelCfg.ServiceVersion = version
	otelCfg.Environment = cfg.Telemetry.Environment
	otelCfg.CollectorEndpoint = cfg.Telemetry.Endpoint
	otelCfg.CollectorInsecure = cfg.Telemetry.Insecure
	otelCfg.SamplingRate = cfg.Telemetry.SamplingRate
	tp, err := otel.InitTracer(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	ledger, err := runlog.Open(ctx, cfg.Ledger)
	if err != nil {
		_ = otel.Shutdown(ctx, tp)
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}

	m := metrics.New()
	p := pipeline.New(cfg,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithLedger(ledger),
	)
	log.Debug("configuration loaded",
		"combined", cfg.CombinedPath,
		"features", cfg.FeaturesPath,
		"forecast", cfg.ForecastPath,
		"model_dir", cfg.ModelDir,
		"ledger", cfg.Ledger.Backend,
	)

	return &app{cfg: cfg, log: log, metrics: m, ledger: ledger, tracer: tp, pipeline: p}, nil
}

// close flushes metrics, traces, the ledger and the logger.
func (a *app) close() {
	if a.cfg.MetricsPath != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsPath); err != nil {
			a.log.Warn("failed to write metrics", "path", a.cfg.MetricsPath, "error", err)
		}
	}
	if err := otel.Shutdown(context.Background(), a.tracer); err != nil {
		a.log.Warn("failed to flush traces", "error", err)
	}
	if err := a.ledger.Close(); err != nil {
		a.log.Warn("failed to close run ledger", "error", err)
	}
	a.log.Sync()
}

// withApp runs fn with a wired app and a context cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a)
	}
}

func featuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Build the feature table from the combined table",
		RunE: withApp(func(ctx context.Context, a *app) error {
			tbl, err := a.pipeline.BuildFeatures(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Feature table: %d rows, %d columns -> %s\n", tbl.Len(), len(tbl.Columns()), a.cfg.FeaturesPath)
			return nil
		}),
	}
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit one model with the configured parameters",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.pipeline.Train(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Validation RMSE: %.2f (%s)\n", res.RMSE, res.Params)
			return nil
		}),
	}
}

func tuneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tune",
		Short: "Grid-search hyperparameters and keep the lowest-RMSE model",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.pipeline.Tune(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Evaluated %d candidates\n", len(res.Trials))
			fmt.Printf("Best params: %s\n", res.Best.Params)
			fmt.Printf("Best validation RMSE: %.2f\n", res.Best.RMSE)
			return nil
		}),
	}
}

func forecastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forecast",
		Short: "Predict every store-department-week with the stored model",
		RunE: withApp(func(ctx context.Context, a *app) error {
			out, err := a.pipeline.Forecast(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Forecast: %d rows -> %s\n", len(out), a.cfg.ForecastPath)
			return nil
		}),
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the stored model on the validation slice",
		Long: `Scores the stored model on the validation slice of the feature table
(the rows after the 80% cutoff). With --from-forecast the persisted forecast
table is scored instead, using the same cutoff.`,
		RunE: withApp(func(ctx context.Context, a *app) error {
			var (
				m   *eval.Metrics
				err error
			)
			if fromForecast {
				m, err = a.pipeline.EvaluateForecast(ctx)
			} else {
				m, err = a.pipeline.Evaluate(ctx)
			}
			if err != nil {
				return err
			}
			printMetrics(m)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&fromForecast, "from-forecast", false, "Score the forecast table instead of the model")
	return cmd
}

func baselineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Score the last-week sales baseline",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.pipeline.Baseline(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Baseline RMSE (last-week sales): %.2f over %d rows\n", res.Metrics.RMSE, res.Metrics.N)
			return nil
		}),
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stage in order",
		RunE: withApp(func(ctx context.Context, a *app) error {
			s, err := a.pipeline.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("=== Run %s ===\n", s.RunID)
			fmt.Printf("Feature rows: %d\n", s.FeatureRows)
			fmt.Printf("Trained RMSE: %.2f\n", s.Trained.RMSE)
			fmt.Printf("Tuned RMSE: %.2f (%s)\n", s.Tuned.Best.RMSE, s.Tuned.Best.Params)
			fmt.Printf("Forecast rows: %d\n", s.ForecastRows)
			printMetrics(s.Model)
			fmt.Printf("Baseline RMSE: %.2f\n", s.Baseline.Metrics.RMSE)
			fmt.Printf("Report: %s\n", s.ReportPath)
			return nil
		}),
	}
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the forecast of one store and department",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			store, err := forecast.NewStore(cfg.ForecastPath, 0)
			if err != nil {
				return err
			}

			key := table.SeriesKey{Store: showStore, Dept: showDept}
			sel, err := store.Select(key)
			if errors.Is(err, forecast.ErrEmptySelection) {
				fmt.Println("No data for this selection.")
				if depts, derr := store.Depts(showStore); derr == nil && len(depts) > 0 {
					fmt.Printf("Departments of store %d: %v\n", showStore, depts)
				}
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("=== Store %d, Dept %d ===\n", key.Store, key.Dept)
			fmt.Printf("Validation RMSE: %.0f\n", sel.RMSE)
			fmt.Printf("Validation sMAPE: %s\n", eval.FormatPercent(sel.SMAPE))
			fmt.Printf("\n%-10s  %14s  %14s\n", "Date", "Weekly_Sales", "Prediction")
			for _, r := range sel.Tail(forecast.SampleRows) {
				fmt.Printf("%-10s  %14.2f  %14.2f\n", r.Date.Format(table.DateLayout), r.WeeklySales, r.Prediction)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&showStore, "store", 1, "Store number")
	cmd.Flags().IntVar(&showDept, "dept", 1, "Department number")
	return cmd
}

func printMetrics(m *eval.Metrics) {
	fmt.Printf("Validation rows: %d\n", m.N)
	fmt.Printf("RMSE: %.2f\n", m.RMSE)
	fmt.Printf("MAPE (actual != 0, %d rows): %s\n", m.MAPERows, eval.FormatPercent(m.MAPE))
	fmt.Printf("sMAPE: %s\n", eval.FormatPercent(m.SMAPE))
	fmt.Printf("Residual mean: %.2f, std: %.2f\n", m.ResidualMean, m.ResidualStd)
}
