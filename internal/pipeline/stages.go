package pipeline

import (
	"context"
	"fmt"

	"github.com/fractal-lba/salesforecast/internal/baseline"
	"github.com/fractal-lba/salesforecast/internal/eval"
	"github.com/fractal-lba/salesforecast/internal/features"
	"github.com/fractal-lba/salesforecast/internal/forecast"
	"github.com/fractal-lba/salesforecast/internal/registry"
	"github.com/fractal-lba/salesforecast/internal/runlog"
	"github.com/fractal-lba/salesforecast/internal/table"
	"github.com/fractal-lba/salesforecast/internal/trainer"
	"github.com/fractal-lba/salesforecast/internal/tuner"
	"github.com/fractal-lba/salesforecast/pkg/otel"
)

// Summary collects the outputs of a full run.
type Summary struct {
	RunID        string
	FeatureRows  int
	Trained      *trainer.Result
	Tuned        *tuner.Result
	ForecastRows int
	Model        *eval.Metrics
	Baseline     *baseline.Result
	ReportPath   string
}

// Run executes every stage in dependency order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{RunID: p.runID}

	tbl, err := p.BuildFeatures(ctx)
	if err != nil {
		return nil, err
	}
	s.FeatureRows = tbl.Len()

	if s.Trained, err = p.Train(ctx); err != nil {
		return nil, err
	}
	if s.Tuned, err = p.Tune(ctx); err != nil {
		return nil, err
	}

	out, err := p.Forecast(ctx)
	if err != nil {
		return nil, err
	}
	s.ForecastRows = len(out)

	if s.Model, err = p.Evaluate(ctx); err != nil {
		return nil, err
	}
	if s.Baseline, err = p.Baseline(ctx); err != nil {
		return nil, err
	}
	if err := p.Report(ctx, s.Model, s.Baseline.Metrics); err != nil {
		return nil, err
	}
	s.ReportPath = p.cfg.ReportPath

	p.log.Info("pipeline finished",
		"model_rmse", s.Model.RMSE,
		"baseline_rmse", s.Baseline.Metrics.RMSE,
		"report", s.ReportPath,
	)
	return s, nil
}

// BuildFeatures derives the feature table from the combined table and
// persists it.
func (p *Pipeline) BuildFeatures(ctx context.Context) (*features.Table, error) {
	var tbl *features.Table
	err := p.stage(ctx, StageFeatures, func(ctx context.Context) error {
		records, err := table.ReadCombined(p.cfg.CombinedPath)
		if err != nil {
			return err
		}
		p.log.Info("loaded combined table", "path", p.cfg.CombinedPath, "rows", len(records))

		tbl, err = features.NewBuilder(p.cfg.StoreTypes).Build(records)
		if err != nil {
			return err
		}
		if err := tbl.Write(p.cfg.FeaturesPath); err != nil {
			return fmt.Errorf("failed to write feature table: %w", err)
		}
		p.log.Info("saved feature table",
			"path", p.cfg.FeaturesPath,
			"rows", tbl.Len(),
			"columns", len(tbl.Columns()),
			"store_types", tbl.Categories,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

// loadFeatures reads the persisted feature table. A file written without its
// store_types line gets the reference store type from the pinned list.
func (p *Pipeline) loadFeatures(ctx context.Context) (*features.Table, error) {
	_, span := otel.StartSpan(ctx, "features.load")
	defer span.End()

	tbl, err := features.Read(p.cfg.FeaturesPath)
	if err != nil {
		return nil, err
	}
	if len(tbl.Categories) > 0 && tbl.Categories[0] == "" && len(p.cfg.StoreTypes) > 0 {
		tbl.Categories[0] = p.cfg.StoreTypes[0]
	}
	span.SetAttributes(otel.DataAttributes(p.cfg.FeaturesPath, tbl.Len(), len(tbl.Columns()))...)
	p.log.Info("loaded feature table", "path", p.cfg.FeaturesPath, "rows", tbl.Len())
	return tbl, nil
}

// Train fits one model with the configured parameters and saves it as the
// trained artifact.
func (p *Pipeline) Train(ctx context.Context) (*trainer.Result, error) {
	var res *trainer.Result
	err := p.stage(ctx, StageTrain, func(ctx context.Context) error {
		tbl, err := p.loadFeatures(ctx)
		if err != nil {
			return err
		}
		ds, fitted, err := trainer.Train(ctx, tbl, p.cfg.Train)
		if err != nil {
			return err
		}
		p.metrics.FitsTotal.Inc()
		p.metrics.FitDuration.Observe(fitted.Duration.Seconds())
		p.metrics.ValidationRMSE.Set(fitted.RMSE)
		p.log.Info("model trained",
			"train_rows", len(ds.XTrain),
			"valid_rows", len(ds.XValid),
			"rmse", fitted.RMSE,
			"params", fitted.Params.String(),
		)

		res = fitted
		return p.saveArtifact(ctx, registry.TrainedName, ds, fitted)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Tune runs the configured grid search and saves the winner as the tuned
// artifact.
func (p *Pipeline) Tune(ctx context.Context) (*tuner.Result, error) {
	var res *tuner.Result
	err := p.stage(ctx, StageTune, func(ctx context.Context) error {
		tbl, err := p.loadFeatures(ctx)
		if err != nil {
			return err
		}
		ds, err := trainer.Split(tbl)
		if err != nil {
			return err
		}

		opts := []tuner.Option{
			tuner.WithWorkers(p.cfg.Workers),
			tuner.WithLogger(p.log),
			tuner.WithMetrics(p.metrics),
			tuner.WithLedger(p.ledger, p.runID),
		}
		if p.fit != nil {
			opts = append(opts, tuner.WithFitFunc(p.fit))
		}
		res, err = tuner.New(opts...).Tune(ctx, ds, p.cfg.Grid, p.cfg.Train)
		if err != nil {
			return err
		}
		return p.saveArtifact(ctx, registry.TunedName, ds, res.Best)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) saveArtifact(ctx context.Context, name string, ds *trainer.Dataset, res *trainer.Result) error {
	art := &registry.Artifact{
		Model: res.Model,
		Card: &registry.ModelCard{
			RunID:          p.runID,
			TrainedAt:      p.now().UTC(),
			Params:         res.Params,
			ValidationRMSE: res.RMSE,
			FeatureColumns: ds.Columns,
			Categories:     ds.Categories,
			Dataset: registry.DatasetInfo{
				NumRows:     ds.NumRows,
				TrainRows:   len(ds.XTrain),
				ValidRows:   len(ds.XValid),
				DatasetHash: ds.DatasetHash,
			},
		},
	}
	hash, err := p.registry.Save(name, art)
	if err != nil {
		return err
	}
	p.log.Info("saved model artifact", "name", name, "path", p.registry.ModelPath(name), "sha256", hash)
	p.record(ctx, runlog.KindArtifact, name,
		map[string]float64{"validation_rmse": res.RMSE},
		map[string]string{"sha256": hash, "params": res.Params.String()})
	return nil
}

// Forecast predicts the full combined table with the configured artifact,
// persists the forecast table and renders the sample plots.
func (p *Pipeline) Forecast(ctx context.Context) ([]table.ForecastRecord, error) {
	var out []table.ForecastRecord
	err := p.stage(ctx, StageForecast, func(ctx context.Context) error {
		records, err := table.ReadCombined(p.cfg.CombinedPath)
		if err != nil {
			return err
		}
		p.log.Info("loaded combined table", "path", p.cfg.CombinedPath, "rows", len(records))

		art, err := p.registry.Load(p.cfg.ArtifactName)
		if err != nil {
			return err
		}
		p.log.Info("loaded model for forecasting", "name", p.cfg.ArtifactName, "params", art.Card.Params.String())

		gen := forecast.NewGenerator(
			forecast.WithCategories(p.cfg.StoreTypes),
			forecast.WithLogger(p.log),
			forecast.WithMetrics(p.metrics),
		)
		out, err = gen.Generate(ctx, records, art)
		if err != nil {
			return err
		}
		if err := table.WriteForecast(p.cfg.ForecastPath, out); err != nil {
			return fmt.Errorf("failed to write forecast table: %w", err)
		}
		p.log.Info("saved forecast table", "path", p.cfg.ForecastPath, "rows", len(out))

		gen.Plot(p.cfg.PlotDir, out, p.cfg.PlotPairs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluate scores the configured artifact on the validation slice of the
// feature table.
func (p *Pipeline) Evaluate(ctx context.Context) (*eval.Metrics, error) {
	var m *eval.Metrics
	err := p.stage(ctx, StageEvaluate, func(ctx context.Context) error {
		tbl, err := p.loadFeatures(ctx)
		if err != nil {
			return err
		}
		art, err := p.registry.Load(p.cfg.ArtifactName)
		if err != nil {
			return err
		}
		m, err = eval.EvaluateModel(tbl, art.Model, art.Card.FeatureColumns)
		if err != nil {
			return err
		}
		p.reportMetrics(ctx, "model", m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// EvaluateForecast scores a persisted forecast table on the same validation
// slice definition.
func (p *Pipeline) EvaluateForecast(ctx context.Context) (*eval.Metrics, error) {
	var m *eval.Metrics
	err := p.stage(ctx, StageEvaluateForecast, func(ctx context.Context) error {
		records, err := table.ReadForecast(p.cfg.ForecastPath)
		if err != nil {
			return err
		}
		m, err = eval.EvaluateForecast(records)
		if err != nil {
			return err
		}
		p.reportMetrics(ctx, "forecast", m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Baseline scores the last-week baseline over the combined table.
func (p *Pipeline) Baseline(ctx context.Context) (*baseline.Result, error) {
	var res *baseline.Result
	err := p.stage(ctx, StageBaseline, func(ctx context.Context) error {
		records, err := table.ReadCombined(p.cfg.CombinedPath)
		if err != nil {
			return err
		}
		res, err = baseline.LastWeek(records)
		if err != nil {
			return err
		}
		p.log.Info("baseline RMSE (last-week sales)",
			"rmse", res.Metrics.RMSE,
			"rows", res.Metrics.N,
			"excluded", res.Excluded,
		)
		p.reportMetrics(ctx, "baseline", res.Metrics)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Report writes the model-versus-baseline comparison table.
func (p *Pipeline) Report(ctx context.Context, model, base *eval.Metrics) error {
	return p.stage(ctx, StageReport, func(ctx context.Context) error {
		rows := []eval.ReportRow{
			{Method: "gbt (" + p.cfg.ArtifactName + ")", Metrics: model},
			{Method: baseline.Method, Metrics: base},
		}
		if err := eval.WriteReport(p.cfg.ReportPath, rows); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		p.log.Info("saved report", "path", p.cfg.ReportPath)
		if model.RMSE >= base.RMSE {
			p.log.Warn("model does not beat the last-week baseline",
				"model_rmse", model.RMSE, "baseline_rmse", base.RMSE)
		}
		return nil
	})
}

// Show returns one series of the forecast table.
func (p *Pipeline) Show(key table.SeriesKey) (*forecast.Selection, error) {
	store, err := forecast.NewStore(p.cfg.ForecastPath, 0)
	if err != nil {
		return nil, err
	}
	return store.Select(key)
}

func (p *Pipeline) reportMetrics(ctx context.Context, source string, m *eval.Metrics) {
	p.metrics.ObserveEval(source, m.RMSE, m.MAPE, m.SMAPE)
	p.log.Info("evaluation",
		"source", source,
		"rows", m.N,
		"rmse", m.RMSE,
		"mape", eval.FormatPercent(m.MAPE),
		"mape_rows", m.MAPERows,
		"smape", eval.FormatPercent(m.SMAPE),
		"residual_mean", m.ResidualMean,
		"residual_std", m.ResidualStd,
	)

	values := map[string]float64{
		"rmse":          m.RMSE,
		"rows":          float64(m.N),
		"residual_mean": m.ResidualMean,
		"residual_std":  m.ResidualStd,
	}
	if m.MAPE != nil {
		values["mape"] = *m.MAPE
	}
	if m.SMAPE != nil {
		values["smape"] = *m.SMAPE
	}
	p.record(ctx, runlog.KindMetric, source, values, nil)
}
