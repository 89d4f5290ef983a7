// Package config holds the explicit configuration handed to every pipeline
// stage. Values come from defaults, then an optional YAML file, then
// SALESFC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/salesforecast/internal/forecast"
	"github.com/fractal-lba/salesforecast/internal/gbt"
	"github.com/fractal-lba/salesforecast/internal/registry"
	"github.com/fractal-lba/salesforecast/internal/runlog"
	"github.com/fractal-lba/salesforecast/internal/table"
	"github.com/fractal-lba/salesforecast/internal/tuner"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvConfigPath names the config file when no path is given.
const EnvConfigPath = "SALESFC_CONFIG"

// Config is the full pipeline configuration.
type Config struct {
	// Tables. Empty paths are derived from DataDir.
	DataDir      string `yaml:"data_dir"`
	CombinedPath string `yaml:"combined_path"`
	FeaturesPath string `yaml:"features_path"`
	ForecastPath string `yaml:"forecast_path"`

	// Artifacts
	ModelDir     string `yaml:"model_dir"`
	ArtifactName string `yaml:"artifact_name"` // Artifact read by forecast and evaluate

	PlotDir    string            `yaml:"plot_dir"`
	PlotPairs  []table.SeriesKey `yaml:"plot_pairs"`
	ReportPath string            `yaml:"report_path"`

	// StoreTypes pins the store-type categories, reference first. Empty means
	// discover them from the data.
	StoreTypes []string `yaml:"store_types"`

	Train   gbt.Params `yaml:"train"`
	Grid    tuner.Grid `yaml:"grid"`
	Workers int        `yaml:"workers"`

	LogMode     string          `yaml:"log_mode"` // "dev" or "prod"
	MetricsPath string          `yaml:"metrics_path"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Ledger      runlog.Config   `yaml:"ledger"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Endpoint     string  `yaml:"endpoint"` // OTLP gRPC collector; empty disables export
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		DataDir:      filepath.Join("data", "processed"),
		ModelDir:     "models",
		ArtifactName: registry.TunedName,
		PlotDir:      filepath.Join("visualizations", "forecasts"),
		PlotPairs:    append([]table.SeriesKey(nil), forecast.DefaultPlotPairs...),
		ReportPath:   filepath.Join("reports", "metrics.md"),
		Train:        gbt.DefaultParams(),
		Grid:         tuner.DefaultGrid(),
		Workers:      runtime.NumCPU(),
		LogMode:      "dev",
		MetricsPath:  filepath.Join("metrics", "salesforecast.prom"),
		Telemetry: TelemetryConfig{
			Insecure:     true,
			SamplingRate: 1.0,
			Environment:  "development",
		},
		Ledger: runlog.Config{
			Backend:   "file",
			Dir:       filepath.Join("data", "runs"),
			RedisAddr: "localhost:6379",
			RedisTTL:  30 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// SALESFC_CONFIG is consulted; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("SALESFC_DATA_DIR", c.DataDir)
	c.CombinedPath = getEnv("SALESFC_COMBINED", c.CombinedPath)
	c.FeaturesPath = getEnv("SALESFC_FEATURES", c.FeaturesPath)
	c.ForecastPath = getEnv("SALESFC_FORECAST", c.ForecastPath)
	c.ModelDir = getEnv("SALESFC_MODEL_DIR", c.ModelDir)
	c.ArtifactName = getEnv("SALESFC_ARTIFACT", c.ArtifactName)
	c.PlotDir = getEnv("SALESFC_PLOT_DIR", c.PlotDir)
	c.ReportPath = getEnv("SALESFC_REPORT", c.ReportPath)
	if v := os.Getenv("SALESFC_STORE_TYPES"); v != "" {
		c.StoreTypes = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.StoreTypes = append(c.StoreTypes, s)
			}
		}
	}

	c.Workers = getEnvInt("SALESFC_WORKERS", c.Workers)
	c.Train.Seed = int64(getEnvInt("SALESFC_SEED", int(c.Train.Seed)))

	c.LogMode = getEnv("SALESFC_LOG_MODE", c.LogMode)
	c.MetricsPath = getEnv("SALESFC_METRICS_PATH", c.MetricsPath)
	c.Telemetry.Endpoint = getEnv("SALESFC_OTEL_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.SamplingRate = getEnvFloat("SALESFC_OTEL_SAMPLING", c.Telemetry.SamplingRate)

	c.Ledger.Backend = getEnv("SALESFC_LEDGER_BACKEND", c.Ledger.Backend)
	c.Ledger.Dir = getEnv("SALESFC_LEDGER_DIR", c.Ledger.Dir)
	c.Ledger.RedisAddr = getEnv("SALESFC_REDIS_ADDR", c.Ledger.RedisAddr)
	c.Ledger.RedisPassword = getEnv("SALESFC_REDIS_PASSWORD", c.Ledger.RedisPassword)
	c.Ledger.PostgresURL = getEnv("SALESFC_POSTGRES_URL", c.Ledger.PostgresURL)
}

func (c *Config) resolvePaths() {
	if c.CombinedPath == "" {
		c.CombinedPath = filepath.Join(c.DataDir, "combined.csv")
	}
	if c.FeaturesPath == "" {
		c.FeaturesPath = filepath.Join(c.DataDir, "features.csv")
	}
	if c.ForecastPath == "" {
		c.ForecastPath = filepath.Join(c.DataDir, "forecast.csv")
	}
}

// Validate checks the configuration for values no stage can run with.
func (c *Config) Validate() error {
	if c.CombinedPath == "" || c.FeaturesPath == "" || c.ForecastPath == "" {
		return fmt.Errorf("%w: table paths must be set", ErrInvalidConfig)
	}
	if c.ModelDir == "" || c.ArtifactName == "" {
		return fmt.Errorf("%w: model_dir and artifact_name must be set", ErrInvalidConfig)
	}
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("%w: train: %v", ErrInvalidConfig, err)
	}
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: grid: %v", ErrInvalidConfig, err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	}
	for _, k := range c.PlotPairs {
		if k.Store < 1 || k.Dept < 1 {
			return fmt.Errorf("%w: plot pair %s", ErrInvalidConfig, k)
		}
	}
	seen := make(map[string]bool, len(c.StoreTypes))
	for _, s := range c.StoreTypes {
		if seen[s] {
			return fmt.Errorf("%w: store type %q listed twice", ErrInvalidConfig, s)
		}
		seen[s] = true
	}
	if c.LogMode != "dev" && c.LogMode != "prod" {
		return fmt.Errorf("%w: log_mode must be dev or prod, got %q", ErrInvalidConfig, c.LogMode)
	}
	if r := c.Telemetry.SamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("%w: telemetry sampling_rate %v outside [0, 1]", ErrInvalidConfig, r)
	}
	switch c.Ledger.Backend {
	case "", "none", "memory", "file", "redis", "postgres":
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, c.Ledger.Backend)
	}
	if c.Ledger.Backend == "postgres" && c.Ledger.PostgresURL == "" {
		return fmt.Errorf("%w: ledger backend postgres needs postgres_url", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
