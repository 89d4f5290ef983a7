package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by every span in this module.
const TracerName = "github.com/fractal-lba/salesforecast"

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Environment       string
	CollectorEndpoint string // Empty disables export; spans are still created
	CollectorInsecure bool
	SamplingRate      float64 // 0.0 to 1.0 (1.0 = always sample)
}

// DefaultConfig returns batch-job defaults with export disabled
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:       serviceName,
		ServiceVersion:    "0.1.0",
		Environment:       "development",
		CollectorEndpoint: "",
		CollectorInsecure: true,
		SamplingRate:      1.0,
	}
}

// InitTracer initializes OpenTelemetry tracing and installs the provider globally
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("salesforecast")
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	}

	if config.CollectorEndpoint != "" {
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
		if config.CollectorInsecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes and stops the tracer provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan starts a span on the module tracer with optional attributes
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, spanName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError records an error on a span with optional message
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	// Pipeline attributes
	AttrRunID = attribute.Key("pipeline.run_id")
	AttrStage = attribute.Key("pipeline.stage")

	// Data attributes
	AttrRows    = attribute.Key("data.rows")
	AttrColumns = attribute.Key("data.columns")
	AttrPath    = attribute.Key("data.path")

	// Model attributes
	AttrTrial           = attribute.Key("tuning.trial")
	AttrNEstimators     = attribute.Key("gbt.n_estimators")
	AttrMaxDepth        = attribute.Key("gbt.max_depth")
	AttrLearningRate    = attribute.Key("gbt.learning_rate")
	AttrSubsample       = attribute.Key("gbt.subsample")
	AttrColsampleByTree = attribute.Key("gbt.colsample_bytree")
	AttrRMSE            = attribute.Key("eval.rmse")
)

func StageAttributes(runID, stage string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrStage.String(stage),
	}
	if runID != "" {
		attrs = append(attrs, AttrRunID.String(runID))
	}
	return attrs
}

func DataAttributes(path string, rows, columns int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPath.String(path),
		AttrRows.Int(rows),
		AttrColumns.Int(columns),
	}
}

func TrialAttributes(trial, nEstimators, maxDepth int, learningRate, subsample, colsample float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTrial.Int(trial),
		AttrNEstimators.Int(nEstimators),
		AttrMaxDepth.Int(maxDepth),
		AttrLearningRate.Float64(learningRate),
		AttrSubsample.Float64(subsample),
		AttrColsampleByTree.Float64(colsample),
	}
}
