package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"smxpscan/internal/config"
	"smxpscan/pkg/contracts"
)

// InstrumentationName names the meter and tracer of this module
const InstrumentationName = "smxpscan"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up the exporters selected in cfg and installs the
// providers globally. Disabled signals keep the global no-op providers.
func InitializeOTel(cfg config.ObservabilityConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
		Tracer: otel.Tracer(InstrumentationName),
		Meter:  otel.Meter(InstrumentationName),
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.String("service", cfg.ServiceName),
		slog.Any("build", contracts.CurrentBuild()),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

func createResource(cfg config.ObservabilityConfig) (*resource.Resource, error) {
	build := contracts.CurrentBuild()
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(build.Version),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
		attribute.String("smxpscan.data_format", build.DataFormat),
		attribute.String("smxpscan.commit", build.GitCommit),
	), nil
}

func initializeTracing(ctx context.Context, cfg config.ObservabilityConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(contracts.Version))
	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

func initializeMetrics(ctx context.Context, cfg config.ObservabilityConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		registry := promclient.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(contracts.Version))
		otel.SetMeterProvider(mp)
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.InfoContext(ctx, "Metrics initialized",
		slog.String("exporter", cfg.MetricExporter))
	return nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// PipelineMetrics are the instruments recorded by ingestion and fitting
type PipelineMetrics struct {
	ScansIngested metric.Int64Counter
	LinesParsed   metric.Int64Counter
	FitAttempts   metric.Int64Counter
	FitsCompleted metric.Int64Counter
	FitDuration   metric.Float64Histogram
}

// NewPipelineMetrics creates the pipeline instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	scans, err := meter.Int64Counter(
		"pscan_files_ingested_total",
		metric.WithDescription("Total number of scan files ingested"),
	)
	if err != nil {
		return nil, err
	}

	lines, err := meter.Int64Counter(
		"pscan_lines_total",
		metric.WithDescription("Data lines read, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter(
		"scurve_fit_attempts_total",
		metric.WithDescription("Minimization attempts, by strategy and outcome"),
	)
	if err != nil {
		return nil, err
	}

	fits, err := meter.Int64Counter(
		"scurve_fits_total",
		metric.WithDescription("Completed comparator fits, by status"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"scurve_fit_duration_seconds",
		metric.WithDescription("Wall time of one comparator fit including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		ScansIngested: scans,
		LinesParsed:   lines,
		FitAttempts:   attempts,
		FitsCompleted: fits,
		FitDuration:   duration,
	}, nil
}

// RecordScan records one ingested file and its line outcomes
func (m *PipelineMetrics) RecordScan(ctx context.Context, accepted, rejected int) {
	if m == nil {
		return
	}
	m.ScansIngested.Add(ctx, 1)
	m.LinesParsed.Add(ctx, int64(accepted), metric.WithAttributes(attribute.String("outcome", "accepted")))
	m.LinesParsed.Add(ctx, int64(rejected), metric.WithAttributes(attribute.String("outcome", "rejected")))
}

// RecordFitAttempt records one minimization attempt
func (m *PipelineMetrics) RecordFitAttempt(ctx context.Context, strategy int, converged bool) {
	if m == nil {
		return
	}
	m.FitAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("strategy", strategy),
		attribute.Bool("converged", converged),
	))
}

// RecordFit records a finished comparator fit
func (m *PipelineMetrics) RecordFit(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.FitsCompleted.Add(ctx, 1, attrs)
	m.FitDuration.Record(ctx, duration.Seconds(), attrs)
}

// AddSpanEvent adds an event to the current span with structured attributes
func AddSpanEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}
