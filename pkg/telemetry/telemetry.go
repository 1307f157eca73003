// Package telemetry wires OpenTelemetry tracing and metrics for the warm
// tier. The reflex tier never touches this package: hot-path numbers are
// accumulated in tick.Stats and exported from here after the fact.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	Enabled        bool
	Insecure       bool
	BatchTimeout   time.Duration
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "reflex-kernel",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider owns the trace and metric providers plus the kernel
// instruments. A disabled provider is a valid no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	executions metric.Int64Counter
	parks      metric.Int64Counter
	violations metric.Int64Counter
	epochs     metric.Int64Counter
	ticksHist  metric.Int64Histogram
}

// New builds a provider. With Enabled false it returns immediately and
// every Record* call is a no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "telemetry"),
	}
	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer("reflex.kernel",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("reflex.kernel",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName, "endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.executions, err = p.meter.Int64Counter("reflex.executions.total",
		metric.WithDescription("Dispatches completed by the reflex tier"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return err
	}
	p.parks, err = p.meter.Int64Counter("reflex.parks.total",
		metric.WithDescription("Executions demoted to the warm tier"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return err
	}
	p.violations, err = p.meter.Int64Counter("reflex.chatman_violations.total",
		metric.WithDescription("Completed executions that exceeded the tick budget"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return err
	}
	p.epochs, err = p.meter.Int64Counter("reflex.epochs.total",
		metric.WithDescription("Epochs closed, by confirmation outcome"),
		metric.WithUnit("{epoch}"))
	if err != nil {
		return err
	}
	p.ticksHist, err = p.meter.Int64Histogram("reflex.execution.ticks",
		metric.WithDescription("Ticks consumed per execution"),
		metric.WithUnit("{tick}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 7, 8, 16, 32))
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("reflex.kernel")
	}
	return p.tracer
}

// RecordExecution counts one dispatch and its tick cost.
func (p *Provider) RecordExecution(ctx context.Context, shard uint32, ticks uint64) {
	if p.executions == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("shard", int(shard)))
	p.executions.Add(ctx, 1, attrs)
	p.ticksHist.Record(ctx, int64(ticks), attrs)
}

// RecordPark counts one demotion by cause.
func (p *Provider) RecordPark(ctx context.Context, shard uint32, cause string) {
	if p.parks == nil {
		return
	}
	p.parks.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("shard", int(shard)),
		attribute.String("cause", cause),
	))
}

// RecordViolation counts a completed over-budget execution.
func (p *Provider) RecordViolation(ctx context.Context, shard uint32) {
	if p.violations == nil {
		return
	}
	p.violations.Add(ctx, 1, metric.WithAttributes(attribute.Int("shard", int(shard))))
}

// EpochClosed implements the epoch Observer contract.
func (p *Provider) EpochClosed(epoch uint64, receipts int, confirmed bool) {
	if p.epochs == nil {
		return
	}
	p.epochs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("confirmed", confirmed),
		attribute.Int("receipts", receipts),
	))
}
