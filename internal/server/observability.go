package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Observability wires tracing and the subsystem's metric instruments. It
// implements adaptive.Metrics.
type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider     *sdktrace.TracerProvider
	CycleCounter      metric.Int64Counter
	ProbeDuration     metric.Int64Histogram
	DeployCounter     metric.Int64Counter
	OptimizerFailures metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "adaptd"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	cycleCounter, _ := meter.Int64Counter("adapt_cycle_total")
	probeDuration, _ := meter.Int64Histogram("adapt_probe_duration_ms")
	deployCounter, _ := meter.Int64Counter("adapt_deploy_total")
	optimizerFailures, _ := meter.Int64Counter("adapt_optimizer_failure_total")
	return &Observability{
		Tracer:            tracer,
		Meter:             meter,
		traceProvider:     tp,
		CycleCounter:      cycleCounter,
		ProbeDuration:     probeDuration,
		DeployCounter:     deployCounter,
		OptimizerFailures: optimizerFailures,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkCycle(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.CycleCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkProbe(ctx context.Context, detector string, durationMS int64) {
	if o == nil {
		return
	}
	o.ProbeDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("detector", detector),
	))
}

func (o *Observability) MarkDeploy(ctx context.Context) {
	if o == nil {
		return
	}
	o.DeployCounter.Add(ctx, 1)
}

func (o *Observability) MarkOptimizerFailure(ctx context.Context) {
	if o == nil {
		return
	}
	o.OptimizerFailures.Add(ctx, 1)
}
