package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderConfig configures the OTLP exporters backing a Provider (spec
// §6's "OTel exporter endpoint").
type ProviderConfig struct {
	ServiceName string
	Endpoint    string // host:port, no scheme; empty disables the exporter and traces/metrics are dropped
}

// Provider owns the process-wide tracer and meter providers and their
// shutdown. Callers build exactly one and pass its TracerProvider/
// MeterProvider into NewEmitter.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewProvider builds the tracer and meter providers. With cfg.Endpoint
// empty it still returns a usable Provider backed by an always-sample
// tracer with no exporter attached (spans are created and recorded, just
// never shipped) — useful for tests and for running the validating
// emitter without a collector present.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		))
		if err != nil {
			return nil, fmt.Errorf("telemetry: build otlp trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	// A manual reader keeps metrics collectible (e.g. by a future
	// /metrics handler or a test) without requiring an OTLP metrics
	// exporter dependency the pack never pulled in.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	return &Provider{tp: tp, mp: mp, reader: reader}, nil
}

// Tracer returns the named tracer from this provider's TracerProvider.
func (p *Provider) Tracer(name string) trace.Tracer { return p.tp.Tracer(name) }

// Meter returns the named meter from this provider's MeterProvider.
func (p *Provider) Meter(name string) metric.Meter { return p.mp.Meter(name) }

// Shutdown flushes and stops both providers, bounded by a 5-second
// timeout so process shutdown is never blocked indefinitely on a
// collector that stopped responding.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	if p.tp != nil {
		if e := p.tp.Shutdown(ctx); e != nil {
			err = e
		}
	}
	if p.mp != nil {
		if e := p.mp.Shutdown(ctx); e != nil && err == nil {
			err = e
		}
	}
	return err
}
