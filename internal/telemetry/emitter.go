package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Emitter is the validating wrapper around the OTel SDK: every span and
// metric emission is checked against the Schema before it reaches the
// OTel SDK, so a caller that forgets a required attribute (or typos a
// span/metric name) fails the call instead of shipping an incomplete
// trace to a collector that will never be queried for the missing field.
type Emitter struct {
	schema     *Schema
	tracer     trace.Tracer
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewEmitter builds an Emitter over schema, pre-creating every declared
// metric instrument up front: an instrument that fails to construct here
// fails at startup, not on the first emission under load.
func NewEmitter(tracer trace.Tracer, meter metric.Meter, schema *Schema) (*Emitter, error) {
	e := &Emitter{
		schema:     schema,
		tracer:     tracer,
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
	for _, mc := range schema.Metrics() {
		switch mc.Kind {
		case Counter:
			c, err := meter.Int64Counter(mc.Name, metric.WithUnit(mc.Unit))
			if err != nil {
				return nil, fmt.Errorf("telemetry: create counter %q: %w", mc.Name, err)
			}
			e.counters[mc.Name] = c
		case Histogram:
			h, err := meter.Float64Histogram(mc.Name, metric.WithUnit(mc.Unit))
			if err != nil {
				return nil, fmt.Errorf("telemetry: create histogram %q: %w", mc.Name, err)
			}
			e.histograms[mc.Name] = h
		}
	}
	return e, nil
}

func toKeyValues(attrs map[string]interface{}) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return kvs
}

// StartSpan validates name and attrs against the schema, then starts the
// span. Callers must End() the returned span themselves.
func (e *Emitter) StartSpan(ctx context.Context, name string, attrs map[string]interface{}) (context.Context, trace.Span, error) {
	sc, ok := e.schema.Span(name)
	if !ok {
		return ctx, nil, fmt.Errorf("telemetry: span %q is not registered in the schema", name)
	}
	if miss := missing(sc.RequiredAttrs, attrs); len(miss) > 0 {
		return ctx, nil, fmt.Errorf("telemetry: span %q missing required attributes %v", name, miss)
	}
	ctx, span := e.tracer.Start(ctx, name, trace.WithAttributes(toKeyValues(attrs)...))
	return ctx, span, nil
}

// RecordCounter validates name and attrs, then adds value to the
// pre-created counter instrument.
func (e *Emitter) RecordCounter(ctx context.Context, name string, value int64, attrs map[string]interface{}) error {
	mc, ok := e.schema.Metric(name)
	if !ok || mc.Kind != Counter {
		return fmt.Errorf("telemetry: %q is not a registered counter", name)
	}
	if miss := missing(mc.RequiredAttrs, attrs); len(miss) > 0 {
		return fmt.Errorf("telemetry: metric %q missing required attributes %v", name, miss)
	}
	e.counters[name].Add(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
	return nil
}

// RecordHistogram validates name and attrs, then records value against
// the pre-created histogram instrument.
func (e *Emitter) RecordHistogram(ctx context.Context, name string, value float64, attrs map[string]interface{}) error {
	mc, ok := e.schema.Metric(name)
	if !ok || mc.Kind != Histogram {
		return fmt.Errorf("telemetry: %q is not a registered histogram", name)
	}
	if miss := missing(mc.RequiredAttrs, attrs); len(miss) > 0 {
		return fmt.Errorf("telemetry: metric %q missing required attributes %v", name, miss)
	}
	e.histograms[name].Record(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
	return nil
}
