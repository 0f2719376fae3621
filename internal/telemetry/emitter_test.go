package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newTestEmitter(t *testing.T) *Emitter {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	e, err := NewEmitter(tp.Tracer("test"), mp.Meter("test"), NewSchema())
	require.NoError(t, err)
	return e
}

func TestStartSpanRejectsUnregisteredName(t *testing.T) {
	e := newTestEmitter(t)
	_, _, err := e.StartSpan(context.Background(), "not.a.real.span", nil)
	assert.Error(t, err)
}

func TestStartSpanRejectsMissingRequiredAttribute(t *testing.T) {
	e := newTestEmitter(t)
	_, _, err := e.StartSpan(context.Background(), "workflow.case.step", map[string]interface{}{
		"tier": "warm",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required attributes")
}

func TestStartSpanSucceedsWithAllRequiredAttributes(t *testing.T) {
	e := newTestEmitter(t)
	_, span, err := e.StartSpan(context.Background(), "workflow.case.step", map[string]interface{}{
		"tier": "warm", "snapshot_id": "sha256:abc", "session_id": "s1",
		"tenant_id": "t1", "receipt_id": "r1", "case_id": "c1",
		"task_id": "task-1", "ticks": int64(42),
	})
	require.NoError(t, err)
	span.End()
}

func TestRecordCounterRejectsWrongKind(t *testing.T) {
	e := newTestEmitter(t)
	err := e.RecordCounter(context.Background(), "ontoflow.scheduler.task_latency", 1, nil)
	assert.Error(t, err, "task_latency is declared as a histogram, not a counter")
}

func TestRecordCounterSucceeds(t *testing.T) {
	e := newTestEmitter(t)
	err := e.RecordCounter(context.Background(), "ontoflow.case.work_items_offered", 1, map[string]interface{}{
		"tier": "warm", "task_id": "task-1",
	})
	assert.NoError(t, err)
}

func TestRecordHistogramSucceeds(t *testing.T) {
	e := newTestEmitter(t)
	err := e.RecordHistogram(context.Background(), "ontoflow.scheduler.task_latency", 12.5, map[string]interface{}{
		"tier": "hot", "core": "0",
	})
	assert.NoError(t, err)
}

func TestSchemaHasNoDuplicateNamesAcrossSpansAndMetrics(t *testing.T) {
	s := NewSchema()
	seen := make(map[string]bool)
	for name := range s.spans {
		require.False(t, seen[name], "duplicate schema name %q", name)
		seen[name] = true
	}
	for name := range s.metrics {
		require.False(t, seen[name], "span/metric name collision %q", name)
		seen[name] = true
	}
}
