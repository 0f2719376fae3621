// Package telemetry is the OTel schema registry and validating emitter:
// every span and metric the rest of the tree emits is
// declared here once, with its required attribute keys, so an emitter
// call with a missing attribute or an unregistered name fails loudly
// rather than silently shipping an incomplete trace.
package telemetry

import "fmt"

// MetricKind is the instrument shape a metric schema entry declares.
type MetricKind int

const (
	Counter MetricKind = iota
	Histogram
)

func (k MetricKind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Histogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// SpanSchema declares one span name and the attribute keys every
// emission of it must carry.
type SpanSchema struct {
	Name          string
	RequiredAttrs []string
}

// MetricSchema declares one metric name, its instrument kind, unit, and
// required attribute keys.
type MetricSchema struct {
	Name          string
	Kind          MetricKind
	Unit          string
	RequiredAttrs []string
}

// Schema is the closed set of spans and metrics this service is allowed
// to emit. It is built once at startup (NewSchema) and never mutated by
// emission; an Emitter built over it rejects anything not declared here.
type Schema struct {
	spans   map[string]SpanSchema
	metrics map[string]MetricSchema
}

// NewSchema builds the canonical registry for the case lifecycle,
// pattern engine, ontology store, and scheduler — the components that
// emit runtime telemetry.
func NewSchema() *Schema {
	s := &Schema{
		spans:   make(map[string]SpanSchema),
		metrics: make(map[string]MetricSchema),
	}

	common := []string{"tier", "snapshot_id", "session_id", "tenant_id", "receipt_id"}

	s.mustSpan(SpanSchema{Name: "workflow.case.step", RequiredAttrs: append(append([]string{}, common...), "case_id", "task_id", "ticks")})
	s.mustSpan(SpanSchema{Name: "ontology.snapshot.promote", RequiredAttrs: append(append([]string{}, common...), "parent_snapshot_id")})
	s.mustSpan(SpanSchema{Name: "scheduler.task.dispatch", RequiredAttrs: append(append([]string{}, common...), "core", "ticks")})
	s.mustSpan(SpanSchema{Name: "caselife.work_item.transition", RequiredAttrs: append(append([]string{}, common...), "case_id", "work_item_id", "from_state", "to_state")})
	s.mustSpan(SpanSchema{Name: "pattern.node.enable", RequiredAttrs: append(append([]string{}, common...), "case_id", "node_id", "pattern")})

	s.mustMetric(MetricSchema{Name: "ontoflow.case.work_items_offered", Kind: Counter, Unit: "1", RequiredAttrs: []string{"tier", "task_id"}})
	s.mustMetric(MetricSchema{Name: "ontoflow.scheduler.task_latency", Kind: Histogram, Unit: "ticks", RequiredAttrs: []string{"tier", "core"}})
	s.mustMetric(MetricSchema{Name: "ontoflow.invariant.violations", Kind: Counter, Unit: "1", RequiredAttrs: []string{"session_id", "invariant"}})
	s.mustMetric(MetricSchema{Name: "ontoflow.receipt.emitted", Kind: Counter, Unit: "1", RequiredAttrs: []string{"tier"}})

	return s
}

func (s *Schema) mustSpan(sc SpanSchema) {
	if _, exists := s.spans[sc.Name]; exists {
		panic(fmt.Sprintf("telemetry: duplicate span schema %q", sc.Name))
	}
	s.spans[sc.Name] = sc
}

func (s *Schema) mustMetric(mc MetricSchema) {
	if _, exists := s.metrics[mc.Name]; exists {
		panic(fmt.Sprintf("telemetry: duplicate metric schema %q", mc.Name))
	}
	s.metrics[mc.Name] = mc
}

// Span looks up a registered span schema.
func (s *Schema) Span(name string) (SpanSchema, bool) {
	sc, ok := s.spans[name]
	return sc, ok
}

// Metric looks up a registered metric schema.
func (s *Schema) Metric(name string) (MetricSchema, bool) {
	mc, ok := s.metrics[name]
	return mc, ok
}

// Metrics returns every declared metric schema, used by an Emitter to
// pre-create instruments at construction time.
func (s *Schema) Metrics() []MetricSchema {
	out := make([]MetricSchema, 0, len(s.metrics))
	for _, mc := range s.metrics {
		out = append(out, mc)
	}
	return out
}

func missing(required []string, attrs map[string]interface{}) []string {
	var miss []string
	for _, k := range required {
		if _, ok := attrs[k]; !ok {
			miss = append(miss, k)
		}
	}
	return miss
}
