// Package invariant implements the invariant engine: the gate every
// candidate ontology overlay must pass before the candidate snapshot it
// produces can be validated and promoted.
package invariant

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/antigravity-dev/ontoflow/internal/clock"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// Violation names one failed check and the rule that produced it.
type Violation struct {
	Rule    string
	Message string
}

// Report is the result of evaluating all invariants against a candidate.
type Report struct {
	Passed     bool
	Violations []Violation
}

func (r *Report) fail(rule, format string, args ...interface{}) {
	r.Passed = false
	r.Violations = append(r.Violations, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// Shape is an ad-hoc, SHACL-style structural constraint: every subject
// matching Target must have at least one triple matching Predicate, and
// when Object is non-empty every such triple's object must equal it.
type Shape struct {
	Name      string
	Target    string // subject, or subject prefix ending in "*"
	Predicate string
	Object    string // optional; empty means "any object accepted"
	MinCount  int
}

// ReferenceWorkload is a representative set of (base, overlay) application
// costs the performance-non-regression check replays against the
// candidate.
type ReferenceWorkload struct {
	Name     string
	Tier     clock.Class
	P95Ticks clock.Ticks
}

// RegressionBound is the configured ceiling a reference workload's measured
// p95 must not exceed after a candidate is promoted.
type RegressionBound struct {
	Tier     clock.Class
	MaxP95   clock.Ticks
	Measured func(clock.Class) clock.Ticks
}

// Engine runs the five named invariants (typing, guard run length, SLO
// simulation, structural monotonicity, performance non-regression) plus
// ad-hoc shape validation against an ontology store.
type Engine struct {
	store             ontology.Store
	maxGuardRunLength int
	requiredTypes     map[string]string // predicate -> expected rdf:type of its object, when known
	regressionBounds  []RegressionBound
}

// New constructs an Engine bound to a store. maxGuardRunLength is the
// longest permitted chain of dependent guard evaluations for any single
// Hot-class primitive sequence.
func New(store ontology.Store, maxGuardRunLength int) *Engine {
	if maxGuardRunLength <= 0 {
		maxGuardRunLength = 8
	}
	return &Engine{
		store:             store,
		maxGuardRunLength: maxGuardRunLength,
		requiredTypes:     make(map[string]string),
	}
}

// RequireType registers a typing rule: any triple with the given predicate
// must have an object that itself carries an `rdf:type` triple to
// expectedType somewhere in the candidate snapshot.
func (e *Engine) RequireType(predicate, expectedType string) {
	e.requiredTypes[predicate] = expectedType
}

// WithRegressionBound registers a performance-non-regression ceiling that
// every future Evaluate call checks.
func (e *Engine) WithRegressionBound(b RegressionBound) {
	e.regressionBounds = append(e.regressionBounds, b)
}

// Evaluate runs all five invariants against the candidate snapshot produced
// by applying ov to base, without promoting it.
func (e *Engine) Evaluate(base *ontology.Snapshot, ov ontology.Overlay) (Report, error) {
	var report Report
	report.Passed = true

	if err := ov.Validate(); err != nil {
		report.fail("overlay-shape", "%v", err)
		return report, nil
	}

	candidateTriples := ov.Apply(base.Triples)

	e.checkTyping(&report, candidateTriples)
	e.checkGuardRunLength(&report, ov)
	e.checkOverlayConsistency(&report, base.Triples, ov)
	e.checkStructuralMonotonicity(&report, candidateTriples)
	e.checkSLOSimulation(&report, candidateTriples)
	e.checkPerformanceRegression(&report)

	return report, nil
}

// checkTyping enforces that every object of a typed predicate carries the
// expected rdf:type somewhere in the candidate.
func (e *Engine) checkTyping(report *Report, triples []ontology.Triple) {
	if len(e.requiredTypes) == 0 {
		return
	}
	types := make(map[string]map[string]bool) // subject -> set of rdf:type objects
	for _, t := range triples {
		if t.Predicate == "rdf:type" {
			if types[t.Subject] == nil {
				types[t.Subject] = make(map[string]bool)
			}
			types[t.Subject][t.Object] = true
		}
	}
	for _, t := range triples {
		expected, ok := e.requiredTypes[t.Predicate]
		if !ok {
			continue
		}
		if !types[t.Object][expected] {
			report.fail("typing", "object %q of predicate %q is not typed %q", t.Object, t.Predicate, expected)
		}
	}
}

// checkGuardRunLength bounds the dependent-evaluation chain an overlay can
// induce: the engine treats additions+removals as the worst-case guard run
// a Hot-class primitive would have to walk, and rejects overlays that would
// force a run longer than the configured (≤8-tick) ceiling.
func (e *Engine) checkGuardRunLength(report *Report, ov ontology.Overlay) {
	runLength := len(ov.Additions) + len(ov.Removals)
	if runLength > e.maxGuardRunLength {
		report.fail("guard-run-length", "overlay touches %d triples, exceeds max guard run length %d", runLength, e.maxGuardRunLength)
	}
}

// checkOverlayConsistency rejects overlays that would delete a triple
// never present in base, or add a triple that duplicates one already
// present unmodified — signs of a malformed or replayed overlay.
func (e *Engine) checkOverlayConsistency(report *Report, base []ontology.Triple, ov ontology.Overlay) {
	present := make(map[ontology.Triple]bool, len(base))
	for _, t := range base {
		present[t] = true
	}
	for _, removed := range ov.Removals {
		if !present[removed] {
			report.fail("overlay-consistency", "removal %+v does not exist in base snapshot", removed)
		}
	}
	for _, added := range ov.Additions {
		if present[added] {
			report.fail("overlay-consistency", "addition %+v already exists in base snapshot", added)
		}
	}
}

// Derivation provenance vocabulary. A subject carrying a
// prov:wasDerivedFrom edge is a derived entity; prov:generatedAtTime
// stamps its creation as an RFC3339 literal or an integer tick count.
const (
	predDerivedFrom = "prov:wasDerivedFrom"
	predGeneratedAt = "prov:generatedAtTime"
)

// checkStructuralMonotonicity enforces no-retrocausation: a derived
// entity's generation timestamp must be >= its source's. Derivations
// where either side is unstamped are not comparable and pass; a stamped
// but unparseable timestamp is rejected, since the bound cannot be
// proved over it.
func (e *Engine) checkStructuralMonotonicity(report *Report, candidate []ontology.Triple) {
	generated := make(map[string]string)
	for _, t := range candidate {
		if t.Predicate == predGeneratedAt {
			generated[t.Subject] = t.Object
		}
	}
	for _, t := range candidate {
		if t.Predicate != predDerivedFrom {
			continue
		}
		derivedRaw, ok := generated[t.Subject]
		if !ok {
			continue
		}
		sourceRaw, ok := generated[t.Object]
		if !ok {
			continue
		}
		derivedAt, err := parseGeneratedAt(derivedRaw)
		if err != nil {
			report.fail("structural-monotonicity", "derived %q has unparseable %s %q", t.Subject, predGeneratedAt, derivedRaw)
			continue
		}
		sourceAt, err := parseGeneratedAt(sourceRaw)
		if err != nil {
			report.fail("structural-monotonicity", "source %q has unparseable %s %q", t.Object, predGeneratedAt, sourceRaw)
			continue
		}
		if derivedAt < sourceAt {
			report.fail("structural-monotonicity", "derived %q generated at %q precedes its source %q generated at %q",
				t.Subject, derivedRaw, t.Object, sourceRaw)
		}
	}
}

// parseGeneratedAt normalizes a prov:generatedAtTime literal to a
// comparable integer: RFC3339 timestamps become Unix nanoseconds, bare
// integers are taken as tick counts. A graph must stamp consistently in
// one form or the other for the comparison to be meaningful.
func parseGeneratedAt(raw string) (int64, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UnixNano(), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// checkSLOSimulation proves a static Hot-budget bound over the candidate:
// a Hot primitive scans one (subject, predicate) slot group per call, one
// slot comparison per tick, so any group larger than the 8-tick Hot
// budget cannot be proved to fit and is rejected without simulation.
func (e *Engine) checkSLOSimulation(report *Report, candidate []ontology.Triple) {
	groups := make(map[[2]string]int)
	for _, t := range candidate {
		groups[[2]string{t.Subject, t.Predicate}]++
	}

	var over [][2]string
	for key, n := range groups {
		if clock.Ticks(n) > clock.HotBudget {
			over = append(over, key)
		}
	}
	sort.Slice(over, func(i, j int) bool {
		if over[i][0] != over[j][0] {
			return over[i][0] < over[j][0]
		}
		return over[i][1] < over[j][1]
	})
	for _, key := range over {
		report.fail("slo-simulation", "subject %q predicate %q spans %d triples; a hot primitive cannot scan more than %d slots within budget",
			key[0], key[1], groups[key], clock.HotBudget)
	}
}

// checkPerformanceRegression compares each registered regression bound's
// live measurement against its ceiling.
func (e *Engine) checkPerformanceRegression(report *Report) {
	for _, b := range e.regressionBounds {
		if b.Measured == nil {
			continue
		}
		measured := b.Measured(b.Tier)
		if measured > b.MaxP95 {
			report.fail("performance-regression", "%s tier p95 %d ticks exceeds bound %d", b.Tier, measured, b.MaxP95)
		}
	}
}

// ValidateShape runs an ad-hoc SHACL-style structural check against a
// snapshot already materialized.
func ValidateShape(snap *ontology.Snapshot, shape Shape) Report {
	var report Report
	report.Passed = true

	counts := make(map[string]int)
	for _, t := range snap.Triples {
		if !subjectMatches(t.Subject, shape.Target) {
			continue
		}
		if t.Predicate != shape.Predicate {
			continue
		}
		if shape.Object != "" && t.Object != shape.Object {
			continue
		}
		counts[t.Subject]++
	}

	subjects := make(map[string]bool)
	for _, t := range snap.Triples {
		if subjectMatches(t.Subject, shape.Target) {
			subjects[t.Subject] = true
		}
	}

	minCount := shape.MinCount
	if minCount <= 0 {
		minCount = 1
	}
	for subj := range subjects {
		if counts[subj] < minCount {
			report.fail("shape:"+shape.Name, "subject %q has %d matches for predicate %q, want >= %d",
				subj, counts[subj], shape.Predicate, minCount)
		}
	}

	return report
}

func subjectMatches(subject, target string) bool {
	if target == "" {
		return false
	}
	if target[len(target)-1] == '*' {
		prefix := target[:len(target)-1]
		return len(subject) >= len(prefix) && subject[:len(prefix)] == prefix
	}
	return subject == target
}
