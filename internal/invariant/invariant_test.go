package invariant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/clock"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

func baseSnapshot() *ontology.Snapshot {
	return ontology.NewSnapshot("", ontology.SnapshotMeta{Version: "v1"}, []ontology.Triple{
		{Subject: "ex:Task", Predicate: "rdf:type", Object: "ex:TaskClass"},
		{Subject: "ex:Case", Predicate: "ex:hasTask", Object: "ex:Task"},
	})
}

func TestEvaluateRejectsMalformedOverlay(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	t1 := ontology.Triple{Subject: "a", Predicate: "b", Object: "c"}
	ov := ontology.Overlay{Base: baseSnapshot().ID, Additions: []ontology.Triple{t1}, Removals: []ontology.Triple{t1}}

	report, err := eng.Evaluate(baseSnapshot(), ov)
	require.NoError(t, err)
	assert.False(t, report.Passed)
}

func TestEvaluateEnforcesGuardRunLength(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 2)
	base := baseSnapshot()
	ov := ontology.Overlay{
		Base: base.ID,
		Additions: []ontology.Triple{
			{Subject: "a", Predicate: "p", Object: "1"},
			{Subject: "b", Predicate: "p", Object: "2"},
			{Subject: "c", Predicate: "p", Object: "3"},
		},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "guard-run-length", report.Violations[0].Rule)
}

func TestEvaluateRejectsTypingViolation(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	eng.RequireType("ex:hasTask", "ex:TaskClass")

	base := baseSnapshot()
	ov := ontology.Overlay{
		Base: base.ID,
		Additions: []ontology.Triple{
			{Subject: "ex:Case2", Predicate: "ex:hasTask", Object: "ex:UntypedTask"},
		},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "typing", report.Violations[0].Rule)
}

func TestEvaluateRejectsOverlayConsistencyViolation(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	base := baseSnapshot()
	ov := ontology.Overlay{
		Base:     base.ID,
		Removals: []ontology.Triple{{Subject: "never", Predicate: "present", Object: "here"}},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "overlay-consistency", report.Violations[0].Rule)
}

func TestEvaluateRejectsRetrocausation(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	base := baseSnapshot()
	ov := ontology.Overlay{
		Base: base.ID,
		Additions: []ontology.Triple{
			{Subject: "ex:Derived", Predicate: "prov:wasDerivedFrom", Object: "ex:Source"},
			{Subject: "ex:Derived", Predicate: "prov:generatedAtTime", Object: "2026-01-01T00:00:00Z"},
			{Subject: "ex:Source", Predicate: "prov:generatedAtTime", Object: "2026-06-01T00:00:00Z"},
		},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "structural-monotonicity", report.Violations[0].Rule)
}

func TestEvaluatePassesForwardDerivation(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	base := baseSnapshot()
	ov := ontology.Overlay{
		Base: base.ID,
		Additions: []ontology.Triple{
			{Subject: "ex:Derived", Predicate: "prov:wasDerivedFrom", Object: "ex:Source"},
			{Subject: "ex:Derived", Predicate: "prov:generatedAtTime", Object: "200"},
			{Subject: "ex:Source", Predicate: "prov:generatedAtTime", Object: "100"},
		},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestEvaluateRejectsUnparseableGeneratedAt(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	base := baseSnapshot()
	ov := ontology.Overlay{
		Base: base.ID,
		Additions: []ontology.Triple{
			{Subject: "ex:Derived", Predicate: "prov:wasDerivedFrom", Object: "ex:Source"},
			{Subject: "ex:Derived", Predicate: "prov:generatedAtTime", Object: "yesterday-ish"},
			{Subject: "ex:Source", Predicate: "prov:generatedAtTime", Object: "100"},
		},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "structural-monotonicity", report.Violations[0].Rule)
}

func TestEvaluateRejectsSLOViolation(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 64)
	base := baseSnapshot()

	ov := ontology.Overlay{Base: base.ID}
	for i := 0; i < 9; i++ {
		ov.Additions = append(ov.Additions, ontology.Triple{
			Subject:   "ex:Fat",
			Predicate: "ex:hasMember",
			Object:    "ex:Member" + string(rune('A'+i)),
		})
	}

	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "slo-simulation", report.Violations[0].Rule)
}

func TestEvaluateAcceptsFullHotSliceGroup(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 64)
	base := baseSnapshot()

	ov := ontology.Overlay{Base: base.ID}
	for i := 0; i < 8; i++ {
		ov.Additions = append(ov.Additions, ontology.Triple{
			Subject:   "ex:Full",
			Predicate: "ex:hasMember",
			Object:    "ex:Member" + string(rune('A'+i)),
		})
	}

	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestEvaluatePassesCleanOverlay(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	base := baseSnapshot()
	ov := ontology.Overlay{
		Base:      base.ID,
		Additions: []ontology.Triple{{Subject: "ex:Task2", Predicate: "rdf:type", Object: "ex:TaskClass"}},
	}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Violations)
}

func TestEvaluateEnforcesPerformanceRegressionBound(t *testing.T) {
	eng := New(ontology.NewMemoryStore(baseSnapshot()), 8)
	eng.WithRegressionBound(RegressionBound{
		Tier:   clock.Warm,
		MaxP95: 1000,
		Measured: func(clock.Class) clock.Ticks {
			return 5000
		},
	})
	base := baseSnapshot()
	ov := ontology.Overlay{Base: base.ID}
	report, err := eng.Evaluate(base, ov)
	require.NoError(t, err)
	require.False(t, report.Passed)
	assert.Equal(t, "performance-regression", report.Violations[0].Rule)
}

func TestValidateShapeRequiresMinCount(t *testing.T) {
	snap := baseSnapshot()
	shape := Shape{Name: "task-has-type", Target: "ex:Task", Predicate: "rdf:type", MinCount: 1}
	report := ValidateShape(snap, shape)
	assert.True(t, report.Passed)

	missing := Shape{Name: "task-has-label", Target: "ex:Task", Predicate: "rdfs:label", MinCount: 1}
	report = ValidateShape(snap, missing)
	assert.False(t, report.Passed)
}
