package warmengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

func sampleSnapshot() *ontology.Snapshot {
	return ontology.NewSnapshot("", ontology.SnapshotMeta{Version: "v1"}, []ontology.Triple{
		{Subject: "ex:Task", Predicate: "rdf:type", Object: "ex:TaskClass"},
		{Subject: "ex:Case", Predicate: "ex:hasTask", Object: "ex:Task"},
	})
}

func TestCacheEvalHitsAndInvalidatesOnEpochChange(t *testing.T) {
	cache := NewCache()
	calls := 0
	cache.Register(Plan{
		ID: "count-types",
		Run: func(snap *ontology.Snapshot, params Params) (interface{}, error) {
			calls++
			return len(snap.Triples), nil
		},
	})

	snap := sampleSnapshot()
	v1, err := cache.Eval(snap, "count-types", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v1)
	assert.Equal(t, 1, calls)

	v2, err := cache.Eval(snap, "count-types", nil)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls, "second eval against same epoch must hit cache")

	next := ontology.NewSnapshot(snap.ID, ontology.SnapshotMeta{Version: "v2"},
		append(append([]ontology.Triple{}, snap.Triples...), ontology.Triple{Subject: "ex:X", Predicate: "ex:Y", Object: "ex:Z"}))
	v3, err := cache.Eval(next, "count-types", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, v3)
	assert.Equal(t, 2, calls, "snapshot change must invalidate the cache entry")
}

func TestCacheEvalUnknownPlan(t *testing.T) {
	cache := NewCache()
	_, err := cache.Eval(sampleSnapshot(), "missing", nil)
	require.Error(t, err)
}

func TestConstruct8ExecuteResolvesParams(t *testing.T) {
	snap := sampleSnapshot()
	tmpl := Construct8Template{
		Patterns: [8]TriplePattern{
			{Subject: "?case", Predicate: "ex:hasTask", Object: "ex:Task"},
		},
		Len: 1,
	}
	out, err := Execute(tmpl, snap, Params{"case": "ex:Case"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ex:Case", out[0].Subject)
}

func TestConstruct8ExecuteSkipsUnmatchedPattern(t *testing.T) {
	snap := sampleSnapshot()
	tmpl := Construct8Template{
		Patterns: [8]TriplePattern{
			{Subject: "ex:Nothing", Predicate: "ex:hasTask", Object: "ex:Task"},
		},
		Len: 1,
	}
	out, err := Execute(tmpl, snap, Params{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConstruct8ExecuteRejectsUnboundParam(t *testing.T) {
	snap := sampleSnapshot()
	tmpl := Construct8Template{
		Patterns: [8]TriplePattern{
			{Subject: "?missing", Predicate: "ex:hasTask", Object: "ex:Task"},
		},
		Len: 1,
	}
	_, err := Execute(tmpl, snap, Params{})
	require.Error(t, err)
}

func TestCachedServesDegradeToCacheFallback(t *testing.T) {
	cache := NewCache()
	healthy := true
	cache.Register(Plan{
		ID: "flaky",
		Run: func(snap *ontology.Snapshot, params Params) (interface{}, error) {
			if !healthy {
				return nil, assert.AnError
			}
			return "fresh", nil
		},
	})

	snap := sampleSnapshot()
	_, ok := cache.Cached(snap.ID, "flaky", nil)
	assert.False(t, ok, "no fallback before a successful eval")

	_, err := cache.Eval(snap, "flaky", nil)
	require.NoError(t, err)

	healthy = false
	_, err = cache.Eval(snap, "flaky", nil)
	require.Error(t, err)

	v, ok := cache.Cached(snap.ID, "flaky", nil)
	require.True(t, ok, "failed eval must not evict the prior success")
	assert.Equal(t, "fresh", v)
}
