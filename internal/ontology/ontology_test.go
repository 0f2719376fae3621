package ontology

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTriples() []Triple {
	return []Triple{
		{Subject: "ex:Task", Predicate: "rdf:type", Object: "ex:Class"},
		{Subject: "ex:Case", Predicate: "ex:hasTask", Object: "ex:Task"},
	}
}

func TestComputeIDIsPureFunctionOfContents(t *testing.T) {
	a := ComputeID(sampleTriples())
	b := ComputeID(sampleTriples())
	assert.Equal(t, a, b, "identical triple sets must yield identical IDs")

	reordered := []Triple{sampleTriples()[1], sampleTriples()[0]}
	c := ComputeID(reordered)
	assert.Equal(t, a, c, "order must not affect content address")
}

func TestComputeIDChangesWithContent(t *testing.T) {
	a := ComputeID(sampleTriples())
	changed := append(sampleTriples(), Triple{Subject: "ex:X", Predicate: "ex:Y", Object: "ex:Z"})
	b := ComputeID(changed)
	assert.NotEqual(t, a, b, "any change must produce a different ID")
}

func TestOverlayValidateRejectsOverlappingAddRemove(t *testing.T) {
	t1 := Triple{Subject: "a", Predicate: "b", Object: "c"}
	ov := Overlay{Base: "sha256:root", Additions: []Triple{t1}, Removals: []Triple{t1}}
	require.Error(t, ov.Validate())
}

func newRootStore(t *testing.T) (Store, *Snapshot) {
	t.Helper()
	root := NewSnapshot("", SnapshotMeta{Version: "v1"}, sampleTriples())
	return NewMemoryStore(root), root
}

func TestApplyOverlayAndPromote(t *testing.T) {
	store, root := newRootStore(t)

	ov := Overlay{
		Base:      root.ID,
		Additions: []Triple{{Subject: "ex:Task2", Predicate: "rdf:type", Object: "ex:Class"}},
	}
	candidate, err := store.ApplyOverlay(ov)
	require.NoError(t, err)
	assert.Equal(t, root.ID, candidate.ParentID)

	// Promotion before validation must fail.
	err = store.Promote(candidate.ID)
	require.ErrorIs(t, err, ErrNotValidated)

	store.MarkValidated(candidate.ID)
	require.NoError(t, store.Promote(candidate.ID))
	assert.Equal(t, candidate.ID, store.Current())
}

func TestRollbackRequiresParent(t *testing.T) {
	store, root := newRootStore(t)
	_, err := store.Rollback()
	require.ErrorIs(t, err, ErrNoParent)

	ov := Overlay{Base: root.ID, Additions: []Triple{{Subject: "x", Predicate: "y", Object: "z"}}}
	candidate, err := store.ApplyOverlay(ov)
	require.NoError(t, err)
	store.MarkValidated(candidate.ID)
	require.NoError(t, store.Promote(candidate.ID))

	rolledBackTo, err := store.Rollback()
	require.NoError(t, err)
	assert.Equal(t, root.ID, rolledBackTo)
	assert.Equal(t, root.ID, store.Current())
}

func TestLineageWalksParents(t *testing.T) {
	store, root := newRootStore(t)
	ov := Overlay{Base: root.ID, Additions: []Triple{{Subject: "x", Predicate: "y", Object: "z"}}}
	candidate, err := store.ApplyOverlay(ov)
	require.NoError(t, err)

	lineage, err := store.Lineage(candidate.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, candidate.ID, lineage[0])
	assert.Equal(t, root.ID, lineage[1])
}

func TestConcurrentReadersNeverBlock(t *testing.T) {
	store, root := newRootStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := store.Current()
			snap, err := store.Load(id)
			assert.NoError(t, err)
			assert.Equal(t, root.ID, snap.ID)
		}()
	}
	wg.Wait()
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSQLiteStore(filepath.Join(dir, "ontology.db"))
	require.NoError(t, err)
	defer store.Close()

	root := NewSnapshot("", SnapshotMeta{Version: "v1"}, sampleTriples())
	require.NoError(t, store.Seed(root))
	assert.Equal(t, root.ID, store.Current())

	ov := Overlay{Base: root.ID, Additions: []Triple{{Subject: "a", Predicate: "b", Object: "c"}}}
	candidate, err := store.ApplyOverlay(ov)
	require.NoError(t, err)

	err = store.Promote(candidate.ID)
	require.ErrorIs(t, err, ErrNotValidated)

	store.MarkValidated(candidate.ID)
	require.NoError(t, store.Promote(candidate.ID))
	assert.Equal(t, candidate.ID, store.Current())

	loaded, err := store.Load(candidate.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, candidate.Triples, loaded.Triples)
}
