package pattern

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
	"github.com/antigravity-dev/ontoflow/internal/receipt"
)

func newTestEngine(t *testing.T, graph Graph) (*Engine, *caselife.Manager, *caselife.SessionHandle, uuid.UUID) {
	t.Helper()
	mgr := caselife.NewManager(receipt.NewMemoryLog(), nil, nil)
	sess := caselife.NewSession("tenant-a")
	c, err := mgr.CreateCase(sess, caselife.WorkflowSpecRef{SpecURI: "spec:test"})
	require.NoError(t, err)
	return NewEngine(mgr, graph, NewRegistry(), nil), mgr, sess, c.ID
}

func itemState(t *testing.T, mgr *caselife.Manager, caseID, itemID uuid.UUID) caselife.WorkItemState {
	t.Helper()
	snap, err := mgr.Case(caseID)
	require.NoError(t, err)
	w, ok := snap.Items[itemID]
	require.True(t, ok)
	return w.State
}

// startItem drives an Offered item through Allocated to Started, the
// state caselife.Manager.Complete requires.
func startItem(t *testing.T, mgr *caselife.Manager, sess *caselife.SessionHandle, caseID, itemID uuid.UUID) {
	t.Helper()
	_, err := mgr.Allocate(sess, caseID, itemID, "worker")
	require.NoError(t, err)
	_, err = mgr.Start(sess, caseID, itemID)
	require.NoError(t, err)
}

func TestSequenceThreeTaskChain(t *testing.T) {
	graph := Graph{
		"a": Node{ID: "a", Pattern: WCPSequence, Outgoing: []string{"b"}},
		"b": Node{ID: "b", Pattern: WCPSequence, Incoming: []string{"a"}, Outgoing: []string{"c"}},
		"c": Node{ID: "c", Pattern: WCPSequence, Incoming: []string{"b"}},
	}
	e, mgr, sess, caseID := newTestEngine(t, graph)

	itemsA, err := e.Enable(sess, caseID, "a", nil)
	require.NoError(t, err)
	require.Len(t, itemsA, 1)

	startItem(t, mgr, sess, caseID, itemsA[0].ID)
	require.NoError(t, e.CompleteItem(sess, caseID, itemsA[0].ID, nil))

	snap, err := mgr.Case(caseID)
	require.NoError(t, err)
	var bItem *caselife.WorkItem
	for _, w := range snap.Items {
		if w.TaskID == "b" {
			bItem = w
		}
	}
	require.NotNil(t, bItem, "completing a must enable b")

	startItem(t, mgr, sess, caseID, bItem.ID)
	require.NoError(t, e.CompleteItem(sess, caseID, bItem.ID, nil))

	snap, err = mgr.Case(caseID)
	require.NoError(t, err)
	var cItem *caselife.WorkItem
	for _, w := range snap.Items {
		if w.TaskID == "c" {
			cItem = w
		}
	}
	require.NotNil(t, cItem, "completing b must enable c")
	assert.Equal(t, caselife.Offered, cItem.State)
}

func TestParallelSplitAndSynchronizationFiresJoinExactlyOnceAfterBothBranches(t *testing.T) {
	graph := Graph{
		"start": Node{ID: "start", Pattern: WCPSequence, Outgoing: []string{"split"}},
		"split": Node{ID: "split", Pattern: WCPParallelSplit, Incoming: []string{"start"}, Outgoing: []string{"b1", "b2"}},
		"b1":    Node{ID: "b1", Pattern: WCPSequence, Incoming: []string{"split"}, Outgoing: []string{"join"}},
		"b2":    Node{ID: "b2", Pattern: WCPSequence, Incoming: []string{"split"}, Outgoing: []string{"join"}},
		"join":  Node{ID: "join", Pattern: WCPSynchronization, Incoming: []string{"b1", "b2"}, Outgoing: []string{"end"}},
		"end":   Node{ID: "end", Pattern: WCPSequence, Incoming: []string{"join"}},
	}
	e, mgr, sess, caseID := newTestEngine(t, graph)

	startItems, err := e.Enable(sess, caseID, "start", nil)
	require.NoError(t, err)
	startItem(t, mgr, sess, caseID, startItems[0].ID)
	require.NoError(t, e.CompleteItem(sess, caseID, startItems[0].ID, nil))

	findByTask := func(taskID string) *caselife.WorkItem {
		snap, err := mgr.Case(caseID)
		require.NoError(t, err)
		for _, w := range snap.Items {
			if w.TaskID == taskID {
				return w
			}
		}
		return nil
	}

	splitItem := findByTask("split")
	require.NotNil(t, splitItem, "the single incoming edge fires the split immediately")
	startItem(t, mgr, sess, caseID, splitItem.ID)
	require.NoError(t, e.CompleteItem(sess, caseID, splitItem.ID, nil))

	b1Item := findByTask("b1")
	b2Item := findByTask("b2")
	require.NotNil(t, b1Item, "split fans out to both branches at once")
	require.NotNil(t, b2Item, "split fans out to both branches at once")

	startItem(t, mgr, sess, caseID, b1Item.ID)
	startItem(t, mgr, sess, caseID, b2Item.ID)
	require.NoError(t, e.CompleteItem(sess, caseID, b1Item.ID, nil))
	assert.Nil(t, findByTask("join"), "join must not enable before both branches complete")

	require.NoError(t, e.CompleteItem(sess, caseID, b2Item.ID, nil))
	joinItem := findByTask("join")
	require.NotNil(t, joinItem, "join must enable exactly once both branches have completed")

	startItem(t, mgr, sess, caseID, joinItem.ID)
	require.NoError(t, e.CompleteItem(sess, caseID, joinItem.ID, nil))
	assert.NotNil(t, findByTask("end"))
}

func TestDeferredChoiceFirstExternalEventWinsAndCancelsLoser(t *testing.T) {
	graph := Graph{
		"dc": Node{ID: "dc", Pattern: WCPDeferredChoice, Outgoing: []string{"c1", "c2"}},
	}
	e, mgr, sess, caseID := newTestEngine(t, graph)

	items, err := e.Enable(sess, caseID, "dc", nil)
	require.NoError(t, err)
	require.Len(t, items, 2, "both candidates are offered simultaneously")

	var c1, c2 *caselife.WorkItem
	for _, w := range items {
		if w.TaskID == "c1" {
			c1 = w
		} else {
			c2 = w
		}
	}
	require.NotNil(t, c1)
	require.NotNil(t, c2)

	require.NoError(t, e.Choose(sess, caseID, c1.ID))

	assert.Equal(t, caselife.Cancelled, itemState(t, mgr, caseID, c2.ID), "the losing candidate is cancelled")
	assert.NotEqual(t, caselife.Cancelled, itemState(t, mgr, caseID, c1.ID), "the winner is untouched by the choice itself")

	// A second, later event for the loser must be a no-op: the choice
	// already resolved, so the engine must not attempt to re-cancel or
	// otherwise act on it again.
	require.NoError(t, e.Choose(sess, caseID, c2.ID))
	assert.Equal(t, caselife.Cancelled, itemState(t, mgr, caseID, c2.ID))
}

func TestMultiInstanceRuntimeCountThresholdCancelsRemainingInstances(t *testing.T) {
	graph := Graph{
		"mi":   Node{ID: "mi", Pattern: WCPMultiInstanceWithoutApriori, MultiInstance: &MultiInstanceSpec{AprioriCount: 0, Threshold: 3}, Outgoing: []string{"done"}},
		"done": Node{ID: "done", Pattern: WCPSequence, Incoming: []string{"mi"}},
	}
	e, mgr, sess, caseID := newTestEngine(t, graph)

	items, err := e.Enable(sess, caseID, "mi", nil)
	require.NoError(t, err)
	assert.Empty(t, items, "a runtime-determined count spawns nothing until triggered")

	var instances []*caselife.WorkItem
	for i := 0; i < 5; i++ {
		spawned, err := e.Trigger(sess, caseID, "mi")
		require.NoError(t, err)
		require.Len(t, spawned, 1)
		startItem(t, mgr, sess, caseID, spawned[0].ID)
		instances = append(instances, spawned[0])
	}
	require.Len(t, instances, 5)

	for i := 0; i < 2; i++ {
		require.NoError(t, e.CompleteItem(sess, caseID, instances[i].ID, nil))
	}
	for i := 2; i < 5; i++ {
		assert.Equal(t, caselife.Started, itemState(t, mgr, caseID, instances[i].ID))
	}

	// The third completion crosses the 3-of-5 threshold: the two
	// remaining instances must be cancelled and "done" enabled.
	require.NoError(t, e.CompleteItem(sess, caseID, instances[2].ID, nil))

	assert.Equal(t, caselife.Cancelled, itemState(t, mgr, caseID, instances[3].ID))
	assert.Equal(t, caselife.Cancelled, itemState(t, mgr, caseID, instances[4].ID))

	snap, err := mgr.Case(caseID)
	require.NoError(t, err)
	var doneItem *caselife.WorkItem
	for _, w := range snap.Items {
		if w.TaskID == "done" {
			doneItem = w
		}
	}
	assert.NotNil(t, doneItem, "reaching the threshold enables the join node")
}

func TestCancelRegionSweepsOnlyItsOwnRegion(t *testing.T) {
	graph := Graph{
		"r1a": Node{ID: "r1a", Pattern: WCPSequence, Region: "r1"},
		"r1b": Node{ID: "r1b", Pattern: WCPSequence, Region: "r1"},
		"r2a": Node{ID: "r2a", Pattern: WCPSequence, Region: "r2"},
	}
	e, mgr, sess, caseID := newTestEngine(t, graph)

	i1, err := e.Enable(sess, caseID, "r1a", nil)
	require.NoError(t, err)
	i2, err := e.Enable(sess, caseID, "r1b", nil)
	require.NoError(t, err)
	i3, err := e.Enable(sess, caseID, "r2a", nil)
	require.NoError(t, err)

	require.NoError(t, e.CancelRegion(sess, caseID, "r1"))

	assert.Equal(t, caselife.Cancelled, itemState(t, mgr, caseID, i1[0].ID))
	assert.Equal(t, caselife.Cancelled, itemState(t, mgr, caseID, i2[0].ID))
	assert.Equal(t, caselife.Offered, itemState(t, mgr, caseID, i3[0].ID), "a different region is untouched")
}
