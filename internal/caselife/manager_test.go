package caselife

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/receipt"
)

func newTestManager() *Manager {
	return NewManager(receipt.NewMemoryLog(), nil, nil)
}

func TestCreateCaseStartsInCreatedState(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")

	c, err := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	require.NoError(t, err)
	assert.Equal(t, CaseCreated, c.State)
	assert.Equal(t, TenantID("tenant-a"), c.Tenant)
}

func TestOfferMovesCaseToRunningAndAllowsFullLifecycle(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, err := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	require.NoError(t, err)

	item, err := m.Offer(sess, c.ID, "task-1", "resource-pool")
	require.NoError(t, err)
	assert.Equal(t, Offered, item.State)

	snap, err := m.Case(c.ID)
	require.NoError(t, err)
	assert.Equal(t, CaseRunning, snap.State)

	allocated, err := m.Allocate(sess, c.ID, item.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, Allocated, allocated.State)
	assert.Equal(t, "r1", allocated.Resource)

	started, err := m.Start(sess, c.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, Started, started.State)

	completed, err := m.Complete(sess, c.ID, item.ID, map[string]interface{}{"result": 42})
	require.NoError(t, err)
	assert.Equal(t, Completed, completed.State)
	assert.Equal(t, 42, completed.Data["result"])

	snap, err = m.Case(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Data["result"])
	require.Len(t, snap.History, 5) // created, offered, allocated, started, completed
}

func TestCompleteRejectsIllegalSourceState(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, err := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	require.NoError(t, err)

	item, err := m.Offer(sess, c.ID, "task-1", "resource-pool")
	require.NoError(t, err)

	_, err = m.Complete(sess, c.ID, item.ID, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTenantMismatchRejected(t *testing.T) {
	m := newTestManager()
	owner := NewSession("tenant-a")
	intruder := NewSession("tenant-b")

	c, err := m.CreateCase(owner, WorkflowSpecRef{SpecURI: "spec:seq3"})
	require.NoError(t, err)

	_, err = m.Offer(intruder, c.ID, "task-1", "resource-pool")
	require.ErrorIs(t, err, ErrTenantMismatch)
}

func TestDelegatePreservesStateAndChangesOwner(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	item, _ := m.Offer(sess, c.ID, "task-1", "pool")
	item, _ = m.Allocate(sess, c.ID, item.ID, "r1")
	item, err := m.Start(sess, c.ID, item.ID)
	require.NoError(t, err)

	delegated, err := m.Delegate(sess, c.ID, item.ID, "r2")
	require.NoError(t, err)
	assert.Equal(t, Started, delegated.State)
	assert.Equal(t, "r2", delegated.Resource)
}

func TestReallocateStatelessDiscardsDataStatefulPreserves(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})

	item2, _ := m.Offer(sess, c.ID, "task-2", "pool")
	item2, _ = m.Allocate(sess, c.ID, item2.ID, "r1")
	item2, _ = m.Start(sess, c.ID, item2.ID)
	seedWorkItemData(t, m, c.ID, item2.ID, "draft", "keep-me")

	stateful, err := m.ReallocateStateful(sess, c.ID, item2.ID, "r2")
	require.NoError(t, err)
	assert.Equal(t, Allocated, stateful.State)
	assert.Equal(t, "r2", stateful.Resource)
	assert.Equal(t, "keep-me", stateful.Data["draft"])

	item3, _ := m.Offer(sess, c.ID, "task-3", "pool")
	item3, _ = m.Allocate(sess, c.ID, item3.ID, "r1")
	item3, _ = m.Start(sess, c.ID, item3.ID)
	seedWorkItemData(t, m, c.ID, item3.ID, "draft", "keep-me")

	stateless, err := m.ReallocateStateless(sess, c.ID, item3.ID, "r2")
	require.NoError(t, err)
	assert.Equal(t, Allocated, stateless.State)
	assert.Empty(t, stateless.Data)
}

// seedWorkItemData pokes a value directly into the manager's stored work
// item, standing in for an activity writing local data while Started —
// an operation outside the 13 Interface-B transitions and so not exposed
// on Manager.
func seedWorkItemData(t *testing.T, m *Manager, caseID, itemID uuid.UUID, key string, value interface{}) {
	t.Helper()
	c, err := m.getCase(caseID)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Items[itemID].Data[key] = value
}

func TestCancelCaseCascadesToLiveWorkItems(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})

	a, _ := m.Offer(sess, c.ID, "task-a", "pool")
	b, _ := m.Offer(sess, c.ID, "task-b", "pool")
	b, _ = m.Allocate(sess, c.ID, b.ID, "r1")
	b, _ = m.Start(sess, c.ID, b.ID)
	_, _ = m.Complete(sess, c.ID, b.ID, nil)

	require.NoError(t, m.CancelCase(sess, c.ID))

	snap, err := m.Case(c.ID)
	require.NoError(t, err)
	assert.Equal(t, CaseCancelled, snap.State)
	assert.Equal(t, Cancelled, snap.Items[a.ID].State)
	assert.Equal(t, Completed, snap.Items[b.ID].State, "already-terminal items are untouched by cascade cancel")
}

func TestSuspendAndUnsuspendWorkItem(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	item, _ := m.Offer(sess, c.ID, "task-1", "pool")
	item, _ = m.Allocate(sess, c.ID, item.ID, "r1")
	item, _ = m.Start(sess, c.ID, item.ID)

	suspended, err := m.Suspend(sess, c.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, Suspended, suspended.State)

	resumed, err := m.Unsuspend(sess, c.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, Started, resumed.State)
}

func TestReofferAndDeallocateReturnToOffered(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})

	item, _ := m.Offer(sess, c.ID, "task-1", "pool")
	item, _ = m.Allocate(sess, c.ID, item.ID, "r1")

	back, err := m.Deallocate(sess, c.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, Offered, back.State)
	assert.Empty(t, back.Resource)

	item2, _ := m.Offer(sess, c.ID, "task-2", "pool")
	item2, _ = m.Allocate(sess, c.ID, item2.ID, "r1")
	item2, _ = m.Start(sess, c.ID, item2.ID)
	item2, _ = m.Suspend(sess, c.ID, item2.ID)

	reoffered, err := m.Reoffer(sess, c.ID, item2.ID)
	require.NoError(t, err)
	assert.Equal(t, Offered, reoffered.State)
}

func TestFailTransitionsToTerminalFailedState(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	item, _ := m.Offer(sess, c.ID, "task-1", "pool")
	item, _ = m.Allocate(sess, c.ID, item.ID, "r1")
	item, _ = m.Start(sess, c.ID, item.ID)

	failed, err := m.Fail(sess, c.ID, item.ID, "resource crashed")
	require.NoError(t, err)
	assert.Equal(t, Failed, failed.State)
	assert.Equal(t, "resource crashed", failed.Data["failure_reason"])
}

func TestWorkItemNotFound(t *testing.T) {
	m := newTestManager()
	sess := NewSession("tenant-a")
	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})

	_, err := m.Start(sess, c.ID, uuid.New())
	require.ErrorIs(t, err, ErrWorkItemNotFound)
}

func TestEveryTransitionAppendsAReceipt(t *testing.T) {
	log := receipt.NewMemoryLog()
	m := NewManager(log, nil, nil)
	sess := NewSession("tenant-a")

	c, _ := m.CreateCase(sess, WorkflowSpecRef{SpecURI: "spec:seq3"})
	item, _ := m.Offer(sess, c.ID, "task-1", "pool")
	_, _ = m.Allocate(sess, c.ID, item.ID, "r1")

	require.NoError(t, log.Verify(0, 2))
	r, err := log.Get(2)
	require.NoError(t, err)
	assert.True(t, r.ActionHash == r.MuHash)
}
