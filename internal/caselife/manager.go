package caselife

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/clock"
	"github.com/antigravity-dev/ontoflow/internal/receipt"
	"github.com/antigravity-dev/ontoflow/internal/scheduler"
	"github.com/antigravity-dev/ontoflow/internal/telemetry"
)

var (
	// ErrCaseNotFound is returned when a case ID has no entry.
	ErrCaseNotFound = errors.New("caselife: case not found")
	// ErrWorkItemNotFound is returned when an item ID has no entry in its case.
	ErrWorkItemNotFound = errors.New("caselife: work item not found")
	// ErrIllegalTransition marks a precondition-violation: the work item
	// (or case) is not in a state the requested operation accepts.
	ErrIllegalTransition = errors.New("caselife: illegal state transition")
	// ErrTenantMismatch marks a rejected cross-tenant access.
	ErrTenantMismatch = errors.New("caselife: tenant mismatch")
)

// Manager owns the in-memory case table and is the sole mutator of case
// and work-item state. Cases are independent: operations on the same case
// serialise via its case-local lock, while different cases proceed in
// parallel.
type Manager struct {
	mu     sync.RWMutex
	cases  map[uuid.UUID]*Case
	log    receipt.Log
	logger *slog.Logger
	sched  *scheduler.Scheduler
	tel    *telemetry.Emitter
}

// SetEmitter wires a validating telemetry emitter into the manager. It
// is optional: a nil (or never-called) emitter makes every
// transition's span emission a no-op, which is also why emitSpan below
// only ever logs emitter errors rather than failing the transition —
// telemetry must never be able to block workflow progress.
func (m *Manager) SetEmitter(tel *telemetry.Emitter) { m.tel = tel }

// NewManager builds a Manager. sched may be nil: work offered then has
// no scheduler hook and Offer becomes a pure bookkeeping operation
// (useful for tests and for callers that drive the scheduler
// themselves).
func NewManager(log receipt.Log, logger *slog.Logger, sched *scheduler.Scheduler) *Manager {
	return &Manager{
		cases:  make(map[uuid.UUID]*Case),
		log:    log,
		logger: logger,
		sched:  sched,
	}
}

func (m *Manager) getCase(id uuid.UUID) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	}
	return c, nil
}

func (m *Manager) checkTenant(c *Case, sess *SessionHandle) error {
	if sess == nil {
		return nil
	}
	if c.Tenant != sess.Tenant {
		return fmt.Errorf("%w: case %s belongs to tenant %q, session is tenant %q", ErrTenantMismatch, c.ID, c.Tenant, sess.Tenant)
	}
	return nil
}

// CreateCase instantiates a case against a registered workflow spec (spec
// §6 "create case"). The case begins Created and is moved to Running as
// soon as its first work item is offered.
func (m *Manager) CreateCase(sess *SessionHandle, spec WorkflowSpecRef) (*Case, error) {
	tenant := TenantID("")
	if sess != nil {
		tenant = sess.Tenant
	}

	c := newCase(tenant, spec)

	m.mu.Lock()
	m.cases[c.ID] = c
	m.mu.Unlock()

	c.mu.Lock()
	c.History = append(c.History, Event{CaseID: c.ID, Kind: EventCaseCreated, Timestamp: c.Created})
	c.mu.Unlock()

	if err := m.emitReceipt(clock.Warm, c, uuid.Nil, EventCaseCreated, ""); err != nil {
		m.warn("emit receipt failed", "op", "create_case", "case", c.ID, "err", err)
	}
	return c, nil
}

// CancelCase transitions a case to Cancelled and cascades Cancel to every
// work item not already in a terminal state.
func (m *Manager) CancelCase(sess *SessionHandle, caseID uuid.UUID) error {
	c, err := m.getCase(caseID)
	if err != nil {
		return err
	}
	if err := m.checkTenant(c, sess); err != nil {
		return err
	}

	c.mu.Lock()
	if c.State == CaseCompleted || c.State == CaseCancelled || c.State == CaseFailed {
		c.mu.Unlock()
		return fmt.Errorf("%w: case %s is %s", ErrIllegalTransition, caseID, c.State)
	}
	c.State = CaseCancelled
	c.Updated = time.Now().UTC()
	c.History = append(c.History, Event{CaseID: caseID, Kind: EventCaseCancelled, Timestamp: c.Updated})

	var live []uuid.UUID
	for id, w := range c.Items {
		if w.State != Completed && w.State != Cancelled && w.State != Failed {
			live = append(live, id)
		}
	}
	c.mu.Unlock()

	for _, id := range live {
		if _, err := m.transition(sess, c, id, []WorkItemState{Offered, Allocated, Started, Suspended}, Cancelled, EventItemCancelled, nil); err != nil {
			m.warn("cascade cancel failed", "case", caseID, "item", id, "err", err)
		}
	}

	if err := m.emitReceipt(clock.Warm, c, uuid.Nil, EventCaseCancelled, ""); err != nil {
		m.warn("emit receipt failed", "op", "cancel_case", "case", c.ID, "err", err)
	}
	return nil
}

// SuspendCase transitions a Running case to Suspended.
func (m *Manager) SuspendCase(sess *SessionHandle, caseID uuid.UUID) error {
	return m.setCaseState(sess, caseID, CaseRunning, CaseSuspended, EventCaseSuspended)
}

// ResumeCase transitions a Suspended case back to Running.
func (m *Manager) ResumeCase(sess *SessionHandle, caseID uuid.UUID) error {
	return m.setCaseState(sess, caseID, CaseSuspended, CaseRunning, EventCaseResumed)
}

// CompleteCase transitions a Running case to Completed, normally invoked
// once the pattern engine reports the case's terminal task reached.
func (m *Manager) CompleteCase(sess *SessionHandle, caseID uuid.UUID) error {
	return m.setCaseState(sess, caseID, CaseRunning, CaseCompleted, EventCaseCompleted)
}

// FailCase transitions a non-terminal case to Failed.
func (m *Manager) FailCase(sess *SessionHandle, caseID uuid.UUID) error {
	c, err := m.getCase(caseID)
	if err != nil {
		return err
	}
	if err := m.checkTenant(c, sess); err != nil {
		return err
	}
	c.mu.Lock()
	if c.State == CaseCompleted || c.State == CaseCancelled || c.State == CaseFailed {
		c.mu.Unlock()
		return fmt.Errorf("%w: case %s is %s", ErrIllegalTransition, caseID, c.State)
	}
	c.State = CaseFailed
	c.Updated = time.Now().UTC()
	c.History = append(c.History, Event{CaseID: caseID, Kind: EventCaseFailed, Timestamp: c.Updated})
	c.mu.Unlock()

	if err := m.emitReceipt(clock.Warm, c, uuid.Nil, EventCaseFailed, ""); err != nil {
		m.warn("emit receipt failed", "op", "fail_case", "case", c.ID, "err", err)
	}
	return nil
}

func (m *Manager) setCaseState(sess *SessionHandle, caseID uuid.UUID, from, to CaseState, kind EventKind) error {
	c, err := m.getCase(caseID)
	if err != nil {
		return err
	}
	if err := m.checkTenant(c, sess); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != from {
		return fmt.Errorf("%w: case %s is %s, expected %s", ErrIllegalTransition, caseID, c.State, from)
	}
	c.State = to
	c.Updated = time.Now().UTC()
	c.History = append(c.History, Event{CaseID: caseID, Kind: kind, Timestamp: c.Updated})

	if err := m.emitReceipt(clock.Warm, c, uuid.Nil, kind, ""); err != nil {
		m.warn("emit receipt failed", "op", kind.String(), "case", c.ID, "err", err)
	}
	return nil
}

// Offer creates a new Offered work item for taskID and binds it to the
// given candidate resource set (spec's Offered state: a candidate
// resource has been identified but has not yet claimed the item).
func (m *Manager) Offer(sess *SessionHandle, caseID uuid.UUID, taskID, resource string) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	if err := m.checkTenant(c, sess); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.State != CaseCreated && c.State != CaseRunning {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: case %s is %s, cannot offer work", ErrIllegalTransition, caseID, c.State)
	}
	if c.State == CaseCreated {
		c.State = CaseRunning
	}

	now := time.Now().UTC()
	w := &WorkItem{
		ID:        uuid.New(),
		CaseID:    caseID,
		TaskID:    taskID,
		State:     Offered,
		Resource:  resource,
		Data:      make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.Items[w.ID] = w
	c.Enabled[taskID] = struct{}{}
	c.History = append(c.History, Event{CaseID: caseID, WorkItemID: w.ID, Kind: EventOffered, TaskID: taskID, Resource: resource, Timestamp: now})
	c.Updated = now
	c.mu.Unlock()

	if err := m.emitReceipt(clock.Warm, c, w.ID, EventOffered, resource); err != nil {
		m.warn("emit receipt failed", "op", "offer", "case", c.ID, "item", w.ID, "err", err)
	}
	m.enqueueHook(c, w)

	return w.clone(), nil
}

// Allocate claims an Offered item for a specific resource.
func (m *Manager) Allocate(sess *SessionHandle, caseID, itemID uuid.UUID, resource string) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Offered}, Allocated, EventAllocated, func(w *WorkItem) {
		w.Resource = resource
	})
}

// Start begins execution of an Allocated item.
func (m *Manager) Start(sess *SessionHandle, caseID, itemID uuid.UUID) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Allocated}, Started, EventStarted, nil)
}

// Complete finishes a Started item, merging output into both the item's
// local data and the case's shared data map.
func (m *Manager) Complete(sess *SessionHandle, caseID, itemID uuid.UUID, output map[string]interface{}) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transitionWithCase(sess, c, itemID, []WorkItemState{Started}, Completed, EventItemCompleted, func(cs *Case, w *WorkItem) {
		for k, v := range output {
			w.Data[k] = v
			cs.Data[k] = v
		}
	})
}

// Fail marks a Started item Failed, recording reason in its local data.
func (m *Manager) Fail(sess *SessionHandle, caseID, itemID uuid.UUID, reason string) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Started}, Failed, EventItemFailed, func(w *WorkItem) {
		w.Data["failure_reason"] = reason
	})
}

// Cancel transitions any non-terminal item to Cancelled.
func (m *Manager) Cancel(sess *SessionHandle, caseID, itemID uuid.UUID) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Offered, Allocated, Started, Suspended}, Cancelled, EventItemCancelled, nil)
}

// Suspend pauses a Started item.
func (m *Manager) Suspend(sess *SessionHandle, caseID, itemID uuid.UUID) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Started}, Suspended, EventSuspended, nil)
}

// Unsuspend resumes a Suspended item back to Started.
func (m *Manager) Unsuspend(sess *SessionHandle, caseID, itemID uuid.UUID) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Suspended}, Started, EventUnsuspended, nil)
}

// Delegate transfers ownership of a Started item to a new resource
// without changing its state.
func (m *Manager) Delegate(sess *SessionHandle, caseID, itemID uuid.UUID, newResource string) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Started}, Started, EventDelegated, func(w *WorkItem) {
		w.Resource = newResource
	})
}

// Deallocate withdraws an Allocated item's claim, returning it to Offered.
func (m *Manager) Deallocate(sess *SessionHandle, caseID, itemID uuid.UUID) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Allocated}, Offered, EventDeallocated, func(w *WorkItem) {
		w.Resource = ""
	})
}

// Reoffer returns an Allocated or Suspended item to the Offered pool,
// typically after a resource fails to make progress.
func (m *Manager) Reoffer(sess *SessionHandle, caseID, itemID uuid.UUID) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Allocated, Suspended}, Offered, EventReoffered, func(w *WorkItem) {
		w.Resource = ""
	})
}

// ReallocateStateless moves a Started or Suspended item to a new resource
// and discards its local data.
func (m *Manager) ReallocateStateless(sess *SessionHandle, caseID, itemID uuid.UUID, newResource string) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Started, Suspended}, Allocated, EventReallocatedStateless, func(w *WorkItem) {
		w.Resource = newResource
		w.Data = make(map[string]interface{})
	})
}

// ReallocateStateful moves a Started or Suspended item to a new resource
// and preserves its local data.
func (m *Manager) ReallocateStateful(sess *SessionHandle, caseID, itemID uuid.UUID, newResource string) (*WorkItem, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return nil, err
	}
	return m.transition(sess, c, itemID, []WorkItemState{Started, Suspended}, Allocated, EventReallocatedStateful, func(w *WorkItem) {
		w.Resource = newResource
	})
}

func stateIn(s WorkItemState, set []WorkItemState) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// transition validates the precondition, mutates the item atomically under
// the case lock, appends an event, and emits a receipt — the four steps
// every Interface-B operation performs.
func (m *Manager) transition(sess *SessionHandle, c *Case, itemID uuid.UUID, from []WorkItemState, to WorkItemState, kind EventKind, mutate func(*WorkItem)) (*WorkItem, error) {
	return m.transitionWithCase(sess, c, itemID, from, to, kind, func(_ *Case, w *WorkItem) {
		if mutate != nil {
			mutate(w)
		}
	})
}

func (m *Manager) transitionWithCase(sess *SessionHandle, c *Case, itemID uuid.UUID, from []WorkItemState, to WorkItemState, kind EventKind, mutate func(*Case, *WorkItem)) (*WorkItem, error) {
	if err := m.checkTenant(c, sess); err != nil {
		return nil, err
	}

	c.mu.Lock()
	w, ok := c.Items[itemID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	if !stateIn(w.State, from) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: item %s is %s, op requires one of %v", ErrIllegalTransition, itemID, w.State, from)
	}
	fromState := w.State

	if mutate != nil {
		mutate(c, w)
	}
	w.State = to
	now := time.Now().UTC()
	w.UpdatedAt = now
	c.Updated = now
	c.History = append(c.History, Event{
		CaseID: c.ID, WorkItemID: itemID, Kind: kind, TaskID: w.TaskID,
		Resource: w.Resource, Timestamp: now, Data: cloneData(w.Data),
	})
	result := w.clone()
	c.mu.Unlock()

	if err := m.emitReceipt(clock.Warm, c, itemID, kind, result.Resource); err != nil {
		m.warn("emit receipt failed", "op", kind.String(), "case", c.ID, "item", itemID, "err", err)
	}
	m.emitSpan(c, itemID, kind, fromState, to)
	return result, nil
}

// emitSpan records a caselife.work_item.transition span through the
// optional telemetry emitter. Schema or instrument errors are logged and
// swallowed: a malformed span must never fail a state transition.
func (m *Manager) emitSpan(c *Case, itemID uuid.UUID, kind EventKind, from, to WorkItemState) {
	if m.tel == nil {
		return
	}
	_, span, err := m.tel.StartSpan(context.Background(), "caselife.work_item.transition", map[string]interface{}{
		"tier":         clock.Warm.String(),
		"snapshot_id":  c.Spec.SnapshotID.String(),
		"session_id":   "",
		"tenant_id":    string(c.Tenant),
		"receipt_id":   "",
		"case_id":      c.ID.String(),
		"work_item_id": itemID.String(),
		"from_state":   from.String(),
		"to_state":     to.String(),
	})
	if err != nil {
		m.warn("emit span failed", "op", kind.String(), "case", c.ID, "item", itemID, "err", err)
		return
	}
	span.End()
}

// emitReceipt appends a receipt binding this transition to the case's
// originating ontology snapshot. The action hash and mu-hash are both the
// digest of the transition's own description: for a pure state-machine
// transition the action *is* the function of its observed inputs, so the
// two coincide by construction.
func (m *Manager) emitReceipt(class clock.Class, c *Case, itemID uuid.UUID, kind EventKind, resource string) error {
	if m.log == nil {
		return nil
	}
	desc := fmt.Sprintf("%s|%s|%s|%s|%d", c.ID, itemID, kind, resource, time.Now().UnixNano())
	h := digest.FromString(desc)

	r, err := receipt.New(c.Spec.SnapshotID, h, h, class, 0)
	if err != nil {
		return err
	}
	_, err = m.log.Append(r)
	return err
}

// enqueueHook posts the newly offered work item's admission task on the
// scheduler: pattern progress drives case state, and case state enqueues
// work. The task ID is derived from the item's
// UUID so the item lands on its deterministic home core, the task is
// tenant-tagged from the owning case, and its replay record carries the
// (case, item) pair as input hash and the item's offered-state digest as
// output hash. It is a no-op when the Manager has no scheduler wired in.
func (m *Manager) enqueueHook(c *Case, w *WorkItem) {
	if m.sched == nil {
		return
	}
	itemID := w.ID
	in := digest.FromString(c.ID.String() + "|" + itemID.String())
	out := digest.FromString(itemID.String() + "|" + Offered.String())
	if err := m.sched.Submit(scheduler.Task{
		ID:     taskIDFromUUID(itemID),
		Core:   -1,
		Class:  clock.Warm,
		Tenant: string(c.Tenant),
		Input:  in,
		Run: func(ctx context.Context) (digest.Digest, error) {
			return out, nil
		},
	}); err != nil {
		m.warn("scheduler enqueue failed", "case", c.ID, "item", itemID, "err", err)
	}
}

// taskIDFromUUID folds a work-item UUID's first eight bytes into the
// uint64 task identity the scheduler places by (home core = ID mod N).
func taskIDFromUUID(id uuid.UUID) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

func (m *Manager) warn(msg string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

// WithCase runs fn against the live case under its case-local lock. It is
// the hook the pattern engine uses to read and write pattern state
// colocated in Case.Data — pattern state lives in the case's data, never
// outside it — using the same lock every work-item transition already
// serialises on.
func (m *Manager) WithCase(caseID uuid.UUID, fn func(*Case) error) error {
	c, err := m.getCase(caseID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c)
}

// Case returns a consistent snapshot of case state for a reader.
func (m *Manager) Case(caseID uuid.UUID) (Case, error) {
	c, err := m.getCase(caseID)
	if err != nil {
		return Case{}, err
	}
	return c.Snapshot(), nil
}
