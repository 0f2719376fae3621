// Package caselife implements the case and work-item lifecycle: case
// state, the Interface-B work-item state machine, and resource binding.
// The 13 Interface-B operations (offer, allocate, start, complete, fail,
// cancel, suspend, unsuspend, delegate, deallocate, reoffer, and stateless
// and stateful reallocate) are pure transitions — each
// validates its precondition, mutates state atomically under a case-local
// lock, emits an event, and emits a receipt.
package caselife

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// TenantID tags state with a tenant so cross-tenant access can be rejected
// at the type level rather than by runtime checks alone.
type TenantID string

// CaseState is one of the six case lifecycle states.
type CaseState int

const (
	CaseCreated CaseState = iota
	CaseRunning
	CaseSuspended
	CaseCompleted
	CaseCancelled
	CaseFailed
)

func (s CaseState) String() string {
	switch s {
	case CaseCreated:
		return "created"
	case CaseRunning:
		return "running"
	case CaseSuspended:
		return "suspended"
	case CaseCompleted:
		return "completed"
	case CaseCancelled:
		return "cancelled"
	case CaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WorkItemState is the Interface-B state machine:
// Offered -> Allocated -> Started -> {Completed|Cancelled|Failed|Suspended}.
type WorkItemState int

const (
	Offered WorkItemState = iota
	Allocated
	Started
	Completed
	Cancelled
	Failed
	Suspended
)

func (s WorkItemState) String() string {
	switch s {
	case Offered:
		return "offered"
	case Allocated:
		return "allocated"
	case Started:
		return "started"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// WorkflowSpecRef identifies the workflow a case instantiates: the
// ontology snapshot the spec was registered into, plus the spec's own URI
// within that snapshot.
type WorkflowSpecRef struct {
	SnapshotID digest.Digest
	SpecURI    string
}

// SessionHandle is the per-case, per-tenant run-time handle carrying
// atomic counters. A handle is never shared across
// tenants; Manager methods that accept one reject a tenant mismatch
// against the target case.
type SessionHandle struct {
	ID     uuid.UUID
	Tenant TenantID

	retries    atomic.Int64
	violations atomic.Int64
}

// NewSession creates a session handle tagged to tenant.
func NewSession(tenant TenantID) *SessionHandle {
	return &SessionHandle{ID: uuid.New(), Tenant: tenant}
}

// IncRetries records one retry against this session.
func (s *SessionHandle) IncRetries() { s.retries.Add(1) }

// IncViolations records one invariant/budget violation against this session.
func (s *SessionHandle) IncViolations() { s.violations.Add(1) }

// Retries reports the session's retry count.
func (s *SessionHandle) Retries() int64 { return s.retries.Load() }

// Violations reports the session's violation count.
func (s *SessionHandle) Violations() int64 { return s.violations.Load() }

// WorkItem is a unit of work offered to, then owned by, a resource within
// a case. Data is the item's local data: stateful
// reallocation preserves it, stateless reallocation discards it.
type WorkItem struct {
	ID       uuid.UUID
	CaseID   uuid.UUID
	TaskID   string
	State    WorkItemState
	Resource string
	Data     map[string]interface{}

	// Generation pins this item to the cancel-region counter active when
	// it was enabled; the pattern engine discards events carrying a
	// stale generation rather than applying them here.
	Generation uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (w *WorkItem) clone() *WorkItem {
	cp := *w
	cp.Data = cloneData(w.Data)
	return &cp
}

func cloneData(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Case is a running workflow instance.
type Case struct {
	ID       uuid.UUID
	Spec     WorkflowSpecRef
	State    CaseState
	Tenant   TenantID
	Data     map[string]interface{}
	Enabled  map[string]struct{} // task IDs currently enabled
	Items    map[uuid.UUID]*WorkItem
	History  []Event
	Created  time.Time
	Updated  time.Time

	mu sync.Mutex // case-local lock: at most one writer per case at any instant
}

func newCase(tenant TenantID, spec WorkflowSpecRef) *Case {
	now := time.Now().UTC()
	return &Case{
		ID:      uuid.New(),
		Spec:    spec,
		State:   CaseCreated,
		Tenant:  tenant,
		Data:    make(map[string]interface{}),
		Enabled: make(map[string]struct{}),
		Items:   make(map[uuid.UUID]*WorkItem),
		Created: now,
		Updated: now,
	}
}

// Snapshot returns a point-in-time, lock-free copy of the case suitable
// for a reader, who never observes a torn case.
func (c *Case) Snapshot() Case {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make(map[uuid.UUID]*WorkItem, len(c.Items))
	for id, w := range c.Items {
		items[id] = w.clone()
	}
	enabled := make(map[string]struct{}, len(c.Enabled))
	for k := range c.Enabled {
		enabled[k] = struct{}{}
	}
	history := make([]Event, len(c.History))
	copy(history, c.History)

	return Case{
		ID:      c.ID,
		Spec:    c.Spec,
		State:   c.State,
		Tenant:  c.Tenant,
		Data:    cloneData(c.Data),
		Enabled: enabled,
		Items:   items,
		History: history,
		Created: c.Created,
		Updated: c.Updated,
	}
}
