package caselife

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a transition recorded in a case's history. Kinds mirror
// the 13 Interface-B operations plus the case-level lifecycle operations.
type EventKind int

const (
	EventCaseCreated EventKind = iota
	EventCaseCancelled
	EventCaseSuspended
	EventCaseResumed
	EventCaseCompleted
	EventCaseFailed

	EventOffered
	EventAllocated
	EventStarted
	EventItemCompleted
	EventItemCancelled
	EventItemFailed
	EventSuspended
	EventUnsuspended
	EventDelegated
	EventDeallocated
	EventReoffered
	EventReallocatedStateless
	EventReallocatedStateful
)

func (k EventKind) String() string {
	switch k {
	case EventCaseCreated:
		return "case.created"
	case EventCaseCancelled:
		return "case.cancelled"
	case EventCaseSuspended:
		return "case.suspended"
	case EventCaseResumed:
		return "case.resumed"
	case EventCaseCompleted:
		return "case.completed"
	case EventCaseFailed:
		return "case.failed"
	case EventOffered:
		return "item.offered"
	case EventAllocated:
		return "item.allocated"
	case EventStarted:
		return "item.started"
	case EventItemCompleted:
		return "item.completed"
	case EventItemCancelled:
		return "item.cancelled"
	case EventItemFailed:
		return "item.failed"
	case EventSuspended:
		return "item.suspended"
	case EventUnsuspended:
		return "item.unsuspended"
	case EventDelegated:
		return "item.delegated"
	case EventDeallocated:
		return "item.deallocated"
	case EventReoffered:
		return "item.reoffered"
	case EventReallocatedStateless:
		return "item.reallocated_stateless"
	case EventReallocatedStateful:
		return "item.reallocated_stateful"
	default:
		return "unknown"
	}
}

// Event is one entry in a case's history, carrying exactly the attributes
// the event-log export needs: (case_id, activity, timestamp, resource,
// data_attributes...).
type Event struct {
	CaseID     uuid.UUID
	WorkItemID uuid.UUID
	Kind       EventKind
	TaskID     string
	Resource   string
	Timestamp  time.Time
	Data       map[string]interface{}
}
