package pattern

import "github.com/google/uuid"

// EventKind names what happened to drive a pattern's Step.
type EventKind int

const (
	// EventBranchCompleted: one of a split's downstream work items completed.
	EventBranchCompleted EventKind = iota
	// EventBranchCancelled: one of a split's downstream work items was cancelled.
	EventBranchCancelled
	// EventExternalChoice: an external actor chose a candidate branch
	// (Deferred Choice's "first external event wins").
	EventExternalChoice
	// EventInstanceCompleted: one multi-instance instance completed.
	EventInstanceCompleted
	// EventInstanceCancelled: one multi-instance instance was cancelled.
	EventInstanceCancelled
	// EventTrigger: a runtime trigger spawned a new multi-instance instance.
	EventTrigger
	// EventRegionCancelled: a cancellation swept this node's region.
	EventRegionCancelled
)

// Event is the input to Pattern.Step. WorkItemID identifies the work item
// (branch or instance) the event concerns; TaskID is the originating node.
type Event struct {
	Kind       EventKind
	TaskID     string
	WorkItemID uuid.UUID
	Generation uint64
}

// Emitted is one output of Pattern.EmitEvents: a downstream node to
// enable, or a set of branches to cancel.
type Emitted struct {
	EnableTaskID string
	CancelItems  []uuid.UUID
}
