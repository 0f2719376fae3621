package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// Sequence implements the simplest control-flow pattern: a single
// incoming edge fires the node's one work item immediately; on
// completion control passes to the single outgoing edge. It also serves
// as the base mechanism for Arbitrary Cycles and Implicit/Explicit
// Termination (a loop-back edge is just an Outgoing entry pointing at an
// earlier node; termination needs no mechanism of its own: a node with no
// Outgoing entry enables nothing further, and nothing in this package
// detects that a case has finished — see registry.go).
type Sequence struct{}

type sequenceState struct {
	ItemID  uuid.UUID
	Fired   bool
	Done    bool
}

func (Sequence) Enable(c *caselife.Case, node Node, inputs map[string]interface{}) []string {
	st := getState[sequenceState](c, node, sequenceState{})
	if st.Fired {
		return nil
	}
	st.Fired = true
	setState(c, node, st)
	return []string{node.ID}
}

func (Sequence) Step(c *caselife.Case, node Node, ev Event) []string {
	if ev.Kind != EventBranchCompleted {
		return nil
	}
	st := getState[sequenceState](c, node, sequenceState{})
	if st.ItemID == ev.WorkItemID {
		st.Done = true
		setState(c, node, st)
	}
	return nil
}

func (Sequence) IsComplete(c *caselife.Case, node Node) bool {
	return getState[sequenceState](c, node, sequenceState{}).Done
}

func (Sequence) EmitEvents(c *caselife.Case, node Node) []Emitted {
	if len(node.Outgoing) == 0 {
		return nil
	}
	return []Emitted{{EnableTaskID: node.Outgoing[0]}}
}

func (Sequence) record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string) {
	st := getState[sequenceState](c, node, sequenceState{})
	st.ItemID = itemID
	setState(c, node, st)
}

var _ Pattern = Sequence{}
