package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// ExclusiveChoiceMerge implements Exclusive Choice (XOR-split) and Simple
// Merge (XOR-join) on one node: any single incoming arrival fires the
// node's work item immediately (no accumulation, unlike ANDJoinSync) —
// the "merge" half. On completion, exactly one outgoing edge is enabled,
// chosen by inputs["choice"] at Enable time — the "split" half. Also
// serves as the approximation for Multi-Choice and Multi-Merge (callers
// route through the same mechanism by enabling more than one outgoing
// candidate and relying on this node's re-entrancy; see DESIGN.md).
//
// Limitation (documented, not hidden): state is keyed per node ID, so
// this implementation supports one in-flight activation of a given node
// at a time. Concurrent re-entrant activations of the same node (e.g. a
// tight loop racing two tokens into itself) are out of scope.
type ExclusiveChoiceMerge struct{}

type xorState struct {
	ItemID uuid.UUID
	Choice string
	Done   bool
}

func (ExclusiveChoiceMerge) Enable(c *caselife.Case, node Node, inputs map[string]interface{}) []string {
	st := xorState{}
	if choice, ok := inputs["choice"].(string); ok {
		st.Choice = choice
	} else if len(node.Outgoing) > 0 {
		st.Choice = node.Outgoing[0]
	}
	setState(c, node, st)
	return []string{node.ID}
}

func (ExclusiveChoiceMerge) Step(c *caselife.Case, node Node, ev Event) []string {
	if ev.Kind != EventBranchCompleted {
		return nil
	}
	st := getState[xorState](c, node, xorState{})
	if st.ItemID == ev.WorkItemID {
		st.Done = true
		setState(c, node, st)
	}
	return nil
}

func (ExclusiveChoiceMerge) IsComplete(c *caselife.Case, node Node) bool {
	return getState[xorState](c, node, xorState{}).Done
}

func (ExclusiveChoiceMerge) EmitEvents(c *caselife.Case, node Node) []Emitted {
	st := getState[xorState](c, node, xorState{})
	if st.Choice == "" {
		return nil
	}
	return []Emitted{{EnableTaskID: st.Choice}}
}

func (ExclusiveChoiceMerge) record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string) {
	st := getState[xorState](c, node, xorState{})
	st.ItemID = itemID
	setState(c, node, st)
}

var _ Pattern = ExclusiveChoiceMerge{}
