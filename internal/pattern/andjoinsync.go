package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// ANDJoinSync implements Parallel Split + Synchronization on a single
// node: Enable is called once per
// incoming edge that fires, accumulating arrivals; once the join
// condition is met (all incoming, or node.JoinThreshold of them — the
// generalization that also serves the partial-join pattern family), the
// node's own work item is created exactly once. On its completion,
// EmitEvents enables every outgoing edge atomically (the AND-split half),
// satisfying the invariant that no branch is enabled twice without
// explicit multi-instance semantics.
type ANDJoinSync struct{}

type andJoinState struct {
	Arrived   int
	Fired     bool
	Done      bool
	PrimaryID uuid.UUID
}

func (ANDJoinSync) threshold(node Node) int {
	if node.JoinThreshold > 0 {
		return node.JoinThreshold
	}
	if len(node.Incoming) > 0 {
		return len(node.Incoming)
	}
	return 1
}

func (p ANDJoinSync) Enable(c *caselife.Case, node Node, inputs map[string]interface{}) []string {
	st := getState[andJoinState](c, node, andJoinState{})
	if st.Fired {
		return nil
	}
	st.Arrived++
	if st.Arrived >= p.threshold(node) {
		st.Fired = true
		setState(c, node, st)
		return []string{node.ID}
	}
	setState(c, node, st)
	return nil
}

func (ANDJoinSync) Step(c *caselife.Case, node Node, ev Event) []string {
	if ev.Kind != EventBranchCompleted {
		return nil
	}
	st := getState[andJoinState](c, node, andJoinState{})
	if st.PrimaryID == ev.WorkItemID {
		st.Done = true
		setState(c, node, st)
	}
	return nil
}

func (ANDJoinSync) IsComplete(c *caselife.Case, node Node) bool {
	return getState[andJoinState](c, node, andJoinState{}).Done
}

func (ANDJoinSync) EmitEvents(c *caselife.Case, node Node) []Emitted {
	out := make([]Emitted, 0, len(node.Outgoing))
	for _, id := range node.Outgoing {
		out = append(out, Emitted{EnableTaskID: id})
	}
	return out
}

func (ANDJoinSync) record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string) {
	st := getState[andJoinState](c, node, andJoinState{})
	st.PrimaryID = itemID
	setState(c, node, st)
}

var _ Pattern = ANDJoinSync{}
