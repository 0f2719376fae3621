package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// MultiInstance covers both instance-generation variants: when node.MultiInstance.AprioriCount is known at design (or
// registration) time, Enable spawns every instance at once; when it is
// zero, instances are spawned one at a time by an explicit Engine.Trigger
// call (the "a priori runtime knowledge" and "without a priori knowledge"
// variants collapse into the same mechanism — the only difference is
// whether Enable or Trigger does the spawning). The completion predicate
// is "all" (node.MultiInstance.Threshold == 0) or an N-of-M threshold;
// once satisfied, every instance still pending is cancelled. Also serves
// WCP27 Complete Multiple Instance (threshold == total spawned so far).
type MultiInstance struct{}

type miInstance struct {
	ItemID    uuid.UUID
	Completed bool
	Cancelled bool
}

type multiInstanceState struct {
	Instances []miInstance
	Completed int
	Closed    bool // true once no further instances will be spawned
}

func miSpec(node Node) MultiInstanceSpec {
	if node.MultiInstance == nil {
		return MultiInstanceSpec{AprioriCount: 1}
	}
	return *node.MultiInstance
}

func (MultiInstance) Enable(c *caselife.Case, node Node, inputs map[string]interface{}) []string {
	spec := miSpec(node)
	st := multiInstanceState{}
	if spec.AprioriCount > 0 {
		st.Closed = true
	}
	setState(c, node, st)

	if spec.AprioriCount <= 0 {
		return nil
	}
	toOffer := make([]string, spec.AprioriCount)
	for i := range toOffer {
		toOffer[i] = node.ID
	}
	return toOffer
}

func (MultiInstance) record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string) {
	st := getState[multiInstanceState](c, node, multiInstanceState{})
	st.Instances = append(st.Instances, miInstance{ItemID: itemID})
	setState(c, node, st)
}

// Step handles instance completion/cancellation bookkeeping and, for a
// runtime-spawned trigger, requests one more instance be offered.
func (MultiInstance) Step(c *caselife.Case, node Node, ev Event) []string {
	st := getState[multiInstanceState](c, node, multiInstanceState{})
	switch ev.Kind {
	case EventTrigger:
		if st.Closed {
			return nil
		}
		return []string{node.ID}
	case EventInstanceCompleted:
		for i := range st.Instances {
			if st.Instances[i].ItemID == ev.WorkItemID && !st.Instances[i].Completed {
				st.Instances[i].Completed = true
				st.Completed++
				setState(c, node, st)
				return nil
			}
		}
	case EventInstanceCancelled:
		for i := range st.Instances {
			if st.Instances[i].ItemID == ev.WorkItemID {
				st.Instances[i].Cancelled = true
				setState(c, node, st)
				return nil
			}
		}
	}
	return nil
}

// CloseInstances marks that no further runtime triggers will occur,
// required for "all" completion semantics on a runtime-spawned node. It
// is exported for the engine to call explicitly (spec gives no signal
// for this in-band; it is an out-of-band operator/caller decision).
func (MultiInstance) CloseInstances(c *caselife.Case, node Node) {
	st := getState[multiInstanceState](c, node, multiInstanceState{})
	st.Closed = true
	setState(c, node, st)
}

func (MultiInstance) IsComplete(c *caselife.Case, node Node) bool {
	st := getState[multiInstanceState](c, node, multiInstanceState{})
	if len(st.Instances) == 0 {
		return false
	}
	threshold := miSpec(node).Threshold
	if threshold > 0 {
		return st.Completed >= threshold
	}
	return st.Closed && st.Completed == len(st.Instances)
}

func (MultiInstance) EmitEvents(c *caselife.Case, node Node) []Emitted {
	st := getState[multiInstanceState](c, node, multiInstanceState{})
	var pending []uuid.UUID
	for _, inst := range st.Instances {
		if !inst.Completed && !inst.Cancelled {
			pending = append(pending, inst.ItemID)
		}
	}
	em := Emitted{CancelItems: pending}
	if len(node.Outgoing) > 0 {
		em.EnableTaskID = node.Outgoing[0]
	}
	if em.EnableTaskID == "" && len(pending) == 0 {
		return nil
	}
	return []Emitted{em}
}

var _ Pattern = MultiInstance{}
