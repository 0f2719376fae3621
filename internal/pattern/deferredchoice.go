package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// DeferredChoice enables all branches as candidates simultaneously; the
// first external
// event on any branch wins, and the pattern engine performs a single
// compare-and-swap on the chosen-branch slot so losers are cancelled
// exactly once no matter how many external events race in. Also serves
// as the approximation for Interleaved Parallel Routing (mutual exclusion
// among the same candidates, re-armed per round) and Milestone (a single
// always-available "candidate" gated by a case.Data flag — see
// DESIGN.md).
type DeferredChoice struct{}

type deferredChoiceState struct {
	Candidates []uuid.UUID // ordered 1:1 with node.Outgoing
	Chosen     int         // index into Candidates/Outgoing; -1 until decided
}

func (DeferredChoice) Enable(c *caselife.Case, node Node, inputs map[string]interface{}) []string {
	st := deferredChoiceState{Chosen: -1}
	setState(c, node, st)
	toOffer := make([]string, len(node.Outgoing))
	for i, out := range node.Outgoing {
		toOffer[i] = out
	}
	return toOffer
}

func (DeferredChoice) record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string) {
	st := getState[deferredChoiceState](c, node, deferredChoiceState{Chosen: -1})
	st.Candidates = append(st.Candidates, itemID)
	setState(c, node, st)
}

// Step performs the atomic CAS: only the first EventExternalChoice for a
// candidate not already superseded sets Chosen. Every subsequent event is
// discarded, which is what makes the "single compare-and-swap" atomic
// under the case-local lock this runs inside.
func (DeferredChoice) Step(c *caselife.Case, node Node, ev Event) []string {
	if ev.Kind != EventExternalChoice {
		return nil
	}
	st := getState[deferredChoiceState](c, node, deferredChoiceState{Chosen: -1})
	if st.Chosen != -1 {
		return nil
	}
	for i, id := range st.Candidates {
		if id == ev.WorkItemID {
			st.Chosen = i
			setState(c, node, st)
			return nil
		}
	}
	return nil
}

func (DeferredChoice) IsComplete(c *caselife.Case, node Node) bool {
	return getState[deferredChoiceState](c, node, deferredChoiceState{Chosen: -1}).Chosen != -1
}

// EmitEvents cancels every candidate except the winner. No downstream
// node is enabled here: the winning branch is already a live work item
// and its own completion drives whatever comes next.
func (DeferredChoice) EmitEvents(c *caselife.Case, node Node) []Emitted {
	st := getState[deferredChoiceState](c, node, deferredChoiceState{Chosen: -1})
	if st.Chosen == -1 {
		return nil
	}
	var losers []uuid.UUID
	for i, id := range st.Candidates {
		if i != st.Chosen {
			losers = append(losers, id)
		}
	}
	if len(losers) == 0 {
		return nil
	}
	return []Emitted{{CancelItems: losers}}
}

var _ Pattern = DeferredChoice{}
