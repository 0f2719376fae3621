// Package pattern implements the pattern engine: a library of
// control-flow pattern state machines, one per van der Aalst pattern,
// driving case progress over the case/work-item lifecycle.
//
// Pattern state is part of the case's data; patterns never hold hidden
// state outside the case. Every concrete Pattern below
// is a stateless singleton: it carries no per-case fields of its own and
// reads/writes all bookkeeping through caselife.Case.Data, keyed by node
// ID, under the case's own lock (caselife.Manager.WithCase).
package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// Pattern is the four-method contract implemented by every
// control-flow pattern. Enable and Step return the task IDs the engine
// should create a fresh Offered work item for as a result (zero, one, or
// many — a join accumulates and returns none until its condition fires; a
// split or multi-instance spawn returns several at once).
type Pattern interface {
	Enable(c *caselife.Case, node Node, inputs map[string]interface{}) (toOffer []string)
	Step(c *caselife.Case, node Node, ev Event) (toOffer []string)
	IsComplete(c *caselife.Case, node Node) bool
	EmitEvents(c *caselife.Case, node Node) []Emitted

	// record associates a work item the engine just created with this
	// node's bookkeeping (e.g. a join's arrival count, a deferred
	// choice's candidate-branch map, a multi-instance's instance list).
	// It is engine-internal plumbing, not one of the four spec-named
	// methods, needed because Enable/Step run before the work item they
	// requested exists.
	record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string)
}

func stateKey(nodeID string) string { return "pattern:" + nodeID }

func getState[T any](c *caselife.Case, node Node, zero T) T {
	v, ok := c.Data[stateKey(node.ID)]
	if !ok {
		return zero
	}
	s, ok := v.(T)
	if !ok {
		return zero
	}
	return s
}

func setState[T any](c *caselife.Case, node Node, s T) {
	c.Data[stateKey(node.ID)] = s
}
