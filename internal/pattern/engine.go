package pattern

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// ownerMapKey namespaces, in Case.Data, a map from work item ID to the
// ID of the node whose pattern is tracking it. This is engine
// bookkeeping, distinct from any individual pattern's own state blob
// (stored under stateKey(nodeID)): it exists because a pattern's
// candidates do not always carry their governing node's ID as their own
// TaskID. DeferredChoice in particular offers each candidate with
// TaskID equal to its own downstream node (so the work item describes
// what it will do, not what chose it), so a naive dispatch keyed on
// item.TaskID would route a candidate's completion back to the wrong
// pattern. The owner map is stamped once per item at creation time,
// by every pattern alike, and is what CompleteItem/CancelItemExternal/
// Choose use to find the Node and Pattern to call Step on.
const ownerMapKey = "pattern:owner"

func owners(c *caselife.Case) map[uuid.UUID]string {
	v, ok := c.Data[ownerMapKey]
	if !ok {
		m := make(map[uuid.UUID]string)
		c.Data[ownerMapKey] = m
		return m
	}
	m, ok := v.(map[uuid.UUID]string)
	if !ok {
		m = make(map[uuid.UUID]string)
		c.Data[ownerMapKey] = m
	}
	return m
}

func setOwner(c *caselife.Case, itemID uuid.UUID, nodeID string) {
	owners(c)[itemID] = nodeID
}

func ownerOf(c *caselife.Case, itemID uuid.UUID) (string, bool) {
	nodeID, ok := owners(c)[itemID]
	return nodeID, ok
}

// Engine drives the 43 pattern state machines over a workflow graph and
// a live case, performing the plan (locked) -> act (unlocked) -> record
// (locked) sequencing needed to avoid taking the case lock
// twice (caselife.Manager's own methods each lock internally, so a
// pattern must never call them from inside a caselife.Manager.WithCase
// callback).
type Engine struct {
	mgr      *caselife.Manager
	graph    Graph
	registry *Registry
	logger   *slog.Logger
}

// NewEngine builds an Engine over a workflow graph, bound to the case
// manager that owns work-item state.
func NewEngine(mgr *caselife.Manager, graph Graph, registry *Registry, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{mgr: mgr, graph: graph, registry: registry, logger: logger}
}

func (e *Engine) node(nodeID string) (Node, error) {
	n, ok := e.graph[nodeID]
	if !ok {
		return Node{}, fmt.Errorf("pattern: unknown node %q", nodeID)
	}
	return n, nil
}

// Enable plans a node's activation under the case lock, creates the
// resulting Offered work items outside the lock, then records their IDs
// back into the pattern's and the owner map's state.
func (e *Engine) Enable(sess *caselife.SessionHandle, caseID uuid.UUID, nodeID string, inputs map[string]interface{}) ([]*caselife.WorkItem, error) {
	node, err := e.node(nodeID)
	if err != nil {
		return nil, err
	}
	pat := e.registry.For(node.Pattern)

	var toOffer []string
	if err := e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		toOffer = pat.Enable(c, node, inputs)
		return nil
	}); err != nil {
		return nil, err
	}
	return e.materialize(sess, caseID, node, pat, toOffer)
}

// Trigger requests one more runtime-spawned instance from a
// multi-instance node (the without-a-priori-knowledge variant), or
// forwards any other EventTrigger-aware pattern.
func (e *Engine) Trigger(sess *caselife.SessionHandle, caseID uuid.UUID, nodeID string) ([]*caselife.WorkItem, error) {
	node, err := e.node(nodeID)
	if err != nil {
		return nil, err
	}
	pat := e.registry.For(node.Pattern)

	var toOffer []string
	if err := e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		toOffer = pat.Step(c, node, Event{Kind: EventTrigger, TaskID: nodeID})
		return nil
	}); err != nil {
		return nil, err
	}
	return e.materialize(sess, caseID, node, pat, toOffer)
}

// materialize performs the unlocked Offer calls for a batch of planned
// task IDs, then re-enters the case lock once to record every created
// item against both its pattern's state and the owner map.
func (e *Engine) materialize(sess *caselife.SessionHandle, caseID uuid.UUID, node Node, pat Pattern, toOffer []string) ([]*caselife.WorkItem, error) {
	if len(toOffer) == 0 {
		return nil, nil
	}

	items := make([]*caselife.WorkItem, 0, len(toOffer))
	for _, taskID := range toOffer {
		w, err := e.mgr.Offer(sess, caseID, taskID, "")
		if err != nil {
			return items, err
		}
		items = append(items, w)
	}

	err := e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		for i, w := range items {
			pat.record(c, node, w.ID, toOffer[i])
			setOwner(c, w.ID, node.ID)
		}
		return nil
	})
	return items, err
}

// CloseInstances marks a runtime-spawned multi-instance node as done
// spawning, required before "all" completion semantics can be satisfied.
// It returns an error if nodeID does not carry a MultiInstance pattern.
func (e *Engine) CloseInstances(caseID uuid.UUID, nodeID string) error {
	node, err := e.node(nodeID)
	if err != nil {
		return err
	}
	mi, ok := e.registry.For(node.Pattern).(MultiInstance)
	if !ok {
		return fmt.Errorf("pattern: node %q is not a multi-instance pattern", nodeID)
	}
	return e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		mi.CloseInstances(c, node)
		return nil
	})
}

// CompleteItem completes a work item through the case manager, then
// steps its governing pattern and, if that pattern's completion
// condition is now satisfied, applies the resulting cancellations and
// recursively enables whatever node comes next.
func (e *Engine) CompleteItem(sess *caselife.SessionHandle, caseID uuid.UUID, itemID uuid.UUID, output map[string]interface{}) error {
	if _, err := e.mgr.Complete(sess, caseID, itemID, output); err != nil {
		return err
	}
	return e.advance(sess, caseID, itemID, EventBranchCompleted, EventInstanceCompleted)
}

// CancelItemExternal cancels a live work item through the case manager
// (an externally driven cancellation, distinct from the cancellations
// Engine itself issues while applying EmitEvents), then steps its
// governing pattern the same way CompleteItem does.
func (e *Engine) CancelItemExternal(sess *caselife.SessionHandle, caseID uuid.UUID, itemID uuid.UUID) error {
	if _, err := e.mgr.Cancel(sess, caseID, itemID); err != nil {
		return err
	}
	return e.advance(sess, caseID, itemID, EventBranchCancelled, EventInstanceCancelled)
}

// Choose resolves a Deferred Choice (or Interleaved Parallel
// Routing / Milestone) candidate as the winner: the first call for a
// node wins outright (Pattern.Step performs the single compare-and-swap
// under the case lock), every later call for the same node is a no-op,
// and the losing candidates are cancelled here.
//
// The winning item's owner stays pointed at the decision node for the
// rest of its life, since DeferredChoice.EmitEvents never names a
// downstream node to enable once it has chosen. A later CompleteItem
// for the winner re-steps the (already-complete) decision pattern,
// which is a harmless no-op rather than progressing the graph further:
// a deferred choice whose winning branch itself needs downstream
// enablement must register that branch's own node as a plain Sequence
// task ahead of time, rather than relying on the decision node to do it.
func (e *Engine) Choose(sess *caselife.SessionHandle, caseID uuid.UUID, itemID uuid.UUID) error {
	return e.advance(sess, caseID, itemID, EventExternalChoice, EventExternalChoice)
}

// advance looks up itemID's governing node via the owner map, steps its
// pattern with the branch-kind event (or the instance-kind event, for
// multi-instance owners), and if this step made the pattern complete, applies
// the resulting EmitEvents outside the case lock: cancel every losing
// item, then recursively Enable whatever downstream node it names.
func (e *Engine) advance(sess *caselife.SessionHandle, caseID uuid.UUID, itemID uuid.UUID, branchKind, instanceKind EventKind) error {
	var node Node
	var pat Pattern
	var emitted []Emitted

	err := e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		nodeID, ok := ownerOf(c, itemID)
		if !ok {
			return fmt.Errorf("pattern: item %s has no recorded owner node", itemID)
		}
		n, ok := e.graph[nodeID]
		if !ok {
			return fmt.Errorf("pattern: owner node %q not in graph", nodeID)
		}
		node = n
		pat = e.registry.For(node.Pattern)

		kind := branchKind
		if _, isMI := pat.(MultiInstance); isMI {
			kind = instanceKind
		}
		wasComplete := pat.IsComplete(c, node)
		pat.Step(c, node, Event{Kind: kind, TaskID: node.ID, WorkItemID: itemID})

		if !wasComplete && pat.IsComplete(c, node) {
			emitted = pat.EmitEvents(c, node)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, em := range emitted {
		for _, loserID := range em.CancelItems {
			if _, err := e.mgr.Cancel(sess, caseID, loserID); err != nil {
				e.warn("cancel losing branch failed", "case", caseID, "item", loserID, "err", err)
			}
		}
		if em.EnableTaskID != "" {
			if _, err := e.Enable(sess, caseID, em.EnableTaskID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// CancelRegion sweeps every live work item whose owning node falls in
// region, bumping the region's generation counter first so any event
// already in flight for a swept item arrives carrying a stale
// generation and can be discarded by its caller. CancelCase is the same
// sweep over every node
// regardless of region, via Manager.CancelCase, which already cascades.
func (e *Engine) CancelRegion(sess *caselife.SessionHandle, caseID uuid.UUID, region string) error {
	var toCancel []uuid.UUID
	err := e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		bumpGeneration(c, region)
		own := owners(c)
		for itemID, w := range c.Items {
			if w.State == caselife.Completed || w.State == caselife.Cancelled || w.State == caselife.Failed {
				continue
			}
			nodeID, ok := own[itemID]
			if !ok {
				continue
			}
			if n, ok := e.graph[nodeID]; ok && n.Region == region {
				toCancel = append(toCancel, itemID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, itemID := range toCancel {
		if _, err := e.mgr.Cancel(sess, caseID, itemID); err != nil {
			e.warn("region cancel failed", "case", caseID, "item", itemID, "region", region, "err", err)
		}
	}
	return nil
}

// CancelCase bumps the whole-case generation counter and delegates to
// Manager.CancelCase, which cascades Cancel to every non-terminal item.
func (e *Engine) CancelCase(sess *caselife.SessionHandle, caseID uuid.UUID) error {
	if err := e.mgr.WithCase(caseID, func(c *caselife.Case) error {
		bumpGeneration(c, "")
		return nil
	}); err != nil {
		return err
	}
	return e.mgr.CancelCase(sess, caseID)
}

func (e *Engine) warn(msg string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
