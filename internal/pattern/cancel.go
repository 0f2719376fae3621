package pattern

import (
	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// CancelRegion is the catalog entry for Cancel Region / Cancel Case,
// registered so every cancellation-family
// pattern name resolves to something. Unlike the other patterns, the
// actual mechanism is not node-local: a cancellation identifies a region
// (or the whole case) and must sweep every live work item in it, which
// Engine.CancelRegion/CancelCase perform directly using the generation
// counter in Case.Data (see engine.go). This type's own Enable/Step are
// a no-op; a node carrying this pattern has no ordinary work item of its
// own; it exists purely so a workflow graph can name a cancellation
// trigger as a task like any other.
type CancelRegion struct{}

func (CancelRegion) Enable(c *caselife.Case, node Node, inputs map[string]interface{}) []string {
	return nil
}

func (CancelRegion) Step(c *caselife.Case, node Node, ev Event) []string { return nil }

func (CancelRegion) IsComplete(c *caselife.Case, node Node) bool { return true }

func (CancelRegion) EmitEvents(c *caselife.Case, node Node) []Emitted { return nil }

func (CancelRegion) record(c *caselife.Case, node Node, itemID uuid.UUID, taskID string) {}

var _ Pattern = CancelRegion{}

// generationKey namespaces the per-region cancellation generation counter
// stored in Case.Data: cancellation increments the counter, and any
// event carrying a stale counter is discarded.
func generationKey(region string) string { return "cancel_gen:" + region }

// Generation returns the current generation counter for a region (or the
// whole-case region ""), defaulting to 0.
func Generation(c *caselife.Case, region string) uint64 {
	v, ok := c.Data[generationKey(region)]
	if !ok {
		return 0
	}
	g, ok := v.(uint64)
	if !ok {
		return 0
	}
	return g
}

// bumpGeneration atomically (under the case lock the caller already
// holds) increments a region's generation counter and returns the new
// value. Events stamped with an older value must be discarded by callers
// checking Generation against the value they were enqueued with.
func bumpGeneration(c *caselife.Case, region string) uint64 {
	next := Generation(c, region) + 1
	c.Data[generationKey(region)] = next
	return next
}
