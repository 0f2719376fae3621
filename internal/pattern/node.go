package pattern

// PatternID names one of the 43 control-flow patterns a Node can carry.
type PatternID string

// MultiInstanceSpec configures a node whose pattern spawns more than one
// work item per enablement.
type MultiInstanceSpec struct {
	// AprioriCount is the instance count known at design time. Zero means
	// the count is determined at runtime (by Trigger calls).
	AprioriCount int
	// Threshold is the number of instance completions required to fire
	// the join. Zero means "all" (every spawned instance must complete).
	Threshold int
}

// Node is a workflow graph node: a task carrying one pattern, its
// incoming/outgoing edges, and pattern-specific configuration.
type Node struct {
	ID      string
	Pattern PatternID

	Incoming []string
	Outgoing []string

	// MultiInstance is non-nil for nodes using a multi-instance pattern.
	MultiInstance *MultiInstanceSpec

	// Region groups nodes for Cancel Region; Cancel Case
	// cancels every node regardless of Region.
	Region string

	// JoinThreshold overrides the number of distinct incoming branches
	// required to complete an AND-join-family node before all of
	// len(Incoming) are required (serves the partial-join pattern
	// variants — see DESIGN.md's pattern-family mapping).
	JoinThreshold int
}

// Graph is a workflow's node set keyed by Node.ID.
type Graph map[string]Node
