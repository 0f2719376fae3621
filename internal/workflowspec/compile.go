package workflowspec

import (
	"fmt"
	"strconv"

	"github.com/antigravity-dev/ontoflow/internal/ontology"
	"github.com/antigravity-dev/ontoflow/internal/pattern"
)

// Recognized predicates in the Turtle subset's workflow vocabulary.
const (
	predHasTask                   = "hasTask"
	predHasPattern                = "hasPattern"
	predHasOutgoing               = "hasOutgoing"
	predHasRegion                 = "hasRegion"
	predHasJoinThreshold          = "hasJoinThreshold"
	predHasMultiInstanceCount     = "hasMultiInstanceCount"
	predHasMultiInstanceThreshold = "hasMultiInstanceThreshold"
)

// CompileGraph interprets a workflow document's triples as a pattern
// graph: hasTask declares a node exists, hasPattern names its control-
// flow pattern, hasOutgoing draws a control-flow edge (Incoming is
// derived automatically by reversing every hasOutgoing edge), and the
// remaining predicates configure region/join/multi-instance behavior.
// Resource bindings and SHACL-style constraints are not control-flow and
// are left in the triple set for the invariant engine to interpret
// against the
// snapshot directly, rather than being folded into the graph here.
func CompileGraph(triples []ontology.Triple) (pattern.Graph, error) {
	graph := make(pattern.Graph)

	ensure := func(id string) pattern.Node {
		n, ok := graph[id]
		if !ok {
			n = pattern.Node{ID: id}
		}
		return n
	}

	for _, t := range triples {
		switch t.Predicate {
		case predHasTask:
			graph[t.Object] = ensure(t.Object)
		case predHasPattern:
			n := ensure(t.Subject)
			n.Pattern = pattern.PatternID(t.Object)
			graph[t.Subject] = n
		case predHasOutgoing:
			n := ensure(t.Subject)
			n.Outgoing = append(n.Outgoing, t.Object)
			graph[t.Subject] = n

			target := ensure(t.Object)
			target.Incoming = append(target.Incoming, t.Subject)
			graph[t.Object] = target
		case predHasRegion:
			n := ensure(t.Subject)
			n.Region = t.Object
			graph[t.Subject] = n
		case predHasJoinThreshold:
			v, err := strconv.Atoi(t.Object)
			if err != nil {
				return nil, fmt.Errorf("workflowspec: %s hasJoinThreshold %q: %w", t.Subject, t.Object, err)
			}
			n := ensure(t.Subject)
			n.JoinThreshold = v
			graph[t.Subject] = n
		case predHasMultiInstanceCount:
			v, err := strconv.Atoi(t.Object)
			if err != nil {
				return nil, fmt.Errorf("workflowspec: %s hasMultiInstanceCount %q: %w", t.Subject, t.Object, err)
			}
			n := ensure(t.Subject)
			if n.MultiInstance == nil {
				n.MultiInstance = &pattern.MultiInstanceSpec{}
			}
			n.MultiInstance.AprioriCount = v
			graph[t.Subject] = n
		case predHasMultiInstanceThreshold:
			v, err := strconv.Atoi(t.Object)
			if err != nil {
				return nil, fmt.Errorf("workflowspec: %s hasMultiInstanceThreshold %q: %w", t.Subject, t.Object, err)
			}
			n := ensure(t.Subject)
			if n.MultiInstance == nil {
				n.MultiInstance = &pattern.MultiInstanceSpec{}
			}
			n.MultiInstance.Threshold = v
			graph[t.Subject] = n
		}
	}

	for id, n := range graph {
		if n.Pattern == "" {
			return nil, fmt.Errorf("workflowspec: task %q has no hasPattern statement", id)
		}
	}
	return graph, nil
}
