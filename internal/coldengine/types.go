// Package coldengine implements the Cold execution tier: full ontology
// query/update via the store, Temporal-workflow-backed async completion
// handles, and Docker-sandboxed ad-hoc shape validation — none of which
// may block a Hot or Warm worker thread.
package coldengine

import (
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// TransformRequest is a Cold-class request to apply, validate, and
// (conditionally) promote an overlay — the full plan→validate→promote
// loop, run as a durable Temporal workflow so it survives process
// restarts and a client can poll or wait on it independent of this
// process's lifetime.
type TransformRequest struct {
	Overlay    ontology.Overlay
	AutoPromote bool
	Shapes     []invariant.Shape
}

// TransformResult is the terminal outcome of a ColdTransformWorkflow run.
type TransformResult struct {
	CandidateID digest.Digest
	Promoted    bool
	Report      invariant.Report
	ShapeReport invariant.Report
	StartedAt   time.Time
	FinishedAt  time.Time
}

// CompletionHandle is a reference to an in-flight or completed Cold
// operation, analogous to a Temporal workflow run handle, that Warm/API
// callers can poll without blocking on the underlying work.
type CompletionHandle struct {
	WorkflowID string
	RunID      string
}
