package coldengine

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// ApplyOverlayResult is the Activities.ApplyOverlayActivity return value.
type ApplyOverlayResult struct {
	BaseID      digest.Digest
	CandidateID digest.Digest
}

// EvaluateRequest is the Activities.EvaluateActivity argument.
type EvaluateRequest struct {
	Base    digest.Digest
	Overlay ontology.Overlay
}

// ValidateResult is the Activities.EvaluateActivity return value.
type ValidateResult struct {
	Report invariant.Report
}

// ShapeValidationRequest is the Activities.ValidateShapeInSandboxActivity argument.
type ShapeValidationRequest struct {
	SnapshotID digest.Digest
	Shapes     []invariant.Shape
}

// ShapeValidationResult is the Activities.ValidateShapeInSandboxActivity return value.
type ShapeValidationResult struct {
	Report invariant.Report
}

// Activities bundles the Cold-tier Temporal activities with the store and
// invariant engine they need, injected once at worker registration.
type Activities struct {
	Store     ontology.Store
	Invariant *invariant.Engine
	Sandbox   *DockerShapeValidator
}

// ApplyOverlayActivity constructs (but does not promote) a candidate
// snapshot from an overlay.
func (a *Activities) ApplyOverlayActivity(ctx context.Context, ov ontology.Overlay) (ApplyOverlayResult, error) {
	candidate, err := a.Store.ApplyOverlay(ov)
	if err != nil {
		return ApplyOverlayResult{}, fmt.Errorf("coldengine: apply overlay activity: %w", err)
	}
	return ApplyOverlayResult{BaseID: ov.Base, CandidateID: candidate.ID}, nil
}

// EvaluateActivity runs the Invariant Engine against (base, overlay).
func (a *Activities) EvaluateActivity(ctx context.Context, req EvaluateRequest) (ValidateResult, error) {
	base, err := a.Store.Load(req.Base)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("coldengine: evaluate activity: load base: %w", err)
	}
	report, err := a.Invariant.Evaluate(base, req.Overlay)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("coldengine: evaluate activity: %w", err)
	}
	return ValidateResult{Report: report}, nil
}

// MarkValidatedAndPromoteActivity marks a candidate validated and promotes
// it; promotion is refused without a recorded validation.
func (a *Activities) MarkValidatedAndPromoteActivity(ctx context.Context, candidateID digest.Digest) error {
	a.Store.MarkValidated(candidateID)
	if err := a.Store.Promote(candidateID); err != nil {
		return fmt.Errorf("coldengine: promote activity: %w", err)
	}
	return nil
}

// ValidateShapeInSandboxActivity runs ad-hoc shape checks against a
// snapshot inside an isolated container, for shape scripts too large or
// untrusted to run in-process.
func (a *Activities) ValidateShapeInSandboxActivity(ctx context.Context, req ShapeValidationRequest) (ShapeValidationResult, error) {
	snap, err := a.Store.Load(req.SnapshotID)
	if err != nil {
		return ShapeValidationResult{}, fmt.Errorf("coldengine: shape validation activity: load snapshot: %w", err)
	}

	if a.Sandbox == nil || a.Sandbox.cli == nil {
		// No sandbox configured, or no Docker connection: fall back to
		// running shapes in-process.
		var combined invariant.Report
		combined.Passed = true
		for _, shape := range req.Shapes {
			r := invariant.ValidateShape(snap, shape)
			if !r.Passed {
				combined.Passed = false
				combined.Violations = append(combined.Violations, r.Violations...)
			}
		}
		return ShapeValidationResult{Report: combined}, nil
	}

	report, err := a.Sandbox.Validate(ctx, snap, req.Shapes)
	if err != nil {
		return ShapeValidationResult{}, fmt.Errorf("coldengine: sandboxed shape validation: %w", err)
	}
	return ShapeValidationResult{Report: report}, nil
}
