package coldengine

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ColdTransformWorkflow runs the full plan→validate→promote loop for a
// single overlay as a durable workflow. Callers get an async completion
// handle; no Hot or Warm worker ever blocks on the result.
func ColdTransformWorkflow(ctx workflow.Context, req TransformRequest) (TransformResult, error) {
	logger := workflow.GetLogger(ctx)
	started := workflow.Now(ctx)

	var a *Activities

	applyOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	applyCtx := workflow.WithActivityOptions(ctx, applyOpts)

	var applied ApplyOverlayResult
	if err := workflow.ExecuteActivity(applyCtx, a.ApplyOverlayActivity, req.Overlay).Get(ctx, &applied); err != nil {
		return TransformResult{}, fmt.Errorf("coldengine: apply overlay: %w", err)
	}

	validateOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	validateCtx := workflow.WithActivityOptions(ctx, validateOpts)

	var validated ValidateResult
	evalReq := EvaluateRequest{Base: applied.BaseID, Overlay: req.Overlay}
	if err := workflow.ExecuteActivity(validateCtx, a.EvaluateActivity, evalReq).Get(ctx, &validated); err != nil {
		return TransformResult{}, fmt.Errorf("coldengine: evaluate invariants: %w", err)
	}

	result := TransformResult{
		CandidateID: applied.CandidateID,
		Report:      validated.Report,
		StartedAt:   started,
		FinishedAt:  workflow.Now(ctx),
	}

	if len(req.Shapes) > 0 {
		shapeOpts := workflow.ActivityOptions{
			StartToCloseTimeout: 5 * time.Minute,
			HeartbeatTimeout:    30 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
		}
		shapeCtx := workflow.WithActivityOptions(ctx, shapeOpts)

		var shapeResult ShapeValidationResult
		shapeReq := ShapeValidationRequest{SnapshotID: applied.CandidateID, Shapes: req.Shapes}
		if err := workflow.ExecuteActivity(shapeCtx, a.ValidateShapeInSandboxActivity, shapeReq).Get(ctx, &shapeResult); err != nil {
			return result, fmt.Errorf("coldengine: sandboxed shape validation: %w", err)
		}
		result.ShapeReport = shapeResult.Report
	}

	if !validated.Report.Passed {
		logger.Info("candidate failed invariant evaluation, not promoting",
			"candidate", applied.CandidateID, "violations", len(validated.Report.Violations))
		return result, nil
	}

	if req.AutoPromote {
		promoteOpts := workflow.ActivityOptions{
			StartToCloseTimeout: 10 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		}
		promoteCtx := workflow.WithActivityOptions(ctx, promoteOpts)

		if err := workflow.ExecuteActivity(promoteCtx, a.MarkValidatedAndPromoteActivity, applied.CandidateID).Get(ctx, nil); err != nil {
			return result, fmt.Errorf("coldengine: promote: %w", err)
		}
		result.Promoted = true
	}

	result.FinishedAt = workflow.Now(ctx)
	return result, nil
}
