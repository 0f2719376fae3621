package coldengine

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// TaskQueue is the Temporal task queue Cold-tier workflows and activities
// run on.
const TaskQueue = "ontoflow-cold-task-queue"

// StartWorker connects to Temporal and runs the Cold task queue worker
// until the connection is closed.
func StartWorker(hostPort string, store ontology.Store, eng *invariant.Engine, sandbox *DockerShapeValidator) error {
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return fmt.Errorf("coldengine: dial temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, TaskQueue, worker.Options{})

	acts := &Activities{Store: store, Invariant: eng, Sandbox: sandbox}

	w.RegisterWorkflow(ColdTransformWorkflow)

	w.RegisterActivity(acts.ApplyOverlayActivity)
	w.RegisterActivity(acts.EvaluateActivity)
	w.RegisterActivity(acts.MarkValidatedAndPromoteActivity)
	w.RegisterActivity(acts.ValidateShapeInSandboxActivity)

	return w.Run(worker.InterruptCh())
}
