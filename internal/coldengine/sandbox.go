package coldengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// DockerShapeValidator runs ad-hoc SHACL-style shape checks inside a
// short-lived, read-only container with networking disabled.
type DockerShapeValidator struct {
	cli   *client.Client
	image string
}

// NewDockerShapeValidator connects to the local Docker daemon. A failed
// connection is not fatal: Validate's caller degrades to in-process
// execution when cli is nil.
func NewDockerShapeValidator(image string) *DockerShapeValidator {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		fmt.Fprintf(os.Stderr, "coldengine: docker client unavailable, sandboxed shape validation disabled: %v\n", err)
		cli = nil
	}
	if image == "" {
		image = "ontoflow-shape-validator:latest"
	}
	return &DockerShapeValidator{cli: cli, image: image}
}

type sandboxPayload struct {
	Triples []ontology.Triple `json:"triples"`
	Shapes  []invariant.Shape `json:"shapes"`
}

// Validate serializes the snapshot and shape set to a context directory,
// runs the validator image against it read-only, and parses the report it
// writes back.
func (d *DockerShapeValidator) Validate(ctx context.Context, snap *ontology.Snapshot, shapes []invariant.Shape) (invariant.Report, error) {
	if d == nil || d.cli == nil {
		return invariant.Report{}, fmt.Errorf("coldengine: docker client not available")
	}

	sessionName := fmt.Sprintf("ontoflow-shape-%s-%d", snap.ID.Encoded()[:12], time.Now().UnixNano())
	hostCtxDir := filepath.Join(os.TempDir(), sessionName)
	if err := os.MkdirAll(hostCtxDir, 0o755); err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: create sandbox context dir: %w", err)
	}
	defer os.RemoveAll(hostCtxDir)

	payload, err := json.Marshal(sandboxPayload{Triples: snap.Triples, Shapes: shapes})
	if err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: marshal sandbox payload: %w", err)
	}
	if err := os.WriteFile(filepath.Join(hostCtxDir, "input.json"), payload, 0o644); err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: write sandbox input: %w", err)
	}

	containerConfig := &container.Config{
		Image:      d.image,
		Cmd:        []string{"/usr/local/bin/validate-shapes", "/sandbox/input.json"},
		Tty:        false,
		WorkingDir: "/sandbox",
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: hostCtxDir, Target: "/sandbox", ReadOnly: true},
		},
		AutoRemove: false,
		NetworkMode: "none",
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, sessionName)
	if err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: create sandbox container: %w", err)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: start sandbox container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return invariant.Report{}, fmt.Errorf("coldengine: wait sandbox container: %w", err)
		}
	case <-statusCh:
	case <-ctx.Done():
		return invariant.Report{}, ctx.Err()
	}

	logs, err := d.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: fetch sandbox logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: demux sandbox logs: %w", err)
	}

	var report invariant.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return invariant.Report{}, fmt.Errorf("coldengine: parse sandbox report (stderr: %s): %w", stderr.String(), err)
	}
	return report, nil
}
