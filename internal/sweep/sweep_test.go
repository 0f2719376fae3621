package sweep

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

func TestRunOnceLogsNoViolationsForCleanSnapshot(t *testing.T) {
	root := ontology.NewSnapshot("", ontology.SnapshotMeta{Version: "v1"}, []ontology.Triple{
		{Subject: "wf-seq", Predicate: "hasTask", Object: "a"},
	})
	store := ontology.NewMemoryStore(root)
	eng := invariant.New(store, 8)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := New(store, eng, logger, time.Hour)
	s.runOnce()

	if bytes.Contains(buf.Bytes(), []byte("found violations")) {
		t.Fatalf("expected no violations logged, got: %s", buf.String())
	}
}
