package workflowspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/pattern"
)

const seq3Doc = `---
workflow_id: wf-seq3
sector: logistics
version: "1.0"
description: three task sequence
---
# control flow
<wf-seq3> <hasTask> <task-1> .
<wf-seq3> <hasTask> <task-2> .
<wf-seq3> <hasTask> <task-3> .

<task-1> <hasPattern> "sequence" .
<task-1> <hasOutgoing> <task-2> .
<task-2> <hasPattern> "sequence" .
<task-2> <hasOutgoing> <task-3> .
<task-3> <hasPattern> "sequence" .
`

func TestParseSequenceDocumentProducesThreeLinkedNodes(t *testing.T) {
	doc, err := Parse([]byte(seq3Doc))
	require.NoError(t, err)

	assert.Equal(t, "wf-seq3", doc.Meta.WorkflowID)
	assert.Equal(t, "logistics", doc.Meta.Sector)
	require.Len(t, doc.Graph, 3)

	assert.Equal(t, []string{"task-2"}, doc.Graph["task-1"].Outgoing)
	assert.Equal(t, []string{"task-1"}, doc.Graph["task-2"].Incoming)
	assert.Equal(t, pattern.PatternID("sequence"), doc.Graph["task-1"].Pattern)
}

func TestParseRejectsMissingClosingDelimiter(t *testing.T) {
	_, err := Parse([]byte("---\nworkflow_id: x\n"))
	assert.Error(t, err)
}

func TestParseRejectsTaskWithNoPattern(t *testing.T) {
	bad := `---
workflow_id: wf-bad
---
<wf-bad> <hasTask> <orphan> .
`
	_, err := Parse([]byte(bad))
	assert.Error(t, err)
}

func TestParseMultiInstanceAndRegionPredicates(t *testing.T) {
	doc := `---
workflow_id: wf-mi
---
<wf-mi> <hasTask> <mi> .
<mi> <hasPattern> "mi_without_apriori" .
<mi> <hasMultiInstanceThreshold> "3" .
<mi> <hasRegion> "cancel-zone" .
`
	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)
	n := parsed.Graph["mi"]
	require.NotNil(t, n.MultiInstance)
	assert.Equal(t, 3, n.MultiInstance.Threshold)
	assert.Equal(t, "cancel-zone", n.Region)
}

func TestRegisterBuildsValidOverlay(t *testing.T) {
	doc, err := Parse([]byte(seq3Doc))
	require.NoError(t, err)

	ov, err := Register("sha256:deadbeef", doc)
	require.NoError(t, err)
	assert.NoError(t, ov.Validate())
	assert.Len(t, ov.Additions, len(doc.Triples))
}
