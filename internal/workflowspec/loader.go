package workflowspec

import (
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/ontology"
	"github.com/antigravity-dev/ontoflow/internal/pattern"
)

// Document is a fully parsed workflow specification: its metadata
// envelope, the raw triple set (handed to the invariant engine and to
// registration), and the compiled control-flow graph the pattern engine
// drives cases against.
type Document struct {
	Meta    FrontMatter
	Triples []ontology.Triple
	Graph   pattern.Graph
}

// Parse splits raw into front matter and triple body, parses both, and
// compiles the triple body into a pattern graph. It performs no
// registration against a snapshot — that is Register's job — so a
// caller can validate a document offline before committing to a store.
func Parse(raw []byte) (Document, error) {
	fmBytes, body, err := splitDocument(raw)
	if err != nil {
		return Document{}, err
	}
	fm, err := parseFrontMatter(fmBytes)
	if err != nil {
		return Document{}, err
	}
	triples, err := ParseTriples(body)
	if err != nil {
		return Document{}, err
	}
	graph, err := CompileGraph(triples)
	if err != nil {
		return Document{}, err
	}
	return Document{Meta: fm, Triples: triples, Graph: graph}, nil
}

// Register builds the Overlay that adds doc's triples on top of base
// — registration loads the document into a snapshot. It is the caller's
// responsibility to pass the overlay through the ontology Store's usual
// ApplyOverlay -> invariant validation -> MarkValidated -> Promote
// sequence; this function only constructs the delta, keeping proposing
// and admitting a snapshot separate.
func Register(base digest.Digest, doc Document) (ontology.Overlay, error) {
	ov := ontology.Overlay{
		Base:        base,
		Additions:   doc.Triples,
		Description: fmt.Sprintf("register workflow %s", doc.Meta.WorkflowID),
		At:          time.Now().UTC(),
	}
	if err := ov.Validate(); err != nil {
		return ontology.Overlay{}, fmt.Errorf("workflowspec: %w", err)
	}
	return ov, nil
}
