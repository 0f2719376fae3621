// Package workflowspec loads the external workflow-spec document format:
// a YAML front-matter envelope (workflow ID, sector,
// version, description) around a graph-serialised triple body (Turtle
// or equivalent), declaring named tasks (with pattern identifier),
// control-flow edges, and pattern configuration. The triple body uses a
// deliberately small hand-rolled Turtle subset; the format needs
// statements, not the full grammar.
package workflowspec

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FrontMatter is a workflow document's non-graph envelope.
type FrontMatter struct {
	WorkflowID  string `yaml:"workflow_id"`
	Sector      string `yaml:"sector"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

const delimiter = "---"

// splitDocument separates a document's YAML front matter from its
// triple body. The document must open with a "---" line, followed by
// YAML, followed by a closing "---" line; everything after that is the
// triple body.
func splitDocument(raw []byte) (frontMatter []byte, body []byte, err error) {
	lines := bytes.Split(raw, []byte("\n"))
	if len(lines) == 0 || string(bytes.TrimSpace(lines[0])) != delimiter {
		return nil, nil, fmt.Errorf("workflowspec: document must open with a %q front-matter delimiter", delimiter)
	}

	for i := 1; i < len(lines); i++ {
		if string(bytes.TrimSpace(lines[i])) == delimiter {
			frontMatter = bytes.Join(lines[1:i], []byte("\n"))
			body = bytes.Join(lines[i+1:], []byte("\n"))
			return frontMatter, body, nil
		}
	}
	return nil, nil, fmt.Errorf("workflowspec: document front matter has no closing %q delimiter", delimiter)
}

func parseFrontMatter(raw []byte) (FrontMatter, error) {
	var fm FrontMatter
	if err := yaml.Unmarshal(raw, &fm); err != nil {
		return FrontMatter{}, fmt.Errorf("workflowspec: parse front matter: %w", err)
	}
	if fm.WorkflowID == "" {
		return FrontMatter{}, fmt.Errorf("workflowspec: front matter is missing workflow_id")
	}
	return fm, nil
}
