package workflowspec

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// statementPattern matches one Turtle-subset statement:
//
//	<subject> <predicate> <object> .
//	<subject> <predicate> "literal" .
//
// This subset deliberately has no prefixes, blank nodes, or collections
// — every term is either a full URI in angle brackets or a double-quoted
// string literal, and every statement is a single line ending in " .".
var statementPattern = regexp.MustCompile(`^<([^>]+)>\s+<([^>]+)>\s+(?:<([^>]+)>|"([^"]*)")\s*\.$`)

// ParseTriples parses a Turtle-subset body into ontology triples.
// Blank lines and lines starting with "#" (after trimming) are skipped.
func ParseTriples(body []byte) ([]ontology.Triple, error) {
	var triples []ontology.Triple
	scanner := bufio.NewScanner(bytes.NewReader(body))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := statementPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("workflowspec: line %d is not a valid triple statement: %q", lineNo, line)
		}
		obj := m[3]
		if obj == "" {
			obj = m[4] // the quoted-literal alternative
		}
		triples = append(triples, ontology.Triple{Subject: m[1], Predicate: m[2], Object: obj})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("workflowspec: scan triple body: %w", err)
	}
	return triples, nil
}
