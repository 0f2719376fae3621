// Package ontology implements the snapshot-based ontology runtime:
// immutable, content-addressed schema graphs, transient overlays, and the
// atomic-promotion store that hands them out to the rest of the system.
package ontology

import (
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Triple is a (subject, predicate, object) tuple. Triples are value-typed:
// two triples with equal fields are interchangeable.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

func (t Triple) canonical() string {
	var b strings.Builder
	b.Grow(len(t.Subject) + len(t.Predicate) + len(t.Object) + 2)
	b.WriteString(t.Subject)
	b.WriteByte('\t')
	b.WriteString(t.Predicate)
	b.WriteByte('\t')
	b.WriteString(t.Object)
	return b.String()
}

// canonicalize produces a deterministic total order over a triple set so
// that content addressing is a pure function of contents.
func canonicalize(triples []Triple) []string {
	lines := make([]string, len(triples))
	for i, t := range triples {
		lines[i] = t.canonical()
	}
	sort.Strings(lines)
	return lines
}

// ComputeID hashes a canonicalised triple set into a 256-bit content address.
func ComputeID(triples []Triple) digest.Digest {
	lines := canonicalize(triples)
	digester := digest.Canonical.Digester() // sha256
	hasher := digester.Hash()
	for _, line := range lines {
		hasher.Write([]byte(line))
		hasher.Write([]byte{'\n'})
	}
	return digester.Digest()
}

// dedupeAndSort returns a new, stably-ordered triple slice with duplicates removed.
func dedupeAndSort(triples []Triple) []Triple {
	seen := make(map[string]Triple, len(triples))
	for _, t := range triples {
		seen[t.canonical()] = t
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Triple, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}
