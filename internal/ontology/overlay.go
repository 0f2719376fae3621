package ontology

import (
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// Overlay is a proposed, transient delta against a named base snapshot.
// It is never itself content-addressed; its identity is
// whatever (base, additions, removals) it carries at apply time.
type Overlay struct {
	Base        digest.Digest
	Additions   []Triple
	Removals    []Triple
	Description string
	At          time.Time
}

// Validate checks the overlay's own invariants (disjoint add/remove sets);
// it does not check against a particular base snapshot — that is the
// invariant engine's job.
func (o Overlay) Validate() error {
	if o.Base == "" {
		return fmt.Errorf("ontology: overlay has no base snapshot")
	}
	adds := make(map[Triple]struct{}, len(o.Additions))
	for _, t := range o.Additions {
		adds[t] = struct{}{}
	}
	for _, t := range o.Removals {
		if _, ok := adds[t]; ok {
			return fmt.Errorf("ontology: overlay additions and removals are not disjoint: %+v", t)
		}
	}
	return nil
}

// Apply computes the candidate triple set that overlay would produce
// against base's triples, without constructing a Snapshot (the caller
// decides identity/metadata after validation succeeds).
func (o Overlay) Apply(baseTriples []Triple) []Triple {
	removed := make(map[Triple]struct{}, len(o.Removals))
	for _, t := range o.Removals {
		removed[t] = struct{}{}
	}

	result := make([]Triple, 0, len(baseTriples)+len(o.Additions))
	for _, t := range baseTriples {
		if _, gone := removed[t]; !gone {
			result = append(result, t)
		}
	}
	result = append(result, o.Additions...)
	return dedupeAndSort(result)
}
