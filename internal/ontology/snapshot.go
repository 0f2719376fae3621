package ontology

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// SnapshotMeta carries the human-facing envelope around a snapshot's triples.
type SnapshotMeta struct {
	Version     string
	Sector      string
	Timestamp   time.Time
	Description string
}

// Snapshot is a frozen, content-addressed schema graph. Once
// constructed it is never mutated; ID is a pure function of Triples.
type Snapshot struct {
	ID       digest.Digest
	ParentID digest.Digest // empty for the root snapshot
	Meta     SnapshotMeta
	Triples  []Triple
}

// NewSnapshot builds a content-addressed snapshot from a triple set and an
// optional parent. The caller is responsible for having run the Invariant
// Engine over (parent, delta) before this is promoted; NewSnapshot
// itself only establishes identity.
func NewSnapshot(parent digest.Digest, meta SnapshotMeta, triples []Triple) *Snapshot {
	deduped := dedupeAndSort(triples)
	return &Snapshot{
		ID:       ComputeID(deduped),
		ParentID: parent,
		Meta:     meta,
		Triples:  deduped,
	}
}

// HasParent reports whether s descends from another snapshot.
func (s *Snapshot) HasParent() bool {
	return s != nil && s.ParentID != ""
}

// Contains reports whether t is present in the snapshot's triple set.
func (s *Snapshot) Contains(t Triple) bool {
	for _, candidate := range s.Triples {
		if candidate == t {
			return true
		}
	}
	return false
}
