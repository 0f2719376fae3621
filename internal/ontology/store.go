package ontology

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"
)

var (
	// ErrNotFound is returned by Load when no snapshot exists for an ID.
	ErrNotFound = errors.New("ontology: snapshot not found")
	// ErrNotValidated is returned by Promote when the candidate has no
	// recorded validation receipt; such promotions are refused.
	ErrNotValidated = errors.New("ontology: snapshot has not been validated")
	// ErrPromotionLost names a lost compare-and-swap race on the current
	// pointer. Neither Store in this package returns it: Promote swaps the
	// pointer unconditionally once id is validated.
	ErrPromotionLost = errors.New("ontology: promotion lost the CAS race")
	// ErrNoParent is returned by Rollback when current has no parent.
	ErrNoParent = errors.New("ontology: current snapshot has no parent to roll back to")
)

// Store is the ontology store contract: atomic current-pointer,
// content-addressed load, overlay application, and CAS-based promotion.
type Store interface {
	// Current returns the currently-promoted snapshot ID (atomic load).
	Current() digest.Digest
	// Load fetches a snapshot by ID.
	Load(id digest.Digest) (*Snapshot, error)
	// ApplyOverlay constructs (but does not promote) a candidate snapshot.
	ApplyOverlay(ov Overlay) (*Snapshot, error)
	// MarkValidated records that the invariant engine validated the
	// (base, overlay) pair that
	// produced id, a precondition for Promote.
	MarkValidated(id digest.Digest)
	// Promote atomically swaps the current pointer to id if id is validated.
	Promote(id digest.Digest) error
	// Rollback promotes the parent of the current snapshot.
	Rollback() (digest.Digest, error)
	// Lineage walks parent links from id back to the root.
	Lineage(id digest.Digest) ([]digest.Digest, error)
}

// mapStore is an in-memory Store, sufficient for tests.
type mapStore struct {
	mu         sync.RWMutex
	snapshots  map[digest.Digest]*Snapshot
	validated  map[digest.Digest]bool
	current    digest.Digest
}

// NewMemoryStore creates an in-memory Store seeded with a root snapshot.
func NewMemoryStore(root *Snapshot) Store {
	s := &mapStore{
		snapshots: make(map[digest.Digest]*Snapshot),
		validated: make(map[digest.Digest]bool),
	}
	if root != nil {
		s.snapshots[root.ID] = root
		s.validated[root.ID] = true
		s.current = root.ID
	}
	return s
}

func (s *mapStore) Current() digest.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *mapStore) Load(id digest.Digest) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snap, nil
}

func (s *mapStore) ApplyOverlay(ov Overlay) (*Snapshot, error) {
	if err := ov.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	base, ok := s.snapshots[ov.Base]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: base %s", ErrNotFound, ov.Base)
	}

	triples := ov.Apply(base.Triples)
	meta := base.Meta
	meta.Description = ov.Description
	meta.Timestamp = ov.At
	candidate := NewSnapshot(base.ID, meta, triples)

	s.mu.Lock()
	s.snapshots[candidate.ID] = candidate
	s.mu.Unlock()

	return candidate, nil
}

func (s *mapStore) MarkValidated(id digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated[id] = true
}

func (s *mapStore) Promote(id digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !s.validated[id] {
		return fmt.Errorf("%w: %s", ErrNotValidated, id)
	}

	// Single-word CAS on the current pointer: in-process
	// this is a plain mutex-guarded assignment, which is the single-writer
	// realization of the same contract a lock-free atomic.Value CAS gives
	// across OS threads.
	s.current = id
	return nil
}

func (s *mapStore) Rollback() (digest.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.snapshots[s.current]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, s.current)
	}
	if !current.HasParent() {
		return "", ErrNoParent
	}
	if !s.validated[current.ParentID] {
		return "", fmt.Errorf("%w: %s", ErrNotValidated, current.ParentID)
	}

	s.current = current.ParentID
	return s.current, nil
}

func (s *mapStore) Lineage(id digest.Digest) ([]digest.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []digest.Digest
	cursor := id
	for {
		snap, ok := s.snapshots[cursor]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cursor)
		}
		chain = append(chain, snap.ID)
		if !snap.HasParent() {
			return chain, nil
		}
		cursor = snap.ParentID
	}
}
