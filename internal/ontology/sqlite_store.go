package ontology

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	parent_id TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	sector TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	triples TEXT NOT NULL,
	validated BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS current_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_parent ON snapshots(parent_id);
`

// sqliteStore is the durable Store backend: snapshots survive restart,
// with WAL journaling and a parent-lineage index created on open if missing.
type sqliteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store.
func OpenSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("ontology: open %s: %w", path, err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ontology: create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

var _ Store = (*sqliteStore)(nil)

// Close releases the underlying database handle.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// Seed inserts and promotes a root snapshot if no current pointer exists yet.
func (s *sqliteStore) Seed(root *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertSnapshot(root, true); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO current_snapshot (id, snapshot_id) VALUES (1, ?)`, string(root.ID))
	return err
}

func (s *sqliteStore) insertSnapshot(snap *Snapshot, validated bool) error {
	triplesJSON, err := json.Marshal(snap.Triples)
	if err != nil {
		return fmt.Errorf("ontology: marshal triples: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO snapshots (id, parent_id, version, sector, description, created_at, triples, validated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(snap.ID), string(snap.ParentID), snap.Meta.Version, snap.Meta.Sector,
		snap.Meta.Description, snap.Meta.Timestamp, string(triplesJSON), validated,
	)
	return err
}

func (s *sqliteStore) Current() digest.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	if err := s.db.QueryRow(`SELECT snapshot_id FROM current_snapshot WHERE id = 1`).Scan(&id); err != nil {
		return ""
	}
	return digest.Digest(id)
}

func (s *sqliteStore) Load(id digest.Digest) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *sqliteStore) loadLocked(id digest.Digest) (*Snapshot, error) {
	var parentID, version, sector, description, triplesJSON string
	var createdAt time.Time
	err := s.db.QueryRow(`SELECT parent_id, version, sector, description, created_at, triples FROM snapshots WHERE id = ?`, string(id)).
		Scan(&parentID, &version, &sector, &description, &createdAt, &triplesJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ontology: load %s: %w", id, err)
	}

	var triples []Triple
	if err := json.Unmarshal([]byte(triplesJSON), &triples); err != nil {
		return nil, fmt.Errorf("ontology: unmarshal triples for %s: %w", id, err)
	}

	return &Snapshot{
		ID:       id,
		ParentID: digest.Digest(parentID),
		Meta:     SnapshotMeta{Version: version, Sector: sector, Timestamp: createdAt, Description: description},
		Triples:  triples,
	}, nil
}

func (s *sqliteStore) ApplyOverlay(ov Overlay) (*Snapshot, error) {
	if err := ov.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.loadLocked(ov.Base)
	if err != nil {
		return nil, err
	}

	triples := ov.Apply(base.Triples)
	meta := base.Meta
	meta.Description = ov.Description
	meta.Timestamp = ov.At
	candidate := NewSnapshot(base.ID, meta, triples)

	if err := s.insertSnapshot(candidate, false); err != nil {
		return nil, fmt.Errorf("ontology: store candidate: %w", err)
	}
	return candidate, nil
}

func (s *sqliteStore) MarkValidated(id digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Exec(`UPDATE snapshots SET validated = 1 WHERE id = ?`, string(id))
}

func (s *sqliteStore) Promote(id digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var validated bool
	err := s.db.QueryRow(`SELECT validated FROM snapshots WHERE id = ?`, string(id)).Scan(&validated)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("ontology: promote %s: %w", id, err)
	}
	if !validated {
		return fmt.Errorf("%w: %s", ErrNotValidated, id)
	}

	// A single UPDATE inside SQLite's serialized-writer transaction is the
	// durable-store realization of the in-memory CAS: readers of Current()
	// never observe a half-written pointer.
	_, err = s.db.Exec(`
		INSERT INTO current_snapshot (id, snapshot_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		string(id),
	)
	return err
}

func (s *sqliteStore) Rollback() (digest.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentID string
	if err := s.db.QueryRow(`SELECT snapshot_id FROM current_snapshot WHERE id = 1`).Scan(&currentID); err != nil {
		return "", fmt.Errorf("ontology: no current snapshot: %w", err)
	}

	current, err := s.loadLocked(digest.Digest(currentID))
	if err != nil {
		return "", err
	}
	if !current.HasParent() {
		return "", ErrNoParent
	}

	var parentValidated bool
	if err := s.db.QueryRow(`SELECT validated FROM snapshots WHERE id = ?`, string(current.ParentID)).Scan(&parentValidated); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, current.ParentID)
	}
	if !parentValidated {
		return "", fmt.Errorf("%w: %s", ErrNotValidated, current.ParentID)
	}

	if _, err := s.db.Exec(`UPDATE current_snapshot SET snapshot_id = ? WHERE id = 1`, string(current.ParentID)); err != nil {
		return "", err
	}
	return current.ParentID, nil
}

func (s *sqliteStore) Lineage(id digest.Digest) ([]digest.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []digest.Digest
	cursor := id
	for {
		snap, err := s.loadLocked(cursor)
		if err != nil {
			return nil, err
		}
		chain = append(chain, snap.ID)
		if !snap.HasParent() {
			return chain, nil
		}
		cursor = snap.ParentID
	}
}
