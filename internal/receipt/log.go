package receipt

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

// ID is a monotonically increasing receipt index within a Log.
type ID int64

// Log is the append-only, hash-chained receipt log contract.
type Log interface {
	// Append adds a receipt, stamping its PrevHash from the current head,
	// and returns the assigned ID.
	Append(r *Receipt) (ID, error)
	// Get fetches a single receipt by ID.
	Get(id ID) (*Receipt, error)
	// Head returns the hash of the most recently appended receipt, or ""
	// if the log is empty.
	Head() digest.Digest
	// Verify walks [from, to] and confirms every PrevHash link matches the
	// hash of the preceding receipt.
	Verify(from, to ID) error
	// Iter returns receipts in [from, to] inclusive, in append order.
	Iter(from, to ID) ([]*Receipt, error)
}

// ErrChainBroken marks a hash-chain link mismatch found by Verify.
type ErrChainBroken struct {
	At       ID
	Expected digest.Digest
	Got      digest.Digest
}

func (e *ErrChainBroken) Error() string {
	return fmt.Sprintf("receipt: chain broken at %d: expected prev_hash %s, got %s", e.At, e.Expected, e.Got)
}

// MemoryLog is an in-memory Log, used as the Hot-class batch-append buffer
// (Hot never blocks on durable IO) and in tests.
type MemoryLog struct {
	mu      sync.Mutex
	entries []*Receipt
	head    digest.Digest
}

// NewMemoryLog creates an empty in-memory receipt log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

var _ Log = (*MemoryLog)(nil)

func (l *MemoryLog) Append(r *Receipt) (ID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.PrevHash = l.head
	l.entries = append(l.entries, r)
	l.head = r.Hash()
	return ID(len(l.entries) - 1), nil
}

func (l *MemoryLog) Get(id ID) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || int(id) >= len(l.entries) {
		return nil, fmt.Errorf("receipt: no entry %d", id)
	}
	return l.entries[id], nil
}

func (l *MemoryLog) Head() digest.Digest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

func (l *MemoryLog) Verify(from, to ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verifyChain(l.entries, from, to)
}

func (l *MemoryLog) Iter(from, to ID) ([]*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from < 0 || int(to) >= len(l.entries) || from > to {
		return nil, fmt.Errorf("receipt: range [%d,%d] out of bounds", from, to)
	}
	out := make([]*Receipt, 0, to-from+1)
	out = append(out, l.entries[from:to+1]...)
	return out, nil
}

func verifyChain(entries []*Receipt, from, to ID) error {
	if from < 0 || int(to) >= len(entries) || from > to {
		return fmt.Errorf("receipt: range [%d,%d] out of bounds", from, to)
	}
	var prevHash digest.Digest
	if from > 0 {
		prevHash = entries[from-1].Hash()
	}
	for i := from; i <= to; i++ {
		r := entries[i]
		if r.PrevHash != prevHash {
			return &ErrChainBroken{At: i, Expected: prevHash, Got: r.PrevHash}
		}
		prevHash = r.Hash()
	}
	return nil
}

// SQLiteLog is the durable receipt log backend, mirroring the ontology
// store's embedded-SQLite pattern (modernc.org/sqlite, WAL pragma DSN).
type SQLiteLog struct {
	mu sync.Mutex
	db *sql.DB
}

const receiptSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id TEXT NOT NULL,
	action_hash TEXT NOT NULL,
	mu_hash TEXT NOT NULL,
	tier TEXT NOT NULL,
	tick_count INTEGER NOT NULL,
	degraded BOOLEAN NOT NULL,
	static_json TEXT,
	dynamic_json TEXT,
	perf_json TEXT,
	signature BLOB,
	created_at DATETIME NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT ''
);
`

// OpenSQLiteLog opens (creating if necessary) a SQLite-backed receipt Log.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("receipt: open %s: %w", path, err)
	}
	if _, err := db.Exec(receiptSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("receipt: create schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

var _ Log = (*SQLiteLog)(nil)

// Close releases the underlying database handle.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func marshalResult(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (l *SQLiteLog) Append(r *Receipt) (ID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastHashStr string
	row := l.db.QueryRow(`SELECT id FROM receipts ORDER BY id DESC LIMIT 1`)
	var lastID int64
	if scanErr := row.Scan(&lastID); scanErr == nil {
		last, loadErr := l.getLocked(ID(lastID))
		if loadErr != nil {
			return 0, loadErr
		}
		lastHashStr = string(last.Hash())
	}
	r.PrevHash = digest.Digest(lastHashStr)

	staticJSON, err := marshalResult(r.Static)
	if err != nil {
		return 0, err
	}
	dynamicJSON, err := marshalResult(r.Dynamic)
	if err != nil {
		return 0, err
	}
	perfJSON, err := marshalResult(r.Perf)
	if err != nil {
		return 0, err
	}

	res, err := l.db.Exec(`
		INSERT INTO receipts (snapshot_id, action_hash, mu_hash, tier, tick_count, degraded,
			static_json, dynamic_json, perf_json, signature, created_at, prev_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.SnapshotID), string(r.ActionHash), string(r.MuHash), r.Tier.String(), int64(r.TickCount),
		r.Degraded, staticJSON, dynamicJSON, perfJSON, r.Signature, r.Timestamp.UTC(), string(r.PrevHash),
	)
	if err != nil {
		return 0, fmt.Errorf("receipt: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ID(id), nil
}

func parseClass(s string) clock.Class {
	switch s {
	case "hot":
		return clock.Hot
	case "warm":
		return clock.Warm
	case "cold":
		return clock.Cold
	default:
		return clock.Hot
	}
}

func (l *SQLiteLog) getLocked(id ID) (*Receipt, error) {
	var snapshotID, actionHash, muHash, tier, prevHash string
	var ticks int64
	var degraded bool
	var staticJSON, dynamicJSON, perfJSON sql.NullString
	var signature []byte
	var createdAt time.Time

	err := l.db.QueryRow(`
		SELECT snapshot_id, action_hash, mu_hash, tier, tick_count, degraded,
			static_json, dynamic_json, perf_json, signature, created_at, prev_hash
		FROM receipts WHERE id = ?`, int64(id)).Scan(
		&snapshotID, &actionHash, &muHash, &tier, &ticks, &degraded,
		&staticJSON, &dynamicJSON, &perfJSON, &signature, &createdAt, &prevHash,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("receipt: no entry %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("receipt: get %d: %w", id, err)
	}

	r := &Receipt{
		SnapshotID: digest.Digest(snapshotID),
		ActionHash: digest.Digest(actionHash),
		MuHash:     digest.Digest(muHash),
		Tier:       parseClass(tier),
		TickCount:  clock.Ticks(ticks),
		Degraded:   degraded,
		Signature:  signature,
		Timestamp:  createdAt,
		PrevHash:   digest.Digest(prevHash),
	}
	if staticJSON.Valid {
		r.Static = &ValidationResult{}
		json.Unmarshal([]byte(staticJSON.String), r.Static)
	}
	if dynamicJSON.Valid {
		r.Dynamic = &ValidationResult{}
		json.Unmarshal([]byte(dynamicJSON.String), r.Dynamic)
	}
	if perfJSON.Valid {
		r.Perf = &PerformanceResult{}
		json.Unmarshal([]byte(perfJSON.String), r.Perf)
	}
	return r, nil
}

func (l *SQLiteLog) Get(id ID) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(id)
}

func (l *SQLiteLog) Head() digest.Digest {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastID int64
	if err := l.db.QueryRow(`SELECT id FROM receipts ORDER BY id DESC LIMIT 1`).Scan(&lastID); err != nil {
		return ""
	}
	last, err := l.getLocked(ID(lastID))
	if err != nil {
		return ""
	}
	return last.Hash()
}

func (l *SQLiteLog) Iter(from, to ID) ([]*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`SELECT id FROM receipts WHERE id BETWEEN ? AND ? ORDER BY id ASC`, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ID(id))
	}

	out := make([]*Receipt, 0, len(ids))
	for _, id := range ids {
		r, err := l.getLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *SQLiteLog) Verify(from, to ID) error {
	entries, err := l.Iter(from, to)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var expectedPrev digest.Digest
	if from > 0 {
		prior, err := l.getLocked(from - 1)
		if err == nil {
			expectedPrev = prior.Hash()
		}
	}
	for i, r := range entries {
		if r.PrevHash != expectedPrev {
			return &ErrChainBroken{At: from + ID(i), Expected: expectedPrev, Got: r.PrevHash}
		}
		expectedPrev = r.Hash()
	}
	return nil
}
