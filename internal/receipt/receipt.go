// Package receipt implements the append-only, hash-chained execution
// receipt log: proof that an operation ran against a specific
// ontology snapshot, within budget, computed by a specific function.
package receipt

import (
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

// ValidationResult is the outcome of a static or dynamic validation pass.
type ValidationResult struct {
	Passed     bool
	Violations []string
}

// PerformanceResult captures a receipt's tick usage against its class budget.
type PerformanceResult struct {
	Ticks     clock.Ticks
	Budget    clock.Ticks
	Compliant bool
}

// Receipt binds an action hash to the ontology snapshot and the computed
// function (mu) that produced it. `hash(action) = hash(mu(obs))`
// is the fatal invariant checked at construction time by New.
type Receipt struct {
	SnapshotID digest.Digest
	ActionHash digest.Digest
	MuHash     digest.Digest
	Tier       clock.Class
	TickCount  clock.Ticks

	Static    *ValidationResult
	Dynamic   *ValidationResult
	Perf      *PerformanceResult
	Signature []byte
	Degraded  bool

	Timestamp time.Time
	PrevHash  digest.Digest // hash of the preceding receipt; empty for genesis
}

// ErrIntegrityViolation marks `hash(action) != hash(mu(observation))`
// (fatal for the affected operation).
var ErrIntegrityViolation = fmt.Errorf("receipt: action hash does not match hash of computed function output")

// New constructs a receipt, checking the action/mu binding invariant.
func New(snapshotID, actionHash, muHash digest.Digest, tier clock.Class, ticks clock.Ticks) (*Receipt, error) {
	if actionHash != muHash {
		return nil, fmt.Errorf("%w: action=%s mu=%s", ErrIntegrityViolation, actionHash, muHash)
	}
	return &Receipt{
		SnapshotID: snapshotID,
		ActionHash: actionHash,
		MuHash:     muHash,
		Tier:       tier,
		TickCount:  ticks,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Hash computes the content hash of the receipt used for chaining. It
// intentionally excludes Signature — a signature is applied over the hash,
// not folded into it.
func (r *Receipt) Hash() digest.Digest {
	digester := digest.Canonical.Digester()
	h := digester.Hash()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s\n%d\n%s\n%t\n%s\n",
		r.SnapshotID, r.ActionHash, r.MuHash, r.Tier, r.TickCount,
		r.Timestamp.UTC().Format(time.RFC3339Nano), r.Degraded, r.PrevHash)
	if r.Static != nil {
		fmt.Fprintf(h, "static:%t\n", r.Static.Passed)
	}
	if r.Dynamic != nil {
		fmt.Fprintf(h, "dynamic:%t\n", r.Dynamic.Passed)
	}
	if r.Perf != nil {
		fmt.Fprintf(h, "perf:%d/%d/%t\n", r.Perf.Ticks, r.Perf.Budget, r.Perf.Compliant)
	}
	return digester.Digest()
}

// Compact produces the minimal Hot-class receipt: (snapshot_id, action_hash,
// mu_hash, tick_count) only, the Hot-tier emission policy.
func Compact(snapshotID, actionHash, muHash digest.Digest, ticks clock.Ticks) *Receipt {
	return &Receipt{
		SnapshotID: snapshotID,
		ActionHash: actionHash,
		MuHash:     muHash,
		Tier:       clock.Hot,
		TickCount:  ticks,
		Timestamp:  time.Now().UTC(),
	}
}
