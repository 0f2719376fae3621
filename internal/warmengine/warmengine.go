// Package warmengine implements the Warm execution tier: a prebound
// query-plan cache, a CONSTRUCT8 template executor, and the Warm-class
// failure policies, all bounded by the 2,000,000-tick Warm budget.
package warmengine

import (
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/clock"
	"github.com/antigravity-dev/ontoflow/internal/hotkernel"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// PlanID identifies a prebound query plan.
type PlanID string

// Params is the parameter bag a plan is executed against; it participates
// in the cache key alongside the plan ID.
type Params map[string]string

func (p Params) key() string {
	// deterministic key: sorted by insertion via a stable small loop; params
	// are expected to be few (typically <8, mirroring the Hot slot cap).
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	// simple insertion sort; avoids importing sort for a handful of entries
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	s := ""
	for _, k := range keys {
		s += k + "=" + p[k] + ";"
	}
	return s
}

// Plan is a prebound query executed repeatedly against changing snapshots.
// Register binds it once; Run is invoked on every cache miss or epoch rollover.
type Plan struct {
	ID  PlanID
	Run func(snap *ontology.Snapshot, params Params) (interface{}, error)
}

type cacheEntry struct {
	epoch  digest.Digest
	result interface{}
	err    error
}

// Cache is the prebound/cached query plan store, epoch-invalidated on
// snapshot change.
type Cache struct {
	mu      sync.Mutex
	plans   map[PlanID]Plan
	entries map[string]cacheEntry
}

// NewCache builds an empty plan cache.
func NewCache() *Cache {
	return &Cache{
		plans:   make(map[PlanID]Plan),
		entries: make(map[string]cacheEntry),
	}
}

// Register prebinds a plan under its ID.
func (c *Cache) Register(p Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

func cacheKey(id PlanID, params Params) string {
	return string(id) + "|" + params.key()
}

// Eval runs (or replays from cache) a plan against the current snapshot.
// A cached result is reused only while epoch == snap.ID; any snapshot
// change invalidates every entry implicitly (the key does not include the
// epoch, so an entry from an older snapshot is skipped and then
// overwritten by the next successful evaluation; no explicit sweep runs).
func (c *Cache) Eval(snap *ontology.Snapshot, id PlanID, params Params) (interface{}, error) {
	plan, ok := c.plans[id]
	if !ok {
		return nil, fmt.Errorf("warmengine: no plan registered for %s", id)
	}

	key := cacheKey(id, params)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && entry.epoch == snap.ID {
		c.mu.Unlock()
		return entry.result, entry.err
	}
	c.mu.Unlock()

	result, err := plan.Run(snap, params)

	if err == nil {
		c.mu.Lock()
		c.entries[key] = cacheEntry{epoch: snap.ID, result: result, err: nil}
		c.mu.Unlock()
	}

	return result, err
}

// Cached returns the most recent cached result for the same
// (plan, params, snapshot) tuple, if one exists. It is the
// degrade-to-cache fallback: a caller whose Eval failed on
// budget exhaustion serves this instead and marks the operation's
// receipt degraded. Failed evaluations are never cached, so a hit here
// is always a previously successful result.
func (c *Cache) Cached(snapID digest.Digest, id PlanID, params Params) (interface{}, bool) {
	key := cacheKey(id, params)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || entry.epoch != snapID {
		return nil, false
	}
	return entry.result, true
}

// Construct8Template describes a CONSTRUCT8 query: a fixed pattern of up
// to 8 triple templates (subject/predicate/object, any of which may be a
// bound parameter name prefixed with "?") evaluated against a snapshot's
// triples to produce a derived ≤8-triple result set, handed to the Hot
// kernel's Slots representation for any Hot-class caller.
type Construct8Template struct {
	Patterns [hotkernel.MaxSlots]TriplePattern
	Len      int
}

// TriplePattern is one CONSTRUCT8 template line; a field starting with "?"
// binds to params[field[1:]] at execution time.
type TriplePattern struct {
	Subject, Predicate, Object string
}

func resolve(field string, params Params) (string, bool) {
	if len(field) > 0 && field[0] == '?' {
		v, ok := params[field[1:]]
		return v, ok
	}
	return field, true
}

// Execute materializes a CONSTRUCT8 template against a snapshot's triples,
// returning at most MaxSlots resulting triples.
func Execute(tmpl Construct8Template, snap *ontology.Snapshot, params Params) ([]ontology.Triple, error) {
	out := make([]ontology.Triple, 0, tmpl.Len)
	for i := 0; i < tmpl.Len; i++ {
		pat := tmpl.Patterns[i]
		s, ok := resolve(pat.Subject, params)
		if !ok {
			return nil, fmt.Errorf("warmengine: unbound parameter in subject position of pattern %d", i)
		}
		p, ok := resolve(pat.Predicate, params)
		if !ok {
			return nil, fmt.Errorf("warmengine: unbound parameter in predicate position of pattern %d", i)
		}
		o, ok := resolve(pat.Object, params)
		if !ok {
			return nil, fmt.Errorf("warmengine: unbound parameter in object position of pattern %d", i)
		}

		if containsTemplateTriple(snap.Triples, s, p, o) {
			out = append(out, ontology.Triple{Subject: s, Predicate: p, Object: o})
		}
	}
	if len(out) > hotkernel.MaxSlots {
		return nil, fmt.Errorf("warmengine: CONSTRUCT8 result exceeds %d triples", hotkernel.MaxSlots)
	}
	return out, nil
}

func containsTemplateTriple(triples []ontology.Triple, s, p, o string) bool {
	for _, t := range triples {
		if t.Subject == s && t.Predicate == p && t.Object == o {
			return true
		}
	}
	return false
}

// Class is the latency class this package always reports — a constant
// rather than a parameter, since a Warm-tier component never executes at
// another tier.
const Class = clock.Warm
