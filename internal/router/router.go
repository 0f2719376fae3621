// Package router implements the tier router: a static operation-kind to
// latency-class routing table with downgrade-only semantics and per-tier
// failure policy dispatch.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

// OperationKind names a category of operation the router dispatches.
type OperationKind string

// Policy is the behavior a tier applies when it cannot complete an
// operation within its own budget.
type Policy string

const (
	PolicyDegradeToCache Policy = "degrade-to-cache"
	PolicyRetryN         Policy = "retry-n"
	PolicyFail           Policy = "fail"
)

// ErrNoRoute is returned when an operation kind has no routing table entry.
var ErrNoRoute = errors.New("router: no route for operation kind")

// ErrPolicyExhausted is returned when a tier's failure policy could not
// recover the operation (e.g. retry-n ran out of retries).
var ErrPolicyExhausted = errors.New("router: tier failure policy exhausted")

// ErrUnsupportedTier is returned when a caller explicitly asks for a tier
// that cannot service the operation — the router never upgrades on its
// own, and it never silently honours an impossible request.
var ErrUnsupportedTier = errors.New("router: requested tier does not support operation")

// maxHotItems is the Hot kernel's fixed input bound; anything larger is
// downgraded to Warm at classification time rather than handed to the
// Hot kernel as a precondition violation.
const maxHotItems = 8

// Route is one routing table entry: which class an operation kind starts
// at, and what to do when that class can't service it.
type Route struct {
	Kind       OperationKind
	Class      clock.Class
	Policy     Policy
	MaxRetries int
}

// Request is one inbound operation presented for classification: its
// table kind, its declared or measured input size, and whether it mutates
// the graph (an update always forces Cold).
type Request struct {
	Kind      OperationKind
	InputSize int
	Update    bool
	// Requested, when non-nil, is the caller's explicit tier ask; the
	// router errors rather than upgrade to honour it.
	Requested *clock.Class
}

// Table is the static operation-kind -> tier routing table, not
// runtime-reconfigured except via full config reload.
type Table struct {
	mu     sync.RWMutex
	routes map[OperationKind]Route
}

// NewTable builds a routing table from a seed set of routes.
func NewTable(routes ...Route) *Table {
	t := &Table{routes: make(map[OperationKind]Route, len(routes))}
	for _, r := range routes {
		t.routes[r.Kind] = r
	}
	return t
}

// Set registers or replaces a route (used by config reload).
func (t *Table) Set(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[r.Kind] = r
}

// Lookup returns the route for an operation kind.
func (t *Table) Lookup(kind OperationKind) (Route, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[kind]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrNoRoute, kind)
	}
	return r, nil
}

// Downgrade returns the next slower latency class (Hot -> Warm -> Cold),
// saturating at Cold. Routing only ever moves toward slower, roomier
// tiers — the router never upgrades on its own.
func Downgrade(c clock.Class) clock.Class {
	switch c {
	case clock.Hot:
		return clock.Warm
	case clock.Warm:
		return clock.Cold
	default:
		return clock.Cold
	}
}

// Classify resolves a request to its effective route: the table's static
// class for the operation kind, downgraded when the input exceeds the
// tier's bounds (a >8-item working set leaves Hot) or when the operation
// mutates the graph (UPDATE forces Cold). An explicit tier ask that the
// effective class cannot satisfy is an error, never an upgrade.
func (t *Table) Classify(req Request) (Route, error) {
	r, err := t.Lookup(req.Kind)
	if err != nil {
		return Route{}, err
	}

	if r.Class == clock.Hot && req.InputSize > maxHotItems {
		r.Class = Downgrade(r.Class)
	}
	if req.Update {
		r.Class = clock.Cold
	}

	if req.Requested != nil && *req.Requested != r.Class {
		// Honouring a slower explicit ask is fine; a faster one would be
		// an upgrade.
		if *req.Requested == clock.Cold || (*req.Requested == clock.Warm && r.Class == clock.Hot) {
			r.Class = *req.Requested
		} else {
			return Route{}, fmt.Errorf("%w: %s cannot run %s-class", ErrUnsupportedTier, req.Kind, req.Requested.String())
		}
	}
	return r, nil
}

// Limiter wraps a per-tier token-bucket backoff for the retry-n policy.
type Limiter struct {
	limiters map[clock.Class]*rate.Limiter
}

// NewLimiter builds a per-class limiter set. ratePerSec/burst of zero
// disables limiting for that class (unlimited).
func NewLimiter(hotRate, warmRate, coldRate float64, burst int) *Limiter {
	mk := func(r float64) *rate.Limiter {
		if r <= 0 {
			return rate.NewLimiter(rate.Inf, burst)
		}
		return rate.NewLimiter(rate.Limit(r), burst)
	}
	return &Limiter{limiters: map[clock.Class]*rate.Limiter{
		clock.Hot:  mk(hotRate),
		clock.Warm: mk(warmRate),
		clock.Cold: mk(coldRate),
	}}
}

// Wait blocks until the class's token bucket admits one more operation, or
// ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, c clock.Class) error {
	lim, ok := l.limiters[c]
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}

// Parked is one Hot input set aside after a budget overrun or
// precondition failure, held until the supervisor retries it on Warm.
// Payload is whatever the caller needs to re-run the operation at the
// Warm tier.
type Parked struct {
	Kind    OperationKind
	Payload interface{}
	Cause   error
}

// Supervisor owns the parked-input queue for failed Hot operations. The
// onPark hook runs once per parking (the caller emits its degraded
// receipt there); Drain hands every parked input to the Warm retry
// function in arrival order.
type Supervisor struct {
	mu     sync.Mutex
	parked []Parked
	onPark func(Parked)
}

// NewSupervisor builds a Supervisor. onPark may be nil.
func NewSupervisor(onPark func(Parked)) *Supervisor {
	return &Supervisor{onPark: onPark}
}

// Park enqueues a failed Hot input for Warm escalation.
func (s *Supervisor) Park(p Parked) {
	s.mu.Lock()
	s.parked = append(s.parked, p)
	s.mu.Unlock()
	if s.onPark != nil {
		s.onPark(p)
	}
}

// Pending returns the number of parked inputs awaiting retry.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

// Drain retries every parked input on Warm in arrival order. Inputs whose
// retry fails stay parked; the first retry error is returned after the
// full pass.
func (s *Supervisor) Drain(ctx context.Context, warmRetry func(context.Context, Parked) error) error {
	s.mu.Lock()
	pending := s.parked
	s.parked = nil
	s.mu.Unlock()

	var firstErr error
	for _, p := range pending {
		if err := warmRetry(ctx, p); err != nil {
			s.mu.Lock()
			s.parked = append(s.parked, p)
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Attempt runs fn at the route's tier, applying the route's failure policy
// on error: retry-n re-invokes fn up to MaxRetries times (backed off by the
// Limiter), degrade-to-cache calls onDegrade once and returns its result,
// and fail returns the last error immediately.
func Attempt(ctx context.Context, limiter *Limiter, route Route, fn func(clock.Class) error, onDegrade func() error) error {
	class := route.Class
	err := limiter.Wait(ctx, class)
	if err != nil {
		return err
	}
	err = fn(class)
	if err == nil {
		return nil
	}

	switch route.Policy {
	case PolicyFail:
		return err

	case PolicyDegradeToCache:
		if onDegrade == nil {
			return fmt.Errorf("%w: degrade-to-cache policy with no cache fallback", ErrPolicyExhausted)
		}
		return onDegrade()

	case PolicyRetryN:
		retries := route.MaxRetries
		if retries <= 0 {
			retries = 1
		}
		lastErr := err
		for i := 0; i < retries; i++ {
			if waitErr := limiter.Wait(ctx, class); waitErr != nil {
				return waitErr
			}
			lastErr = fn(class)
			if lastErr == nil {
				return nil
			}
		}
		return fmt.Errorf("%w: %v", ErrPolicyExhausted, lastErr)

	default:
		return err
	}
}
