package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

func TestLookupAndSet(t *testing.T) {
	table := NewTable(Route{Kind: "ask", Class: clock.Hot, Policy: PolicyFail})
	r, err := table.Lookup("ask")
	require.NoError(t, err)
	assert.Equal(t, clock.Hot, r.Class)

	_, err = table.Lookup("missing")
	require.ErrorIs(t, err, ErrNoRoute)

	table.Set(Route{Kind: "ask", Class: clock.Warm, Policy: PolicyRetryN, MaxRetries: 3})
	r, _ = table.Lookup("ask")
	assert.Equal(t, clock.Warm, r.Class)
}

func TestDowngradeMovesTowardColdOnly(t *testing.T) {
	assert.Equal(t, clock.Warm, Downgrade(clock.Hot))
	assert.Equal(t, clock.Cold, Downgrade(clock.Warm))
	assert.Equal(t, clock.Cold, Downgrade(clock.Cold))
}

func TestClassifyDowngradesOversizedHotInput(t *testing.T) {
	table := NewTable(Route{Kind: "ask", Class: clock.Hot, Policy: PolicyFail})

	r, err := table.Classify(Request{Kind: "ask", InputSize: 8})
	require.NoError(t, err)
	assert.Equal(t, clock.Hot, r.Class, "exactly 8 items stays Hot")

	r, err = table.Classify(Request{Kind: "ask", InputSize: 9})
	require.NoError(t, err)
	assert.Equal(t, clock.Warm, r.Class, "9 items leaves Hot")
}

func TestClassifyUpdateForcesCold(t *testing.T) {
	table := NewTable(Route{Kind: "construct", Class: clock.Warm, Policy: PolicyFail})
	r, err := table.Classify(Request{Kind: "construct", InputSize: 4, Update: true})
	require.NoError(t, err)
	assert.Equal(t, clock.Cold, r.Class)
}

func TestClassifyRejectsUpgradeRequest(t *testing.T) {
	table := NewTable(Route{Kind: "construct", Class: clock.Warm, Policy: PolicyFail})

	hot := clock.Hot
	_, err := table.Classify(Request{Kind: "construct", Requested: &hot})
	require.ErrorIs(t, err, ErrUnsupportedTier)

	cold := clock.Cold
	r, err := table.Classify(Request{Kind: "construct", Requested: &cold})
	require.NoError(t, err)
	assert.Equal(t, clock.Cold, r.Class, "explicit slower ask is honoured")
}

func TestSupervisorParksAndDrainsOnWarm(t *testing.T) {
	degraded := 0
	sup := NewSupervisor(func(Parked) { degraded++ })

	sup.Park(Parked{Kind: "ask", Payload: "input-1", Cause: errors.New("budget overrun")})
	sup.Park(Parked{Kind: "ask", Payload: "input-2", Cause: errors.New("budget overrun")})
	assert.Equal(t, 2, degraded, "one degraded-receipt hook call per parking")
	assert.Equal(t, 2, sup.Pending())

	var retried []interface{}
	err := sup.Drain(context.Background(), func(_ context.Context, p Parked) error {
		retried = append(retried, p.Payload)
		if p.Payload == "input-2" {
			return errors.New("warm retry failed")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []interface{}{"input-1", "input-2"}, retried)
	assert.Equal(t, 1, sup.Pending(), "failed retry stays parked")
}

func TestAttemptFailPolicyReturnsError(t *testing.T) {
	limiter := NewLimiter(0, 0, 0, 10)
	route := Route{Kind: "update", Class: clock.Cold, Policy: PolicyFail}
	wantErr := errors.New("boom")

	err := Attempt(context.Background(), limiter, route, func(clock.Class) error { return wantErr }, nil)
	require.ErrorIs(t, err, wantErr)
}

func TestAttemptRetryNEventuallySucceeds(t *testing.T) {
	limiter := NewLimiter(0, 0, 0, 10)
	route := Route{Kind: "update", Class: clock.Warm, Policy: PolicyRetryN, MaxRetries: 3}

	attempts := 0
	err := Attempt(context.Background(), limiter, route, func(clock.Class) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestAttemptRetryNExhausted(t *testing.T) {
	limiter := NewLimiter(0, 0, 0, 10)
	route := Route{Kind: "update", Class: clock.Warm, Policy: PolicyRetryN, MaxRetries: 2}

	err := Attempt(context.Background(), limiter, route, func(clock.Class) error {
		return errors.New("always fails")
	}, nil)
	require.ErrorIs(t, err, ErrPolicyExhausted)
}

func TestAttemptDegradeToCache(t *testing.T) {
	limiter := NewLimiter(0, 0, 0, 10)
	route := Route{Kind: "query", Class: clock.Cold, Policy: PolicyDegradeToCache}

	called := false
	err := Attempt(context.Background(), limiter, route, func(clock.Class) error {
		return errors.New("cold engine unavailable")
	}, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAttemptDegradeToCacheWithNoFallback(t *testing.T) {
	limiter := NewLimiter(0, 0, 0, 10)
	route := Route{Kind: "query", Class: clock.Cold, Policy: PolicyDegradeToCache}

	err := Attempt(context.Background(), limiter, route, func(clock.Class) error {
		return errors.New("cold engine unavailable")
	}, nil)
	require.ErrorIs(t, err, ErrPolicyExhausted)
}
