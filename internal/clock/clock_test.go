package clock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetFor(t *testing.T) {
	assert.Equal(t, Ticks(8), BudgetFor(Hot))
	assert.Equal(t, Ticks(2_000_000), BudgetFor(Warm))
	assert.Equal(t, Ticks(2_000_000_000), BudgetFor(Cold))
}

func TestNewDefaultsScale(t *testing.T) {
	c := New(0)
	assert.Equal(t, 0.25, c.ScaleNS)
}

func TestNowMonotonic(t *testing.T) {
	c := New(0.25)
	a := c.Now()
	b := c.Now()
	assert.LessOrEqual(t, a, b)
}

func TestMeasurePropagatesError(t *testing.T) {
	c := New(0.25)
	sentinel := errors.New("boom")
	ticks, err := c.Measure(func() error { return sentinel })
	require.ErrorIs(t, err, sentinel)
	assert.GreaterOrEqual(t, ticks, Ticks(0))
}

func TestEnforceBudgetViolation(t *testing.T) {
	c := New(0.25)
	err := c.Enforce(Hot, 9)
	require.ErrorIs(t, err, ErrBudgetViolation)

	require.NoError(t, c.Enforce(Hot, 8))
}

func TestNewAccountHonoured(t *testing.T) {
	acc := NewAccount(Hot, 5)
	assert.True(t, acc.Honoured)
	assert.Equal(t, Ticks(8), acc.Budget)

	acc = NewAccount(Hot, 9)
	assert.False(t, acc.Honoured)
}
