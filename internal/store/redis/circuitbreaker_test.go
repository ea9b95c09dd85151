package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

// fakeClock lets tests step past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, 100*time.Millisecond)
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3)
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Equal(t, "closed", cb.CurrentState().String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errFail }), errFail)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Rejected())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errFail })
	}
	require.Equal(t, StateOpen, cb.CurrentState())

	clk.advance(150 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb, clk := newTestBreaker(2)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errFail })
	}
	clk.advance(150 * time.Millisecond)
	_ = cb.Execute(func() error { return errFail })
	assert.Equal(t, StateOpen, cb.CurrentState())
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clk := newTestBreaker(1)
	_ = cb.Execute(func() error { return errFail })
	clk.advance(150 * time.Millisecond)

	err := cb.Execute(func() error {
		// a concurrent caller during the probe is rejected
		assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3)
	_ = cb.Execute(func() error { return errFail })
	_ = cb.Execute(func() error { return errFail })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errFail })
	_ = cb.Execute(func() error { return errFail })
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	cb, clk := newTestBreaker(1)
	var transitions []State
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	_ = cb.Execute(func() error { return errFail })
	assert.Equal(t, []State{StateOpen}, transitions)

	clk.advance(150 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
