package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS05: breaker opens after max failures
func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker allowing 3 failures
	cb := NewCircuitBreaker("queue:b1", WithMaxFailures(3), WithResetTimeout(time.Second))

	// When: three calls fail
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("push failed") })
	}

	// Then: further calls are refused without running
	require.Equal(t, StateOpen, cb.State())
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

// TS06: a successful probe closes the breaker
func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("queue:b1", WithMaxFailures(1), WithResetTimeout(20*time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("queue:b1", WithMaxFailures(1), WithResetTimeout(20*time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("down") })
	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(func() error { return errors.New("still down") })
	assert.EqualError(t, err, "still down")
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("queue:b1", WithMaxFailures(1))
	_ = cb.Execute(func() error { return errors.New("down") })
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "queue:b1", cb.Name())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
