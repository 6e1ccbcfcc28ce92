package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker("node", WithMaxFailures(2), WithResetTimeout(time.Second), withClock(clock.now))
	boom := errors.New("boom")

	assert.Equal(t, boom, cb.Execute(func() error { return boom }, nil))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, boom, cb.Execute(func() error { return boom }, nil))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker("node", WithMaxFailures(1), WithResetTimeout(time.Second), withClock(clock.now))
	_ = cb.Execute(func() error { return errors.New("boom") }, nil)

	clock.t = clock.t.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker("node", WithMaxFailures(3), WithResetTimeout(time.Second), withClock(clock.now))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") }, nil)
	}
	clock.t = clock.t.Add(2 * time.Second)

	_ = cb.Execute(func() error { return errors.New("still down") }, nil)

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_UncountableErrorsDoNotTrip(t *testing.T) {
	exists := errors.New("already exists")
	cb := NewCircuitBreaker("node", WithMaxFailures(1))

	err := cb.Execute(func() error { return exists }, func(err error) bool { return !errors.Is(err, exists) })

	assert.Equal(t, exists, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
