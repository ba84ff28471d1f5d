package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(3, time.Minute)
	fail := func() error { return errBoom }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Do(fail, nil), errBoom)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// Open breaker fails fast without calling fn.
	called := false
	err := cb.Do(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestFallbackRunsWhileOpen(t *testing.T) {
	cb := New(1, time.Minute)
	assert.Error(t, cb.Do(func() error { return errBoom }, nil))
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Do(
		func() error { return errors.New("should not run") },
		func() error { return nil },
	)
	assert.NoError(t, err)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(2, time.Minute)

	assert.Error(t, cb.Do(func() error { return errBoom }, nil))
	assert.NoError(t, cb.Do(func() error { return nil }, nil))
	assert.Error(t, cb.Do(func() error { return errBoom }, nil))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	assert.Error(t, cb.Do(func() error { return errBoom }, nil))
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, cb.Do(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := New(5, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.Error(t, cb.Do(func() error { return errBoom }, nil))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)
	assert.Error(t, cb.Do(func() error { return errBoom }, nil))
	assert.Equal(t, StateOpen, cb.GetState())
}
