package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	from, to CircuitBreakerState
}

func newTestBreaker(clock *time.Time, transitions *[]transition) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "yfinance",
		MaxFailures:      2,
		ResetTimeout:     time.Minute,
		SuccessThreshold: 1,
		OnStateChange: func(_ string, from, to CircuitBreakerState) {
			*transitions = append(*transitions, transition{from, to})
		},
	})
	cb.now = func() time.Time { return *clock }
	return cb
}

func call(cb *CircuitBreaker, err error) error {
	_, got := Execute(context.Background(), cb, func(context.Context) (struct{}, error) {
		return struct{}{}, err
	})
	return got
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []transition
	cb := newTestBreaker(&clock, &transitions)
	failure := errors.New("upstream 503")

	require.ErrorIs(t, call(cb, failure), failure)
	assert.Equal(t, StateClosed, cb.State())

	require.ErrorIs(t, call(cb, failure), failure)
	assert.Equal(t, StateOpen, cb.State())

	err := call(cb, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "yfinance")

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, call(cb, nil))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []transition
	cb := newTestBreaker(&clock, &transitions)
	failure := errors.New("boom")

	call(cb, failure)
	call(cb, failure)
	require.Equal(t, StateOpen, cb.State())

	clock = clock.Add(2 * time.Minute)
	require.ErrorIs(t, call(cb, failure), failure)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, call(cb, nil), ErrCircuitOpen)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	notFound := errors.New("no data")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "akshare",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 3; i++ {
		call(cb, notFound)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 3, cb.Counts().TotalSuccesses)

	cb.Reset()
	assert.Equal(t, Counts{}, cb.Counts())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitBreakerState(9).String())
}
