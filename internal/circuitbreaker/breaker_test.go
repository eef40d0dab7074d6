package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return New(&Config{
		Name:        "test",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
}

func fail(ctx context.Context) error { return errBoom }

func ok(ctx context.Context) error { return nil }

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := testBreaker(time.Second)
	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(context.Background(), ok))
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(10), cb.Counts().TotalSuccesses)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := testBreaker(time.Second)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), ok)
	assert.ErrorIs(t, err, ErrCircuitOpen, "open breaker rejects without calling")
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := testBreaker(time.Second)

	require.Error(t, cb.Execute(context.Background(), fail))
	require.Error(t, cb.Execute(context.Background(), fail))
	require.NoError(t, cb.Execute(context.Background(), ok))
	require.Error(t, cb.Execute(context.Background(), fail))
	require.Error(t, cb.Execute(context.Background(), fail))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := testBreaker(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), fail))
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// MaxRequests consecutive successes close the breaker again.
	require.NoError(t, cb.Execute(context.Background(), ok))
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), fail))
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	cb := testBreaker(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), fail))
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// Hold MaxRequests slots with in-flight probes, then the next one is
	// rejected.
	started := make(chan struct{})
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		go cb.Execute(context.Background(), func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}
	<-started
	<-started

	err := cb.Execute(context.Background(), ok)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestFailureRatio(t *testing.T) {
	assert.Zero(t, Counts{}.FailureRatio())
	assert.Equal(t, 0.5, Counts{Requests: 4, TotalFailures: 2}.FailureRatio())
}

func TestPipelineBreakersHealth(t *testing.T) {
	p := NewPipelineBreakers()

	status, services := p.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
	assert.Equal(t, "CLOSED", services["detector"])

	for i := 0; i < 3; i++ {
		_ = p.Detector.Execute(context.Background(), fail)
	}
	status, services = p.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
	assert.Equal(t, "OPEN", services["detector"])
}
