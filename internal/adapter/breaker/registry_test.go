package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/core/domain"
)

func newTestRegistry() *Registry {
	return NewRegistry(Config{
		FailureThreshold: 3,
		SuccessThreshold: 3,
		RecoveryTimeout:  20 * time.Millisecond,
	}, nil)
}

func TestRegistry_ClosedAllowsAndStaysClosedOnSuccess(t *testing.T) {
	r := newTestRegistry()

	for i := 0; i < 10; i++ {
		g, ok := r.Allow("http://backend-a")
		require.True(t, ok)
		g.Success()
	}
	assert.Equal(t, domain.CircuitClosed, r.State("http://backend-a"))
}

func TestRegistry_OpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestRegistry()

	for i := 0; i < 3; i++ {
		g, ok := r.Allow("http://backend-b")
		require.True(t, ok)
		g.Failure()
	}
	assert.Equal(t, domain.CircuitOpen, r.State("http://backend-b"))

	_, ok := r.Allow("http://backend-b")
	assert.False(t, ok, "fourth call must be rejected without contacting the backend")
}

func TestRegistry_HalfOpenRecoversAfterThreeSuccesses(t *testing.T) {
	r := newTestRegistry()
	url := "http://backend-c"

	for i := 0; i < 3; i++ {
		g, _ := r.Allow(url)
		g.Failure()
	}
	require.Equal(t, domain.CircuitOpen, r.State(url))

	time.Sleep(25 * time.Millisecond)

	g, ok := r.Allow(url)
	require.True(t, ok, "recovery timeout elapsed, should transition to half-open")
	assert.Equal(t, domain.CircuitHalfOpen, r.State(url))
	g.Success()

	g, ok = r.Allow(url)
	require.True(t, ok)
	g.Success()
	assert.Equal(t, domain.CircuitHalfOpen, r.State(url))

	g, ok = r.Allow(url)
	require.True(t, ok)
	g.Success()
	assert.Equal(t, domain.CircuitClosed, r.State(url), "third consecutive success must close the circuit")
}

func TestRegistry_HalfOpenSingleFailureReopens(t *testing.T) {
	r := newTestRegistry()
	url := "http://backend-d"

	for i := 0; i < 3; i++ {
		g, _ := r.Allow(url)
		g.Failure()
	}
	time.Sleep(25 * time.Millisecond)

	g, ok := r.Allow(url)
	require.True(t, ok)
	require.Equal(t, domain.CircuitHalfOpen, r.State(url))

	g.Failure()
	assert.Equal(t, domain.CircuitOpen, r.State(url), "a single half-open failure must reopen the circuit")
}

func TestRegistry_IndependentBackendsDoNotShareState(t *testing.T) {
	r := newTestRegistry()

	for i := 0; i < 3; i++ {
		g, _ := r.Allow("http://backend-e")
		g.Failure()
	}
	assert.Equal(t, domain.CircuitOpen, r.State("http://backend-e"))
	assert.Equal(t, domain.CircuitClosed, r.State("http://backend-f"))
}

func TestRegistry_OutcomeAppliesToSnapshotEvenAfterConcurrentTransition(t *testing.T) {
	r := newTestRegistry()
	url := "http://backend-g"

	g1, ok := r.Allow(url)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		g, _ := r.Allow(url)
		g.Failure()
	}
	require.Equal(t, domain.CircuitOpen, r.State(url))

	// g1 was admitted while CLOSED; its outcome is delivered to the same
	// breaker instance without panicking, and a success arriving while the
	// breaker is OPEN leaves it OPEN.
	g1.Success()
	assert.Equal(t, domain.CircuitOpen, r.State(url))
}
