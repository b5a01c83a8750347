// Package breaker implements the per-backend circuit breaker registry
// (component A): a three-state CLOSED/OPEN/HALF_OPEN guard per backend URL,
// adapted from olla's unifier circuit breaker to operate on backend URLs
// instead of endpoint unification keys, and wrapped in a registry keyed by
// a lock-free map so unrelated backends never contend on the same lock.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/relaygate/gateway/internal/core/domain"
)

// Config holds the circuit breaker's tunables.
type Config struct {
	FailureThreshold int
	SuccessThreshold int // always 3 per spec; kept configurable for tests
	RecoveryTimeout  time.Duration
}

// Breaker is a single backend's circuit breaker. All fields are touched
// through atomics so Allow/RecordSuccess/RecordFailure never block each
// other across distinct backends and rarely contend within one.
type Breaker struct {
	cfg             Config
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureTime atomic.Int64
}

func newBreaker(cfg Config) *Breaker {
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may proceed, performing the OPEN->HALF_OPEN
// transition as a side effect when the recovery timeout has elapsed. This is
// the "snapshot at entry" half of the guard: the caller must pair a true
// result with exactly one later call to RecordSuccess or RecordFailure on
// the same Breaker, even if that call lands after a concurrent transition.
func (b *Breaker) Allow() bool {
	switch domain.CircuitState(b.state.Load()) {
	case domain.CircuitClosed:
		return true
	case domain.CircuitHalfOpen:
		return true
	case domain.CircuitOpen:
		last := time.Unix(0, b.lastFailureTime.Load())
		if time.Since(last) >= b.cfg.RecoveryTimeout {
			b.transitionTo(domain.CircuitHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	switch domain.CircuitState(b.state.Load()) {
	case domain.CircuitClosed:
		b.failures.Store(0)
	case domain.CircuitHalfOpen:
		successes := b.successes.Add(1)
		if int(successes) >= b.successThreshold() {
			b.transitionTo(domain.CircuitClosed)
		}
	case domain.CircuitOpen:
		// outcome arrived for a call admitted before the breaker reopened; ignore
	}
}

func (b *Breaker) RecordFailure() {
	b.lastFailureTime.Store(time.Now().UnixNano())
	switch domain.CircuitState(b.state.Load()) {
	case domain.CircuitClosed:
		failures := b.failures.Add(1)
		if int(failures) >= b.cfg.FailureThreshold {
			b.transitionTo(domain.CircuitOpen)
		}
	case domain.CircuitHalfOpen:
		// a single half-open failure reopens immediately
		b.transitionTo(domain.CircuitOpen)
	case domain.CircuitOpen:
		// already open
	}
}

func (b *Breaker) State() domain.CircuitState {
	return domain.CircuitState(b.state.Load())
}

func (b *Breaker) successThreshold() int {
	if b.cfg.SuccessThreshold <= 0 {
		return 3
	}
	return b.cfg.SuccessThreshold
}

func (b *Breaker) transitionTo(state domain.CircuitState) {
	b.state.Store(int32(state))
	b.failures.Store(0)
	b.successes.Store(0)
}

// Registry hands out one Breaker per backend URL, creating it lazily.
type Registry struct {
	cfg       Config
	breakers  *xsync.Map[string, *Breaker]
	onTransit func(backendURL string, state domain.CircuitState)
}

// NewRegistry builds a registry whose breakers all share cfg. onTransition,
// if non-nil, is invoked after every state change for the gauge/counter
// pair the registry needs ("a state gauge and a failure counter are emitted
// on every transition"); it is best-effort and never blocks a Guard call.
func NewRegistry(cfg Config, onTransition func(backendURL string, state domain.CircuitState)) *Registry {
	return &Registry{
		cfg:       cfg,
		breakers:  xsync.NewMap[string, *Breaker](),
		onTransit: onTransition,
	}
}

func (r *Registry) breakerFor(backendURL string) *Breaker {
	b, _ := r.breakers.LoadOrCompute(backendURL, func() (*Breaker, bool) {
		return newBreaker(r.cfg), false
	})
	return b
}

// Guard is a snapshot-at-entry handle: obtained once per call attempt,
// outcome applied once via Success or Failure regardless of how long the
// call takes or how many state transitions occur meanwhile.
type Guard struct {
	breaker    *Breaker
	registry   *Registry
	backendURL string
}

// Allow acquires a Guard for backendURL. ok is false when the circuit is
// OPEN and the recovery timeout has not yet elapsed — callers must map this
// to domain.NewCircuitOpenError and must not call Success/Failure.
func (r *Registry) Allow(backendURL string) (g Guard, ok bool) {
	breaker := r.breakerFor(backendURL)
	before := breaker.State()
	if !breaker.Allow() {
		return Guard{}, false
	}
	after := breaker.State()
	if after != before && r.onTransit != nil {
		r.onTransit(backendURL, after)
	}
	return Guard{breaker: breaker, registry: r, backendURL: backendURL}, true
}

func (g Guard) Success() {
	if g.breaker == nil {
		return
	}
	before := g.breaker.State()
	g.breaker.RecordSuccess()
	g.notify(before)
}

func (g Guard) Failure() {
	if g.breaker == nil {
		return
	}
	before := g.breaker.State()
	g.breaker.RecordFailure()
	g.notify(before)
}

func (g Guard) notify(before domain.CircuitState) {
	after := g.breaker.State()
	if after != before && g.registry != nil && g.registry.onTransit != nil {
		g.registry.onTransit(g.backendURL, after)
	}
}

// State returns the current state of backendURL's breaker, creating it if
// unseen. Used by the admin/telemetry surface.
func (r *Registry) State(backendURL string) domain.CircuitState {
	return r.breakerFor(backendURL).State()
}
