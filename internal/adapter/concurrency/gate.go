// Package concurrency implements the per-tenant concurrency gate (component
// D): a bounded semaphore with a fixed acquisition timeout and an
// idle-tenant GC sweep. Adapted from the queueing shape of olla's
// RateLimitValidator cleanup goroutine (stale-IP eviction after idle), but
// restructured around sync.Once-free lazy xsync.Map entries instead of a
// background sweep goroutine, since GC runs "every
// _gc_every admissions" rather than on a timer.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/relaygate/gateway/internal/core/domain"
)

// Config holds the concurrency gate's tunables.
type Config struct {
	QueueTimeout time.Duration
	IdleTimeout  time.Duration
	Capacity     int
	GCEvery      uint64
}

// Hooks lets the pipeline observe gate activity for metrics, and other
// tenant-scoped stores react to idle-tenant GC, without the gate package
// depending on the metrics, ratelimit or quota packages.
type Hooks struct {
	OnQueueDepth func(tenant string, delta int64)
	OnWait       func(tenant string, wait time.Duration)
	OnReject     func(tenant string)
	OnGC         func(count int)
	// OnIdleTenant fires once per tenant the GC sweep prunes, so sibling
	// tenant-keyed stores (rate limiter windows, quota records) can drop
	// their own entry for the same tenant in step.
	OnIdleTenant func(tenant string)
}

type tenantState struct {
	sem        chan struct{}
	lastSeen   atomic.Int64 // unix nanos
	queueDepth atomic.Int64
}

// Gate bounds in-flight requests per tenant.
type Gate struct {
	cfg      Config
	hooks    Hooks
	tenants  *xsync.Map[string, *tenantState]
	admitted atomic.Uint64
}

func New(cfg Config, hooks Hooks) *Gate {
	return &Gate{cfg: cfg, hooks: hooks, tenants: xsync.NewMap[string, *tenantState]()}
}

func (g *Gate) stateFor(tenant string) *tenantState {
	st, _ := g.tenants.LoadOrCompute(tenant, func() (*tenantState, bool) {
		return &tenantState{sem: make(chan struct{}, g.cfg.Capacity)}, false
	})
	return st
}

// Release is returned by Acquire; callers must invoke it exactly once on
// every exit path (success, error, or cancellation).
type Release func()

// Acquire enters the gate for tenant, blocking up to cfg.QueueTimeout. It
// always runs the opportunistic GC sweep check first (spec: "every
// _gc_every admissions").
func (g *Gate) Acquire(ctx context.Context, tenant string) (Release, *domain.GatewayError) {
	if count := g.admitted.Add(1); g.cfg.GCEvery > 0 && count%g.cfg.GCEvery == 0 {
		g.gc()
	}

	st := g.stateFor(tenant)
	st.lastSeen.Store(time.Now().UnixNano())

	st.queueDepth.Add(1)
	if g.hooks.OnQueueDepth != nil {
		g.hooks.OnQueueDepth(tenant, 1)
	}

	entered := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, g.cfg.QueueTimeout)
	defer cancel()

	var released int32
	release := func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			return
		}
		st.queueDepth.Add(-1)
		if g.hooks.OnQueueDepth != nil {
			g.hooks.OnQueueDepth(tenant, -1)
		}
		<-st.sem
	}

	select {
	case st.sem <- struct{}{}:
		if g.hooks.OnWait != nil {
			g.hooks.OnWait(tenant, time.Since(entered))
		}
		return release, nil
	case <-timeoutCtx.Done():
		st.queueDepth.Add(-1)
		if g.hooks.OnQueueDepth != nil {
			g.hooks.OnQueueDepth(tenant, -1)
		}
		if g.hooks.OnReject != nil {
			g.hooks.OnReject(tenant)
		}
		return nil, domain.NewQueueTimeoutError()
	}
}

func (g *Gate) gc() {
	cutoff := time.Now().Add(-g.cfg.IdleTimeout).UnixNano()
	pruned := 0
	g.tenants.Range(func(tenant string, st *tenantState) bool {
		if st.queueDepth.Load() == 0 && st.lastSeen.Load() < cutoff {
			g.tenants.Delete(tenant)
			pruned++
			if g.hooks.OnIdleTenant != nil {
				g.hooks.OnIdleTenant(tenant)
			}
		}
		return true
	})
	if pruned > 0 && g.hooks.OnGC != nil {
		g.hooks.OnGC(pruned)
	}
}

// QueueDepth reports the current queue depth for tenant (admin/telemetry).
func (g *Gate) QueueDepth(tenant string) int64 {
	st, ok := g.tenants.Load(tenant)
	if !ok {
		return 0
	}
	return st.queueDepth.Load()
}
