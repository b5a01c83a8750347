// Package balancer selects a backend URL for a role from the health
// monitor's current snapshot. Adapted from olla's RoundRobinSelector
// (internal/adapter/balancer/round_robin.go): same atomic counter, but
// selection is always taken modulo the current healthy count, not the
// configured backend count, so a backend going unhealthy mid-run never
// produces an out-of-range index or a biased rotation.
package balancer

import (
	"sync/atomic"

	"github.com/relaygate/gateway/internal/core/domain"
)

// RoundRobin hands out chat backends in round-robin order. The counter
// advances exactly once per admitted chat request, never per
// retry and never in response to a health-list change.
type RoundRobin struct {
	counter uint64
}

// Select returns healthy[current % len(healthy)] and advances the shared
// counter. Returns ("", false) when healthy is empty.
func (r *RoundRobin) Select(healthy []string) (string, bool) {
	if len(healthy) == 0 {
		return "", false
	}
	current := atomic.AddUint64(&r.counter, 1) - 1
	return healthy[current%uint64(len(healthy))], true
}

// SelectSingle returns the sole healthy backend for a single-backend role
// (text2sql, embed, rerank): the first healthy backend is used.
func SelectSingle(healthy []string) (string, bool) {
	if len(healthy) == 0 {
		return "", false
	}
	return healthy[0], true
}

// SelectForRole dispatches to round-robin for chat and first-healthy for
// every other role.
func SelectForRole(role domain.Role, healthy []string, rr *RoundRobin) (string, bool) {
	if role == domain.RoleChat {
		return rr.Select(healthy)
	}
	return SelectSingle(healthy)
}
