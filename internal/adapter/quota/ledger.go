// Package quota implements the per-tenant quota ledger (component E):
// daily and monthly token/request counters with UTC reset boundaries.
// Grounded on original_source's quota_manager.py for the check/record
// contract, but deliberately NOT on its reset-boundary arithmetic — the
// Python source advances the calendar day via `now.replace(day=now.day+1)`,
// which panics or wraps incorrectly at month end. This fixes that
// explicitly; this implementation computes the next UTC midnight and the
// next UTC month start using time.Date's own normalisation instead.
package quota

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/relaygate/gateway/internal/core/domain"
)

type record struct {
	mu sync.Mutex
	domain.QuotaRecord
}

// Ledger tracks one QuotaRecord per tenant in a lock-free map; mutation of
// one tenant's record never blocks another's.
type Ledger struct {
	limits  domain.QuotaLimits
	records *xsync.Map[string, *record]
	now     func() time.Time
}

func New(limits domain.QuotaLimits) *Ledger {
	return &Ledger{limits: limits, records: xsync.NewMap[string, *record](), now: time.Now}
}

func (l *Ledger) recordFor(tenant string) *record {
	r, _ := l.records.LoadOrCompute(tenant, func() (*record, bool) {
		return &record{}, false
	})
	return r
}

// nextUTCMidnight returns the next UTC day boundary strictly after t.
func nextUTCMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}

// nextUTCMonthStart returns the next UTC month boundary strictly after t,
// correctly rolling December into January of the following year because
// time.Date normalises an out-of-range month argument itself.
func nextUTCMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func (r *record) rolloverLocked(now time.Time) {
	if r.DailyResetAt.IsZero() || !now.Before(r.DailyResetAt) {
		r.DailyTokens = 0
		r.DailyRequests = 0
		r.DailyResetAt = nextUTCMidnight(now)
	}
	if r.MonthlyResetAt.IsZero() || !now.Before(r.MonthlyResetAt) {
		r.MonthlyTokens = 0
		r.MonthlyResetAt = nextUTCMonthStart(now)
	}
}

// Check evaluates the daily and monthly limits against estimatedTokens, applying any
// pending reset first so the decision reflects the current window.
func (l *Ledger) Check(tenant string, estimatedTokens int64) *domain.GatewayError {
	r := l.recordFor(tenant)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := l.now()
	r.rolloverLocked(now)

	if l.limits.DailyRequestLimit > 0 && r.DailyRequests >= l.limits.DailyRequestLimit {
		return domain.NewQuotaExceededError(domain.QuotaDenyDailyRequests, r.DailyResetAt)
	}
	if l.limits.DailyTokenLimit > 0 && r.DailyTokens+estimatedTokens > l.limits.DailyTokenLimit {
		return domain.NewQuotaExceededError(domain.QuotaDenyDailyTokens, r.DailyResetAt)
	}
	if l.limits.MonthlyTokenLimit > 0 && r.MonthlyTokens+estimatedTokens > l.limits.MonthlyTokenLimit {
		return domain.NewQuotaExceededError(domain.QuotaDenyMonthlyTokens, r.MonthlyResetAt)
	}
	return nil
}

// Record increments the tenant's counters by tokens (0 for a cache hit) and
// its request count by one.
func (l *Ledger) Record(tenant string, tokens int64) {
	r := l.recordFor(tenant)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := l.now()
	r.rolloverLocked(now)

	r.DailyTokens += tokens
	r.MonthlyTokens += tokens
	r.DailyRequests++
}

// Snapshot returns a copy of tenant's current counters, applying rollover
// first, for the admin/telemetry surface.
func (l *Ledger) Snapshot(tenant string) domain.QuotaRecord {
	r := l.recordFor(tenant)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rolloverLocked(l.now())
	return r.QuotaRecord
}

// Evict removes tenant's record if it has already rolled over past both its
// daily and monthly reset boundaries — i.e. it carries no currently-accounted
// usage, so discarding it behaves identically to the lazy rollover Check,
// Record or Snapshot would perform on next access anyway. A record still
// inside an active window is left alone: quota usage persists for the full
// accounting window even when the same tenant's rate-limiter window and
// concurrency-gate entry are GC'd much sooner on their own idle timeout.
func (l *Ledger) Evict(tenant string) {
	r, ok := l.records.Load(tenant)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := l.now()
	if !r.DailyResetAt.IsZero() && now.Before(r.DailyResetAt) {
		return
	}
	if !r.MonthlyResetAt.IsZero() && now.Before(r.MonthlyResetAt) {
		return
	}
	l.records.Delete(tenant)
}

// Tenants returns every tenant the ledger has seen, for GET /admin/quotas.
func (l *Ledger) Tenants() []string {
	var tenants []string
	l.records.Range(func(tenant string, _ *record) bool {
		tenants = append(tenants, tenant)
		return true
	})
	return tenants
}
