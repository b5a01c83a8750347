package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/core/domain"
)

func TestLedger_DeniesOnDailyTokenLimit(t *testing.T) {
	l := New(domain.QuotaLimits{DailyTokenLimit: 100, MonthlyTokenLimit: 10000, DailyRequestLimit: 1000})

	err := l.Check("tenant", 50)
	require.Nil(t, err)
	l.Record("tenant", 50)

	err = l.Check("tenant", 60)
	require.NotNil(t, err)
	assert.Equal(t, domain.ErrQuotaExceeded, err.Kind)
	assert.Equal(t, string(domain.QuotaDenyDailyTokens), err.Reason)
}

func TestLedger_DeniesOnDailyRequestLimit(t *testing.T) {
	l := New(domain.QuotaLimits{DailyRequestLimit: 1, DailyTokenLimit: 1_000_000, MonthlyTokenLimit: 1_000_000})

	require.Nil(t, l.Check("tenant", 1))
	l.Record("tenant", 1)

	err := l.Check("tenant", 1)
	require.NotNil(t, err)
	assert.Equal(t, string(domain.QuotaDenyDailyRequests), err.Reason)
}

func TestLedger_ResetAtDailyBoundary(t *testing.T) {
	l := New(domain.QuotaLimits{DailyTokenLimit: 10, MonthlyTokenLimit: 1_000_000, DailyRequestLimit: 1000})
	frozen := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	require.Nil(t, l.Check("tenant", 10))
	l.Record("tenant", 10)

	require.NotNil(t, l.Check("tenant", 1), "at the boundary minus epsilon the tenant must still be denied")

	l.now = func() time.Time { return frozen.Add(2 * time.Second) }
	assert.Nil(t, l.Check("tenant", 1), "after UTC midnight the daily counters must be reset")
}

func TestLedger_MonthlyResetAcrossDecemberToJanuary(t *testing.T) {
	l := New(domain.QuotaLimits{MonthlyTokenLimit: 10, DailyTokenLimit: 1_000_000, DailyRequestLimit: 1000})
	frozen := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	require.Nil(t, l.Check("tenant", 10))
	l.Record("tenant", 10)
	require.NotNil(t, l.Check("tenant", 1))

	l.now = func() time.Time { return time.Date(2027, 1, 1, 0, 0, 1, 0, time.UTC) }
	assert.Nil(t, l.Check("tenant", 1), "monthly counters must reset across the December->January boundary")
}

func TestLedger_CacheHitRecordsZeroTokensButCountsRequest(t *testing.T) {
	l := New(domain.QuotaLimits{DailyRequestLimit: 2, DailyTokenLimit: 1000, MonthlyTokenLimit: 1000})
	l.Record("tenant", 0)
	snap := l.Snapshot("tenant")
	assert.Equal(t, int64(0), snap.DailyTokens)
	assert.Equal(t, int64(1), snap.DailyRequests)
}

func TestLedger_EvictIsNoOpWhileWindowStillActive(t *testing.T) {
	l := New(domain.QuotaLimits{DailyTokenLimit: 1_000_000, MonthlyTokenLimit: 1_000_000, DailyRequestLimit: 1000})
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	l.Record("tenant", 5)
	l.Evict("tenant")

	snap := l.Snapshot("tenant")
	assert.Equal(t, int64(5), snap.DailyTokens, "a still-active quota window must survive eviction")
}

func TestLedger_EvictRemovesExpiredRecord(t *testing.T) {
	l := New(domain.QuotaLimits{DailyTokenLimit: 1_000_000, MonthlyTokenLimit: 1_000_000, DailyRequestLimit: 1000})
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }
	l.Record("tenant", 5)

	l.now = func() time.Time { return time.Date(2026, 4, 2, 0, 0, 1, 0, time.UTC) }
	l.Evict("tenant")

	assert.Empty(t, l.Tenants(), "a record expired past both its daily and monthly boundaries must be dropped")
}

func TestLedger_EvictUnknownTenantIsNoOp(t *testing.T) {
	l := New(domain.QuotaLimits{})
	l.Evict("never-seen")
	assert.Empty(t, l.Tenants())
}

func TestNextUTCMonthStart_HandlesYearRollover(t *testing.T) {
	got := nextUTCMonthStart(time.Date(2026, 12, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestNextUTCMidnight_HandlesMonthRollover(t *testing.T) {
	got := nextUTCMidnight(time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), got)
}
