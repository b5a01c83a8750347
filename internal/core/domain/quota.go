package domain

import "time"

// QuotaRecord is the per-tenant counter set with UTC daily/monthly reset
// boundaries. Zero value is a record freshly created for a tenant seen for
// the first time.
type QuotaRecord struct {
	DailyResetAt   time.Time
	MonthlyResetAt time.Time
	DailyTokens    int64
	DailyRequests  int64
	MonthlyTokens  int64
}

// QuotaDenyReason names why a quota check failed. It is carried as the
// GatewayError's Reason, which the 429 response detail and its log line report.
type QuotaDenyReason string

const (
	QuotaDenyNone           QuotaDenyReason = ""
	QuotaDenyDailyRequests  QuotaDenyReason = "daily_requests"
	QuotaDenyDailyTokens    QuotaDenyReason = "daily_tokens"
	QuotaDenyMonthlyTokens  QuotaDenyReason = "monthly_tokens"
)

// QuotaLimits bounds a tenant's daily/monthly usage.
type QuotaLimits struct {
	DailyRequestLimit int64
	DailyTokenLimit   int64
	MonthlyTokenLimit int64
}
