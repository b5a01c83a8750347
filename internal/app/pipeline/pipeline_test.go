package pipeline

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/adapter/concurrency"
	"github.com/relaygate/gateway/internal/adapter/health"
	"github.com/relaygate/gateway/internal/adapter/proxy"
	"github.com/relaygate/gateway/internal/adapter/quota"
	"github.com/relaygate/gateway/internal/adapter/ratelimit"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/core/tokens"
	"github.com/relaygate/gateway/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()

	rl := ratelimit.New(ratelimit.Config{MaxRPS: 100, WindowSecs: 1, Burst: 100})
	gate := concurrency.New(concurrency.Config{QueueTimeout: time.Second, IdleTimeout: time.Minute, Capacity: 10, GCEvery: 1000}, concurrency.Hooks{})
	ledger := quota.New(domain.QuotaLimits{DailyRequestLimit: 1000, DailyTokenLimit: 100000, MonthlyTokenLimit: 1000000})
	hm := health.New(domain.RoleBackends{}, domain.HealthConfig{CheckInterval: time.Hour, CheckTimeout: time.Second}, "", discardLogger())

	estimator, err := tokens.New()
	require.NoError(t, err)

	jsonProxy := proxy.NewJSONProxy(nil, nil, "")
	streamProxy := proxy.NewStreamProxy(nil, nil, "", discardLogger())

	return New(cfg, discardLogger(), rl, gate, ledger, hm, jsonProxy, streamProxy, nil, estimator, metrics.New())
}

func TestAuthenticate_MissingHeaderRejected(t *testing.T) {
	p := newTestPipeline(t, Config{GatewayAPIKey: "secret"})
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)

	err := p.authenticate(req)
	require.NotNil(t, err)
	assert.Equal(t, domain.ErrAuthMissing, err.Kind)
}

func TestAuthenticate_WrongTokenRejected(t *testing.T) {
	p := newTestPipeline(t, Config{GatewayAPIKey: "secret"})
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer wrong")

	err := p.authenticate(req)
	require.NotNil(t, err)
	assert.Equal(t, domain.ErrAuthInvalid, err.Kind)
}

func TestAuthenticate_CorrectTokenAccepted(t *testing.T) {
	p := newTestPipeline(t, Config{GatewayAPIKey: "secret"})
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer secret")

	assert.Nil(t, p.authenticate(req))
}

func TestAdmit_RejectsMissingAuthAfterPassingRateLimit(t *testing.T) {
	p := newTestPipeline(t, Config{GatewayAPIKey: "secret"})
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	_, ok := p.admit(rec, req)

	assert.False(t, ok)
	assert.Equal(t, 401, rec.Code)
}

func TestAdmit_AcquiresConcurrencySlotOnSuccess(t *testing.T) {
	p := newTestPipeline(t, Config{GatewayAPIKey: "secret"})
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("Authorization", "Bearer secret")

	rec := httptest.NewRecorder()
	a, ok := p.admit(rec, req)
	require.True(t, ok)
	require.NotNil(t, a.release)
	a.finish(p)
}

func TestRecordUsage_UpdatesQuotaGauges(t *testing.T) {
	p := newTestPipeline(t, Config{GatewayAPIKey: "secret"})
	p.recordUsage("tenant-a", 250)

	snap := p.quota.Snapshot("tenant-a")
	assert.Equal(t, int64(250), snap.DailyTokens)

	rec := httptest.NewRecorder()
	p.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `gateway_quota_daily_tokens{tenant="tenant-a"} 250`)
}

func TestSelectBackend_NoHealthyBackendReturnsError(t *testing.T) {
	p := newTestPipeline(t, Config{})
	_, err := p.selectBackend(domain.RoleChat)
	require.NotNil(t, err)
	assert.Equal(t, domain.ErrNoHealthyBackend, err.Kind)
}
