// Package pipeline is the Request Pipeline (component I): the fixed
// admission sequence (rate limit -> auth -> concurrency -> parse -> token
// estimate -> quota -> backend select -> dispatch) wiring components A-H
// together. Grounded on the original gateway's admit()/chat_completions()
// et al. in main.py for the sequence itself, expressed as Go handlers
// instead of FastAPI route functions.
package pipeline

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/relaygate/gateway/internal/adapter/balancer"
	"github.com/relaygate/gateway/internal/adapter/cache"
	"github.com/relaygate/gateway/internal/adapter/concurrency"
	"github.com/relaygate/gateway/internal/adapter/health"
	"github.com/relaygate/gateway/internal/adapter/proxy"
	"github.com/relaygate/gateway/internal/adapter/quota"
	"github.com/relaygate/gateway/internal/adapter/ratelimit"
	"github.com/relaygate/gateway/internal/app/httperr"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/core/tokens"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/util"
)

// chatCompletionEstimate and text2sqlCompletionEstimate are the fixed
// per-role completion deltas recorded for a successful stream, since a
// streamed call's true usage is never returned by the backend (spec
// 4.I.7: "record an approximate token delta on success").
const (
	chatCompletionEstimate     = 500
	text2sqlCompletionEstimate = 200
	backendConnectTimeout      = 5 * time.Second
)

// Config bundles the pipeline's own tunables, distinct from each
// component's internal Config.
type Config struct {
	GatewayAPIKey   string
	MaxRequestSecs  time.Duration
	StreamIdleSecs  time.Duration
	TrustProxyHdrs  bool
	TrustedPeerCIDR []*net.IPNet
}

// Pipeline wires every component into the fixed admission sequence.
type Pipeline struct {
	cfg         Config
	logger      *slog.Logger
	rateLimiter *ratelimit.Limiter
	gate        *concurrency.Gate
	quota       *quota.Ledger
	health      *health.Monitor
	roundRobin  *balancer.RoundRobin
	cache       *cache.Cache
	jsonProxy   *proxy.JSONProxy
	streamProxy *proxy.StreamProxy
	estimator   *tokens.Estimator
	metrics     *metrics.Metrics
}

func New(
	cfg Config,
	logger *slog.Logger,
	rateLimiter *ratelimit.Limiter,
	gate *concurrency.Gate,
	ledger *quota.Ledger,
	healthMonitor *health.Monitor,
	jsonProxy *proxy.JSONProxy,
	streamProxy *proxy.StreamProxy,
	respCache *cache.Cache,
	estimator *tokens.Estimator,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		rateLimiter: rateLimiter,
		gate:        gate,
		quota:       ledger,
		health:      healthMonitor,
		roundRobin:  &balancer.RoundRobin{},
		cache:       respCache,
		jsonProxy:   jsonProxy,
		streamProxy: streamProxy,
		estimator:   estimator,
		metrics:     m,
	}
}

// admission is everything steps 1-2 of the pipeline produce: the tenant
// key and a release func the caller must invoke exactly once.
type admission struct {
	tenant  string
	release concurrency.Release
}

// admit runs tenant extraction, rate limiting, bearer auth and the
// concurrency gate — the part of the sequence common to every route.
func (p *Pipeline) admit(w http.ResponseWriter, r *http.Request) (admission, bool) {
	tenant := util.TenantKey(r, p.cfg.TrustProxyHdrs, p.cfg.TrustedPeerCIDR)

	if allowed, limit := p.rateLimiter.Allow(tenant, time.Now()); !allowed {
		p.metrics.RateLimitRejections.WithLabelValues("rps_exceeded").Inc()
		httperr.Write(w, domain.NewRateLimitedError(limit))
		return admission{}, false
	}

	if err := p.authenticate(r); err != nil {
		httperr.Write(w, err)
		return admission{}, false
	}

	release, err := p.gate.Acquire(r.Context(), tenant)
	if err != nil {
		p.metrics.RateLimitRejections.WithLabelValues("queue_timeout").Inc()
		httperr.Write(w, err)
		return admission{}, false
	}
	p.metrics.QueueDepth.WithLabelValues(tenant).Set(float64(p.gate.QueueDepth(tenant)))

	return admission{tenant: tenant, release: release}, true
}

func (p *Pipeline) authenticate(r *http.Request) *domain.GatewayError {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return domain.NewAuthMissingError()
	}
	token := auth[len(prefix):]
	if token != p.cfg.GatewayAPIKey {
		return domain.NewAuthInvalidError()
	}
	return nil
}

func (a admission) finish(p *Pipeline) {
	p.metrics.QueueDepth.WithLabelValues(a.tenant).Set(float64(p.gate.QueueDepth(a.tenant)))
	a.release()
}

// selectBackend runs step 6: round-robin for chat, single-healthy for
// everything else.
func (p *Pipeline) selectBackend(role domain.Role) (string, *domain.GatewayError) {
	healthy := p.health.Healthy(role).URLs()
	url, ok := balancer.SelectForRole(role, healthy, p.roundRobin)
	if !ok {
		return "", domain.NewNoHealthyBackendError(role)
	}
	return url, nil
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func encodeJSON(body map[string]any) ([]byte, error) {
	return json.Marshal(body)
}

// recordUsage records tokens against tenant's quota and refreshes the
// daily/monthly usage gauges from the post-record snapshot.
func (p *Pipeline) recordUsage(tenant string, tokens int64) {
	p.quota.Record(tenant, tokens)
	snap := p.quota.Snapshot(tenant)
	p.metrics.QuotaDailyTokens.WithLabelValues(tenant).Set(float64(snap.DailyTokens))
	p.metrics.QuotaMonthlyTokens.WithLabelValues(tenant).Set(float64(snap.MonthlyTokens))
}

// streamTimeouts builds the SSE proxy's per-phase deadlines: backend
// connect is fixed at 5s per the concurrency model, idle timeout comes
// from config.
func (p *Pipeline) streamTimeouts() proxy.Timeouts {
	return proxy.Timeouts{Connect: backendConnectTimeout, IdleTimeout: p.cfg.StreamIdleSecs}
}
