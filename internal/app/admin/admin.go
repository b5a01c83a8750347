// Package admin implements the Admin/Telemetry Surface (component J):
// health summary and detailed views, the Prometheus exposition endpoint,
// the gateway-token-gated quota views, and the static model catalogue.
// Grounded on the original gateway's /health, /health/detailed,
// /admin/quota/{org_ip} and /admin/quotas routes in main.py.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/relaygate/gateway/internal/adapter/health"
	"github.com/relaygate/gateway/internal/adapter/quota"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/metrics"
)

// Surface bundles the admin/telemetry HTTP handlers.
type Surface struct {
	health        *health.Monitor
	quota         *quota.Ledger
	metrics       *metrics.Metrics
	gatewayAPIKey string
	models        []ModelInfo
}

// ModelInfo is one entry in the static /v1/models catalogue.
type ModelInfo struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

func New(healthMonitor *health.Monitor, ledger *quota.Ledger, m *metrics.Metrics, gatewayAPIKey string, models []ModelInfo) *Surface {
	return &Surface{health: healthMonitor, quota: ledger, metrics: m, gatewayAPIKey: gatewayAPIKey, models: models}
}

// Health implements GET /health: 200 if every known role has at least one
// healthy backend, else 503.
func (s *Surface) Health(w http.ResponseWriter, r *http.Request) {
	roles := s.health.Roles()
	allHealthy := true
	healthy := make([]string, 0)

	for _, role := range roles {
		urls := s.health.Healthy(role).URLs()
		if len(urls) == 0 {
			allHealthy = false
			continue
		}
		healthy = append(healthy, urls...)
	}

	status := "healthy"
	code := http.StatusOK
	if !allHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{"status": status, "backends": healthy})
}

// HealthDetailed implements the supplemented GET /health/detailed:
// per-backend snapshots grouped by role.
func (s *Surface) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	breakdown := make(map[domain.Role][]domain.BackendSnapshot)
	for _, role := range s.health.Roles() {
		for _, b := range s.health.Backends(role) {
			breakdown[role] = append(breakdown[role], b.Snapshot())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "backends": breakdown})
}

// Metrics implements GET /metrics.
func (s *Surface) Metrics() http.Handler {
	return s.metrics.Handler()
}

// Quota implements GET /admin/quota/{tenant}, gated on the gateway bearer
// token.
func (s *Surface) Quota(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	tenant := strings.TrimPrefix(r.URL.Path, "/admin/quota/")
	writeJSON(w, http.StatusOK, quotaView(tenant, s.quota.Snapshot(tenant)))
}

// Quotas implements GET /admin/quotas, gated on the gateway bearer token.
func (s *Surface) Quotas(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	out := make(map[string]any)
	for _, tenant := range s.quota.Tenants() {
		out[tenant] = quotaView(tenant, s.quota.Snapshot(tenant))
	}
	writeJSON(w, http.StatusOK, out)
}

// Models implements GET /v1/models and GET /api/v1/models: a static
// catalogue, out of scope for any richer semantics.
func (s *Surface) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": s.models})
}

func (s *Surface) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	return len(auth) > len(prefix) && auth[:len(prefix)] == prefix && auth[len(prefix):] == s.gatewayAPIKey
}

func quotaView(tenant string, rec domain.QuotaRecord) map[string]any {
	return map[string]any{
		"tenant":           tenant,
		"daily_tokens":     rec.DailyTokens,
		"daily_requests":   rec.DailyRequests,
		"monthly_tokens":   rec.MonthlyTokens,
		"daily_reset_at":   rec.DailyResetAt,
		"monthly_reset_at": rec.MonthlyResetAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
