// Package health implements the health monitor (component B): a periodic
// prober that publishes, per role, an atomically-swapped ordered list of
// healthy backend URLs. Adapted from olla's HTTPHealthChecker
// (internal/adapter/health/checker.go) down to the simpler contract this
// gateway actually needs — one probe goroutine per backend, no heap
// scheduler, no exponential backoff, since probing only needs a fixed
// interval.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/util"
)

// Snapshot is the full, atomically-published view of healthy backends for
// one role. Readers take a single snapshot per request so they never see a
// partial update.
type Snapshot struct {
	urls []string
}

func (s Snapshot) URLs() []string {
	return s.urls
}

func (s Snapshot) Len() int {
	return len(s.urls)
}

// Monitor probes a fixed set of backends per role and publishes the healthy
// subset. It owns one *domain.Backend per configured URL so the breaker
// registry and the admin surface can both report on the same object.
type Monitor struct {
	logger        *slog.Logger
	client        *http.Client
	backends      map[domain.Role][]*domain.Backend
	snapshots     map[domain.Role]*atomic.Pointer[Snapshot]
	cfg           domain.HealthConfig
	backendAPIKey string
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New builds a Monitor for the given static topology. Every backend starts
// unhealthy until the synchronous startup probe (Start) completes.
// backendAPIKey is sent as a bearer credential on every probe, matching the
// original gateway's check_backend, which authenticates health checks the
// same way it authenticates proxied requests.
func New(topology domain.RoleBackends, cfg domain.HealthConfig, backendAPIKey string, logger *slog.Logger) *Monitor {
	m := &Monitor{
		cfg:           cfg,
		logger:        logger,
		backendAPIKey: backendAPIKey,
		backends:      make(map[domain.Role][]*domain.Backend),
		snapshots:     make(map[domain.Role]*atomic.Pointer[Snapshot]),
		client:        &http.Client{Timeout: cfg.CheckTimeout},
	}

	add := func(role domain.Role, url string) {
		if url == "" {
			return
		}
		m.backends[role] = append(m.backends[role], domain.NewBackend(url, role))
	}
	for _, url := range topology.Chat {
		add(domain.RoleChat, url)
	}
	add(domain.RoleText2SQL, topology.Text2SQL)
	add(domain.RoleEmbed, topology.Embed)
	add(domain.RoleRerank, topology.Rerank)

	for role := range m.backends {
		m.snapshots[role] = &atomic.Pointer[Snapshot]{}
		m.snapshots[role].Store(&Snapshot{})
	}
	return m
}

// Start runs one synchronous probe round before returning (spec: "runs one
// probe synchronously before accepting traffic"), then launches the
// periodic background loop.
func (m *Monitor) Start(ctx context.Context) {
	m.probeAll(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.probeAll(runCtx)
			}
		}
	}()
}

// Stop cancels the probe loop and releases the HTTP client's idle
// connections.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.client.CloseIdleConnections()
}

func (m *Monitor) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for role, backends := range m.backends {
		role, backends := role, backends
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.probeRole(ctx, role, backends)
		}()
	}
	wg.Wait()
}

func (m *Monitor) probeRole(ctx context.Context, role domain.Role, backends []*domain.Backend) {
	healthy := make([]string, 0, len(backends))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, b := range backends {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := m.probeOne(ctx, b)
			b.SetHealthy(ok)
			if ok {
				mu.Lock()
				healthy = append(healthy, b.BaseURL)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// stable ordering for round-robin determinism regardless of probe finish order
	ordered := make([]string, 0, len(healthy))
	for _, b := range backends {
		for _, u := range healthy {
			if u == b.BaseURL {
				ordered = append(ordered, u)
				break
			}
		}
	}

	m.snapshots[role].Store(&Snapshot{urls: ordered})
}

func (m *Monitor) probeOne(ctx context.Context, b *domain.Backend) bool {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, util.JoinURLPath(b.BaseURL, "/health"), nil)
	if err != nil {
		m.logger.Warn("health probe build failed", "backend", b.BaseURL, "error", err)
		return false
	}
	if m.backendAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.backendAPIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("health probe failed", "backend", b.BaseURL, "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Healthy returns the current snapshot for role.
func (m *Monitor) Healthy(role domain.Role) Snapshot {
	ptr, ok := m.snapshots[role]
	if !ok {
		return Snapshot{}
	}
	return *ptr.Load()
}

// Backends returns every known backend for role, for the admin surface's
// detailed view; healthy and unhealthy alike.
func (m *Monitor) Backends(role domain.Role) []*domain.Backend {
	return m.backends[role]
}

// Roles returns every role this monitor tracks.
func (m *Monitor) Roles() []domain.Role {
	roles := make([]domain.Role, 0, len(m.backends))
	for role := range m.backends {
		roles = append(roles, role)
	}
	return roles
}
