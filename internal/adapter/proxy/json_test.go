package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/adapter/breaker"
	"github.com/relaygate/gateway/internal/core/domain"
)

func newBreakerRegistry() *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{FailureThreshold: 3, SuccessThreshold: 3, RecoveryTimeout: time.Second}, nil)
}

func TestJSONProxy_SuccessReturnsParsedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer backend-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"text":"hi"}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	p := NewJSONProxy(srv.Client(), newBreakerRegistry(), "backend-key")
	result, gwErr := p.Do(context.Background(), srv.URL, "/v1/completions", map[string]any{"model": "x"}, time.Second)

	require.Nil(t, gwErr)
	assert.Equal(t, int64(42), result.TotalTokens)
}

func TestJSONProxy_UpstreamErrorPassesThroughStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	p := NewJSONProxy(srv.Client(), newBreakerRegistry(), "backend-key")
	_, gwErr := p.Do(context.Background(), srv.URL, "/v1/completions", map[string]any{}, time.Second)

	require.NotNil(t, gwErr)
	assert.Equal(t, domain.ErrUpstream, gwErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, gwErr.UpstreamStatus)
}

func TestJSONProxy_CircuitOpenSkipsBackend(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	registry := newBreakerRegistry()
	p := NewJSONProxy(srv.Client(), registry, "backend-key")

	for i := 0; i < 3; i++ {
		_, gwErr := p.Do(context.Background(), srv.URL, "/v1/completions", map[string]any{}, time.Second)
		require.NotNil(t, gwErr)
	}

	_, gwErr := p.Do(context.Background(), srv.URL, "/v1/completions", map[string]any{}, time.Second)
	require.NotNil(t, gwErr)
	assert.Equal(t, domain.ErrCircuitOpen, gwErr.Kind)
	assert.Equal(t, 3, hits, "the fourth call must not reach the backend")
}
