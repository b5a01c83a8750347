package pipeline

import (
	"net/http"

	"github.com/relaygate/gateway/internal/adapter/cache"
	"github.com/relaygate/gateway/internal/app/httperr"
	"github.com/relaygate/gateway/internal/app/middleware"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/core/tokens"
)

const chatCompletionsPath = "/v1/chat/completions"

// ChatCompletions implements POST /v1/chat/completions: load-balanced
// across the chat backend pool, cacheable, streamable.
func (p *Pipeline) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	a, ok := p.admit(w, r)
	if !ok {
		return
	}
	defer a.finish(p)

	log := middleware.GetLogger(r.Context()).With("tenant", a.tenant, "role", string(domain.RoleChat))

	payload, gwErr := decodeBody(r)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	model := domain.ResolveModel(domain.RoleChat, stringField(payload, "model"))
	messages := extractMessages(payload)
	promptTokens := p.estimator.EstimateMessages(messages)
	estimated := promptTokens + tokens.EstimateCompletion(int64Ptr(payload, "max_tokens"))

	if gwErr := p.quota.Check(a.tenant, estimated); gwErr != nil {
		log.Warn("quota_exceeded", "reason", gwErr.Reason)
		httperr.Write(w, gwErr)
		return
	}

	stream := boolField(payload, "stream")
	temperature := float64Ptr(payload, "temperature")

	var cacheKey string
	if !stream && cache.Cacheable(stream, temperature) {
		key, err := cache.Key(domain.CacheKeyInput{
			Model: model, Messages: payload["messages"], Stop: stopField(payload),
			Temperature: temperature, MaxTokens: int64Ptr(payload, "max_tokens"), TopP: float64Ptr(payload, "top_p"),
		})
		if err == nil {
			cacheKey = key
			if entry, hit := p.cache.Get(cacheKey); hit {
				log.Info("cache_hit")
				p.recordUsage(a.tenant, 0)
				p.metrics.TokensProcessed.WithLabelValues(a.tenant, model, string(domain.RoleChat)).Add(0)
				w.Header().Set("Content-Type", entry.ContentType)
				w.WriteHeader(http.StatusOK)
				w.Write(entry.Body)
				return
			}
		}
	}

	backendURL, gwErr := p.selectBackend(domain.RoleChat)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	if stream {
		succeeded := p.streamProxy.Serve(r.Context(), w, backendURL, chatCompletionsPath, payload, p.streamTimeouts())
		if succeeded {
			p.recordUsage(a.tenant, promptTokens+chatCompletionEstimate)
			p.metrics.TokensProcessed.WithLabelValues(a.tenant, model, string(domain.RoleChat)).Add(float64(promptTokens + chatCompletionEstimate))
		}
		return
	}

	result, gwErr := p.jsonProxy.Do(r.Context(), backendURL, chatCompletionsPath, payload, p.cfg.MaxRequestSecs)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	if cacheKey != "" {
		if body, err := encodeJSON(result.Body); err == nil {
			p.cache.Set(cacheKey, domain.CacheEntry{Body: body, ContentType: "application/json"})
		}
	}

	p.recordUsage(a.tenant, result.TotalTokens)
	p.metrics.TokensProcessed.WithLabelValues(a.tenant, model, string(domain.RoleChat)).Add(float64(result.TotalTokens))
	writeJSON(w, http.StatusOK, result.Body)
}
