package pipeline

import (
	"net/http"

	"github.com/relaygate/gateway/internal/app/httperr"
	"github.com/relaygate/gateway/internal/app/middleware"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/core/tokens"
)

const completionsPath = "/v1/chat/completions"

// Completions implements POST /v1/completions, fronting the single
// text2sql backend. The original text2sql endpoint accepts the same
// "messages" shape as chat; we keep that so the token estimator stays
// shared between the two roles.
func (p *Pipeline) Completions(w http.ResponseWriter, r *http.Request) {
	a, ok := p.admit(w, r)
	if !ok {
		return
	}
	defer a.finish(p)

	log := middleware.GetLogger(r.Context()).With("tenant", a.tenant, "role", string(domain.RoleText2SQL))

	payload, gwErr := decodeBody(r)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	model := domain.ResolveModel(domain.RoleText2SQL, stringField(payload, "model"))
	messages := extractMessages(payload)
	var promptTokens int64
	if len(messages) > 0 {
		promptTokens = p.estimator.EstimateMessages(messages)
	} else {
		promptTokens = p.estimator.EstimateText(stringField(payload, "prompt"))
	}
	estimated := promptTokens + tokens.EstimateCompletion(int64Ptr(payload, "max_tokens"))

	if gwErr := p.quota.Check(a.tenant, estimated); gwErr != nil {
		log.Warn("quota_exceeded", "reason", gwErr.Reason)
		httperr.Write(w, gwErr)
		return
	}

	backendURL, gwErr := p.selectBackend(domain.RoleText2SQL)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	stream := boolField(payload, "stream")
	if stream {
		succeeded := p.streamProxy.Serve(r.Context(), w, backendURL, completionsPath, payload, p.streamTimeouts())
		if succeeded {
			p.recordUsage(a.tenant, promptTokens+text2sqlCompletionEstimate)
			p.metrics.TokensProcessed.WithLabelValues(a.tenant, model, string(domain.RoleText2SQL)).Add(float64(promptTokens + text2sqlCompletionEstimate))
		}
		return
	}

	result, gwErr := p.jsonProxy.Do(r.Context(), backendURL, completionsPath, payload, p.cfg.MaxRequestSecs)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	p.recordUsage(a.tenant, result.TotalTokens)
	p.metrics.TokensProcessed.WithLabelValues(a.tenant, model, string(domain.RoleText2SQL)).Add(float64(result.TotalTokens))
	writeJSON(w, http.StatusOK, result.Body)
}
