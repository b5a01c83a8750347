package pipeline

import (
	"net/http"

	"github.com/relaygate/gateway/internal/app/httperr"
	"github.com/relaygate/gateway/internal/core/domain"
)

// Embeddings implements POST /v1/embeddings: non-streaming passthrough to
// the single embed backend. Embeddings don't count toward the token
// quota, matching the original's record_usage(ip, 0).
func (p *Pipeline) Embeddings(w http.ResponseWriter, r *http.Request) {
	p.passthrough(w, r, domain.RoleEmbed, "/v1/embeddings")
}

// Rerank implements POST /v1/rerank: non-streaming passthrough to the
// single rerank backend.
func (p *Pipeline) Rerank(w http.ResponseWriter, r *http.Request) {
	p.passthrough(w, r, domain.RoleRerank, "/rerank")
}

func (p *Pipeline) passthrough(w http.ResponseWriter, r *http.Request, role domain.Role, path string) {
	a, ok := p.admit(w, r)
	if !ok {
		return
	}
	defer a.finish(p)

	payload, gwErr := decodeBody(r)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	backendURL, gwErr := p.selectBackend(role)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	result, gwErr := p.jsonProxy.Do(r.Context(), backendURL, path, payload, p.cfg.MaxRequestSecs)
	if gwErr != nil {
		httperr.Write(w, gwErr)
		return
	}

	p.recordUsage(a.tenant, 0)
	writeJSON(w, http.StatusOK, result.Body)
}
