// Package httperr is the gateway's single place that turns a
// domain.GatewayError into an HTTP response, mirroring olla's one
// response-writing helper instead of scattering status/body logic across
// every handler.
package httperr

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/relaygate/gateway/internal/core/domain"
)

// Write translates err to its wire shape: `{"detail": "..."}` plus
// whatever headers its Kind demands (Retry-After, X-RateLimit-Limit,
// X-Quota-Reset), per the error handling table.
func Write(w http.ResponseWriter, err *domain.GatewayError) {
	switch err.Kind {
	case domain.ErrRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(err.RateLimit))
	case domain.ErrQueueTimeout:
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	case domain.ErrQuotaExceeded:
		w.Header().Set("X-Quota-Reset", err.QuotaResetAt.UTC().Format(time.RFC3339))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]string{"detail": detailMessage(err)})
}

func detailMessage(err *domain.GatewayError) string {
	switch err.Kind {
	case domain.ErrAuthMissing:
		return "Missing Bearer token"
	case domain.ErrAuthInvalid:
		return "Invalid API key"
	case domain.ErrQuotaExceeded:
		return "quota exceeded: " + err.Reason
	default:
		return err.Message
	}
}
