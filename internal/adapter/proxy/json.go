// Package proxy implements the JSON Proxy (component G) and the SSE Stream
// Proxy (component H). Grounded on olla's sherpa proxy service
// (internal/adapter/proxy/sherpa/service.go) for the transport shape
// (dedicated http.Transport, buffer pooling, breaker-guarded dispatch) but
// simplified to a single one-shot JSON call and a single SSE loop, since
// this gateway fronts OpenAI-compatible backends directly rather than
// translating between provider dialects.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaygate/gateway/internal/adapter/breaker"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/util"
)

const maxErrorBodyBytes = 64 * 1024

// JSONProxy performs one-shot backend calls under circuit-breaker guard.
type JSONProxy struct {
	client        *http.Client
	breakers      *breaker.Registry
	backendAPIKey string
}

func NewJSONProxy(client *http.Client, breakers *breaker.Registry, backendAPIKey string) *JSONProxy {
	return &JSONProxy{client: client, breakers: breakers, backendAPIKey: backendAPIKey}
}

// Result is a successful JSON proxy call: the parsed body and, when present,
// the accounting usage the pipeline needs for the quota ledger.
type Result struct {
	Body        map[string]any
	TotalTokens int64
}

// Do performs a one-shot JSON call against backendURL+path under breaker guard.
func (p *JSONProxy) Do(ctx context.Context, backendURL, path string, payload map[string]any, timeout time.Duration) (Result, *domain.GatewayError) {
	guard, ok := p.breakers.Allow(backendURL)
	if !ok {
		return Result{}, domain.NewCircuitOpenError(backendURL)
	}

	result, gwErr := p.doGuarded(ctx, backendURL, path, payload, timeout)
	if gwErr != nil && isBreakerFailure(gwErr) {
		guard.Failure()
	} else {
		guard.Success()
	}
	return result, gwErr
}

func isBreakerFailure(err *domain.GatewayError) bool {
	switch err.Kind {
	case domain.ErrGatewayTimeout, domain.ErrBadGateway:
		return true
	case domain.ErrUpstream:
		return err.UpstreamStatus >= 500
	default:
		return false
	}
}

func (p *JSONProxy) doGuarded(ctx context.Context, backendURL, path string, payload map[string]any, timeout time.Duration) (Result, *domain.GatewayError) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Result{}, domain.NewBadGatewayError(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, util.JoinURLPath(backendURL, path), bytes.NewReader(encoded))
	if err != nil {
		return Result{}, domain.NewBadGatewayError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.backendAPIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || reqCtx.Err() != nil {
			return Result{}, domain.NewGatewayTimeoutError(err)
		}
		return Result{}, domain.NewBadGatewayError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, domain.NewBadGatewayError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, domain.NewUpstreamError(resp.StatusCode, string(body), nil)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, domain.NewBadGatewayError(fmt.Errorf("decode backend response: %w", err))
	}

	return Result{Body: parsed, TotalTokens: extractTotalTokens(parsed)}, nil
}

func extractTotalTokens(body map[string]any) int64 {
	usage, ok := body["usage"].(map[string]any)
	if !ok {
		return 0
	}
	total, ok := usage["total_tokens"].(float64)
	if !ok {
		return 0
	}
	return int64(total)
}

// ReadUpstreamErrorBody caps the body read for pre-stream error handling
// so a misbehaving backend cannot exhaust memory with an error body.
func ReadUpstreamErrorBody(r io.Reader) []byte {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return body
}
