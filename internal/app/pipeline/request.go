package pipeline

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/core/tokens"
	"github.com/relaygate/gateway/internal/util"
)

const maxRequestBodyBytes = 16 * 1024 * 1024

// decodeBody reads and parses a request body into a map, preserving every
// field the caller sent so the JSON/SSE proxies can forward it verbatim
// alongside the fields the pipeline itself inspects.
func decodeBody(r *http.Request) (map[string]any, *domain.GatewayError) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return nil, domain.NewBadGatewayError(err)
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.GatewayError{Kind: domain.ErrUpstream, Message: "invalid JSON body", UpstreamStatus: http.StatusBadRequest}
	}
	return payload, nil
}

func boolField(payload map[string]any, key string) bool {
	v, _ := payload[key].(bool)
	return v
}

// float64Ptr keeps full fractional precision (temperature, top_p), unlike
// util.GetFloat64 which truncates to int64 for the token-count fields.
func float64Ptr(payload map[string]any, key string) *float64 {
	v, ok := payload[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func int64Ptr(payload map[string]any, key string) *int64 {
	v, ok := util.GetFloat64(payload, key)
	if !ok {
		return nil
	}
	return &v
}

func stringField(payload map[string]any, key string) string {
	return util.GetString(payload, key)
}

// stopField normalises the OpenAI "stop" field to a string slice for cache
// key canonicalisation: callers may send a single string or an array, and
// both forms must hash identically when they name the same stop sequence.
func stopField(payload map[string]any) []string {
	if arr := util.GetStringArray(payload, "stop"); len(arr) > 0 {
		return arr
	}
	if s := util.GetString(payload, "stop"); s != "" {
		return []string{s}
	}
	return nil
}

// extractMessages converts the raw "messages" field into the estimator's
// minimal Message shape, ignoring anything that isn't a plain chat message
// object (tool calls, image parts) since those don't carry the text the
// token estimate needs to be conservative, not exact.
func extractMessages(payload map[string]any) []tokens.Message {
	raw, ok := payload["messages"].([]any)
	if !ok {
		return nil
	}
	out := make([]tokens.Message, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		role, _ := m["role"].(string)
		name, _ := m["name"].(string)
		out = append(out, tokens.Message{Role: role, Content: content, Name: name})
	}
	return out
}
