package domain

// CacheKeyInput is the canonicalised set of fields that determine whether two
// chat/completion requests are cache-equivalent. The cache key builder
// marshals it with encoding/json, which emits struct fields in declaration
// order and map keys in sorted order, so reordering a request body's JSON
// keys never changes the digest.
type CacheKeyInput struct {
	Model       string   `json:"model,omitempty"`
	Messages    any      `json:"messages,omitempty"`
	Prompt      any      `json:"prompt,omitempty"`
	Stop        any      `json:"stop,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// CacheEntry is what the response cache stores: the raw upstream JSON body
// plus enough bookkeeping to serve it back verbatim.
type CacheEntry struct {
	Body        []byte
	ContentType string
}
