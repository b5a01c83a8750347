// Package tokens implements the "external token counter" the admission
// pipeline delegates to (spec: "Deliberately out of scope... Token
// counting (a pure function estimate_prompt_tokens(messages) -> integer)").
// Grounded on the original gateway's utils/token_counter.py, which counts
// against a cl100k_base tiktoken encoding; pkoukk/tiktoken-go is the Go
// port of the same encoding tables, so the estimate tracks the original's
// behaviour rather than a hand-rolled heuristic.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
)

const (
	tokensPerMessage = 4
	tokensPerName    = 1
	replyPriming     = 3

	DefaultCompletionEstimate = 512
	MaxCompletionEstimate     = 4096
)

// Estimator counts prompt tokens and estimates a completion budget the way
// the quota ledger needs before a backend has produced any usage figures.
type Estimator struct {
	encoding *tiktoken.Tiktoken
}

// New loads the cl100k_base encoding used for every model family this
// gateway fronts (chat and text2sql alike, matching MODEL_ENCODINGS's
// single-encoding-for-everything mapping in the original).
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Message is the minimal shape the estimator needs out of a chat message;
// callers decode request JSON into this rather than handing over raw `any`.
type Message struct {
	Role    string
	Content string
	Name    string
}

// EstimateMessages counts tokens across a full chat message list, including
// the per-message role/name formatting overhead and assistant-reply
// priming tokens, mirroring count_messages_tokens.
func (e *Estimator) EstimateMessages(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += tokensPerMessage
		total += int64(len(e.encoding.Encode(m.Content, nil, nil)))
		if m.Name != "" {
			total += int64(len(e.encoding.Encode(m.Name, nil, nil)))
			total += tokensPerName
		}
	}
	total += replyPriming
	return total
}

// EstimateText counts tokens in a single prompt string, for /v1/completions.
func (e *Estimator) EstimateText(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(len(e.encoding.Encode(text, nil, nil)))
}

// EstimateCompletion returns min(maxTokens, 4096) when the caller supplied
// max_tokens, else the gateway's default completion budget.
func EstimateCompletion(maxTokens *int64) int64 {
	if maxTokens != nil && *maxTokens > 0 {
		if *maxTokens > MaxCompletionEstimate {
			return MaxCompletionEstimate
		}
		return *maxTokens
	}
	return DefaultCompletionEstimate
}
