package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/gateway/internal/adapter/breaker"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/util"
	"github.com/relaygate/gateway/pkg/pool"
)

// strippedFields are backend-specific fields that must never reach the
// client. stripFields removes them from the top level of a chunk, from each
// choices[i] entry, and from that entry's "delta" and "message" objects.
var strippedFields = []string{
	"prompt_token_ids",
	"prompt_logprobs",
	"token_ids",
	"reasoning_content",
	"stop_reason",
	"kv_transfer_params",
}

const (
	doneFrame        = "data: [DONE]\n\n"
	maxErrorMsgChars = 500
)

// StreamProxy implements the SSE Stream Proxy (component H).
type StreamProxy struct {
	client   *http.Client
	breakers *breaker.Registry
	apiKey   string
	linePool *pool.Pool[*bytes.Buffer]
	logger   *slog.Logger
}

func NewStreamProxy(client *http.Client, breakers *breaker.Registry, backendAPIKey string, logger *slog.Logger) *StreamProxy {
	return &StreamProxy{
		client:   client,
		breakers: breakers,
		apiKey:   backendAPIKey,
		logger:   logger,
		linePool: pool.NewLitePool(func() *bytes.Buffer { return &bytes.Buffer{} }),
	}
}

// Timeouts bundles the per-phase deadlines for a streamed call.
type Timeouts struct {
	Connect     time.Duration
	IdleTimeout time.Duration
}

// sseWriter writes SSE frames to the client, flushing after each one.
type sseWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	bufPool  *pool.Pool[*bytes.Buffer]
}

func newSSEWriter(w http.ResponseWriter, bufPool *pool.Pool[*bytes.Buffer]) sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return sseWriter{w: w, flusher: flusher, bufPool: bufPool}
}

func (s sseWriter) writeRaw(frame string) {
	io.WriteString(s.w, frame)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// writeJSON encodes payload into a pooled buffer to avoid a fresh
// allocation per chunk on the hot streaming path.
func (s sseWriter) writeJSON(payload any) {
	buf := s.bufPool.Get()
	defer func() {
		buf.Reset()
		s.bufPool.Put(buf)
	}()

	buf.WriteString("data: ")
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return
	}
	// json.Encoder.Encode appends its own trailing newline; SSE wants a
	// blank line between events, so swap it for the double terminator.
	buf.Truncate(buf.Len() - 1)
	buf.WriteString("\n\n")

	io.Copy(s.w, buf)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s sseWriter) writeDone() {
	s.writeRaw(doneFrame)
}

func errorFrame(message, kind string, code any) map[string]any {
	if len(message) > maxErrorMsgChars {
		message = message[:maxErrorMsgChars]
	}
	return map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    kind,
			"code":    code,
		},
	}
}

// Serve runs the full SSE lifecycle against backendURL+path. It always
// writes response headers, and it ends with a terminating [DONE] frame
// unless ctx is cancelled first; failures are encoded as SSE error frames,
// never as an HTTP error status.
// It reports whether the backend's stream reached a [DONE] sentinel without
// any error frame, so callers can decide whether to record usage.
func (p *StreamProxy) Serve(ctx context.Context, w http.ResponseWriter, backendURL, path string, payload map[string]any, timeouts Timeouts) bool {
	guard, ok := p.breakers.Allow(backendURL)
	sw := newSSEWriter(w, p.linePool)
	if !ok {
		sw.writeJSON(errorFrame("backend unavailable", "service_unavailable", "backend_unavailable"))
		sw.writeDone()
		return false
	}

	payload["stream"] = true
	encoded, err := json.Marshal(payload)
	if err != nil {
		guard.Failure()
		sw.writeJSON(errorFrame(err.Error(), "api_error", "stream_proxy_exception"))
		sw.writeDone()
		return false
	}

	// reqCtx bounds only the connect phase: obtaining a connection, sending
	// the request and reading response headers. A net/http request context
	// governs the body read too, so a plain WithTimeout here would silently
	// cap the entire stream at timeouts.Connect instead of the idle timeout
	// runStreamLoop enforces. connectTimer only ever cancels reqCtx if
	// client.Do is still in flight when it fires; once Do returns, Stop
	// disarms it so the (still-live) context carries on bounded solely by
	// ctx's own cancellation for the rest of the stream.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	connectTimer := time.AfterFunc(timeouts.Connect, cancel)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, util.JoinURLPath(backendURL, path), bytes.NewReader(encoded))
	if err != nil {
		connectTimer.Stop()
		guard.Failure()
		sw.writeJSON(errorFrame(err.Error(), "api_error", "stream_proxy_exception"))
		sw.writeDone()
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	connectTimedOut := !connectTimer.Stop()
	if err != nil {
		guard.Failure()
		if connectTimedOut {
			sw.writeJSON(errorFrame("backend connect timed out", "timeout", "stream_timeout"))
		} else {
			sw.writeJSON(errorFrame(err.Error(), "api_error", "stream_proxy_exception"))
		}
		sw.writeDone()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		guard.Failure()
		p.handlePreStreamError(sw, resp)
		return false
	}

	return p.runStreamLoop(reqCtx, sw, resp.Body, guard, timeouts.IdleTimeout)
}

func (p *StreamProxy) handlePreStreamError(sw sseWriter, resp *http.Response) {
	body := ReadUpstreamErrorBody(resp.Body)
	message, kind, code := parseUpstreamError(body, resp.StatusCode)
	sw.writeJSON(errorFrame(message, kind, code))
	sw.writeDone()
}

// parseUpstreamError extracts {message, type, code} from {"error": {...}},
// {"error": "..."} or {"message": "..."}, falling back to the raw body text.
func parseUpstreamError(body []byte, status int) (message, kind string, code any) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		if errVal, ok := parsed["error"]; ok {
			switch e := errVal.(type) {
			case map[string]any:
				msg, _ := e["message"].(string)
				typ, _ := e["type"].(string)
				if typ == "" {
					typ = "server"
				}
				c := e["code"]
				if c == nil {
					c = status
				}
				return msg, typ, c
			case string:
				return e, "api_error", status
			}
		}
		if msg, ok := parsed["message"].(string); ok {
			return msg, "server", status
		}
	}
	return string(body), "server", status
}

// runStreamLoop reads upstream lines off a background goroutine so the
// idle timer can fire even when the reader is blocked. The timer is reset
// on every line received; if idleTimeout passes with no line, the stream
// ends with a stream_timeout error frame.
func (p *StreamProxy) runStreamLoop(ctx context.Context, sw sseWriter, body io.ReadCloser, guard breaker.Guard, idleTimeout time.Duration) bool {
	lines := make(chan string)
	readErrs := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErrs <- scanner.Err()
	}()

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	sawFailure := false
	for {
		select {
		case <-ctx.Done():
			guard.Failure()
			return false

		case <-timer.C:
			p.logger.Warn("sse stream idle timeout", "idle_timeout", idleTimeout)
			sw.writeJSON(errorFrame("stream idle timeout", "timeout", "stream_timeout"))
			sw.writeDone()
			guard.Failure()
			return false

		case line, open := <-lines:
			if !open {
				if err := <-readErrs; err != nil {
					sw.writeJSON(errorFrame(truncate(err.Error()), "api_error", "stream_proxy_exception"))
					sw.writeDone()
					guard.Failure()
					return false
				}
				// upstream closed the connection without a [DONE] sentinel
				sw.writeDone()
				if !sawFailure {
					guard.Success()
				} else {
					guard.Failure()
				}
				return false
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idleTimeout)

			done, failed := p.handleLine(sw, line)
			if failed {
				sawFailure = true
			}
			if done {
				if sawFailure {
					guard.Failure()
				} else {
					guard.Success()
				}
				return !sawFailure
			}
		}
	}
}

// handleLine processes one upstream line. Returns
// done=true once a [DONE] sentinel has been emitted.
func (p *StreamProxy) handleLine(sw sseWriter, line string) (done, failed bool) {
	if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "data:") {
		return false, false // comments, event:, id:, retry: are dropped
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

	if payload == "[DONE]" {
		sw.writeDone()
		return true, false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		// best-effort passthrough for a line that is not valid JSON
		sw.writeRaw(line + "\n\n")
		return false, false
	}

	if errVal, ok := parsed["error"]; ok {
		normalized := normalizeStreamError(errVal)
		sw.writeJSON(map[string]any{"error": normalized})
		return false, true
	}

	stripFields(parsed)
	sw.writeJSON(parsed)
	return false, false
}

func normalizeStreamError(errVal any) map[string]any {
	switch e := errVal.(type) {
	case string:
		return map[string]any{"message": e, "type": "api_error", "code": nil}
	case map[string]any:
		return e
	default:
		return map[string]any{"message": fmt.Sprintf("%v", e), "type": "api_error", "code": nil}
	}
}

// stripFields removes backend-specific fields at the top level and within
// each choices[i], choices[i].delta and choices[i].message, in place.
func stripFields(obj map[string]any) {
	removeFields(obj)

	choices, ok := obj["choices"].([]any)
	if !ok {
		return
	}
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		removeFields(choice)
		if delta, ok := choice["delta"].(map[string]any); ok {
			removeFields(delta)
		}
		if msg, ok := choice["message"].(map[string]any); ok {
			removeFields(msg)
		}
	}
}

func removeFields(obj map[string]any) {
	for _, f := range strippedFields {
		delete(obj, f)
	}
}

func truncate(s string) string {
	if len(s) > maxErrorMsgChars {
		return s[:maxErrorMsgChars]
	}
	return s
}
