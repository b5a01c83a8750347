package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/relaygate/gateway/internal/util"
)

type contextKey string

const (
	RequestIDKey    contextKey = "request_id"
	CorrelationKey  contextKey = "correlation_id"
	LoggerKey       contextKey = "logger"
	HeaderRequestID            = "X-Request-ID"
	HeaderCorrelationID        = "X-Correlation-ID"
)

// responseWriter wraps http.ResponseWriter to capture response size and status.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func (rw *responseWriter) WriteHeader(s int) {
	rw.status = s
	rw.ResponseWriter.WriteHeader(s)
}

// Flush lets streaming handlers flush through the wrapper so SSE chunks
// aren't buffered.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return ""
}

// AccessLogging assigns a per-request human-readable request ID and a
// stable X-Correlation-ID (accepted from the client if present, otherwise
// minted), then logs request_started/request_completed around the handler.
func AccessLogging(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = util.GenerateRequestID()
			}
			correlationID := r.Header.Get(HeaderCorrelationID)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, CorrelationKey, correlationID)
			reqLogger := base.With("request_id", requestID, "correlation_id", correlationID)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)

			w.Header().Set(HeaderRequestID, requestID)
			w.Header().Set(HeaderCorrelationID, correlationID)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			reqLogger.Info("request_started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"request_bytes", requestSize,
				"request_size", units.HumanSize(float64(requestSize)),
			)

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start)
			level := slog.LevelInfo
			event := "request_completed"
			if wrapped.status >= 500 {
				level = slog.LevelError
				event = "request_failed"
			}
			reqLogger.Log(r.Context(), level, event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", duration.Milliseconds(),
				"response_bytes", wrapped.size,
				"response_size", units.HumanSize(float64(wrapped.size)),
			)
		})
	}
}
