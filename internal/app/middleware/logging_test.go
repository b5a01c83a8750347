package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAccessLogging_AssignsRequestAndCorrelationIDs(t *testing.T) {
	var gotRequestID, gotCorrelationID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = GetRequestID(r.Context())
		gotCorrelationID = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := AccessLogging(discardLogger())(next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)

	handler.ServeHTTP(rec, req)

	require.NotEmpty(t, gotRequestID)
	require.NotEmpty(t, gotCorrelationID)
	assert.Equal(t, gotRequestID, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, gotCorrelationID, rec.Header().Get(HeaderCorrelationID))
}

func TestAccessLogging_PropagatesClientSuppliedCorrelationID(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := AccessLogging(discardLogger())(next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set(HeaderCorrelationID, "client-supplied-id")

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", rec.Header().Get(HeaderCorrelationID))
}

func TestAccessLogging_CapturesResponseBody(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	})

	handler := AccessLogging(discardLogger())(next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "hello", rec.Body.String())
}

func TestGetLogger_DefaultsWhenAbsent(t *testing.T) {
	assert.NotNil(t, GetLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestGetRequestID_EmptyWhenAbsent(t *testing.T) {
	assert.Empty(t, GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
