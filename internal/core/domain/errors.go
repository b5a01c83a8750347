package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorKind is the gateway's own error taxonomy, used to pick the HTTP
// status and body shape at the edge without the handler needing to know
// which component raised it.
type ErrorKind string

const (
	ErrAuthMissing       ErrorKind = "auth_missing"
	ErrAuthInvalid       ErrorKind = "auth_invalid"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrQueueTimeout      ErrorKind = "queue_timeout"
	ErrQuotaExceeded     ErrorKind = "quota_exceeded"
	ErrNoHealthyBackend  ErrorKind = "no_healthy_backend"
	ErrCircuitOpen       ErrorKind = "circuit_open"
	ErrGatewayTimeout    ErrorKind = "gateway_timeout"
	ErrStreamIdleTimeout ErrorKind = "stream_idle_timeout"
	ErrUpstream          ErrorKind = "upstream_error"
	ErrBadGateway        ErrorKind = "bad_gateway"
)

// GatewayError is the one error type that crosses every component boundary
// in the admission pipeline. Handlers translate it to an HTTP response by
// Kind; components construct it with enough context to log and to recover
// from (RetryAfter, QuotaResetAt, UpstreamStatus).
type GatewayError struct {
	cause          error
	Kind           ErrorKind
	Message        string
	Reason         string
	QuotaResetAt   time.Time
	UpstreamStatus int
	RetryAfter     int
	RateLimit      int
}

func (e *GatewayError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.cause
}

func NewAuthMissingError() *GatewayError {
	return &GatewayError{Kind: ErrAuthMissing, Message: "missing bearer token"}
}

func NewAuthInvalidError() *GatewayError {
	return &GatewayError{Kind: ErrAuthInvalid, Message: "invalid api key"}
}

func NewRateLimitedError(limit int) *GatewayError {
	return &GatewayError{
		Kind:       ErrRateLimited,
		Message:    "request rate exceeded",
		RetryAfter: 1,
		RateLimit:  limit,
		Reason:     fmt.Sprintf("limit=%d", limit),
	}
}

func NewQueueTimeoutError() *GatewayError {
	return &GatewayError{Kind: ErrQueueTimeout, Message: "concurrency queue timed out", RetryAfter: 5}
}

func NewQuotaExceededError(reason QuotaDenyReason, resetAt time.Time) *GatewayError {
	return &GatewayError{
		Kind:         ErrQuotaExceeded,
		Message:      "quota exceeded",
		Reason:       string(reason),
		QuotaResetAt: resetAt,
	}
}

func NewNoHealthyBackendError(role Role) *GatewayError {
	return &GatewayError{Kind: ErrNoHealthyBackend, Message: "no healthy backend", Reason: string(role)}
}

func NewCircuitOpenError(backendURL string) *GatewayError {
	return &GatewayError{Kind: ErrCircuitOpen, Message: "backend circuit open", Reason: backendURL}
}

func NewGatewayTimeoutError(cause error) *GatewayError {
	return &GatewayError{Kind: ErrGatewayTimeout, Message: "backend request timed out", cause: cause}
}

func NewStreamIdleTimeoutError() *GatewayError {
	return &GatewayError{Kind: ErrStreamIdleTimeout, Message: "stream idle timeout"}
}

func NewUpstreamError(status int, body string, cause error) *GatewayError {
	return &GatewayError{
		Kind:           ErrUpstream,
		Message:        body,
		UpstreamStatus: status,
		cause:          cause,
	}
}

func NewBadGatewayError(cause error) *GatewayError {
	return &GatewayError{Kind: ErrBadGateway, Message: "backend unreachable", cause: cause}
}

// HTTPStatus maps a GatewayError's Kind to its HTTP status code.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case ErrAuthMissing:
		return http.StatusUnauthorized
	case ErrAuthInvalid:
		return http.StatusForbidden
	case ErrRateLimited, ErrQueueTimeout, ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrNoHealthyBackend, ErrCircuitOpen, ErrBadGateway:
		return http.StatusServiceUnavailable
	case ErrGatewayTimeout:
		return http.StatusGatewayTimeout
	case ErrUpstream:
		if e.UpstreamStatus != 0 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
