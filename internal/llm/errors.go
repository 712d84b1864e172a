package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrEmptyResponse       = errors.New("empty response")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
)

// UpstreamError carries the failure class of a reasoning-service call
type UpstreamError struct {
	Kind       error // one of the Err* sentinels above
	CallKind   CallKind
	StatusCode int
	Attempts   int
	Err        error

	retryable bool
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s call: %v", e.CallKind, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is matches the failure class sentinel
func (e *UpstreamError) Is(target error) bool { return target == e.Kind }

// Retryable reports whether the gateway may try the call again
func (e *UpstreamError) Retryable() bool { return e.retryable }

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// classify maps a provider error onto the upstream taxonomy.
// attemptCtx is the per-attempt context; its deadline marks a timeout.
func classify(err error, attemptCtx context.Context) *UpstreamError {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}

	switch {
	case errors.Is(err, ErrEmptyResponse):
		return &UpstreamError{Kind: ErrEmptyResponse, Err: err}
	case errors.Is(err, ErrCircuitOpen):
		return &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return &UpstreamError{Kind: ErrUpstreamTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
	}

	if status := statusCode(err); status != 0 {
		return classifyStatus(status, err)
	}

	if isConnReset(err) {
		return &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err, retryable: true}
	}

	return &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
}

func classifyStatus(status int, err error) *UpstreamError {
	switch {
	case retryableStatus[status]:
		return &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: status, Err: err, retryable: true}
	case status >= 500:
		return &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: status, Err: err}
	case status >= 400:
		return &UpstreamError{Kind: ErrUpstreamRejected, StatusCode: status, Err: err}
	default:
		return &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: status, Err: err}
	}
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var se interface{ StatusCode() int }
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}

// isConnReset matches ECONNRESET-class transport failures
func isConnReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}

// StatusError is returned by providers that speak plain HTTP
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status
func (e *StatusError) StatusCode() int { return e.Code }
