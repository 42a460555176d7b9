package reqcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrorType classifies a failed call.
type ErrorType string

// Error taxonomy. Network and Server failures are retryable; everything else
// surfaces on first occurrence.
const (
	ErrorTypeNetwork      ErrorType = "Network"
	ErrorTypeServer       ErrorType = "Server"
	ErrorTypeClient       ErrorType = "Client"
	ErrorTypeUnauthorized ErrorType = "Unauthorized"
	ErrorTypeForbidden    ErrorType = "Forbidden"
	ErrorTypeCircuitOpen  ErrorType = "CircuitOpen"
	ErrorTypeRateLimited  ErrorType = "RateLimited"
	ErrorTypeDecode       ErrorType = "Decode"
	ErrorTypeValidation   ErrorType = "Validation"
)

// Sentinel errors, matched by type through errors.Is.
var (
	ErrNetwork       = &ClientError{Type: ErrorTypeNetwork, Message: "no response received"}
	ErrServer        = &ClientError{Type: ErrorTypeServer, Message: "server error"}
	ErrClient        = &ClientError{Type: ErrorTypeClient, Message: "request rejected"}
	ErrUnauthorized  = &ClientError{Type: ErrorTypeUnauthorized, Message: "unauthorized"}
	ErrForbidden     = &ClientError{Type: ErrorTypeForbidden, Message: "permission denied"}
	ErrCircuitOpen   = &ClientError{Type: ErrorTypeCircuitOpen, Message: "circuit breaker is open"}
	ErrRateLimited   = &ClientError{Type: ErrorTypeRateLimited, Message: "rate limit exceeded"}
	ErrDecode        = &ClientError{Type: ErrorTypeDecode, Message: "failed to decode response"}
	ErrInvalidMethod = &ClientError{Type: ErrorTypeValidation, Message: "unsupported method"}
)

// ClientError is the normalized failure shape every call rejects with.
type ClientError struct {
	Type       ErrorType
	Message    string
	Cause      error
	StatusCode int
	// Body is the raw error response, when one was received.
	Body      Payload
	RequestID string
	Method    string
	Path      string
	// Attempt is the 1-based attempt that produced this error.
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
}

// NewNetworkError wraps a failure in which no response was received.
func NewNetworkError(cause error) *ClientError {
	msg := "network request failed"
	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		msg = "request timed out"
	}
	return &ClientError{
		Type:      ErrorTypeNetwork,
		Message:   msg,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewStatusError builds the error for a non-2xx response. The message comes
// from the envelope's msg (or message / error) field when the body carries
// one, else from the status text.
func NewStatusError(status int, body []byte) *ClientError {
	return &ClientError{
		Type:       classifyStatus(status),
		Message:    statusMessage(status, body),
		StatusCode: status,
		Body:       Payload(body),
		Timestamp:  time.Now(),
	}
}

func classifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorTypeUnauthorized
	case status == http.StatusForbidden:
		return ErrorTypeForbidden
	case status >= 500 && status <= 599:
		return ErrorTypeServer
	default:
		return ErrorTypeClient
	}
}

func statusMessage(status int, body []byte) string {
	if len(body) > 0 && gjson.ValidBytes(body) {
		for _, path := range []string{"msg", "message", "error.details", "error"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("unexpected status %d", status)
}

// IsNetworkError reports whether no response was received.
func (e *ClientError) IsNetworkError() bool {
	return e != nil && e.Type == ErrorTypeNetwork
}

// Status returns the HTTP status, 0 for network failures.
func (e *ClientError) Status() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 && e.MaxAttempts > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.Path != "" {
		info += fmt.Sprintf("Path: %s\n", e.Path)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// AsClientError extracts the *ClientError from err's chain.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether err is a network failure or a 5xx response.
// Errors that did not come through a Transport are retryable only when they
// are net.Error values.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := AsClientError(err); ok {
		return ce.Type == ErrorTypeNetwork || ce.Type == ErrorTypeServer
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
