package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	// ErrNetwork matches every transport-level failure (no HTTP status)
	ErrNetwork = errors.New("network error")
	// ErrAuthExpired matches the error returned when a 401 could not be
	// recovered by refreshing the session
	ErrAuthExpired = errors.New("authentication expired")
)

// SessionExpiredMessage is the message carried by the auth-expired error
const SessionExpiredMessage = "Session expired. Please sign in again."

// User-facing copy
const (
	msgNetwork      = "Unable to reach the server. Check your connection."
	msgUnauthorized = "Invalid credentials. Please check and try again."
	msgForbidden    = "Access denied."
	msgNotFound     = "Not found."
	msgRateLimited  = "Too many attempts. Please wait and try again."
	msgServer       = "Server error. Please try again later."
)

// APIError is a non-2xx response, or a 2xx envelope reporting success=false.
type APIError struct {
	Status     int
	StatusText string
	Message    string
	Code       string
	Body       []byte

	expired bool
}

// Error implements error
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is reports ErrAuthExpired for the error produced by a failed refresh
func (e *APIError) Is(target error) bool {
	return target == ErrAuthExpired && e.expired
}

// IsServerError reports a 5xx status
func (e *APIError) IsServerError() bool {
	return e.Status >= 500
}

func newAPIError(status int, body []byte) *APIError {
	text := http.StatusText(status)
	return &APIError{
		Status:     status,
		StatusText: text,
		Message:    ExtractMessage(body, text),
		Code:       ExtractCode(body),
		Body:       body,
	}
}

func newAuthExpiredError() *APIError {
	return &APIError{
		Status:     http.StatusUnauthorized,
		StatusText: http.StatusText(http.StatusUnauthorized),
		Message:    SessionExpiredMessage,
		expired:    true,
	}
}

// NetworkError is a request that never produced an HTTP status
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

// Error implements error
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap returns the transport cause
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches ErrNetwork
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UserMessage maps an error to the copy shown to the user
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNetwork) {
		return msgNetwork
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	if apiErr.expired {
		return apiErr.Message
	}

	switch {
	case apiErr.Status == http.StatusUnauthorized:
		return msgUnauthorized
	case apiErr.Status == http.StatusForbidden:
		return msgForbidden
	case apiErr.Status == http.StatusNotFound:
		return msgNotFound
	case apiErr.Status == http.StatusTooManyRequests:
		return msgRateLimited
	case apiErr.Status >= 500:
		return msgServer
	case apiErr.Message != "":
		return apiErr.Message
	default:
		return apiErr.StatusText
	}
}
