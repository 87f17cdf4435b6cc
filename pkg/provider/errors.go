package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rhuss/plotwise/pkg/api"
)

// ErrEmptyResponse is returned when the backend answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// MapHTTPStatus converts a non-2xx backend status and an already extracted
// message into an APIError. The Code field carries a stable reason so
// callers can tell authentication and rate limit failures apart.
func MapHTTPStatus(provider string, status int, message string) *api.APIError {
	switch {
	case status == http.StatusBadRequest:
		if message == "" {
			message = "invalid request to backend"
		}
		return &api.APIError{Type: api.ErrorTypeModelError, Code: "bad_request", Message: provider + ": " + message}

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if message == "" {
			message = "backend authentication failed"
		}
		return &api.APIError{Type: api.ErrorTypeModelError, Code: "unauthorized", Message: provider + ": " + message}

	case status == http.StatusNotFound:
		if message == "" {
			message = "model or endpoint not found"
		}
		return &api.APIError{Type: api.ErrorTypeModelError, Code: "not_found", Message: provider + ": " + message}

	case status == http.StatusTooManyRequests:
		if message == "" {
			message = "backend rate limit exceeded"
		}
		return &api.APIError{Type: api.ErrorTypeTooManyRequests, Code: "rate_limited", Message: provider + ": " + message}

	case status >= http.StatusInternalServerError:
		if message == "" {
			message = fmt.Sprintf("backend server error (HTTP %d)", status)
		}
		return &api.APIError{Type: api.ErrorTypeModelError, Code: "unavailable", Message: provider + ": " + message}

	default:
		if message == "" {
			message = fmt.Sprintf("unexpected backend error (HTTP %d)", status)
		}
		return &api.APIError{Type: api.ErrorTypeModelError, Message: provider + ": " + message}
	}
}

// MapNetworkError converts a network-level error (connection refused,
// timeout, DNS resolution failure) into an APIError.
func MapNetworkError(provider string, err error) *api.APIError {
	return &api.APIError{
		Type:    api.ErrorTypeModelError,
		Code:    "unavailable",
		Message: fmt.Sprintf("%s: backend connection error: %s", provider, err.Error()),
	}
}
