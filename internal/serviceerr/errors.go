// Package serviceerr defines the closed set of error kinds used across the
// relay. Transport-specific mapping (HTTP statuses, redirect query
// parameters, SSE error frames) happens at the server boundary only.
package serviceerr

import "net/http"

type Code string

const (
	// Session errors
	CodeNotAuthenticated Code = "not_authenticated"
	CodeRefreshFailed    Code = "refresh_failed"
	CodeSessionExpired   Code = "session_expired"

	// Login callback errors
	CodeStateMismatch Code = "state_mismatch"
	CodeMissingCode   Code = "missing_code"
	CodeProviderError Code = "provider_error"

	// Relay errors
	CodeUpstreamError  Code = "upstream_error"
	CodeTransportError Code = "transport_error"

	CodeUnknown Code = "unknown"
)

// Error is a tagged error variant carrying a human-readable description.
type Error struct {
	Err         Code
	Description string
}

var ErrNotAuthenticated = &Error{Err: CodeNotAuthenticated, Description: "not authenticated, please login first"}
var ErrRefreshFailed = &Error{Err: CodeRefreshFailed, Description: "token refresh failed, please login again"}
var ErrSessionExpired = &Error{Err: CodeSessionExpired, Description: "session expired, please login again"}
var ErrStateMismatch = &Error{Err: CodeStateMismatch, Description: "invalid state parameter"}
var ErrMissingCode = &Error{Err: CodeMissingCode, Description: "no authorization code received"}
var ErrUnknown = &Error{Err: CodeUnknown, Description: "unknown error"}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}
	return string(e.Err) + ": " + e.Description
}

// Is matches errors by code so callers can use errors.Is against the
// predefined instances regardless of the description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Err == t.Err
}

// WithDescription returns a copy of the error carrying a specific description.
func (e *Error) WithDescription(desc string) *Error {
	return &Error{Err: e.Err, Description: desc}
}

// HTTPStatus maps the error code onto the status reported to the browser.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeNotAuthenticated, CodeRefreshFailed, CodeSessionExpired:
		return http.StatusUnauthorized
	case CodeStateMismatch, CodeMissingCode:
		return http.StatusBadRequest
	case CodeProviderError, CodeUpstreamError, CodeTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RequiresAuth reports whether the browser has to run the login flow again.
func (e *Error) RequiresAuth() bool {
	switch e.Err {
	case CodeNotAuthenticated, CodeRefreshFailed, CodeSessionExpired:
		return true
	default:
		return false
	}
}

// Provider builds a callback error from the provider's error /
// error_description redirect parameters.
func Provider(code, description string) *Error {
	if description == "" {
		description = code
	}
	return &Error{Err: CodeProviderError, Description: description}
}

// Upstream builds an error for a non-2xx response from the token or chat
// endpoint. The body is passed through to the caller.
func Upstream(description string) *Error {
	return &Error{Err: CodeUpstreamError, Description: description}
}

// Transport builds an error for a network or stream failure.
func Transport(description string) *Error {
	return &Error{Err: CodeTransportError, Description: description}
}
