// Package apierror defines the gateway's error taxonomy: a closed set of
// machine-readable codes, their HTTP status mapping, and the uniform wire
// shape {"error": {"code", "message", "details", "request_id"}}.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class. The set is closed; callers switch on
// codes, so new ones are additions to the public contract.
type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeInvalidProvider       Code = "INVALID_PROVIDER"
	CodeInvalidModel          Code = "INVALID_MODEL"
	CodeInvalidCompletionMode Code = "INVALID_COMPLETION_MODE"
	CodeAuthentication        Code = "AUTHENTICATION_ERROR"
	CodeAuthorization         Code = "AUTHORIZATION_ERROR"
	CodeNotFound              Code = "NOT_FOUND"
	CodeToolsNoneAvailable    Code = "TOOLS_REQUIRED_BUT_NONE_AVAILABLE"
	CodeToolsNotUsed          Code = "TOOLS_REQUIRED_BUT_NOT_USED"
	CodeToolExecution         Code = "TOOL_EXECUTION_ERROR"
	CodeRateLimitExceeded     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal              Code = "INTERNAL_ERROR"
	CodeModelAPI              Code = "MODEL_API_ERROR"
	CodeUpstreamUnavailable   Code = "UPSTREAM_UNAVAILABLE"
	CodeTimeout               Code = "TIMEOUT"
)

// HTTPStatus maps a code to its HTTP response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeInvalidProvider, CodeInvalidModel, CodeInvalidCompletionMode:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeToolsNoneAvailable, CodeToolsNotUsed, CodeToolExecution:
		return http.StatusUnprocessableEntity
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeModelAPI, CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the gateway's boundary error. Err carries the wrapped cause for
// logs; it is never serialized to the client.
type Error struct {
	Code      Code
	Message   string
	Details   map[string]any
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that records err as its cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRequestID stamps the request id and returns the error.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// As extracts an *Error from err, or wraps err as INTERNAL_ERROR with a
// generic message so internals never leak to clients by accident.
func As(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(CodeInternal, "an unexpected error occurred", err)
}

// FromUpstreamStatus translates a third-party HTTP status into the
// vendor-agnostic taxonomy used by API wrappers and remote tool servers.
func FromUpstreamStatus(status int, message string) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return New(CodeAuthentication, message)
	case status == http.StatusForbidden:
		return New(CodeAuthorization, message)
	case status == http.StatusNotFound:
		return New(CodeNotFound, message)
	case status == http.StatusConflict || status == http.StatusGone:
		return New(CodeNotFound, message)
	case status == http.StatusTooManyRequests:
		return New(CodeRateLimitExceeded, message)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return New(CodeTimeout, message)
	case status >= 500:
		return New(CodeUpstreamUnavailable, message)
	default:
		return New(CodeValidation, message)
	}
}

type wireError struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type wireBody struct {
	Error wireError `json:"error"`
}

// WriteHTTP writes the error as the uniform JSON body with its mapped
// status. Safe to call once per response.
func (e *Error) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.Code == CodeRateLimitExceeded {
		if retryAfter, ok := e.Details["retry_after_seconds"]; ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%v", retryAfter))
		}
	}
	w.WriteHeader(e.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(wireBody{Error: wireError{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: e.RequestID,
	}})
}
