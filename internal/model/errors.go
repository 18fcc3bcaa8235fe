package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
)

// ErrorCode is the machine-readable code returned to operators.
type ErrorCode string

const (
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeUpstream     ErrorCode = "UPSTREAM_ERROR"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// APIError is an operator-facing failure. Field names the rejected input
// of a validation error; Operation names the platform call that failed.
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Field      string    `json:"field,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same action later may succeed.
// Validation and authorization failures need operator changes first.
func (e *APIError) Retryable() bool {
	return e.Code == CodeUpstream || e.Code == CodeRateLimited
}

// AsAPIError finds the first APIError in err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// NewNotFoundError reports a missing theme, asset, pixel or credential.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError rejects operator input. It is always returned before
// any platform call is made.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       CodeValidation,
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Field:      field,
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError reports a rejected token, session or signature.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       CodeUnauthorized,
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewUpstreamError reports a failed platform call. The message keeps the
// operation name so the operator knows what to retry or install manually.
func NewUpstreamError(operation string, err error) *APIError {
	return &APIError{
		Code:       CodeUpstream,
		Message:    fmt.Sprintf("%s failed: %v", operation, err),
		Operation:  operation,
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %w", ErrUpstreamError, err),
	}
}

// NewInternalError hides an unexpected failure behind a generic message.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       CodeInternal,
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewRateLimitError reports throttling by service.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       CodeRateLimited,
		Message:    service + " rate limit exceeded, please retry later",
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}
