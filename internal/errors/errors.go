package errors

import (
	"net/http"
	"time"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest     ErrorCode = "40001"
	ErrValidationFailed   ErrorCode = "40002"
	ErrInvalidJSON        ErrorCode = "40003"
	ErrMissingParameter   ErrorCode = "40004"
	ErrInsufficientTokens ErrorCode = "40005"
	ErrInvalidOffense     ErrorCode = "40006"
	ErrInvalidState       ErrorCode = "40007"

	// Authentication errors (401xx)
	ErrUnauthorized       ErrorCode = "40100"
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"

	// Authorization errors (403xx)
	ErrForbidden         ErrorCode = "40301"
	ErrNotOwner          ErrorCode = "40302"
	ErrAccountBanned     ErrorCode = "40303"
	ErrAccountRestricted ErrorCode = "40304"

	// Resource errors (404xx)
	ErrNotFound         ErrorCode = "40400"
	ErrUserNotFound     ErrorCode = "40401"
	ErrFindNotFound     ErrorCode = "40402"
	ErrProposalNotFound ErrorCode = "40403"
	ErrContractNotFound ErrorCode = "40404"

	// Conflict errors (409xx)
	ErrConflict      ErrorCode = "40901"
	ErrAlreadyExists ErrorCode = "40902"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrDatabaseError       ErrorCode = "50002"
	ErrCacheError          ErrorCode = "50003"
	ErrUpstreamError       ErrorCode = "50201"
	ErrUpstreamUnavailable ErrorCode = "50301"
	ErrCircuitBreakerOpen  ErrorCode = "50302"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
	Timestamp  time.Time `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error carrying details
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		HTTPStatus: e.HTTPStatus,
		Timestamp:  time.Now().UTC(),
	}
}

// WithMessage returns a copy of the error with a different message
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		Details:    e.Details,
		HTTPStatus: e.HTTPStatus,
		Timestamp:  time.Now().UTC(),
	}
}

// ErrorBody is the error object embedded in every error response
type ErrorBody struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
}

// ErrorResponse represents the error response format.
// Message mirrors Error.Message for clients that read a flat {message} body.
type ErrorResponse struct {
	Message       string    `json:"message"`
	Error         ErrorBody `json:"error"`
	RequestID     string    `json:"request_id"`
	CorrelationID string    `json:"correlation_id"`
}

// NewErrorResponse builds the standard error response for an APIError
func NewErrorResponse(err *APIError, requestID, correlationID, path, method string) ErrorResponse {
	ts := err.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if correlationID == "" {
		correlationID = requestID
	}
	return ErrorResponse{
		Message: err.Message,
		Error: ErrorBody{
			Code:      err.Code,
			Message:   err.Message,
			Details:   err.Details,
			Timestamp: ts.Format(time.RFC3339),
			Path:      path,
			Method:    method,
		},
		RequestID:     requestID,
		CorrelationID: correlationID,
	}
}

// GetHTTPStatusFromCode maps an error code to its HTTP status
func GetHTTPStatusFromCode(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrValidationFailed, ErrInvalidJSON, ErrMissingParameter,
		ErrInsufficientTokens, ErrInvalidOffense, ErrInvalidState:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidCredentials, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotOwner, ErrAccountBanned, ErrAccountRestricted:
		return http.StatusForbidden
	case ErrNotFound, ErrUserNotFound, ErrFindNotFound, ErrProposalNotFound, ErrContractNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrAlreadyExists:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstreamError:
		return http.StatusBadGateway
	case ErrUpstreamUnavailable, ErrCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether a client may retry the request unchanged
func IsRetryable(err *APIError) bool {
	switch err.Code {
	case ErrRateLimited, ErrUpstreamUnavailable, ErrCircuitBreakerOpen:
		return true
	}
	return false
}

// IsClientError reports whether the error is a 4xx
func IsClientError(err *APIError) bool {
	return err.HTTPStatus >= 400 && err.HTTPStatus < 500
}

// IsServerError reports whether the error is a 5xx
func IsServerError(err *APIError) bool {
	return err.HTTPStatus >= 500 && err.HTTPStatus < 600
}

func newError(code ErrorCode, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: GetHTTPStatusFromCode(code),
	}
}

// Common errors
var (
	ErrUnauthorizedError       = newError(ErrUnauthorized, "Authentication required")
	ErrInvalidCredentialsError = newError(ErrInvalidCredentials, "Invalid email or password")
	ErrTokenExpiredError       = newError(ErrTokenExpired, "Token has expired")

	ErrForbiddenError         = newError(ErrForbidden, "Access denied")
	ErrNotOwnerError          = newError(ErrNotOwner, "You do not own this resource")
	ErrAccountBannedError     = newError(ErrAccountBanned, "Account is banned")
	ErrAccountRestrictedError = newError(ErrAccountRestricted, "Account is restricted from this action")

	ErrNotFoundError         = newError(ErrNotFound, "Resource not found")
	ErrUserNotFoundError     = newError(ErrUserNotFound, "User not found")
	ErrFindNotFoundError     = newError(ErrFindNotFound, "Find not found")
	ErrProposalNotFoundError = newError(ErrProposalNotFound, "Proposal not found")
	ErrContractNotFoundError = newError(ErrContractNotFound, "Contract not found")

	ErrInsufficientTokensError = newError(ErrInsufficientTokens, "Insufficient findertokens")
	ErrInvalidOffenseError     = newError(ErrInvalidOffense, "Invalid offense for user role")

	ErrRateLimitedError         = newError(ErrRateLimited, "Rate limit exceeded")
	ErrInternalServerError      = newError(ErrInternalServer, "Internal server error")
	ErrCircuitBreakerOpenError  = newError(ErrCircuitBreakerOpen, "Service temporarily unavailable")
	ErrUpstreamUnavailableError = newError(ErrUpstreamUnavailable, "Upstream service unavailable")
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return newError(ErrInvalidRequest, message)
}

// NewInvalidStateError reports a lifecycle transition that is not allowed from the current state
func NewInvalidStateError(message string) *APIError {
	return newError(ErrInvalidState, message)
}

// NewConflictError reports a request that lost a race or repeats a one-time action
func NewConflictError(message string) *APIError {
	return newError(ErrConflict, message)
}

// NewForbiddenError creates a forbidden error with a custom message
func NewForbiddenError(message string) *APIError {
	return newError(ErrForbidden, message)
}

// NewNotFoundError creates a not-found error with a custom message
func NewNotFoundError(message string) *APIError {
	return newError(ErrNotFound, message)
}

// NewRateLimitError creates a rate limit error carrying the retry hint
func NewRateLimitError(retryAfterSeconds int64) *APIError {
	return &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		Details:    map[string]int64{"retry_after_seconds": retryAfterSeconds},
		HTTPStatus: http.StatusTooManyRequests,
		Timestamp:  time.Now().UTC(),
	}
}

// NewUpstreamError reports a failing third-party dependency
func NewUpstreamError(provider string, statusCode int) *APIError {
	return &APIError{
		Code:    ErrUpstreamError,
		Message: "Upstream service error",
		Details: map[string]interface{}{
			"provider":    provider,
			"status_code": statusCode,
		},
		HTTPStatus: http.StatusBadGateway,
		Timestamp:  time.Now().UTC(),
	}
}
