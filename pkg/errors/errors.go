package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes. Chain and custody failures are a closed set so that
// callers can branch on Code instead of matching message text.
const (
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternalError      = "internal_error"
	ErrCodeInvalidRedirect    = "invalid_redirect"
	ErrCodeExpired            = "expired"
	ErrCodeUnknownSignature   = "unknown_signature"
	ErrCodeSignatureMismatch  = "signature_mismatch"
	ErrCodeAlreadyBound       = "already_bound"
	ErrCodeUnknownTransaction = "unknown_transaction"
	ErrCodeChainRejected      = "chain_rejected"
	ErrCodeChainTimeout       = "chain_timeout"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       ErrCodeForbidden,
		Message:    "Access denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrConflict = &AppError{
		Code:       ErrCodeConflict,
		Message:    "Request conflict",
		StatusCode: http.StatusConflict,
	}

	ErrInvalidRedirect = &AppError{
		Code:       ErrCodeInvalidRedirect,
		Message:    "Redirect URL is not registered for this application",
		StatusCode: http.StatusBadRequest,
	}

	ErrExpired = &AppError{
		Code:       ErrCodeExpired,
		Message:    "Authorization message has expired",
		StatusCode: http.StatusForbidden,
	}

	ErrUnknownSignature = &AppError{
		Code:       ErrCodeUnknownSignature,
		Message:    "No signature record matches the supplied value",
		StatusCode: http.StatusForbidden,
	}

	ErrSignatureMismatch = &AppError{
		Code:       ErrCodeSignatureMismatch,
		Message:    "Recovered signer does not match the claimed address",
		StatusCode: http.StatusBadRequest,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// BadRequest creates a bad request error with a specific message
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NotFound creates a not found error for a named resource
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// AppNotFound creates a not found error for an application lookup
func AppNotFound(appID string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Application not found",
		Detail:     fmt.Sprintf("app_id: %s", appID),
		StatusCode: http.StatusNotFound,
	}
}

// AlreadyBound creates an error for an address that is already associated with a user
func AlreadyBound(address string) *AppError {
	return &AppError{
		Code:       ErrCodeAlreadyBound,
		Message:    "Address is already bound",
		Detail:     fmt.Sprintf("address: %s", address),
		StatusCode: http.StatusConflict,
	}
}

// UnknownTransaction creates an error for an original transaction hash that
// has no pending view on chain. Covers both "never existed" and "already
// confirmed and pruned", which a point lookup cannot distinguish.
func UnknownTransaction(txHash string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownTransaction,
		Message:    "Transaction not found on chain",
		Detail:     fmt.Sprintf("tx_hash: %s", txHash),
		StatusCode: http.StatusBadRequest,
	}
}

// ChainRejected creates an error for a broadcast rejected by the node
func ChainRejected(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeChainRejected,
		Message:    "Transaction rejected by chain",
		Detail:     detail,
		StatusCode: http.StatusBadGateway,
	}
}

// ChainTimeout creates an error for a confirmation wait that exceeded the
// configured policy. The transaction may still confirm later.
func ChainTimeout(txHash string) *AppError {
	return &AppError{
		Code:       ErrCodeChainTimeout,
		Message:    "Timed out waiting for confirmation",
		Detail:     fmt.Sprintf("tx_hash: %s", txHash),
		StatusCode: http.StatusGatewayTimeout,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying the given code
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}
