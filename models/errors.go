package models

import "fmt"

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTimeout      = "FETCH_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeParse        = "DOCUMENT_PARSE_FAILED"
	ErrCodeOptimize     = "OPTIMIZE_FAILED"
	ErrCodeSettings     = "SETTINGS_UNAVAILABLE"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OptimizeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type OptimizeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *OptimizeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OptimizeError) Unwrap() error {
	return e.Err
}

// NewOptimizeError creates a new OptimizeError.
func NewOptimizeError(code, message string, err error) *OptimizeError {
	return &OptimizeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *OptimizeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}
