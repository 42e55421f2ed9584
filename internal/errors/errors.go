// Package errors provides structured error types for the viewbench harness.
// Every error carries a category, code, message, and retryable flag so callers
// can tell a slow pipeline from a broken workload from a wrong audit query.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by harness step.
type ErrorCategory string

const (
	ErrCategoryValidation   ErrorCategory = "VALIDATION"
	ErrCategoryConnectivity ErrorCategory = "CONNECTIVITY"
	ErrCategoryWorkload     ErrorCategory = "WORKLOAD"
	ErrCategoryBaseline     ErrorCategory = "BASELINE"
	ErrCategoryAudit        ErrorCategory = "AUDIT"
	ErrCategoryStorage      ErrorCategory = "STORAGE"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidDate    = "INVALID_DATE"
	CodeInvalidConfig  = "INVALID_CONFIG"

	// Connectivity codes
	CodeConnectFailed = "CONNECT_FAILED"
	CodeListenFailed  = "LISTEN_FAILED"
	CodePollFailed    = "POLL_FAILED"

	// Workload codes
	CodeResolveFailed = "RESOLVE_FAILED"
	CodeInsertFailed  = "INSERT_FAILED"
	CodeUpdateFailed  = "UPDATE_FAILED"
	CodeDeleteFailed  = "DELETE_FAILED"
	CodeMarkerFailed  = "MARKER_FAILED"

	// Baseline codes
	CodeDerivationFailed = "DERIVATION_FAILED"

	// Audit codes
	CodeAuditQueryFailed = "AUDIT_QUERY_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeHistoryFailed  = "HISTORY_FAILED"

	// Internal codes
	CodeUnexpected        = "UNEXPECTED"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeBusy              = "BUSY"
)

// ViewbenchError is the structured error type used throughout the harness.
type ViewbenchError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ViewbenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ViewbenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ViewbenchError) Is(target error) bool {
	var t *ViewbenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ViewbenchError.
func New(category ErrorCategory, code, message string) *ViewbenchError {
	return &ViewbenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ViewbenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ViewbenchError {
	return &ViewbenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ViewbenchError) WithDetails(details map[string]interface{}) *ViewbenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ve *ViewbenchError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ViewbenchError.
func GetCategory(err error) ErrorCategory {
	var ve *ViewbenchError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ViewbenchError.
func GetCode(err error) string {
	var ve *ViewbenchError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryConnectivity:
		return true
	case category == ErrCategoryStorage && (code == CodeUploadFailed || code == CodeDownloadFailed):
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *ViewbenchError {
	return New(ErrCategoryValidation, code, message)
}

func NewConnectivityError(code, message string, cause error) *ViewbenchError {
	return Wrap(ErrCategoryConnectivity, code, message, cause)
}

func NewBaselineError(derivation string, cause error) *ViewbenchError {
	return Wrap(ErrCategoryBaseline, CodeDerivationFailed, "derivation "+derivation+" failed", cause).
		WithDetails(map[string]interface{}{"derivation": derivation})
}

func NewAuditError(message string, cause error) *ViewbenchError {
	return Wrap(ErrCategoryAudit, CodeAuditQueryFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *ViewbenchError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *ViewbenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
