// Package errors provides structured error types for taxistream.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryConfiguration ErrorCategory = "CONFIGURATION"
	ErrCategoryRecord        ErrorCategory = "RECORD"
	ErrCategoryStream        ErrorCategory = "STREAM"
	ErrCategoryConsumer      ErrorCategory = "CONSUMER"
	ErrCategoryStorage       ErrorCategory = "STORAGE"
	ErrCategorySink          ErrorCategory = "SINK"
	ErrCategoryInternal      ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Configuration codes
	CodeFileUnreadable   = "FILE_UNREADABLE"
	CodeInvalidParameter = "INVALID_PARAMETER"

	// Record codes
	CodeMalformedRecord = "MALFORMED_RECORD"

	// Stream codes
	CodeReadFailed = "READ_FAILED"

	// Consumer codes
	CodeCallbackFailed = "CALLBACK_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Sink codes
	CodeWriteFailed = "WRITE_FAILED"

	// Internal codes
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeUnexpected     = "UNEXPECTED"
)

// TaxiStreamError is the structured error type used throughout the system.
type TaxiStreamError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TaxiStreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TaxiStreamError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TaxiStreamError) Is(target error) bool {
	var t *TaxiStreamError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TaxiStreamError.
func New(category ErrorCategory, code, message string) *TaxiStreamError {
	return &TaxiStreamError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TaxiStreamError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TaxiStreamError {
	return &TaxiStreamError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TaxiStreamError) WithDetails(details map[string]interface{}) *TaxiStreamError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var te *TaxiStreamError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TaxiStreamError.
func GetCategory(err error) ErrorCategory {
	var te *TaxiStreamError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TaxiStreamError.
func GetCode(err error) string {
	var te *TaxiStreamError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// Sentinel values for errors.Is checks by category and code.
var (
	ErrConfiguration   = New(ErrCategoryConfiguration, CodeInvalidParameter, "invalid configuration")
	ErrFileUnreadable  = New(ErrCategoryConfiguration, CodeFileUnreadable, "data file unreadable")
	ErrMalformedRecord = New(ErrCategoryRecord, CodeMalformedRecord, "malformed record")
	ErrStreamIO        = New(ErrCategoryStream, CodeReadFailed, "stream read failed")
	ErrCallbackFailed  = New(ErrCategoryConsumer, CodeCallbackFailed, "consumer callback failed")
)

// isRetryable determines if an error code is retryable. Replays themselves are
// never retried; only storage transfers are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// IsConfigurationError reports whether err is a construction-time configuration error.
func IsConfigurationError(err error) bool {
	return GetCategory(err) == ErrCategoryConfiguration
}

// Convenience constructors for common errors.

func NewConfigurationError(message string) *TaxiStreamError {
	return New(ErrCategoryConfiguration, CodeInvalidParameter, message)
}

func NewFileUnreadableError(path string, cause error) *TaxiStreamError {
	return Wrap(ErrCategoryConfiguration, CodeFileUnreadable, fmt.Sprintf("cannot read data file %s", path), cause).
		WithDetails(map[string]interface{}{"path": path})
}

func NewMalformedRecordError(line int, message string, cause error) *TaxiStreamError {
	return Wrap(ErrCategoryRecord, CodeMalformedRecord, fmt.Sprintf("line %d: %s", line, message), cause).
		WithDetails(map[string]interface{}{"line": line})
}

func NewStreamIOError(message string, cause error) *TaxiStreamError {
	return Wrap(ErrCategoryStream, CodeReadFailed, message, cause)
}

func NewCallbackError(message string, cause error) *TaxiStreamError {
	return Wrap(ErrCategoryConsumer, CodeCallbackFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *TaxiStreamError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSinkError(message string, cause error) *TaxiStreamError {
	return Wrap(ErrCategorySink, CodeWriteFailed, message, cause)
}

func NewInternalError(message string, cause error) *TaxiStreamError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
