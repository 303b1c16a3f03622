// Package errors provides structured error types for Meridian.
// Every error carries a category, code, message, and retryable flag so the
// CLI and the publisher can decide whether prior state is still valid and
// which exit code to report.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure class.
type ErrorCategory string

const (
	// ErrCategoryInput covers a missing or malformed event source or calendar.
	ErrCategoryInput ErrorCategory = "INPUT"
	// ErrCategoryConsistency covers validator invariant violations.
	ErrCategoryConsistency ErrorCategory = "CONSISTENCY"
	// ErrCategoryStorage covers object storage failures (staging, download).
	ErrCategoryStorage ErrorCategory = "STORAGE"
	// ErrCategoryManifest covers manifest catalog failures, including the swap.
	ErrCategoryManifest ErrorCategory = "MANIFEST"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Input codes
	CodeSourceUnavailable        = "SOURCE_UNAVAILABLE"
	CodeMalformedEvent           = "MALFORMED_EVENT"
	CodeCalendarUnavailable      = "CALENDAR_UNAVAILABLE"
	CodeCalendarGap              = "CALENDAR_GAP"
	CodeOutOfOrder               = "OUT_OF_ORDER"
	CodeAnomalyToleranceExceeded = "ANOMALY_TOLERANCE_EXCEEDED"
	CodeNoPriorState             = "NO_PRIOR_STATE"

	// Consistency codes
	CodeOverlap           = "OVERLAP"
	CodeInvertedInterval  = "INVERTED_INTERVAL"
	CodeDuplicateDailyRow = "DUPLICATE_DAILY_ROW"
	CodeRowCountMismatch  = "ROW_COUNT_MISMATCH"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Manifest codes
	CodeWriteConflict      = "WRITE_CONFLICT"
	CodeSwapFailed         = "SWAP_FAILED"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MeridianError is the structured error type used throughout the system.
type MeridianError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MeridianError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MeridianError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MeridianError) Is(target error) bool {
	var t *MeridianError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MeridianError.
func New(category ErrorCategory, code, message string) *MeridianError {
	return &MeridianError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MeridianError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MeridianError {
	return &MeridianError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MeridianError) WithDetails(details map[string]interface{}) *MeridianError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MeridianError.
func GetCategory(err error) ErrorCategory {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsConsistency reports whether err is a validator failure.
func IsConsistency(err error) bool {
	return GetCategory(err) == ErrCategoryConsistency
}

// IsInput reports whether err is an input (event source / calendar) failure.
func IsInput(err error) bool {
	return GetCategory(err) == ErrCategoryInput
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryManifest && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewInputError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryInput, code, message, cause)
}

// NewConsistencyError reports a violated invariant for one entity. date may be
// empty when the violation is not tied to a single day.
func NewConsistencyError(code, entityID, date, message string) *MeridianError {
	details := map[string]interface{}{"entity_id": entityID}
	if date != "" {
		details["date"] = date
	}
	return New(ErrCategoryConsistency, code, message).WithDetails(details)
}

func NewStorageError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewInternalError(message string, cause error) *MeridianError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
