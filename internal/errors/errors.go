// Package errors defines the error taxonomy used by the aggregation engine.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransientProvider is a retryable market-data provider failure
	CategoryTransientProvider ErrorCategory = "transient_provider"
	// CategoryPermanentData is bad or missing token metadata; skip the item
	CategoryPermanentData ErrorCategory = "permanent_data"
	// CategoryLockContention means another instance owns the cycle
	CategoryLockContention ErrorCategory = "lock_contention"
	// CategoryStorage is a relational store failure, fatal to the current cycle
	CategoryStorage ErrorCategory = "storage"
	// CategoryPartialBatch records per-pick failures isolated inside a batch
	CategoryPartialBatch ErrorCategory = "partial_batch"
	// CategoryCache represents shared cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents configuration or input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategorySystem represents anything else
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with a category and a stable code
type CategorizedError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewTransientProviderError wraps a retryable provider failure for a token
func NewTransientProviderError(provider, token string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTransientProvider,
		Code:     "PROVIDER_TRANSIENT",
		Message:  fmt.Sprintf("transient %s failure for %s", provider, token),
		Cause:    cause,
		Details: map[string]interface{}{
			"provider": provider,
			"token":    token,
		},
	}
}

// NewPermanentDataError reports token data that retrying cannot fix
func NewPermanentDataError(token, reason string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryPermanentData,
		Code:     "PERMANENT_DATA",
		Message:  fmt.Sprintf("unusable data for %s: %s", token, reason),
		Details: map[string]interface{}{
			"token":  token,
			"reason": reason,
		},
	}
}

// NewLockContentionError reports that key is owned by another instance
func NewLockContentionError(key, owner string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryLockContention,
		Code:     "LOCK_CONTENTION",
		Message:  fmt.Sprintf("lock %s held by %s", key, owner),
		Details: map[string]interface{}{
			"key":   key,
			"owner": owner,
		},
	}
}

// NewStorageError wraps a relational store failure
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryStorage,
		Code:     "STORAGE_ERROR",
		Message:  fmt.Sprintf("storage error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewPartialBatchFailure summarizes per-pick failures inside one batch
func NewPartialBatchFailure(batch, failed, total int, first error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryPartialBatch,
		Code:     "PARTIAL_BATCH_FAILURE",
		Message:  fmt.Sprintf("batch %d: %d of %d picks failed", batch, failed, total),
		Cause:    first,
		Details: map[string]interface{}{
			"batch":  batch,
			"failed": failed,
			"total":  total,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryCache,
		Code:     "CACHE_ERROR",
		Message:  fmt.Sprintf("cache error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, reason string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryValidation,
		Code:     "INVALID_PARAMETER",
		Message:  fmt.Sprintf("invalid parameter '%s': %s", field, reason),
		Details: map[string]interface{}{
			"parameter": field,
			"reason":    reason,
		},
	}
}

// NewInternalError creates a system error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategorySystem,
		Code:     "INTERNAL_ERROR",
		Message:  message,
		Cause:    cause,
	}
}

// Categorize returns the first CategorizedError in err's chain,
// or wraps err as a system error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

// CategoryOf returns the category of err, or "" for nil
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	return Categorize(err).Category
}

// IsRetryable determines if an error should be retried.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	return CategoryOf(err) == CategoryTransientProvider
}

// IsPermanent reports bad-data errors that must be skipped, not retried
func IsPermanent(err error) bool {
	return CategoryOf(err) == CategoryPermanentData
}

// IsStorage reports errors that abort the current cycle
func IsStorage(err error) bool {
	return CategoryOf(err) == CategoryStorage
}

// IsLockContention reports the expected "another instance owns it" signal
func IsLockContention(err error) bool {
	return CategoryOf(err) == CategoryLockContention
}

// Is and As re-export the standard helpers so callers need one import
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New returns an error that formats as the given text
func New(text string) error { return stderrors.New(text) }
