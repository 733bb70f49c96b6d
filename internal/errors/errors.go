package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound          = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists     = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation        = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation  = new(ErrCodeInvalidOperation, "invalid operation")
	ErrPermissionDenied  = new(ErrCodePermissionDenied, "permission denied")
	ErrScopeViolation    = new(ErrCodeScopeViolation, "tenant scope violation")
	ErrThrottled         = new(ErrCodeThrottled, "request throttled")
	ErrDatabase          = new(ErrCodeDatabase, "database error")
	ErrAggregationDrift  = new(ErrCodeAggregationDrift, "aggregation drift detected")
	ErrPricingResolution = new(ErrCodePricingResolution, "no pricing rule covers the requested period")
	ErrSystem            = new(ErrCodeSystemError, "system error")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrNotFound:          http.StatusNotFound,
		ErrAlreadyExists:     http.StatusConflict,
		ErrValidation:        http.StatusBadRequest,
		ErrInvalidOperation:  http.StatusBadRequest,
		ErrPermissionDenied:  http.StatusForbidden,
		ErrScopeViolation:    http.StatusForbidden,
		ErrThrottled:         http.StatusTooManyRequests,
		ErrDatabase:          http.StatusInternalServerError,
		ErrAggregationDrift:  http.StatusInternalServerError,
		ErrPricingResolution: http.StatusUnprocessableEntity,
		ErrSystem:            http.StatusInternalServerError,
	}
)

const (
	ErrCodeNotFound          = "not_found"
	ErrCodeAlreadyExists     = "already_exists"
	ErrCodeValidation        = "validation_error"
	ErrCodeInvalidOperation  = "invalid_operation"
	ErrCodePermissionDenied  = "permission_denied"
	ErrCodeScopeViolation    = "scope_violation"
	ErrCodeThrottled         = "throttled"
	ErrCodeDatabase          = "database_error"
	ErrCodeAggregationDrift  = "aggregation_drift"
	ErrCodePricingResolution = "pricing_resolution_error"
	ErrCodeSystemError       = "system_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsScopeViolation checks if an error is a tenant scope violation
func IsScopeViolation(err error) bool {
	return errors.Is(err, ErrScopeViolation)
}

// IsThrottled checks if an error is a throttled error
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsDatabase checks if an error is a database error. Database errors are
// treated as transient by callers and retried with backoff before surfacing.
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsPricingResolution checks if an error is a pricing resolution error
func IsPricingResolution(err error) bool {
	return errors.Is(err, ErrPricingResolution)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
