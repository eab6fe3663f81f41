package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeDependency    ErrorType = "dependency"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause returns a copy of e carrying err as its cause. Use it to raise
// one of the shared error values below without modifying it.
func (e *DomainError) WithCause(err error) *DomainError {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     err,
		Details: details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrSecurityEventNotFound = NewDomainError(ErrorTypeNotFound, "security event not found", nil)

	// Validation Errors
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidFilter = NewDomainError(ErrorTypeValidation, "invalid event filter", nil)

	// Configuration Errors
	ErrInvalidPattern     = NewDomainError(ErrorTypeConfiguration, "invalid rule pattern", nil)
	ErrInvalidRuleSet     = NewDomainError(ErrorTypeConfiguration, "invalid rule set", nil)
	ErrRulesFileNotSet    = NewDomainError(ErrorTypeConfiguration, "rules file not configured", nil)
	ErrUnsupportedBackend = NewDomainError(ErrorTypeConfiguration, "unsupported rate limit backend", nil)

	// Dependency Errors
	ErrCounterStoreUnavailable = NewDomainError(ErrorTypeDependency, "rate limit counter store unavailable", nil)
	ErrEventStoreUnavailable   = NewDomainError(ErrorTypeDependency, "security event store unavailable", nil)

	// Timeout Errors
	ErrScorerTimeout = NewDomainError(ErrorTypeTimeout, "anomaly scorer timeout", nil)

	// Internal Errors
	ErrInternal   = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrBufferFull = NewDomainError(ErrorTypeInternal, "buffer full", nil)
	ErrNotStarted = NewDomainError(ErrorTypeInternal, "service not started", nil)

	// External Errors
	ErrScorerUnavailable = NewDomainError(ErrorTypeExternal, "anomaly scorer unavailable", nil)
	ErrScorerBadResponse = NewDomainError(ErrorTypeExternal, "anomaly scorer returned an invalid response", nil)
	ErrAlertDelivery     = NewDomainError(ErrorTypeExternal, "alert delivery failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConfiguration
	}
	return false
}

// IsDependencyError checks if an error is a dependency (backing store) error
func IsDependencyError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeDependency
	}
	return false
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeTimeout
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// IsExternalError checks if an error is an external service error
func IsExternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeExternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external service error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

// WrapDependency wraps an error as a dependency error
func WrapDependency(message string, err error) error {
	return NewDomainError(ErrorTypeDependency, message, err)
}

// WrapConfiguration wraps an error as a configuration error
func WrapConfiguration(message string, err error) error {
	return NewDomainError(ErrorTypeConfiguration, message, err)
}
