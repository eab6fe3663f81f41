package utils

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with per-field messages
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string)
	for _, err := range errs {
		field := err.Field()

		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min", "gte":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max", "lte":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		case "ip":
			fields[field] = fmt.Sprintf("%s must be a valid IP address", field)
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}

// QueryInt reads an integer query parameter. A missing parameter yields def.
func QueryInt(values url.Values, name string, def int) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{name: fmt.Sprintf("%s must be an integer", name)},
		}
	}
	return n, nil
}
