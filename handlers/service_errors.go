package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/waf-gateway/services"
	"github.com/upb/waf-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var status int
	message := err.Error()

	switch {
	case services.IsNotFoundError(err):
		status = http.StatusNotFound
	case services.IsValidationError(err), services.IsConfigurationError(err):
		status = http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized
	case services.IsForbiddenError(err):
		status = http.StatusForbidden
	case services.IsRateLimitError(err):
		status = http.StatusTooManyRequests
	case services.IsDependencyError(err):
		logger.Warn("dependency unavailable", zap.Error(err))
		status = http.StatusServiceUnavailable
	case services.IsTimeoutError(err):
		status = http.StatusGatewayTimeout
	case services.IsExternalError(err):
		status = http.StatusBadGateway
	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		status = http.StatusInternalServerError
		message = "An internal error occurred"
		details = nil
	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		status = http.StatusInternalServerError
		message = "An unexpected error occurred"
		details = nil
	}

	if werr := utils.WriteError(w, status, message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
