package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/waf-gateway/services"
	"github.com/upb/waf-gateway/utils"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{"not found error", services.ErrSecurityEventNotFound, http.StatusNotFound, "not_found"},
		{"validation error", services.ErrInvalidFilter, http.StatusBadRequest, "bad_request"},
		{"configuration error", services.ErrRulesFileNotSet, http.StatusBadRequest, "bad_request"},
		{"unauthorized error", services.NewDomainError(services.ErrorTypeUnauthorized, "unauthorized", nil), http.StatusUnauthorized, "unauthorized"},
		{"forbidden error", services.NewDomainError(services.ErrorTypeForbidden, "access forbidden", nil), http.StatusForbidden, "forbidden"},
		{"rate limit error", services.NewDomainError(services.ErrorTypeRateLimit, "rate limit exceeded", nil), http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"dependency error", services.ErrEventStoreUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"timeout error", services.ErrScorerTimeout, http.StatusGatewayTimeout, "timeout"},
		{"external error", services.ErrScorerUnavailable, http.StatusBadGateway, "bad_gateway"},
		{"internal error", services.ErrInternal, http.StatusInternalServerError, "internal_error"},
		{"unknown error", errors.New("some unknown error"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
		})
	}
}

func TestHandleServiceError_HidesInternalDetail(t *testing.T) {
	err := services.WrapInternal("scan failed", errors.New("regexp: stack overflow in pattern sql_injection:3"))

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "sql_injection")
	assert.Contains(t, w.Body.String(), "An internal error occurred")
}

func TestHandleServiceErrorWithDetails(t *testing.T) {
	err := services.NewDomainError(services.ErrorTypeValidation, "invalid event filter", nil).
		WithDetail("limit", 1000)

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, float64(1000), response.Details["limit"])
}

func TestHandleServiceErrorNil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("field validation error", func(t *testing.T) {
		err := &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{"limit": "limit must be at most 500"},
		}

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "Validation failed", response.Message)
		assert.Equal(t, "limit must be at most 500", response.Details["limit"])
	})

	t.Run("generic error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleValidationError(w, errors.New("generic validation error"), logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "generic validation error", response.Message)
	})
}
