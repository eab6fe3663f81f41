package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error body returned by the admin and health API
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps admin API payloads
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// DetailResponse is the body of a WAF rejection. It carries only the public
// reason, never the matched pattern or any internal error.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteDetail writes a WAF rejection
func WriteDetail(w http.ResponseWriter, status int, reason string) error {
	return WriteJSON(w, status, DetailResponse{Detail: reason})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Access forbidden"
	}
	return WriteError(w, http.StatusForbidden, message, nil)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, message, nil)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// WriteError writes an error response based on the status code
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	var errorType string
	switch status {
	case http.StatusBadRequest:
		errorType = "bad_request"
	case http.StatusUnauthorized:
		errorType = "unauthorized"
	case http.StatusForbidden:
		errorType = "forbidden"
	case http.StatusNotFound:
		errorType = "not_found"
	case http.StatusTooManyRequests:
		errorType = "rate_limit_exceeded"
	case http.StatusServiceUnavailable:
		errorType = "service_unavailable"
	case http.StatusGatewayTimeout:
		errorType = "timeout"
	case http.StatusBadGateway:
		errorType = "bad_gateway"
	default:
		errorType = "internal_error"
	}

	return WriteJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
		Details: details,
	})
}
