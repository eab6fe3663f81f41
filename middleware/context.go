package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/waf-gateway/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for admin token claims
	ClaimsKey contextKey = "claims"

	// RequestContextKey is the context key for the inspected request snapshot
	RequestContextKey contextKey = "waf_request"
)

// Claims is what the admin API knows about the caller
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// GetRequestIDFromContext retrieves the request ID from context. It falls
// back to the ID assigned by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimiddleware.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves token claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds token claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetRequestContext returns the snapshot the WAF inspected, if any
func GetRequestContext(ctx context.Context) *models.RequestContext {
	if rc, ok := ctx.Value(RequestContextKey).(*models.RequestContext); ok {
		return rc
	}
	return nil
}

// WithRequestContext stores the inspected request snapshot
func WithRequestContext(ctx context.Context, rc *models.RequestContext) context.Context {
	return context.WithValue(ctx, RequestContextKey, rc)
}
