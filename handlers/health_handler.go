package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/waf-gateway/utils"
	"go.uber.org/zap"
)

// HealthChecker is a dependency that can report whether it is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck implements HealthChecker
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Dependency is a named readiness check. Optional dependencies are reported
// but never make the gateway unready.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Optional bool
}

// HealthResponse represents the readiness check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	version      string
	dependencies []Dependency
	timeout      time.Duration
	logger       *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(version string, logger *zap.Logger, dependencies ...Dependency) *HealthHandler {
	return &HealthHandler{
		version:      version,
		dependencies: dependencies,
		timeout:      2 * time.Second,
		logger:       logger,
	}
}

// HandleLiveness handles GET /healthz
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// HandleReadiness handles GET /readyz. It pings the counter store, the
// event store and any other registered dependency.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.dependencies))
	ready := true

	for _, dep := range h.dependencies {
		if err := dep.Checker.HealthCheck(ctx); err != nil {
			h.logger.Warn("health check failed",
				zap.String("dependency", dep.Name),
				zap.Bool("optional", dep.Optional),
				zap.Error(err))
			checks[dep.Name] = "unhealthy"
			if !dep.Optional {
				ready = false
			}
			continue
		}
		checks[dep.Name] = "healthy"
	}

	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	status := http.StatusOK
	if !ready {
		response.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}

	_ = utils.WriteJSON(w, status, response)
}
