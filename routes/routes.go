package routes

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/waf-gateway/app"
	"github.com/upb/waf-gateway/handlers"
	"github.com/upb/waf-gateway/utils"
	"go.uber.org/zap"
)

// SetupRoutes configures all application routes and middleware. Health checks and
// /metrics sit outside the WAF; everything else is inspected first.
func SetupRoutes(deps *app.Dependencies) (http.Handler, error) {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(app.Version, deps.Logger, healthDependencies(deps)...)
	r.Get("/healthz", health.HandleLiveness)
	r.Get("/readyz", health.HandleReadiness)
	r.Get("/health", health.HandleHealth)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	upstream, err := upstreamHandler(deps)
	if err != nil {
		return nil, err
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.WAFMiddleware.Handler)

		// Admin API (require admin role)
		admin := handlers.NewAdminHandler(deps.AuditService, deps.Metrics, deps.Pipeline, deps.Logger)
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/events", admin.HandleListEvents)
			r.Get("/events/{id}", admin.HandleGetEvent)
			r.Get("/stats", admin.HandleStats)
			r.Post("/rules/reload", admin.HandleReloadRules)
		})

		if upstream != nil {
			r.Handle("/*", upstream)
			return
		}

		demo := handlers.NewDemoHandler()
		r.Get("/", demo.HandleRoot)
		r.Get("/test/xss", demo.HandleXSS)
		r.Get("/test/sqli", demo.HandleSQLInjection)
		r.Get("/test/path-traversal", demo.HandlePathTraversal)

		// 404 handler
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			utils.WriteDetail(w, http.StatusNotFound, "Not Found")
		})
	})

	return r, nil
}

// upstreamHandler returns a reverse proxy to UPSTREAM_URL, or nil when the
// demo routes should be served instead.
func upstreamHandler(deps *app.Dependencies) (http.Handler, error) {
	raw := deps.Config.Server.UpstreamURL
	if raw == "" {
		return nil, nil
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		deps.Logger.Error("upstream request failed",
			zap.String("upstream", target.Host),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		utils.WriteDetail(w, http.StatusBadGateway, "Bad gateway")
	}

	deps.Logger.Info("proxying allowed requests", zap.String("upstream", target.String()))
	return proxy, nil
}

// healthDependencies lists what /readyz checks. The scorer is optional: when
// it is down the anomaly stage fails open.
func healthDependencies(deps *app.Dependencies) []handlers.Dependency {
	checks := []handlers.Dependency{
		{Name: "counter_store", Checker: handlers.HealthCheckFunc(deps.RateLimiter.HealthCheck)},
		{Name: "event_store", Checker: handlers.HealthCheckFunc(deps.AuditService.HealthCheck)},
	}
	if deps.Scorer != nil {
		checks = append(checks, handlers.Dependency{
			Name:     "scorer",
			Checker:  handlers.HealthCheckFunc(func(ctx context.Context) error { return deps.Scorer.Ping(ctx) }),
			Optional: true,
		})
	}
	return checks
}
