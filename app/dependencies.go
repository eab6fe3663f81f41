package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/waf-gateway/config"
	"github.com/upb/waf-gateway/internal/auth"
	"github.com/upb/waf-gateway/internal/observability"
	"github.com/upb/waf-gateway/internal/rules"
	"github.com/upb/waf-gateway/middleware"
	"github.com/upb/waf-gateway/repositories"
	"github.com/upb/waf-gateway/repositories/memory"
	"github.com/upb/waf-gateway/repositories/postgres"
	"github.com/upb/waf-gateway/services"
	"github.com/upb/waf-gateway/services/alert"
	"github.com/upb/waf-gateway/services/audit"
	"github.com/upb/waf-gateway/services/pipeline"
	"github.com/upb/waf-gateway/services/ratelimit"
	"github.com/upb/waf-gateway/services/scorer"
	"go.uber.org/zap"
)

// Version is reported by /health
const Version = "1.0.0"

const (
	counterCleanupInterval = time.Minute
	stopTimeout            = 5 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	DB      *postgres.DB  // nil without DATABASE_URL
	Redis   *redis.Client // nil unless the redis backend is selected
	Metrics *observability.Metrics

	// Repositories
	Repositories repositories.Repositories

	// Services
	CounterStore   ratelimit.CounterStore
	RateLimiter    *ratelimit.RateLimitService
	Scorer         *scorer.HTTPScorer // nil when no scorer is configured
	AuditService   *audit.AuditService
	AuditScheduler *audit.Scheduler
	Alerts         *alert.Dispatcher
	RequestLogger  *observability.RequestLogger
	Pipeline       *pipeline.Pipeline

	// HTTP middleware
	WAFMiddleware  *middleware.WAFMiddleware
	AuthMiddleware *middleware.AuthMiddleware

	memoryStore *ratelimit.MemoryStore
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies. A
// broken rule catalogue or unreachable configured store is fatal.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	bgCtx, cancel := context.WithCancel(context.Background())
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		cancel: cancel,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics(nil)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"storage", func() error { return deps.initStorage(ctx) }},
		{"rate limiter", func() error { return deps.initRateLimiter(ctx, bgCtx) }},
		{"audit", func() error { return deps.initAudit(bgCtx) }},
		{"alerts", deps.initAlerts},
		{"pipeline", deps.initPipeline},
		{"rules watcher", func() error { return deps.initRulesWatcher(bgCtx) }},
		{"auth", deps.initAuth},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStorage opens PostgreSQL when configured and picks the event store
func (d *Dependencies) initStorage(ctx context.Context) error {
	if !d.Config.Database.Enabled() {
		d.Repositories.SecurityEvents = memory.NewSecurityEventRepository(memory.DefaultCapacity)
		d.Logger.Info("no DATABASE_URL set, keeping security events in memory",
			zap.Int("capacity", memory.DefaultCapacity))
		return nil
	}

	db, err := postgres.NewDB(d.Config.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	d.Repositories.SecurityEvents = postgres.NewSecurityEventRepository(db, d.Logger)
	return nil
}

// initRateLimiter builds the counter store for the configured backend
func (d *Dependencies) initRateLimiter(ctx, bgCtx context.Context) error {
	cfg := d.Config.RateLimit

	switch cfg.Backend {
	case config.BackendMemory:
		d.memoryStore = ratelimit.NewMemoryStore(counterCleanupInterval)
		d.CounterStore = d.memoryStore

	case config.BackendRedis:
		client, err := ratelimit.NewRedisClient(ctx, d.Config.Redis.URL)
		if err != nil {
			return err
		}
		d.Redis = client
		d.CounterStore = ratelimit.NewRedisStore(client)

	case config.BackendPostgres:
		if d.DB == nil {
			return services.WrapConfiguration("postgres counter backend needs DATABASE_URL", services.ErrUnsupportedBackend)
		}
		store := ratelimit.NewPostgresStore(d.DB.DB, d.Logger)
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			store.StartCleanupWorker(bgCtx, counterCleanupInterval)
		}()
		d.CounterStore = store

	default:
		return services.WrapConfiguration(fmt.Sprintf("rate limit backend %q", cfg.Backend), services.ErrUnsupportedBackend)
	}

	d.RateLimiter = ratelimit.NewRateLimitService(d.CounterStore, ratelimit.Config{
		Limit:        cfg.Limit,
		Window:       cfg.Window,
		StoreTimeout: cfg.StoreTimeout,
		FailOpen:     cfg.FailOpen,
	}, d.Logger.Named("ratelimit"))

	d.Logger.Info("rate limiter initialized",
		zap.String("backend", cfg.Backend),
		zap.Int("limit", cfg.Limit),
		zap.Duration("window", cfg.Window),
		zap.Bool("fail_open", cfg.FailOpen))
	return nil
}

// initAudit starts the event writer and the retention scheduler
func (d *Dependencies) initAudit(bgCtx context.Context) error {
	d.AuditService = audit.NewAuditService(d.Repositories.SecurityEvents, d.Logger.Named("audit"), audit.DefaultConfig())
	if err := d.AuditService.Start(); err != nil {
		return err
	}

	d.AuditScheduler = audit.NewScheduler(d.AuditService, d.Config.Audit.PruneSchedule, d.Config.Audit.RetentionDays, d.Logger)
	return d.AuditScheduler.Start(bgCtx)
}

// initAlerts picks a sink and starts the dispatcher
func (d *Dependencies) initAlerts() error {
	var sink alert.Sink
	if d.Config.Alert.WebhookURL != "" {
		sink = alert.NewWebhookSink(d.Config.Alert.WebhookURL, d.Config.Alert.Timeout)
	} else {
		sink = alert.NewLogSink(d.Logger)
	}

	d.Alerts = alert.NewDispatcher(sink, d.Logger.Named("alert"), d.Metrics, alert.Config{
		SendTimeout: d.Config.Alert.Timeout,
	})
	return d.Alerts.Start()
}

// initPipeline compiles the rules and assembles the inspection pipeline
func (d *Dependencies) initPipeline() error {
	source := SnapshotConfig(d.Config.Inspection)
	snapshot, err := pipeline.BuildSnapshot(source)
	if err != nil {
		return err
	}

	anomaly := d.Config.Anomaly
	if anomaly.Enabled && anomaly.ScorerURL != "" {
		d.Scorer = scorer.NewHTTPScorer(scorer.Config{URL: anomaly.ScorerURL, Timeout: anomaly.Timeout})
	} else if anomaly.Enabled {
		d.Logger.Warn("ML detection enabled but SCORER_URL is empty, anomaly stage skipped")
	}

	d.RequestLogger = observability.NewRequestLogger(d.Logger, d.AuditService, d.Metrics)

	deps := pipeline.Dependencies{
		Limiter:  d.RateLimiter,
		Access:   d.RequestLogger,
		Security: d.RequestLogger,
		Alerts:   d.Alerts,
		Metrics:  d.Metrics,
		Logger:   d.Logger.Named("pipeline"),
	}
	if d.Scorer != nil {
		deps.Scorer = d.Scorer
	}

	d.Pipeline = pipeline.New(snapshot, source, deps, pipeline.Config{
		AnomalyEnabled: anomaly.Enabled && d.Scorer != nil,
		Threshold:      anomaly.Threshold,
		ScorerTimeout:  anomaly.Timeout,
	})

	d.WAFMiddleware = middleware.NewWAFMiddleware(d.Pipeline, middleware.WAFConfig{
		MaxBodySize:       d.Config.Inspection.MaxRequestSize,
		TrustProxyHeaders: d.Config.Inspection.TrustProxyHeaders,
	}, d.Logger.Named("waf"))

	d.Logger.Info("inspection pipeline initialized",
		zap.Int("patterns", snapshot.Engine.RuleSet().PatternCount()),
		zap.String("rules_file", source.RulesFile),
		zap.Bool("anomaly_enabled", anomaly.Enabled && d.Scorer != nil))
	return nil
}

// initRulesWatcher reloads the pipeline whenever RULES_FILE changes
func (d *Dependencies) initRulesWatcher(bgCtx context.Context) error {
	path := d.Config.Inspection.RulesFile
	if path == "" {
		return nil
	}

	watcher, err := rules.NewWatcher(path, 0, d.Logger.Named("rules"))
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := watcher.Watch(bgCtx, d.Pipeline.Reload); err != nil {
			d.Logger.Error("rules watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

// initAuth sets up admin API authentication. Without a secret every admin
// request is rejected.
func (d *Dependencies) initAuth() error {
	if d.Config.Admin.JWTSecret == "" {
		d.Logger.Warn("ADMIN_JWT_SECRET not set, admin API disabled")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return nil
	}

	validator, err := auth.NewHMACValidator(d.Config.Admin.JWTSecret, "")
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(&hmacTokenValidatorAdapter{validator: validator}, d.Logger)
	return nil
}

// SnapshotConfig translates inspection settings into a snapshot source.
// Category switches only ever disable: a category switched on here but
// disabled in RULES_FILE stays disabled.
func SnapshotConfig(cfg config.InspectionConfig) pipeline.SnapshotConfig {
	var disabled []string
	if !cfg.XSS {
		disabled = append(disabled, rules.CategoryXSS)
	}
	if !cfg.SQLInjection {
		disabled = append(disabled, rules.CategorySQLInjection)
	}
	if !cfg.PathTraversal {
		disabled = append(disabled, rules.CategoryPathTraversal)
	}

	return pipeline.SnapshotConfig{
		RulesFile:      cfg.RulesFile,
		Disabled:       disabled,
		IPWhitelist:    cfg.IPWhitelist,
		PathWhitelist:  cfg.PathWhitelist,
		AllowedMethods: cfg.AllowedMethods,
	}
}

// hmacTokenValidatorAdapter adapts auth.HMACValidator to middleware.TokenValidator
type hmacTokenValidatorAdapter struct {
	validator *auth.HMACValidator
}

func (a *hmacTokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{Subject: parsed.Subject, Role: parsed.Role}, nil
}

// rejectAllValidator rejects all tokens (used when the admin API is not configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies. Queued alerts and security
// events get a bounded chance to drain first.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancel != nil {
		d.cancel()
	}
	if d.AuditScheduler != nil {
		d.AuditScheduler.Stop()
	}
	if d.Alerts != nil {
		if err := d.Alerts.Stop(stopTimeout); err != nil && !errors.Is(err, services.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop alert dispatcher: %w", err))
		}
	}
	if d.AuditService != nil {
		if err := d.AuditService.Stop(stopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	d.wg.Wait()

	if d.memoryStore != nil {
		_ = d.memoryStore.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
