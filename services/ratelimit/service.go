package ratelimit

import (
	"context"
	"time"

	"github.com/upb/waf-gateway/services"
	"go.uber.org/zap"
)

// CounterStore is the shared fixed-window counter backend.
type CounterStore interface {
	// IncrementAndExpire atomically increments the counter at key and returns
	// the post-increment value. The first increment of a window sets the key
	// to expire after window.
	IncrementAndExpire(ctx context.Context, key string, window time.Duration) (int64, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// Config holds limiter parameters
type Config struct {
	Limit        int
	Window       time.Duration
	StoreTimeout time.Duration
	// FailOpen allows requests through when the store cannot be reached.
	// The default is to treat a store failure as rate limited.
	FailOpen bool
}

// DefaultConfig returns the default limiter configuration
func DefaultConfig() Config {
	return Config{
		Limit:        100,
		Window:       600 * time.Second,
		StoreTimeout: 100 * time.Millisecond,
	}
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Count     int64
	Limit     int
	Remaining int
	Window    time.Duration
	// Degraded is set when the store failed and the failure mode decided the outcome.
	Degraded bool
	Err      error
}

// RateLimitService enforces a per-client fixed-window request limit
type RateLimitService struct {
	store  CounterStore
	config Config
	logger *zap.Logger
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(store CounterStore, config Config, logger *zap.Logger) *RateLimitService {
	defaults := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaults.StoreTimeout
	}
	return &RateLimitService{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Allow counts one request for clientID and reports whether it is within the
// limit. The count is a single atomic store round trip, so concurrent callers
// can never push a client past the limit. The (limit+1)-th call inside a
// window is rejected.
func (s *RateLimitService) Allow(ctx context.Context, clientID string) *RateLimitResult {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	count, err := s.store.IncrementAndExpire(ctx, s.buildScopeKey(clientID), s.config.Window)
	if err != nil {
		wrapped := services.ErrCounterStoreUnavailable.WithCause(err)
		s.logger.Error("rate limit store failure",
			zap.String("client_ip", clientID),
			zap.Bool("fail_open", s.config.FailOpen),
			zap.Error(err))
		return &RateLimitResult{
			Allowed:  s.config.FailOpen,
			Limit:    s.config.Limit,
			Window:   s.config.Window,
			Degraded: true,
			Err:      wrapped,
		}
	}

	remaining := s.config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimitResult{
		Allowed:   count <= int64(s.config.Limit),
		Count:     count,
		Limit:     s.config.Limit,
		Remaining: remaining,
		Window:    s.config.Window,
	}
}

// Config returns the effective limiter configuration
func (s *RateLimitService) Config() Config {
	return s.config
}

// HealthCheck pings the counter store
func (s *RateLimitService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return services.ErrCounterStoreUnavailable.WithCause(err)
	}
	return nil
}

// buildScopeKey builds the counter key for a client
func (s *RateLimitService) buildScopeKey(clientID string) string {
	return "rate_limit:" + clientID
}
