// Package pipeline sequences the inspection stages for a single request and
// turns their outcome into a verdict.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/upb/waf-gateway/internal/observability"
	"github.com/upb/waf-gateway/internal/policy"
	"github.com/upb/waf-gateway/internal/rules"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
	"github.com/upb/waf-gateway/services/ratelimit"
	"go.uber.org/zap"
)

const (
	ReasonTooManyRequests = "Too many requests"
	ReasonInternalError   = "Internal server error"
)

// AnomalyScorer gives a second opinion on requests the rules let through
type AnomalyScorer interface {
	Predict(ctx context.Context, rc *models.RequestContext) (models.Prediction, error)
}

// RateLimiter counts a request against its client's window
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) *ratelimit.RateLimitResult
}

// AccessLogger records requests that reached the upstream
type AccessLogger interface {
	LogAllowed(ctx context.Context, rc *models.RequestContext, status int, elapsed time.Duration)
}

// SecurityLogger records rejections and inspection failures
type SecurityLogger interface {
	LogBlocked(ctx context.Context, rc *models.RequestContext, verdict *models.Verdict)
	LogError(ctx context.Context, err error, rc *models.RequestContext)
}

// AlertSink notifies operators of a blocked attack
type AlertSink interface {
	SendAlert(ctx context.Context, message string) error
}

// Config holds the anomaly stage settings
type Config struct {
	AnomalyEnabled bool
	// Threshold is the minimum scorer confidence that blocks a request.
	Threshold     float64
	ScorerTimeout time.Duration
}

// Dependencies are the collaborators a Pipeline calls out to. Scorer, Alerts
// and Metrics are optional.
type Dependencies struct {
	Limiter  RateLimiter
	Scorer   AnomalyScorer
	Access   AccessLogger
	Security SecurityLogger
	Alerts   AlertSink
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Pipeline decides whether requests may proceed
type Pipeline struct {
	snapshot atomic.Pointer[Snapshot]
	deps     Dependencies
	config   Config

	// source rebuilds the snapshot on Reload
	source SnapshotConfig
}

// New creates a pipeline serving snapshot
func New(snapshot *Snapshot, source SnapshotConfig, deps Dependencies, config Config) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if config.ScorerTimeout <= 0 {
		config.ScorerTimeout = 500 * time.Millisecond
	}
	p := &Pipeline{
		deps:   deps,
		config: config,
		source: source,
	}
	p.snapshot.Store(snapshot)
	return p
}

// Snapshot returns the configuration currently in use
func (p *Pipeline) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// Swap installs a new snapshot. Requests already being inspected finish
// against the snapshot they started with.
func (p *Pipeline) Swap(s *Snapshot) {
	p.snapshot.Store(s)
}

// RulesFile is the catalogue Reload reads. Empty means the built-in rules.
func (p *Pipeline) RulesFile() string {
	return p.source.RulesFile
}

// Reload rebuilds the snapshot from its source and swaps it in. On failure
// the current snapshot stays in place.
func (p *Pipeline) Reload() error {
	s, err := BuildSnapshot(p.source)
	p.deps.Metrics.RecordRulesReload(err == nil)
	if err != nil {
		p.deps.Logger.Error("rules reload failed, keeping current rules", zap.Error(err))
		return err
	}
	p.Swap(s)
	p.deps.Logger.Info("rules reloaded",
		zap.Int("patterns", s.Engine.RuleSet().PatternCount()),
		zap.String("rules_file", p.source.RulesFile))
	return nil
}

// Inspect runs the stages in order and returns the first terminal verdict.
// It never panics: an internal fault becomes a 500 rejection.
func (p *Pipeline) Inspect(ctx context.Context, rc *models.RequestContext) (verdict *models.Verdict) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := services.ErrInternal.WithCause(fmt.Errorf("inspection panicked: %v", r))
			p.deps.Security.LogError(ctx, err, rc)
			verdict = models.Reject(models.StageInternal, http.StatusInternalServerError, ReasonInternalError, nil)
		}
		p.deps.Metrics.RecordVerdict(verdict, time.Since(start))
	}()

	snap := p.snapshot.Load()

	// 1. whitelist
	if snap.Whitelist.Bypass(rc.ClientID, rc.Path) {
		return models.Allow(models.StageWhitelist, nil)
	}

	// 2. rate limit
	rl := p.deps.Limiter.Allow(ctx, rc.ClientID)
	quota := &models.Quota{Limit: rl.Limit, Remaining: rl.Remaining, Window: rl.Window}
	if rl.Err != nil {
		p.deps.Metrics.RecordDependencyError("counter_store")
	}
	if !rl.Allowed {
		v := models.Reject(models.StageRateLimit, http.StatusTooManyRequests, ReasonTooManyRequests, nil)
		v.Quota = quota
		p.deps.Security.LogBlocked(ctx, rc, v)
		return v
	}

	// 3. rules
	var matches []models.RuleMatch
	if m, invalid := rules.MethodMatch(rc.Method, snap.AllowedMethods); invalid {
		matches = append(matches, m)
	}
	matches = append(matches, snap.Engine.ScanRequest(rc)...)

	if decision := policy.Decide(matches); decision.Block {
		v := models.Reject(models.StageRules, http.StatusForbidden, decision.Reason, matches)
		v.Quota = quota
		p.reject(ctx, rc, v)
		return v
	}

	// 4. anomaly scorer
	if p.config.AnomalyEnabled && p.deps.Scorer != nil {
		if v := p.score(ctx, rc, matches); v != nil {
			v.Quota = quota
			p.reject(ctx, rc, v)
			return v
		}
	}

	v := models.Allow(models.StagePassed, matches)
	v.Quota = quota
	return v
}

// Complete records the access log entry once the upstream has answered
func (p *Pipeline) Complete(ctx context.Context, rc *models.RequestContext, status int, elapsed time.Duration) {
	p.deps.Access.LogAllowed(ctx, rc, status, elapsed)
}

// score asks the scorer for an opinion. Scorer failures never block.
func (p *Pipeline) score(ctx context.Context, rc *models.RequestContext, matches []models.RuleMatch) *models.Verdict {
	sctx, cancel := context.WithTimeout(ctx, p.config.ScorerTimeout)
	defer cancel()

	prediction, err := p.deps.Scorer.Predict(sctx, rc)
	if err != nil {
		p.deps.Metrics.RecordDependencyError("scorer")
		p.deps.Logger.Error("anomaly scorer failed, allowing request",
			zap.String("request_id", rc.RequestID),
			zap.Error(err))
		return nil
	}

	if !prediction.Malicious || prediction.Confidence < p.config.Threshold {
		return nil
	}

	reason := fmt.Sprintf("Request blocked by ML model (confidence: %.2f%%)", prediction.Confidence*100)
	v := models.Reject(models.StageAnomaly, http.StatusForbidden, reason, matches)
	v.Confidence = prediction.Confidence
	return v
}

// reject logs a 403 and raises an alert
func (p *Pipeline) reject(ctx context.Context, rc *models.RequestContext, v *models.Verdict) {
	p.deps.Security.LogBlocked(ctx, rc, v)

	if p.deps.Alerts == nil {
		return
	}
	message := fmt.Sprintf("WAF blocked %s %s from %s: %s", rc.Method, rc.Path, rc.ClientID, v.Reason)
	if err := p.deps.Alerts.SendAlert(ctx, message); err != nil {
		p.deps.Logger.Warn("failed to queue alert",
			zap.String("request_id", rc.RequestID),
			zap.Error(err))
	}
}
