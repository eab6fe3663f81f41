package observability

import (
	"context"
	"time"

	"github.com/upb/waf-gateway/models"
	"go.uber.org/zap"
)

// EventRecorder persists rejected requests for later review.
type EventRecorder interface {
	RecordBlocked(rc *models.RequestContext, verdict *models.Verdict, sanitizedHeaders map[string]string) error
}

// RequestLogger writes the access log for allowed requests and the security
// log for rejections and pipeline failures. Headers are always sanitized
// before they reach a log line or the event recorder.
type RequestLogger struct {
	access   *zap.Logger
	security *zap.Logger
	recorder EventRecorder
	metrics  *Metrics
}

// NewRequestLogger creates a RequestLogger. recorder and metrics may be nil.
func NewRequestLogger(logger *zap.Logger, recorder EventRecorder, metrics *Metrics) *RequestLogger {
	return &RequestLogger{
		access:   logger.Named("waf.access"),
		security: logger.Named("waf.security"),
		recorder: recorder,
		metrics:  metrics,
	}
}

// LogAllowed records a request that was forwarded upstream
func (l *RequestLogger) LogAllowed(ctx context.Context, rc *models.RequestContext, status int, elapsed time.Duration) {
	l.access.Info("request completed",
		zap.String("request_id", rc.RequestID),
		zap.String("client_ip", rc.ClientID),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.Int("status_code", status),
		zap.Duration("duration", elapsed),
		zap.Any("headers", SanitizeHeaders(rc.Headers)),
		zap.Any("query", rc.Query))
}

// LogBlocked records a rejected request and hands it to the event recorder
func (l *RequestLogger) LogBlocked(ctx context.Context, rc *models.RequestContext, verdict *models.Verdict) {
	headers := SanitizeHeaders(rc.Headers)

	fields := []zap.Field{
		zap.String("request_id", rc.RequestID),
		zap.String("client_ip", rc.ClientID),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.Int("status_code", verdict.StatusCode),
		zap.String("reason", verdict.Reason),
		zap.String("stage", string(verdict.Stage)),
		zap.Any("headers", headers),
	}
	if len(verdict.Matches) > 0 {
		fields = append(fields, zap.Any("matches", verdict.Matches))
	}
	if verdict.Confidence > 0 {
		fields = append(fields, zap.Float64("confidence", verdict.Confidence))
	}
	l.security.Warn("request blocked", fields...)

	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordBlocked(rc, verdict, headers); err != nil {
		l.metrics.RecordDependencyError("audit")
		l.security.Error("failed to record security event",
			zap.String("request_id", rc.RequestID),
			zap.Error(err))
	}
}

// LogError records an internal failure with sanitized request context
func (l *RequestLogger) LogError(ctx context.Context, err error, rc *models.RequestContext) {
	fields := []zap.Field{zap.Error(err)}
	if rc != nil {
		fields = append(fields,
			zap.String("request_id", rc.RequestID),
			zap.String("client_ip", rc.ClientID),
			zap.String("method", rc.Method),
			zap.String("path", rc.Path),
			zap.Any("headers", SanitizeHeaders(rc.Headers)))
	}
	l.security.Error("request inspection failed", fields...)
}
