package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/waf-gateway/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubRecorder struct {
	calls   int
	headers map[string]string
	err     error
}

func (s *stubRecorder) RecordBlocked(rc *models.RequestContext, verdict *models.Verdict, headers map[string]string) error {
	s.calls++
	s.headers = headers
	return s.err
}

func newTestRequest() *models.RequestContext {
	return &models.RequestContext{
		RequestID: "req-1",
		Method:    http.MethodGet,
		Path:      "/search",
		ClientID:  "10.0.0.1",
		Headers: map[string]string{
			"authorization": "Bearer secret",
			"user-agent":    "curl/8.0",
		},
		Query: map[string]string{"q": "shoes"},
	}
}

func TestRequestLogger_LogAllowed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rl := NewRequestLogger(zap.New(core), nil, nil)

	rl.LogAllowed(context.Background(), newTestRequest(), http.StatusOK, 3*time.Millisecond)

	entries := entriesFor(logs, "waf.access")
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "request completed", entries[0].Message)
	assert.Equal(t, int64(http.StatusOK), ctx["status_code"])
	headers, ok := ctx["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, Redacted, headers["authorization"])
	assert.Equal(t, "curl/8.0", headers["user-agent"])
}

func TestRequestLogger_LogBlocked(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	recorder := &stubRecorder{}
	rl := NewRequestLogger(zap.New(core), recorder, nil)

	verdict := models.Reject(models.StageRules, http.StatusForbidden, "Critical security threat detected", []models.RuleMatch{
		{Category: "sql_injection", PatternID: "sql_injection:0", Field: models.FieldQuery, FieldName: "q", Severity: models.SeverityCritical, Confidence: 0.95},
	})
	rl.LogBlocked(context.Background(), newTestRequest(), verdict)

	entries := entriesFor(logs, "waf.security")
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "Critical security threat detected", entries[0].ContextMap()["reason"])
	assert.Equal(t, "rules", entries[0].ContextMap()["stage"])

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, Redacted, recorder.headers["authorization"])
}

func TestRequestLogger_LogBlocked_RecorderFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	rl := NewRequestLogger(zap.New(core), &stubRecorder{err: errors.New("db down")}, metrics)

	rl.LogBlocked(context.Background(), newTestRequest(),
		models.Reject(models.StageRateLimit, http.StatusTooManyRequests, "Too many requests", nil))

	assert.Equal(t, 1, logs.FilterMessage("failed to record security event").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.dependencyErrors.WithLabelValues("audit")))
}

func TestRequestLogger_LogError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rl := NewRequestLogger(zap.New(core), nil, nil)

	rl.LogError(context.Background(), errors.New("boom"), newTestRequest())
	rl.LogError(context.Background(), errors.New("no context"), nil)

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	_, hasID := entries[1].ContextMap()["request_id"]
	assert.False(t, hasID)
}

// entriesFor returns the entries written by the named logger
func entriesFor(logs *observer.ObservedLogs, name string) []observer.LoggedEntry {
	return logs.Filter(func(e observer.LoggedEntry) bool {
		return e.LoggerName == name
	}).All()
}
