package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/waf-gateway/models"
)

func TestMetrics_RecordVerdict(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordVerdict(models.Allow(models.StagePassed, nil), time.Millisecond)
	m.RecordVerdict(models.Allow(models.StageWhitelist, nil), time.Millisecond)
	m.RecordVerdict(models.Reject(models.StageRules, http.StatusForbidden, "Critical security threat detected", []models.RuleMatch{
		{Category: "sql_injection", Severity: models.SeverityCritical, Confidence: 0.95},
		{Category: "sql_injection", Severity: models.SeverityCritical, Confidence: 0.95},
	}), 2*time.Millisecond)
	m.RecordVerdict(models.Reject(models.StageRateLimit, http.StatusTooManyRequests, "Too many requests", nil), time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.verdictsTotal.WithLabelValues("ALLOW", "passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.verdictsTotal.WithLabelValues("REJECT", "rules")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.matchesTotal.WithLabelValues("sql_injection", "CRITICAL")))

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Allowed)
	assert.Equal(t, int64(2), stats.Blocked)
	assert.Equal(t, int64(1), stats.BlockedStage[models.StageRules])
	assert.Equal(t, int64(1), stats.BlockedStage[models.StageRateLimit])
	assert.False(t, stats.Since.IsZero())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDependencyError("scorer")
	m.RecordDependencyError("scorer")
	m.RecordAlertDropped()
	m.RecordRulesReload(true)
	m.RecordRulesReload(false)
	m.RecordRulesReload(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.dependencyErrors.WithLabelValues("scorer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rulesReloads.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.rulesReloads.WithLabelValues("failure")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordVerdict(models.Allow(models.StagePassed, nil), time.Millisecond)
		m.RecordDependencyError("audit")
		m.RecordAlertDropped()
		m.RecordRulesReload(true)
	})
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Stats().BlockedStage)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordVerdict(models.Allow(models.StagePassed, nil), time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "waf_verdicts_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
