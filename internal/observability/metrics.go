package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/waf-gateway/models"
)

const metricsNamespace = "waf"

// Metrics records inspection outcomes. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	verdictsTotal      *prometheus.CounterVec
	matchesTotal       *prometheus.CounterVec
	inspectionDuration *prometheus.HistogramVec
	dependencyErrors   *prometheus.CounterVec
	alertsDropped      prometheus.Counter
	rulesReloads       *prometheus.CounterVec

	// in-process tallies backing the admin stats endpoint
	mu      sync.Mutex
	since   time.Time
	allowed int64
	blocked int64
	byStage map[models.Stage]int64
}

// NewMetrics creates and registers gateway metrics with registry. If registry
// is nil a fresh one is created, with Go runtime and process collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		verdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "verdicts_total",
				Help:      "Inspected requests by action and deciding stage",
			},
			[]string{"action", "stage"},
		),
		matchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rule_matches_total",
				Help:      "Rule matches by category and severity",
			},
			[]string{"category", "severity"},
		),
		inspectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "inspection_duration_seconds",
				Help:      "Time spent deciding a verdict",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"stage"},
		),
		dependencyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dependency_errors_total",
				Help:      "Failures talking to external collaborators",
			},
			[]string{"dependency"},
		),
		alertsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alerts_dropped_total",
				Help:      "Alerts dropped because the dispatch queue was full",
			},
		),
		rulesReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rules_reloads_total",
				Help:      "Rule set reload attempts by result",
			},
			[]string{"result"},
		),
		since:   time.Now().UTC(),
		byStage: make(map[models.Stage]int64),
	}

	registry.MustRegister(
		m.verdictsTotal,
		m.matchesTotal,
		m.inspectionDuration,
		m.dependencyErrors,
		m.alertsDropped,
		m.rulesReloads,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordVerdict counts a verdict and observes how long it took to reach.
func (m *Metrics) RecordVerdict(v *models.Verdict, elapsed time.Duration) {
	if m == nil || v == nil {
		return
	}
	m.verdictsTotal.WithLabelValues(string(v.Action), string(v.Stage)).Inc()
	m.inspectionDuration.WithLabelValues(string(v.Stage)).Observe(elapsed.Seconds())
	for _, match := range v.Matches {
		m.matchesTotal.WithLabelValues(match.Category, match.Severity.String()).Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Allowed() {
		m.allowed++
		return
	}
	m.blocked++
	m.byStage[v.Stage]++
}

// RecordDependencyError counts a failed call to a collaborator such as
// "counter_store", "scorer", "alert" or "audit".
func (m *Metrics) RecordDependencyError(dependency string) {
	if m == nil {
		return
	}
	m.dependencyErrors.WithLabelValues(dependency).Inc()
}

// RecordAlertDropped counts an alert lost to a full queue
func (m *Metrics) RecordAlertDropped() {
	if m == nil {
		return
	}
	m.alertsDropped.Inc()
}

// RecordRulesReload counts a rule set reload attempt
func (m *Metrics) RecordRulesReload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.rulesReloads.WithLabelValues(result).Inc()
}

// Stats returns allowed and blocked totals since the process started.
func (m *Metrics) Stats() models.TrafficStats {
	if m == nil {
		return models.TrafficStats{BlockedStage: map[models.Stage]int64{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byStage := make(map[models.Stage]int64, len(m.byStage))
	for k, v := range m.byStage {
		byStage[k] = v
	}
	return models.TrafficStats{
		Allowed:      m.allowed,
		Blocked:      m.blocked,
		BlockedStage: byStage,
		Since:        m.since,
	}
}
