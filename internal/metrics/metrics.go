// Package metrics exposes Prometheus collectors for the automation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AutomationMetrics holds the engine collectors. A nil *AutomationMetrics is valid and records
// nothing, so components can be built without a registry.
type AutomationMetrics struct {
	passes          *prometheus.CounterVec
	evaluations     prometheus.Counter
	matches         *prometheus.CounterVec
	dedupeSkips     *prometheus.CounterVec
	evalErrors      *prometheus.CounterVec
	executions      *prometheus.CounterVec
	actionFailures  *prometheus.CounterVec
	passDuration    prometheus.Histogram
	alertsGenerated *prometheus.CounterVec
	activeRules     prometheus.Gauge
	rateLimitDrops  *prometheus.CounterVec
}

// NewAutomationMetrics creates the collectors and registers them on reg.
func NewAutomationMetrics(reg prometheus.Registerer) *AutomationMetrics {
	if reg == nil {
		return nil
	}
	m := &AutomationMetrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "passes_total",
			Help:      "Evaluation passes by mode",
		}, []string{"mode"}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "evaluations_total",
			Help:      "Rule x shipment evaluations performed",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "matches_total",
			Help:      "Rule matches by trigger type",
		}, []string{"trigger"}),
		dedupeSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "dedupe_skips_total",
			Help:      "Matches suppressed by the cooldown window",
		}, []string{"rule_id"}),
		evalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "evaluation_errors_total",
			Help:      "Shipments skipped because a trigger field was missing",
		}, []string{"trigger"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "executions_total",
			Help:      "Workflow executions by outcome",
		}, []string{"resultado"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "action_failures_total",
			Help:      "Failed actions by type",
		}, []string{"action"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a full evaluation pass",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		alertsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "alerts",
			Name:      "generated_total",
			Help:      "Smart alerts emitted by type and severity",
		}, []string{"tipo", "severidad"}),
		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logitrack",
			Subsystem: "automation",
			Name:      "active_rules",
			Help:      "Active rules seen by the last pass",
		}),
		rateLimitDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logitrack",
			Subsystem: "http",
			Name:      "rate_limit_drops_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"scope"}),
	}
	reg.MustRegister(
		m.passes, m.evaluations, m.matches, m.dedupeSkips, m.evalErrors,
		m.executions, m.actionFailures, m.passDuration, m.alertsGenerated, m.activeRules,
		m.rateLimitDrops,
	)
	return m
}

func (m *AutomationMetrics) ObservePass(dryRun bool, d time.Duration, evaluated, activeRules int) {
	if m == nil {
		return
	}
	mode := "run"
	if dryRun {
		mode = "dry_run"
	}
	m.passes.WithLabelValues(mode).Inc()
	m.evaluations.Add(float64(evaluated))
	m.passDuration.Observe(d.Seconds())
	m.activeRules.Set(float64(activeRules))
}

func (m *AutomationMetrics) IncMatch(trigger string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(trigger).Inc()
}

func (m *AutomationMetrics) IncDedupe(ruleID string) {
	if m == nil {
		return
	}
	m.dedupeSkips.WithLabelValues(ruleID).Inc()
}

func (m *AutomationMetrics) IncEvaluationError(trigger string) {
	if m == nil {
		return
	}
	m.evalErrors.WithLabelValues(trigger).Inc()
}

func (m *AutomationMetrics) IncExecution(resultado string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(resultado).Inc()
}

func (m *AutomationMetrics) IncActionFailure(action string) {
	if m == nil {
		return
	}
	m.actionFailures.WithLabelValues(action).Inc()
}

func (m *AutomationMetrics) IncAlert(tipo, severidad string) {
	if m == nil {
		return
	}
	m.alertsGenerated.WithLabelValues(tipo, severidad).Inc()
}

// IncRateLimitDrop counts a 429; scope is the matched path prefix or "global".
func (m *AutomationMetrics) IncRateLimitDrop(scope string) {
	if m == nil {
		return
	}
	m.rateLimitDrops.WithLabelValues(scope).Inc()
}
