package services

import (
	"context"
	"sync"
	"time"

	"logitrack/internal/metrics"
	"logitrack/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AlertPublisher pushes alerts to live subscribers; failures are only logged.
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, alerts []models.SmartAlert) error
}

// EvaluateOptions 评估选项
type EvaluateOptions struct {
	DryRun bool `json:"dryRun"`
}

// MatchSummary describes a match without executing it (dry run).
type MatchSummary struct {
	ReglaID     string             `json:"reglaId"`
	NombreRegla string             `json:"nombreRegla"`
	Prioridad   int                `json:"prioridad"`
	GuiaID      string             `json:"guiaId"`
	Trigger     models.TriggerType `json:"trigger"`
}

// EvaluationResult 单次评估结果
type EvaluationResult struct {
	DryRun     bool                       `json:"dryRun"`
	Evaluated  int                        `json:"evaluated"`
	Matched    int                        `json:"matched"`
	Skipped    int                        `json:"skipped"`
	Matches    []MatchSummary             `json:"matches,omitempty"`
	Executions []models.WorkflowExecution `json:"executions"`
	Alerts     []models.SmartAlert        `json:"alerts"`
	Errors     []string                   `json:"errors,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// RuleStats is the per-rule dashboard row.
type RuleStats struct {
	ID              string     `json:"id"`
	Nombre          string     `json:"nombre"`
	Activo          bool       `json:"activo"`
	Ejecutados      int        `json:"ejecutados"`
	UltimaEjecucion *time.Time `json:"ultimaEjecucion"`
	Exito           int        `json:"exito"`
	Parcial         int        `json:"parcial"`
	Fallo           int        `json:"fallo"`
}

// AutomationStats 自动化统计
type AutomationStats struct {
	TotalRules      int                            `json:"totalRules"`
	ActiveRules     int                            `json:"activeRules"`
	TotalExecutions int                            `json:"totalExecutions"`
	ByResultado     map[models.ExecutionResult]int `json:"byResultado"`
	SuccessRate     float64                        `json:"successRate"`
	Rules           []RuleStats                    `json:"rules"`
}

// AutomationEngine orchestrates one evaluation pass: load rules, evaluate, dispatch, persist.
type AutomationEngine struct {
	rules      RuleRepository
	history    ExecutionRepository
	alerts     AlertRepository
	evaluator  *ConditionEvaluator
	dispatcher *ActionDispatcher
	generator  *AlertGenerator
	publisher  AlertPublisher
	metrics    *metrics.AutomationMetrics
	logger     *logrus.Logger
	tracer     trace.Tracer
	now        Clock
	mu         sync.Mutex
}

// EngineDeps groups the engine collaborators.
type EngineDeps struct {
	Rules      RuleRepository
	History    ExecutionRepository
	Alerts     AlertRepository
	Evaluator  *ConditionEvaluator
	Dispatcher *ActionDispatcher
	Generator  *AlertGenerator
	Publisher  AlertPublisher
	Metrics    *metrics.AutomationMetrics
	Logger     *logrus.Logger
	Clock      Clock
}

func NewAutomationEngine(d EngineDeps) *AutomationEngine {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Evaluator == nil {
		d.Evaluator = NewConditionEvaluator(time.UTC, DefaultCooldown, d.Logger)
	}
	if d.Generator == nil {
		d.Generator = NewAlertGenerator(d.Logger)
	}
	return &AutomationEngine{
		rules:      d.Rules,
		history:    d.History,
		alerts:     d.Alerts,
		evaluator:  d.Evaluator,
		dispatcher: d.Dispatcher,
		generator:  d.Generator,
		publisher:  d.Publisher,
		metrics:    d.Metrics,
		logger:     d.Logger,
		tracer:     otel.Tracer("logitrack.automation"),
		now:        d.Clock,
	}
}

// Evaluate runs every active rule over the shipment batch. Passes are serialized.
// Persistence order is history, then rule counters, then alerts; a failed counter write
// restores the previous history so a retry is not deduped against executions that never
// reached the rule list.
func (e *AutomationEngine) Evaluate(ctx context.Context, shipments []*models.Shipment, opts EvaluateOptions) (*EvaluationResult, error) {
	ctx, span := e.tracer.Start(ctx, "automation.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("automation.shipments", len(shipments)),
		attribute.Bool("automation.dry_run", opts.DryRun),
	)

	if len(shipments) == 0 {
		return nil, validationError("evaluate", ErrNoShipments)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	now := e.now()

	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, e.fail(span, err)
	}
	ledger, err := e.history.List(ctx)
	if err != nil {
		return nil, e.fail(span, err)
	}

	outcome := e.evaluator.Evaluate(rules, shipments, ledger, now)
	result := &EvaluationResult{
		DryRun:     opts.DryRun,
		Evaluated:  outcome.Evaluated,
		Matched:    len(outcome.Matches),
		Skipped:    outcome.Deduped,
		Executions: []models.WorkflowExecution{},
		Alerts:     []models.SmartAlert{},
		Timestamp:  now,
	}
	for _, err := range outcome.Errors {
		result.Errors = append(result.Errors, err.Error())
	}
	activeRules := len(OrderRules(rules))
	span.SetAttributes(
		attribute.Int("automation.active_rules", activeRules),
		attribute.Int("automation.matched", result.Matched),
	)

	if opts.DryRun {
		for _, m := range outcome.Matches {
			result.Matches = append(result.Matches, MatchSummary{
				ReglaID:     m.Rule.ID,
				NombreRegla: m.Rule.Nombre,
				Prioridad:   m.Rule.Prioridad,
				GuiaID:      m.Shipment.ID,
				Trigger:     m.Rule.Trigger.Tipo,
			})
		}
		e.metrics.ObservePass(true, time.Since(started), outcome.Evaluated, activeRules)
		return result, nil
	}

	if e.dispatcher == nil {
		return nil, e.fail(span, actionError("dispatch", ErrCollaborator))
	}
	dispatch := e.dispatcher.Dispatch(ctx, outcome.Matches, now)

	if len(dispatch.Executions) > 0 {
		prev, err := e.history.Append(ctx, dispatch.Executions...)
		if err != nil {
			return nil, e.fail(span, err)
		}
		if err := e.rules.RecordRuns(ctx, dispatch.Runs, now); err != nil {
			if rerr := e.history.Restore(ctx, prev); rerr != nil {
				e.logger.Errorf("automation: restore execution history failed: %v", rerr)
			}
			return nil, e.fail(span, err)
		}
	}

	if len(dispatch.Alerts) > 0 && e.alerts != nil {
		if err := e.alerts.Add(ctx, dispatch.Alerts...); err != nil {
			// 执行记录已提交，告警写入失败只上报
			e.logger.Warnf("automation: persist rule alerts failed: %v", err)
			result.Errors = append(result.Errors, err.Error())
		}
	}
	e.publish(ctx, dispatch.Alerts)

	result.Executions = append(result.Executions, dispatch.Executions...)
	result.Alerts = append(result.Alerts, dispatch.Alerts...)
	e.metrics.ObservePass(false, time.Since(started), outcome.Evaluated, activeRules)

	e.logger.WithFields(logrus.Fields{
		"evaluated": outcome.Evaluated,
		"matched":   result.Matched,
		"skipped":   result.Skipped,
		"failures":  dispatch.Failures,
	}).Infof("automation: evaluation pass finished with %d executions", len(dispatch.Executions))

	return result, nil
}

// GenerateAlerts runs the heuristic alert pass, persists and publishes its alerts.
func (e *AutomationEngine) GenerateAlerts(ctx context.Context, shipments []*models.Shipment) ([]models.SmartAlert, error) {
	ctx, span := e.tracer.Start(ctx, "automation.generate_alerts")
	defer span.End()
	span.SetAttributes(attribute.Int("automation.shipments", len(shipments)))

	alerts := e.generator.Generate(shipments, e.now())
	if alerts == nil {
		alerts = []models.SmartAlert{}
	}
	if e.alerts != nil && len(alerts) > 0 {
		if err := e.alerts.Add(ctx, alerts...); err != nil {
			return nil, e.fail(span, err)
		}
	}
	e.publish(ctx, alerts)
	return alerts, nil
}

// Stats aggregates the ledger per rule and per resultado.
func (e *AutomationEngine) Stats(ctx context.Context) (*AutomationStats, error) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	execs, err := e.history.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &AutomationStats{
		TotalRules:      len(rules),
		TotalExecutions: len(execs),
		ByResultado: map[models.ExecutionResult]int{
			models.ResultSuccess: 0,
			models.ResultPartial: 0,
			models.ResultFailure: 0,
		},
		Rules: make([]RuleStats, 0, len(rules)),
	}
	perRule := map[string]map[models.ExecutionResult]int{}
	for _, ex := range execs {
		stats.ByResultado[ex.Resultado]++
		if perRule[ex.ReglaID] == nil {
			perRule[ex.ReglaID] = map[models.ExecutionResult]int{}
		}
		perRule[ex.ReglaID][ex.Resultado]++
	}
	if len(execs) > 0 {
		stats.SuccessRate = float64(stats.ByResultado[models.ResultSuccess]) / float64(len(execs))
	}
	for _, r := range rules {
		if r.Activo {
			stats.ActiveRules++
		}
		counts := perRule[r.ID]
		stats.Rules = append(stats.Rules, RuleStats{
			ID:              r.ID,
			Nombre:          r.Nombre,
			Activo:          r.Activo,
			Ejecutados:      r.Ejecutados,
			UltimaEjecucion: r.UltimaEjecucion,
			Exito:           counts[models.ResultSuccess],
			Parcial:         counts[models.ResultPartial],
			Fallo:           counts[models.ResultFailure],
		})
	}
	return stats, nil
}

func (e *AutomationEngine) publish(ctx context.Context, alerts []models.SmartAlert) {
	if e.publisher == nil || len(alerts) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := e.publisher.PublishAlerts(pctx, alerts); err != nil {
		e.logger.Warnf("automation: publish alerts failed: %v", err)
	}
}

func (e *AutomationEngine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Errorf("automation: evaluation pass aborted: %v", err)
	return err
}
