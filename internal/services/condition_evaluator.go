package services

import (
	"fmt"
	"sort"
	"time"

	"logitrack/internal/metrics"
	"logitrack/internal/models"

	"github.com/sirupsen/logrus"
)

// DefaultCooldown applies to day-granular triggers when the rule does not override it.
const DefaultCooldown = 24 * time.Hour

// Match is one (rule, shipment) pair that passed its trigger and dedupe check.
type Match struct {
	Rule     models.AutomationRule
	Shipment *models.Shipment
}

// EvaluationOutcome summarises one evaluation pass.
type EvaluationOutcome struct {
	Matches   []Match
	Evaluated int
	Deduped   int
	Errors    []error
}

// ConditionEvaluator decides which active rules match which shipments.
type ConditionEvaluator struct {
	location        *time.Location
	defaultCooldown time.Duration
	logger          *logrus.Logger
	metrics         *metrics.AutomationMetrics
}

func NewConditionEvaluator(loc *time.Location, defaultCooldown time.Duration, logger *logrus.Logger) *ConditionEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultCooldown
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ConditionEvaluator{location: loc, defaultCooldown: defaultCooldown, logger: logger}
}

func (e *ConditionEvaluator) WithMetrics(m *metrics.AutomationMetrics) *ConditionEvaluator {
	e.metrics = m
	return e
}

// Location is the timezone schedule triggers are evaluated in.
func (e *ConditionEvaluator) Location() *time.Location { return e.location }

// OrderRules returns the active rules sorted by ascending prioridad; ties keep creation order
// and then list order.
func OrderRules(rules []models.AutomationRule) []models.AutomationRule {
	active := make([]models.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if r.Activo {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Prioridad != active[j].Prioridad {
			return active[i].Prioridad < active[j].Prioridad
		}
		return active[i].CreadoEn.Before(active[j].CreadoEn)
	})
	return active
}

// Evaluate runs every active rule against every shipment. ledger is the execution history
// snapshot used for dedupe; it is read once per pass by the caller.
func (e *ConditionEvaluator) Evaluate(rules []models.AutomationRule, shipments []*models.Shipment, ledger []models.WorkflowExecution, now time.Time) EvaluationOutcome {
	var out EvaluationOutcome
	fired := make(map[string]bool)

	for _, rule := range OrderRules(rules) {
		window := e.CooldownWindow(rule, now)
		for _, s := range shipments {
			if s == nil {
				continue
			}
			out.Evaluated++
			ok, err := e.Matches(rule, s, now)
			if err != nil {
				out.Errors = append(out.Errors, err)
				e.metrics.IncEvaluationError(string(rule.Trigger.Tipo))
				e.logger.WithFields(logrus.Fields{
					"rule_id": rule.ID,
					"guia_id": s.ID,
					"trigger": rule.Trigger.Tipo,
				}).Warnf("automation: shipment skipped: %v", err)
				continue
			}
			if !ok {
				continue
			}
			key := rule.ID + "\x00" + s.ID
			if fired[key] || existsWithin(ledger, rule.ID, s.ID, now.Add(-window)) {
				out.Deduped++
				e.metrics.IncDedupe(rule.ID)
				continue
			}
			fired[key] = true
			e.metrics.IncMatch(string(rule.Trigger.Tipo))
			out.Matches = append(out.Matches, Match{Rule: rule, Shipment: s})
		}
	}
	return out
}

// Matches evaluates a single rule trigger against a shipment. A missing shipment field the
// trigger needs yields an EvaluationError.
func (e *ConditionEvaluator) Matches(rule models.AutomationRule, s *models.Shipment, now time.Time) (bool, error) {
	op := fmt.Sprintf("rule %s shipment %s", rule.ID, s.ID)
	if s.ID == "" {
		return false, evaluationError(op, fmt.Errorf("shipment id missing"))
	}

	switch c := rule.Trigger.Condiciones.(type) {
	case models.TimeThresholdCondition:
		if s.IsTerminal() {
			return false, nil
		}
		hours, err := s.HoursSinceMovement(now)
		if err != nil {
			return false, evaluationError(op, err)
		}
		return hours >= c.HorasSinMovimiento, nil

	case models.StatusChangeCondition:
		if s.Estado == "" {
			return false, evaluationError(op, fmt.Errorf("shipment %s: estado missing", s.ID))
		}
		return s.NormalizedStatus() == models.NormalizeStatus(c.NuevoEstado), nil

	case models.RiskLevelCondition:
		if s.IsTerminal() {
			return false, nil
		}
		tier, err := models.ComputeRisk(s, now)
		if err != nil {
			return false, evaluationError(op, err)
		}
		return tier.AtLeast(c.NivelMinimo), nil

	case models.MultipleAttemptsCondition:
		if s.IsTerminal() {
			return false, nil
		}
		attempts, err := s.FailedAttempts()
		if err != nil {
			return false, evaluationError(op, err)
		}
		return attempts >= c.IntentosFallidos, nil

	case models.ScheduleCondition:
		if s.IsTerminal() {
			return false, nil
		}
		return e.scheduleDue(c, s, now)

	default:
		return false, evaluationError(op, fmt.Errorf("unsupported trigger type %q", rule.Trigger.Tipo))
	}
}

func (e *ConditionEvaluator) scheduleDue(c models.ScheduleCondition, s *models.Shipment, now time.Time) (bool, error) {
	hour, minute, err := models.ParseClock(c.Hora)
	if err != nil {
		return false, evaluationError("schedule", err)
	}
	local := now.In(e.location)
	if len(c.Dias) > 0 {
		today := int(local.Weekday())
		found := false
		for _, d := range c.Dias {
			if d == today {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	if len(c.Estados) > 0 {
		status := s.NormalizedStatus()
		found := false
		for _, st := range c.Estados {
			if models.NormalizeStatus(st) == status {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	due := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, e.location)
	return !local.Before(due), nil
}

// CooldownWindow returns how far back the ledger is checked for a prior firing of the rule.
func (e *ConditionEvaluator) CooldownWindow(rule models.AutomationRule, now time.Time) time.Duration {
	if rule.CooldownHoras > 0 {
		return time.Duration(rule.CooldownHoras * float64(time.Hour))
	}
	switch c := rule.Trigger.Condiciones.(type) {
	case models.TimeThresholdCondition:
		if c.HorasSinMovimiento > 0 {
			return time.Duration(c.HorasSinMovimiento * float64(time.Hour))
		}
	case models.ScheduleCondition:
		// 每个自然日最多触发一次
		local := now.In(e.location)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
		return local.Sub(midnight)
	case models.StatusChangeCondition, models.RiskLevelCondition, models.MultipleAttemptsCondition:
	}
	return e.defaultCooldown
}
