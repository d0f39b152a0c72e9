package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logitrack/internal/metrics"
	"logitrack/internal/models"
	"logitrack/pkg/utils"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	DefaultActionTimeout = 5 * time.Second
	DefaultTeamChannel   = "operaciones"
)

// DispatchResult collects what one dispatch pass produced.
type DispatchResult struct {
	Executions []models.WorkflowExecution
	Alerts     []models.SmartAlert
	Runs       map[string]int
	Failures   int
}

// ActionDispatcher executes the actions of matched rules against their shipments.
type ActionDispatcher struct {
	templates *TemplateLibrary
	sender    MessageSender
	escalator Escalator
	notifier  TeamNotifier
	timeout   time.Duration
	logger    *logrus.Logger
	metrics   *metrics.AutomationMetrics
	newID     func(prefix string) string
}

// NewActionDispatcher wires the collaborators. A nil collaborator makes its action fail with
// ErrCollaborator instead of panicking.
func NewActionDispatcher(templates *TemplateLibrary, sender MessageSender, escalator Escalator, notifier TeamNotifier, timeout time.Duration, logger *logrus.Logger) *ActionDispatcher {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionDispatcher{
		templates: templates,
		sender:    sender,
		escalator: escalator,
		notifier:  notifier,
		timeout:   timeout,
		logger:    logger,
		newID:     utils.PrefixedID,
	}
}

func (d *ActionDispatcher) WithMetrics(m *metrics.AutomationMetrics) *ActionDispatcher {
	d.metrics = m
	return d
}

// Dispatch runs matches in the given order, which the evaluator already sorted by prioridad.
// Actions of one rule run sequentially and a failing action never aborts its siblings.
func (d *ActionDispatcher) Dispatch(ctx context.Context, matches []Match, now time.Time) DispatchResult {
	res := DispatchResult{Runs: make(map[string]int)}
	for _, m := range matches {
		exec, alerts := d.run(ctx, m, now)
		res.Executions = append(res.Executions, exec)
		res.Alerts = append(res.Alerts, alerts...)
		res.Runs[m.Rule.ID]++
		if exec.Resultado != models.ResultSuccess {
			res.Failures++
		}
		d.metrics.IncExecution(string(exec.Resultado))
	}
	return res
}

func (d *ActionDispatcher) run(ctx context.Context, m Match, now time.Time) (models.WorkflowExecution, []models.SmartAlert) {
	var (
		done   []string
		alerts []models.SmartAlert
		errs   error
	)
	for _, action := range m.Rule.Acciones {
		alert, err := d.execute(ctx, m.Rule, action, m.Shipment, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", action.Label(), err))
			d.metrics.IncActionFailure(string(action.Tipo))
			d.logger.WithFields(logrus.Fields{
				"rule_id": m.Rule.ID,
				"guia_id": m.Shipment.ID,
				"action":  action.Tipo,
			}).Warnf("automation: action failed: %v", err)
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
		done = append(done, action.Label())
	}

	exec := models.WorkflowExecution{
		ID:                 d.newID("exec"),
		ReglaID:            m.Rule.ID,
		NombreRegla:        m.Rule.Nombre,
		GuiaID:             m.Shipment.ID,
		AccionesEjecutadas: done,
		Resultado:          outcome(len(done), len(multierr.Errors(errs))),
		Timestamp:          now,
	}
	if exec.AccionesEjecutadas == nil {
		exec.AccionesEjecutadas = []string{}
	}
	if errs != nil {
		exec.Detalle = errs.Error()
	}
	return exec, alerts
}

func outcome(succeeded, failed int) models.ExecutionResult {
	switch {
	case failed == 0:
		return models.ResultSuccess
	case succeeded > 0:
		return models.ResultPartial
	default:
		return models.ResultFailure
	}
}

// execute performs one action. Only create_alert returns an alert.
func (d *ActionDispatcher) execute(ctx context.Context, rule models.AutomationRule, action models.Action, s *models.Shipment, now time.Time) (*models.SmartAlert, error) {
	op := string(action.Tipo)
	switch p := action.Parametros.(type) {
	case models.SendWhatsAppParams:
		text, err := d.compose(p, s, now)
		if err != nil {
			return nil, actionError(op, err)
		}
		if s.Telefono == "" {
			return nil, actionError(op, fmt.Errorf("shipment %s has no phone number", s.ID))
		}
		if d.sender == nil {
			return nil, actionError(op, ErrCollaborator)
		}
		phone := s.Telefono
		return nil, d.call(ctx, op, func(ctx context.Context) error {
			return d.sender.Send(ctx, phone, text)
		})

	case models.CreateAlertParams:
		return d.buildAlert(rule, p, s, now), nil

	case models.EscalateParams:
		if d.escalator == nil {
			return nil, actionError(op, ErrCollaborator)
		}
		motivo := p.Motivo
		if motivo == "" {
			motivo = rule.Nombre
		}
		snap := snapshot(s)
		reason := RenderMessage(motivo, ShipmentVariables(s, now))
		err := d.call(ctx, op, func(ctx context.Context) error {
			return d.escalator.Escalate(ctx, snap, reason, p.Supervisor)
		})
		if err != nil {
			return nil, err
		}
		s.Escalado = true
		return nil, nil

	case models.NotifyTeamParams:
		if d.notifier == nil {
			return nil, actionError(op, ErrCollaborator)
		}
		canal := firstNonEmpty(p.Canal, DefaultTeamChannel)
		msg := firstNonEmpty(p.Mensaje, fmt.Sprintf("%s: guia {guia} ({estado})", rule.Nombre))
		text := RenderMessage(msg, ShipmentVariables(s, now))
		return nil, d.call(ctx, op, func(ctx context.Context) error {
			return d.notifier.Notify(ctx, canal, text)
		})

	case models.TagPriorityParams:
		s.EtiquetaPrioridad = p.Prioridad
		s.AddTag("prioridad:" + p.Prioridad)
		return nil, nil

	default:
		return nil, actionError(op, fmt.Errorf("unsupported action type %q", action.Tipo))
	}
}

// compose resolves the message text for send_whatsapp.
func (d *ActionDispatcher) compose(p models.SendWhatsAppParams, s *models.Shipment, now time.Time) (string, error) {
	text := p.Mensaje
	if p.PlantillaID != "" {
		if d.templates == nil {
			return "", ErrCollaborator
		}
		tpl, ok := d.templates.MessageTemplate(p.PlantillaID)
		if !ok {
			return "", fmt.Errorf("message template %q: %w", p.PlantillaID, ErrTemplateNotFound)
		}
		text = tpl.Mensaje
	}
	text = RenderMessage(text, ShipmentVariables(s, now))
	if !utils.ValidateMessage(text) {
		return "", fmt.Errorf("composed message is empty or exceeds %d bytes", utils.MaxMessageLength)
	}
	return text, nil
}

func (d *ActionDispatcher) buildAlert(rule models.AutomationRule, p models.CreateAlertParams, s *models.Shipment, now time.Time) *models.SmartAlert {
	sev := p.Severidad
	if sev == "" {
		sev = models.SeverityAmarillo
	}
	msg := firstNonEmpty(p.Mensaje, rule.Descripcion, rule.Nombre)
	return &models.SmartAlert{
		ID:        d.newID("alert"),
		Tipo:      firstNonEmpty(p.TipoAlerta, models.AlertTypeRule),
		Severidad: sev,
		Titulo:    fmt.Sprintf("%s: %s", rule.Nombre, firstNonEmpty(s.Guia, s.ID)),
		Mensaje:   RenderMessage(msg, ShipmentVariables(s, now)),
		Entidad:   models.EntityRef{Tipo: "envio", ID: s.ID},
		Timestamp: now,
		ReglaID:   rule.ID,
		GuiaID:    s.ID,
	}
}

// snapshot copies s for a collaborator that may outlive the action timeout while later
// actions keep mutating the original.
func snapshot(s *models.Shipment) *models.Shipment {
	c := *s
	c.Etiquetas = append([]string(nil), s.Etiquetas...)
	return &c
}

// call bounds a collaborator invocation by the action timeout. A collaborator that ignores
// ctx is abandoned once the deadline passes.
func (d *ActionDispatcher) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return actionError(op, err)
		}
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", d.timeout, err)
		}
		return actionError(op, err)
	}
}
