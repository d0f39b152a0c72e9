package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType 触发器类型
type TriggerType string

const (
	TriggerTimeThreshold    TriggerType = "time_threshold"
	TriggerStatusChange     TriggerType = "status_change"
	TriggerRiskLevel        TriggerType = "risk_level"
	TriggerMultipleAttempts TriggerType = "multiple_attempts"
	TriggerSchedule         TriggerType = "schedule"
)

// ActionType 动作类型
type ActionType string

const (
	ActionSendWhatsApp ActionType = "send_whatsapp"
	ActionCreateAlert  ActionType = "create_alert"
	ActionEscalate     ActionType = "escalate"
	ActionNotifyTeam   ActionType = "notify_team"
	ActionTagPriority  ActionType = "tag_priority"
)

// ExecutionResult 执行结果
type ExecutionResult string

const (
	ResultSuccess ExecutionResult = "exito"
	ResultPartial ExecutionResult = "parcial"
	ResultFailure ExecutionResult = "fallo"
)

// Rule id prefixes. Only custom rules may be deleted.
const (
	BuiltinRulePrefix = "rule_builtin_"
	CustomRulePrefix  = "rule_custom_"
)

// AutomationRule 自动化规则定义
type AutomationRule struct {
	ID              string     `json:"id"`
	Nombre          string     `json:"nombre"`
	Descripcion     string     `json:"descripcion"`
	Activo          bool       `json:"activo"`
	Prioridad       int        `json:"prioridad"`
	Trigger         Trigger    `json:"trigger"`
	Acciones        []Action   `json:"acciones"`
	Ejecutados      int        `json:"ejecutados"`
	UltimaEjecucion *time.Time `json:"ultimaEjecucion"`
	CooldownHoras   float64    `json:"cooldownHoras,omitempty"`
	CreadoEn        time.Time  `json:"creadoEn"`
}

// IsCustom reports whether the rule was created by a user.
func (r AutomationRule) IsCustom() bool {
	return len(r.ID) > len(CustomRulePrefix) && r.ID[:len(CustomRulePrefix)] == CustomRulePrefix
}

// Clone returns a deep copy of the rule.
func (r AutomationRule) Clone() AutomationRule {
	out := r
	if r.UltimaEjecucion != nil {
		t := *r.UltimaEjecucion
		out.UltimaEjecucion = &t
	}
	out.Trigger = r.Trigger.Clone()
	out.Acciones = make([]Action, len(r.Acciones))
	for i, a := range r.Acciones {
		out.Acciones[i] = a.Clone()
	}
	return out
}

// WorkflowExecution 规则执行记录，创建后不可变
type WorkflowExecution struct {
	ID                 string          `json:"id"`
	ReglaID            string          `json:"reglaId"`
	NombreRegla        string          `json:"nombreRegla"`
	GuiaID             string          `json:"guiaId"`
	AccionesEjecutadas []string        `json:"accionesEjecutadas"`
	Resultado          ExecutionResult `json:"resultado"`
	Detalle            string          `json:"detalle,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// Trigger pairs a trigger type with its typed conditions.
type Trigger struct {
	Tipo        TriggerType
	Condiciones TriggerCondition
}

// TriggerCondition is implemented only by the condition variants in this package.
type TriggerCondition interface {
	triggerType() TriggerType
}

type TimeThresholdCondition struct {
	HorasSinMovimiento float64 `json:"horasSinMovimiento"`
}

type StatusChangeCondition struct {
	NuevoEstado string `json:"nuevoEstado"`
}

type RiskLevelCondition struct {
	NivelMinimo RiskTier `json:"nivelMinimo"`
}

type MultipleAttemptsCondition struct {
	IntentosFallidos int `json:"intentosFallidos"`
}

// ScheduleCondition fires once per calendar day at or after Hora ("HH:MM").
// Dias restricts weekdays (0=Sunday); Estados restricts shipment statuses.
type ScheduleCondition struct {
	Hora    string   `json:"hora"`
	Dias    []int    `json:"dias,omitempty"`
	Estados []string `json:"estados,omitempty"`
}

func (TimeThresholdCondition) triggerType() TriggerType    { return TriggerTimeThreshold }
func (StatusChangeCondition) triggerType() TriggerType     { return TriggerStatusChange }
func (RiskLevelCondition) triggerType() TriggerType        { return TriggerRiskLevel }
func (MultipleAttemptsCondition) triggerType() TriggerType { return TriggerMultipleAttempts }
func (ScheduleCondition) triggerType() TriggerType         { return TriggerSchedule }

type triggerWire struct {
	Tipo        TriggerType     `json:"tipo"`
	Condiciones json.RawMessage `json:"condiciones"`
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	conds := json.RawMessage("{}")
	if t.Condiciones != nil {
		b, err := json.Marshal(t.Condiciones)
		if err != nil {
			return nil, err
		}
		conds = b
	}
	return json.Marshal(triggerWire{Tipo: t.Tipo, Condiciones: conds})
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var w triggerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.Tipo = w.Tipo
	t.Condiciones = nil
	if len(w.Condiciones) == 0 || string(w.Condiciones) == "null" {
		return nil
	}
	var cond TriggerCondition
	switch w.Tipo {
	case TriggerTimeThreshold:
		var c TimeThresholdCondition
		if err := json.Unmarshal(w.Condiciones, &c); err != nil {
			return fmt.Errorf("trigger %s: %w", w.Tipo, err)
		}
		cond = c
	case TriggerStatusChange:
		var c StatusChangeCondition
		if err := json.Unmarshal(w.Condiciones, &c); err != nil {
			return fmt.Errorf("trigger %s: %w", w.Tipo, err)
		}
		cond = c
	case TriggerRiskLevel:
		var c RiskLevelCondition
		if err := json.Unmarshal(w.Condiciones, &c); err != nil {
			return fmt.Errorf("trigger %s: %w", w.Tipo, err)
		}
		cond = c
	case TriggerMultipleAttempts:
		var c MultipleAttemptsCondition
		if err := json.Unmarshal(w.Condiciones, &c); err != nil {
			return fmt.Errorf("trigger %s: %w", w.Tipo, err)
		}
		cond = c
	case TriggerSchedule:
		var c ScheduleCondition
		if err := json.Unmarshal(w.Condiciones, &c); err != nil {
			return fmt.Errorf("trigger %s: %w", w.Tipo, err)
		}
		cond = c
	default:
		return fmt.Errorf("unsupported trigger type: %q", w.Tipo)
	}
	t.Condiciones = cond
	return nil
}

// Clone copies the slice-backed schedule fields; other variants are plain values.
func (t Trigger) Clone() Trigger {
	if s, ok := t.Condiciones.(ScheduleCondition); ok {
		s.Dias = append([]int(nil), s.Dias...)
		s.Estados = append([]string(nil), s.Estados...)
		return Trigger{Tipo: t.Tipo, Condiciones: s}
	}
	return t
}

// Validate checks that the conditions variant matches the declared type and carries usable values.
func (t Trigger) Validate() error {
	if t.Condiciones == nil {
		return fmt.Errorf("trigger %q: condiciones required", t.Tipo)
	}
	if t.Condiciones.triggerType() != t.Tipo {
		return fmt.Errorf("trigger %q: condiciones of type %q", t.Tipo, t.Condiciones.triggerType())
	}
	switch c := t.Condiciones.(type) {
	case TimeThresholdCondition:
		if c.HorasSinMovimiento <= 0 {
			return fmt.Errorf("horasSinMovimiento must be positive")
		}
	case StatusChangeCondition:
		if c.NuevoEstado == "" {
			return fmt.Errorf("nuevoEstado required")
		}
	case RiskLevelCondition:
		if !c.NivelMinimo.Valid() {
			return fmt.Errorf("invalid nivelMinimo %q", c.NivelMinimo)
		}
	case MultipleAttemptsCondition:
		if c.IntentosFallidos <= 0 {
			return fmt.Errorf("intentosFallidos must be positive")
		}
	case ScheduleCondition:
		if _, _, err := ParseClock(c.Hora); err != nil {
			return err
		}
		for _, d := range c.Dias {
			if d < 0 || d > 6 {
				return fmt.Errorf("invalid weekday %d", d)
			}
		}
	}
	return nil
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hora %q: expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Action pairs an action type with its typed parameters.
type Action struct {
	Tipo       ActionType
	Parametros ActionParams
}

// ActionParams is implemented only by the parameter variants in this package.
type ActionParams interface {
	actionType() ActionType
}

// SendWhatsAppParams resolves PlantillaID from the message catalog; Mensaje is used when no
// template is named.
type SendWhatsAppParams struct {
	PlantillaID string `json:"plantillaId,omitempty"`
	Mensaje     string `json:"mensaje,omitempty"`
}

type CreateAlertParams struct {
	TipoAlerta string        `json:"tipoAlerta,omitempty"`
	Severidad  AlertSeverity `json:"severidad,omitempty"`
	Mensaje    string        `json:"mensaje,omitempty"`
}

type EscalateParams struct {
	Motivo     string `json:"motivo,omitempty"`
	Supervisor string `json:"supervisor,omitempty"`
}

type NotifyTeamParams struct {
	Canal   string `json:"canal,omitempty"`
	Mensaje string `json:"mensaje,omitempty"`
}

type TagPriorityParams struct {
	Prioridad string `json:"prioridad"`
}

func (SendWhatsAppParams) actionType() ActionType { return ActionSendWhatsApp }
func (CreateAlertParams) actionType() ActionType  { return ActionCreateAlert }
func (EscalateParams) actionType() ActionType     { return ActionEscalate }
func (NotifyTeamParams) actionType() ActionType   { return ActionNotifyTeam }
func (TagPriorityParams) actionType() ActionType  { return ActionTagPriority }

type actionWire struct {
	Tipo       ActionType      `json:"tipo"`
	Parametros json.RawMessage `json:"parametros"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	params := json.RawMessage("{}")
	if a.Parametros != nil {
		b, err := json.Marshal(a.Parametros)
		if err != nil {
			return nil, err
		}
		params = b
	}
	return json.Marshal(actionWire{Tipo: a.Tipo, Parametros: params})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	raw := w.Parametros
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var params ActionParams
	switch w.Tipo {
	case ActionSendWhatsApp:
		var p SendWhatsAppParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("action %s: %w", w.Tipo, err)
		}
		params = p
	case ActionCreateAlert:
		var p CreateAlertParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("action %s: %w", w.Tipo, err)
		}
		params = p
	case ActionEscalate:
		var p EscalateParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("action %s: %w", w.Tipo, err)
		}
		params = p
	case ActionNotifyTeam:
		var p NotifyTeamParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("action %s: %w", w.Tipo, err)
		}
		params = p
	case ActionTagPriority:
		var p TagPriorityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("action %s: %w", w.Tipo, err)
		}
		params = p
	default:
		return fmt.Errorf("unsupported action type: %q", w.Tipo)
	}
	a.Tipo = w.Tipo
	a.Parametros = params
	return nil
}

// Clone returns a copy; all parameter variants are plain values.
func (a Action) Clone() Action { return a }

// Validate checks the parameters variant against the declared type.
func (a Action) Validate() error {
	if a.Parametros == nil {
		return fmt.Errorf("action %q: parametros required", a.Tipo)
	}
	if a.Parametros.actionType() != a.Tipo {
		return fmt.Errorf("action %q: parametros of type %q", a.Tipo, a.Parametros.actionType())
	}
	switch p := a.Parametros.(type) {
	case SendWhatsAppParams:
		if p.PlantillaID == "" && p.Mensaje == "" {
			return fmt.Errorf("send_whatsapp: plantillaId or mensaje required")
		}
	case TagPriorityParams:
		if p.Prioridad == "" {
			return fmt.Errorf("tag_priority: prioridad required")
		}
	case CreateAlertParams:
		if p.Severidad != "" && !p.Severidad.Valid() {
			return fmt.Errorf("create_alert: invalid severidad %q", p.Severidad)
		}
	case EscalateParams, NotifyTeamParams:
	}
	return nil
}

// Label is the human readable entry recorded in WorkflowExecution.AccionesEjecutadas.
func (a Action) Label() string {
	switch p := a.Parametros.(type) {
	case SendWhatsAppParams:
		if p.PlantillaID != "" {
			return fmt.Sprintf("%s:%s", a.Tipo, p.PlantillaID)
		}
	case TagPriorityParams:
		return fmt.Sprintf("%s:%s", a.Tipo, p.Prioridad)
	case NotifyTeamParams:
		if p.Canal != "" {
			return fmt.Sprintf("%s:%s", a.Tipo, p.Canal)
		}
	}
	return string(a.Tipo)
}
