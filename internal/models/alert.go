package models

import "time"

// AlertSeverity 告警严重程度
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityAmarillo AlertSeverity = "AMARILLO"
	SeverityRojo     AlertSeverity = "ROJO"
	SeverityVerde    AlertSeverity = "VERDE"
)

func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityAmarillo, SeverityRojo, SeverityVerde:
		return true
	}
	return false
}

// Alert categories.
const (
	AlertTypeCity          = "ciudad_critica"
	AlertTypeStalled       = "envios_estancados"
	AlertTypeCarrierIssues = "transportadora_novedades"
	AlertTypeRule          = "regla_automatizacion"
)

// EntityRef points at the entity an alert is about.
type EntityRef struct {
	Tipo string `json:"tipo"` // ciudad, transportadora, envio, global
	ID   string `json:"id"`
}

// SmartAlert 智能告警
type SmartAlert struct {
	ID        string                 `json:"id"`
	Tipo      string                 `json:"tipo"`
	Severidad AlertSeverity          `json:"severidad"`
	Titulo    string                 `json:"titulo"`
	Mensaje   string                 `json:"mensaje"`
	Entidad   EntityRef              `json:"entidad"`
	Timestamp time.Time              `json:"timestamp"`
	Leida     bool                   `json:"leida"`
	ReglaID   string                 `json:"reglaId,omitempty"`
	GuiaID    string                 `json:"guiaId,omitempty"`
	Datos     map[string]interface{} `json:"datos,omitempty"`
}
