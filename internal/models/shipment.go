package models

import (
	"fmt"
	"strings"
	"time"
)

// Shipment statuses understood by the engine. Other values are passed through untouched.
const (
	StatusEnTransito = "EN_TRANSITO"
	StatusEnReparto  = "EN_REPARTO"
	StatusNovedad    = "NOVEDAD"
	StatusEntregado  = "ENTREGADO"
	StatusDevuelto   = "DEVUELTO"
	StatusCancelado  = "CANCELADO"
)

// Shipment 运单记录，由调用方提供
type Shipment struct {
	ID                string     `json:"id"`
	Guia              string     `json:"guia"`
	Estado            string     `json:"estado"`
	Transportadora    string     `json:"transportadora"`
	CiudadDestino     string     `json:"ciudadDestino"`
	Telefono          string     `json:"telefono"`
	Cliente           string     `json:"cliente"`
	FechaDespacho     *time.Time `json:"fechaDespacho,omitempty"`
	UltimoMovimiento  *time.Time `json:"ultimoMovimiento,omitempty"`
	IntentosFallidos  *int       `json:"intentosFallidos,omitempty"`
	TieneNovedad      bool       `json:"tieneNovedad"`
	Novedad           string     `json:"novedad,omitempty"`
	Escalado          bool       `json:"escalado"`
	EtiquetaPrioridad string     `json:"etiquetaPrioridad,omitempty"`
	Etiquetas         []string   `json:"etiquetas,omitempty"`
}

// NormalizedStatus upper-cases the status and folds spaces to underscores.
func (s *Shipment) NormalizedStatus() string {
	return NormalizeStatus(s.Estado)
}

func NormalizeStatus(v string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(v)), " ", "_")
}

// IsTerminal reports whether the shipment reached a final state.
func (s *Shipment) IsTerminal() bool {
	switch s.NormalizedStatus() {
	case StatusEntregado, StatusDevuelto, StatusCancelado:
		return true
	}
	return false
}

// IsDelivered reports a successful delivery.
func (s *Shipment) IsDelivered() bool {
	return s.NormalizedStatus() == StatusEntregado
}

// HasIssue is true when the carrier reported a novelty or the status says so.
func (s *Shipment) HasIssue() bool {
	return s.TieneNovedad || s.NormalizedStatus() == StatusNovedad
}

// DaysInTransit counts whole days since dispatch.
func (s *Shipment) DaysInTransit(now time.Time) (int, error) {
	if s.FechaDespacho == nil {
		return 0, fmt.Errorf("shipment %s: fechaDespacho missing", s.ID)
	}
	d := now.Sub(*s.FechaDespacho)
	if d < 0 {
		return 0, nil
	}
	return int(d.Hours() / 24), nil
}

// HoursSinceMovement returns the hours elapsed since the last tracking movement.
func (s *Shipment) HoursSinceMovement(now time.Time) (float64, error) {
	if s.UltimoMovimiento == nil {
		return 0, fmt.Errorf("shipment %s: ultimoMovimiento missing", s.ID)
	}
	return now.Sub(*s.UltimoMovimiento).Hours(), nil
}

// FailedAttempts returns the failed delivery attempts count.
func (s *Shipment) FailedAttempts() (int, error) {
	if s.IntentosFallidos == nil {
		return 0, fmt.Errorf("shipment %s: intentosFallidos missing", s.ID)
	}
	return *s.IntentosFallidos, nil
}

// AddTag appends a tag once.
func (s *Shipment) AddTag(tag string) {
	for _, t := range s.Etiquetas {
		if t == tag {
			return
		}
	}
	s.Etiquetas = append(s.Etiquetas, tag)
}

// RiskTier 风险等级，按序比较
type RiskTier string

const (
	RiskBajo  RiskTier = "BAJO"
	RiskMedio RiskTier = "MEDIO"
	RiskAlto  RiskTier = "ALTO"
)

// Ordinal orders tiers: BAJO < MEDIO < ALTO. Unknown tiers are 0.
func (r RiskTier) Ordinal() int {
	switch RiskTier(strings.ToUpper(string(r))) {
	case RiskBajo:
		return 1
	case RiskMedio:
		return 2
	case RiskAlto:
		return 3
	default:
		return 0
	}
}

func (r RiskTier) Valid() bool { return r.Ordinal() > 0 }

// AtLeast reports r >= min.
func (r RiskTier) AtLeast(min RiskTier) bool {
	return r.Ordinal() >= min.Ordinal()
}

// Risk thresholds.
const (
	RiskHighTransitDays      = 7
	RiskIssueHighTransitDays = 4
	RiskMediumTransitDays    = 4
	RiskMediumFailedAttempts = 2
)

// ComputeRisk derives the risk tier from days in transit, issue flags and failed attempts.
func ComputeRisk(s *Shipment, now time.Time) (RiskTier, error) {
	if s.IsTerminal() {
		return RiskBajo, nil
	}
	days, err := s.DaysInTransit(now)
	if err != nil {
		return "", err
	}
	attempts := 0
	if s.IntentosFallidos != nil {
		attempts = *s.IntentosFallidos
	}
	issue := s.HasIssue()
	switch {
	case days >= RiskHighTransitDays, issue && days >= RiskIssueHighTransitDays:
		return RiskAlto, nil
	case days >= RiskMediumTransitDays, issue, attempts >= RiskMediumFailedAttempts:
		return RiskMedio, nil
	default:
		return RiskBajo, nil
	}
}
