package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"logitrack/internal/metrics"
	"logitrack/internal/models"
	"logitrack/pkg/utils"

	"github.com/sirupsen/logrus"
)

// City scoring policy. Changing any of these changes which cities get flagged.
const (
	MinCityShipments       = 5
	DeliveryWeight         = 60.0
	IssueWeight            = 40.0
	TransitPenaltyPerDay   = 4.0
	TransitPenaltyFreeDays = 3.0
	TransitPenaltyCap      = 20.0
	RedScoreThreshold      = 60.0
	YellowScoreThreshold   = 80.0
)

// Stalled and carrier heuristics.
const (
	StalledHours              = 72.0
	MinStalledShipments       = 5
	MinCarrierShipments       = 5
	CarrierIssueRateThreshold = 0.30
)

// CityStats is the per-city aggregate behind a ciudad_critica alert.
type CityStats struct {
	Ciudad         string               `json:"ciudad"`
	Total          int                  `json:"total"`
	Entregados     int                  `json:"entregados"`
	ConNovedad     int                  `json:"conNovedad"`
	DeliveryRate   float64              `json:"deliveryRate"`
	IssueRate      float64              `json:"issueRate"`
	AvgTransitDays float64              `json:"avgTransitDays"`
	Penalty        float64              `json:"penalty"`
	Score          float64              `json:"score"`
	Severidad      models.AlertSeverity `json:"severidad"`
}

// TransitPenalty is 4 points per average transit day beyond 3, capped at 20.
func TransitPenalty(avgTransitDays float64) float64 {
	if avgTransitDays <= TransitPenaltyFreeDays || math.IsNaN(avgTransitDays) {
		return 0
	}
	return math.Min((avgTransitDays-TransitPenaltyFreeDays)*TransitPenaltyPerDay, TransitPenaltyCap)
}

// CityScore combines rates in [0,1] and the transit average into a score clamped to [0,100].
func CityScore(deliveryRate, issueRate, avgTransitDays float64) float64 {
	deliveryRate = clamp(deliveryRate, 0, 1)
	issueRate = clamp(issueRate, 0, 1)
	score := deliveryRate*DeliveryWeight + (1-issueRate)*IssueWeight - TransitPenalty(avgTransitDays)
	return clamp(score, 0, 100)
}

// ClassifyScore maps a score to ROJO (<60), AMARILLO (<80) or VERDE.
func ClassifyScore(score float64) models.AlertSeverity {
	switch {
	case score < RedScoreThreshold:
		return models.SeverityRojo
	case score < YellowScoreThreshold:
		return models.SeverityAmarillo
	default:
		return models.SeverityVerde
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// ComputeCityStats groups shipments by destination city (accent and case insensitive) and
// scores every group. Cities are returned worst score first. The transit average only
// considers shipments still moving that carry a dispatch date.
func ComputeCityStats(shipments []*models.Shipment, now time.Time) []CityStats {
	type acc struct {
		stats      CityStats
		transitSum float64
		transitN   int
	}
	groups := map[string]*acc{}
	var order []string
	for _, s := range shipments {
		if s == nil || s.CiudadDestino == "" {
			continue
		}
		key := utils.CityKey(s.CiudadDestino)
		g, ok := groups[key]
		if !ok {
			g = &acc{stats: CityStats{Ciudad: utils.NormalizeCity(s.CiudadDestino)}}
			groups[key] = g
			order = append(order, key)
		}
		g.stats.Total++
		if s.IsDelivered() {
			g.stats.Entregados++
		}
		if s.HasIssue() {
			g.stats.ConNovedad++
		}
		if !s.IsTerminal() {
			if days, err := s.DaysInTransit(now); err == nil {
				g.transitSum += float64(days)
				g.transitN++
			}
		}
	}

	out := make([]CityStats, 0, len(order))
	for _, key := range order {
		g := groups[key]
		st := g.stats
		if g.transitN > 0 {
			st.AvgTransitDays = g.transitSum / float64(g.transitN)
		}
		st.DeliveryRate, st.IssueRate, st.Score = 0, 0, 100
		if st.Total > 0 {
			st.DeliveryRate = float64(st.Entregados) / float64(st.Total)
			st.IssueRate = float64(st.ConNovedad) / float64(st.Total)
			st.Score = CityScore(st.DeliveryRate, st.IssueRate, st.AvgTransitDays)
		}
		st.Penalty = TransitPenalty(st.AvgTransitDays)
		st.Severidad = ClassifyScore(st.Score)
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// AlertGenerator produces heuristic alerts that are not tied to any rule.
type AlertGenerator struct {
	logger  *logrus.Logger
	metrics *metrics.AutomationMetrics
	newID   func(prefix string) string
}

func NewAlertGenerator(logger *logrus.Logger) *AlertGenerator {
	if logger == nil {
		logger = logrus.New()
	}
	return &AlertGenerator{logger: logger, newID: utils.PrefixedID}
}

func (g *AlertGenerator) WithMetrics(m *metrics.AutomationMetrics) *AlertGenerator {
	g.metrics = m
	return g
}

// Generate runs the city, stalled and carrier heuristics over the batch.
func (g *AlertGenerator) Generate(shipments []*models.Shipment, now time.Time) []models.SmartAlert {
	var alerts []models.SmartAlert
	alerts = append(alerts, g.cityAlerts(shipments, now)...)
	if a := g.stalledAlert(shipments, now); a != nil {
		alerts = append(alerts, *a)
	}
	alerts = append(alerts, g.carrierAlerts(shipments, now)...)

	for _, a := range alerts {
		g.metrics.IncAlert(a.Tipo, string(a.Severidad))
	}
	g.logger.WithField("shipments", len(shipments)).Infof("alerts: generated %d smart alerts", len(alerts))
	return alerts
}

func (g *AlertGenerator) cityAlerts(shipments []*models.Shipment, now time.Time) []models.SmartAlert {
	var alerts []models.SmartAlert
	for _, st := range ComputeCityStats(shipments, now) {
		if st.Total < MinCityShipments || st.Severidad == models.SeverityVerde {
			continue
		}
		titulo := fmt.Sprintf("Ciudad en alerta: %s", st.Ciudad)
		if st.Severidad == models.SeverityRojo {
			titulo = fmt.Sprintf("Ciudad crítica: %s", st.Ciudad)
		}
		alerts = append(alerts, models.SmartAlert{
			ID:        g.newID("alert"),
			Tipo:      models.AlertTypeCity,
			Severidad: st.Severidad,
			Titulo:    titulo,
			Mensaje: fmt.Sprintf("%s: %d envíos, %.0f%% entregados, %.0f%% con novedad, puntaje %.0f/100",
				st.Ciudad, st.Total, st.DeliveryRate*100, st.IssueRate*100, st.Score),
			Entidad:   models.EntityRef{Tipo: "ciudad", ID: st.Ciudad},
			Timestamp: now,
			Datos: map[string]interface{}{
				"total":          st.Total,
				"deliveryRate":   st.DeliveryRate,
				"issueRate":      st.IssueRate,
				"avgTransitDays": st.AvgTransitDays,
				"score":          st.Score,
			},
		})
	}
	return alerts
}

func (g *AlertGenerator) stalledAlert(shipments []*models.Shipment, now time.Time) *models.SmartAlert {
	var guias []string
	for _, s := range shipments {
		if s == nil || s.IsTerminal() {
			continue
		}
		hours, err := s.HoursSinceMovement(now)
		if err != nil || hours < StalledHours {
			continue
		}
		guias = append(guias, firstNonEmpty(s.Guia, s.ID))
	}
	if len(guias) < MinStalledShipments {
		return nil
	}
	sev := models.SeverityAmarillo
	if len(guias) >= 2*MinStalledShipments {
		sev = models.SeverityRojo
	}
	return &models.SmartAlert{
		ID:        g.newID("alert"),
		Tipo:      models.AlertTypeStalled,
		Severidad: sev,
		Titulo:    "Envíos estancados",
		Mensaje:   fmt.Sprintf("%d envíos sin movimiento hace más de %.0f horas", len(guias), StalledHours),
		Entidad:   models.EntityRef{Tipo: "global", ID: "envios"},
		Timestamp: now,
		Datos:     map[string]interface{}{"guias": guias, "total": len(guias)},
	}
}

func (g *AlertGenerator) carrierAlerts(shipments []*models.Shipment, now time.Time) []models.SmartAlert {
	type counts struct{ total, issues int }
	byCarrier := map[string]*counts{}
	var order []string
	for _, s := range shipments {
		if s == nil || s.Transportadora == "" {
			continue
		}
		c, ok := byCarrier[s.Transportadora]
		if !ok {
			c = &counts{}
			byCarrier[s.Transportadora] = c
			order = append(order, s.Transportadora)
		}
		c.total++
		if s.HasIssue() {
			c.issues++
		}
	}

	var alerts []models.SmartAlert
	for _, name := range order {
		c := byCarrier[name]
		if c.total < MinCarrierShipments {
			continue
		}
		rate := float64(c.issues) / float64(c.total)
		if rate < CarrierIssueRateThreshold {
			continue
		}
		alerts = append(alerts, models.SmartAlert{
			ID:        g.newID("alert"),
			Tipo:      models.AlertTypeCarrierIssues,
			Severidad: models.SeverityAmarillo,
			Titulo:    fmt.Sprintf("Novedades altas en %s", name),
			Mensaje:   fmt.Sprintf("%s: %d de %d envíos con novedad (%.0f%%)", name, c.issues, c.total, rate*100),
			Entidad:   models.EntityRef{Tipo: "transportadora", ID: name},
			Timestamp: now,
			Datos:     map[string]interface{}{"total": c.total, "issueRate": rate},
		})
	}
	return alerts
}
