package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRisk(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) *time.Time {
		t := now.AddDate(0, 0, -d)
		return &t
	}
	two := 2

	tests := []struct {
		name string
		s    Shipment
		want RiskTier
	}{
		{"fresh", Shipment{ID: "1", Estado: StatusEnTransito, FechaDespacho: daysAgo(1)}, RiskBajo},
		{"week in transit", Shipment{ID: "2", Estado: StatusEnTransito, FechaDespacho: daysAgo(7)}, RiskAlto},
		{"issue after four days", Shipment{ID: "3", Estado: StatusNovedad, FechaDespacho: daysAgo(4)}, RiskAlto},
		{"issue early", Shipment{ID: "4", TieneNovedad: true, Estado: StatusEnTransito, FechaDespacho: daysAgo(1)}, RiskMedio},
		{"four days", Shipment{ID: "5", Estado: StatusEnTransito, FechaDespacho: daysAgo(4)}, RiskMedio},
		{"two attempts", Shipment{ID: "6", Estado: StatusEnReparto, FechaDespacho: daysAgo(1), IntentosFallidos: &two}, RiskMedio},
		{"delivered", Shipment{ID: "7", Estado: "entregado", FechaDespacho: daysAgo(30)}, RiskBajo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeRisk(&tt.s, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ComputeRisk(&Shipment{ID: "x", Estado: StatusEnTransito}, now)
	assert.Error(t, err, "dispatch date is required")
}

func TestRiskTier_Ordering(t *testing.T) {
	assert.True(t, RiskAlto.AtLeast(RiskMedio))
	assert.True(t, RiskMedio.AtLeast(RiskMedio))
	assert.False(t, RiskBajo.AtLeast(RiskMedio))
	assert.True(t, RiskTier("alto").Valid())
	assert.False(t, RiskTier("").Valid())
}

func TestShipment_StatusHelpers(t *testing.T) {
	s := Shipment{Estado: " en tránsito "}
	assert.Equal(t, "EN_TRÁNSITO", s.NormalizedStatus())

	s.Estado = "devuelto"
	assert.True(t, s.IsTerminal())
	assert.False(t, s.IsDelivered())

	s.AddTag("vip")
	s.AddTag("vip")
	assert.Equal(t, []string{"vip"}, s.Etiquetas)
}
