package services

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"logitrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cityBatch builds total shipments for city: delivered ENTREGADO, issues with novedad, the
// rest in transit. All were dispatched transitDays ago and moved recently.
func cityBatch(city string, total, delivered, issues int, transitDays float64) []*models.Shipment {
	out := make([]*models.Shipment, 0, total)
	for i := 0; i < total; i++ {
		s := &models.Shipment{
			ID:               fmt.Sprintf("%s-%d", city, i),
			Estado:           models.StatusEnTransito,
			Transportadora:   "Carrier-" + city,
			CiudadDestino:    city,
			FechaDespacho:    hoursAgo(transitDays * 24),
			UltimoMovimiento: hoursAgo(2),
		}
		switch {
		case i < delivered:
			s.Estado = models.StatusEntregado
		case i < delivered+issues:
			s.TieneNovedad = true
		}
		out = append(out, s)
	}
	return out
}

func cityAlertsOnly(alerts []models.SmartAlert) []models.SmartAlert {
	var out []models.SmartAlert
	for _, a := range alerts {
		if a.Tipo == models.AlertTypeCity {
			out = append(out, a)
		}
	}
	return out
}

func TestAlertGenerator_BogotaIsRed(t *testing.T) {
	g := NewAlertGenerator(quietLogger())
	shipments := cityBatch("Bogotá", 40, 16, 14, 2)

	alerts := cityAlertsOnly(g.Generate(shipments, fixedNow))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityRojo, alerts[0].Severidad)
	assert.Equal(t, "Bogotá", alerts[0].Entidad.ID)
	assert.InDelta(t, 50.0, alerts[0].Datos["score"], 0.001)
}

func TestAlertGenerator_ConcurrentGenerate(t *testing.T) {
	g := NewAlertGenerator(quietLogger())
	shipments := append(cityBatch("Bogotá", 40, 16, 14, 2), cityBatch("santa marta", 10, 2, 6, 2)...)

	var wg sync.WaitGroup
	titles := make([][]string, 8)
	for w := range titles {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for _, a := range cityAlertsOnly(g.Generate(shipments, fixedNow)) {
					titles[w] = append(titles[w], a.Entidad.ID)
				}
			}
		}(w)
	}
	wg.Wait()

	for _, got := range titles {
		require.Len(t, got, 100)
		for _, city := range got {
			assert.Contains(t, []string{"Bogotá", "Santa Marta"}, city)
		}
	}
}

func TestAlertGenerator_GroupsAccentVariants(t *testing.T) {
	shipments := append(cityBatch("Bogotá", 3, 0, 3, 2), cityBatch("BOGOTA", 3, 0, 3, 2)...)
	stats := ComputeCityStats(shipments, fixedNow)
	require.Len(t, stats, 1)
	assert.Equal(t, 6, stats[0].Total)
}

func TestAlertGenerator_SkipsSmallAndHealthyCities(t *testing.T) {
	g := NewAlertGenerator(quietLogger())
	shipments := append(cityBatch("Cali", 4, 0, 4, 2), cityBatch("Pereira", 10, 9, 0, 1)...)

	assert.Empty(t, cityAlertsOnly(g.Generate(shipments, fixedNow)))
}

func TestAlertGenerator_YellowTier(t *testing.T) {
	g := NewAlertGenerator(quietLogger())
	// 0.7*60 + 0.9*40 = 78
	alerts := cityAlertsOnly(g.Generate(cityBatch("Cartagena", 10, 7, 1, 1), fixedNow))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityAmarillo, alerts[0].Severidad)
}

func TestCityScore_Clamped(t *testing.T) {
	inputs := [][3]float64{
		{0, 1, 100},
		{1, 0, 0},
		{-3, 5, 50},
		{7, -2, -10},
		{math.NaN(), math.NaN(), math.NaN()},
		{0, 0, 1e9},
	}
	for _, in := range inputs {
		score := CityScore(in[0], in[1], in[2])
		assert.GreaterOrEqual(t, score, 0.0, "%v", in)
		assert.LessOrEqual(t, score, 100.0, "%v", in)
	}
	assert.Equal(t, 100.0, CityScore(1, 0, 0))
	assert.Equal(t, 0.0, CityScore(0, 1, 30))
}

func TestComputeCityStats_IgnoresEmptyInput(t *testing.T) {
	assert.Empty(t, ComputeCityStats(nil, fixedNow))
	stats := ComputeCityStats([]*models.Shipment{{ID: "x"}}, fixedNow)
	assert.Empty(t, stats, "shipments without city are ignored")
}

func TestTransitPenalty(t *testing.T) {
	assert.Equal(t, 0.0, TransitPenalty(3))
	assert.Equal(t, 8.0, TransitPenalty(5))
	assert.Equal(t, TransitPenaltyCap, TransitPenalty(30))
}

func TestClassifyScore(t *testing.T) {
	assert.Equal(t, models.SeverityRojo, ClassifyScore(59.9))
	assert.Equal(t, models.SeverityAmarillo, ClassifyScore(60))
	assert.Equal(t, models.SeverityAmarillo, ClassifyScore(79.9))
	assert.Equal(t, models.SeverityVerde, ClassifyScore(80))
}

func TestAlertGenerator_StalledAndCarrier(t *testing.T) {
	g := NewAlertGenerator(quietLogger())
	var shipments []*models.Shipment
	for i := 0; i < 6; i++ {
		s := stalledShipment(fmt.Sprintf("st%d", i), 100)
		s.CiudadDestino = fmt.Sprintf("Ciudad %d", i)
		s.Transportadora = "Interrapidisimo"
		if i < 2 {
			s.TieneNovedad = true
		}
		shipments = append(shipments, s)
	}

	alerts := g.Generate(shipments, fixedNow)
	var stalled, carrier int
	for _, a := range alerts {
		switch a.Tipo {
		case models.AlertTypeStalled:
			stalled++
			assert.Equal(t, 6, a.Datos["total"])
		case models.AlertTypeCarrierIssues:
			carrier++
			assert.Equal(t, "Interrapidisimo", a.Entidad.ID)
		}
	}
	assert.Equal(t, 1, stalled)
	assert.Equal(t, 1, carrier)
}
