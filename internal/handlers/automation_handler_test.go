package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"logitrack/internal/config"
	"logitrack/internal/models"
	"logitrack/internal/services"
	"logitrack/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	rules  *services.RuleStore
	alerts *services.AlertStore
	links  *services.LinkMessenger
	kv     storage.KeyValueStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	kv := storage.NewMemoryStore()
	lib := services.MustTemplateLibrary()
	rules := services.NewRuleStore(kv, lib, logger, true)
	history := services.NewExecutionHistory(kv, 100)
	alerts := services.NewAlertStore(kv, 50)
	links := services.NewLinkMessenger("57", logger)
	hub := services.NewTeamHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := services.NewAutomationEngine(services.EngineDeps{
		Rules:      rules,
		History:    history,
		Alerts:     alerts,
		Dispatcher: services.NewActionDispatcher(lib, links, hub, hub, time.Second, logger),
		Publisher:  hub,
		Logger:     logger,
	})

	r := gin.New()
	NewAutomationHandler(rules, history, engine, lib, links, logger).RegisterRoutes(r.Group("/api/automation"))
	NewAlertHandler(engine, alerts, logger).RegisterRoutes(r.Group("/api/alerts"))
	health := NewHealthHandler(config.GetDefaultConfig(), kv, hub, nil, "test")
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	return &testServer{router: r, rules: rules, alerts: alerts, links: links, kv: kv}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func stalled(id string) *models.Shipment {
	moved := time.Now().Add(-80 * time.Hour)
	sent := time.Now().Add(-100 * time.Hour)
	zero := 0
	return &models.Shipment{
		ID: id, Guia: "G" + id, Estado: models.StatusEnTransito, Transportadora: "Coordinadora",
		CiudadDestino: "Cali", Telefono: "3001112233", Cliente: "Luis",
		FechaDespacho: &sent, UltimoMovimiento: &moved, IntentosFallidos: &zero,
	}
}

func TestAutomationHandler_ListSeedsBuiltins(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/automation/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rules []models.AutomationRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
	assert.Len(t, rules, 5)
}

func TestAutomationHandler_DeleteBuiltinForbidden(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodDelete, "/api/automation/rules/rule_builtin_delay", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/automation/rules/rule_custom_1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationHandler_CreateFromTemplateAndDelete(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/automation/rules/from-template/template_novedad_3_intentos", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var rule models.AutomationRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, 0, rule.Ejecutados)
	assert.True(t, rule.Activo)

	w = s.do(t, http.MethodPost, "/api/automation/rules/from-template/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/automation/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAutomationHandler_SaveRejectsInvalid(t *testing.T) {
	s := newTestServer(t)
	body := []map[string]interface{}{{
		"id":       "rule_custom_1",
		"nombre":   "sin acciones",
		"activo":   true,
		"trigger":  map[string]interface{}{"tipo": "time_threshold", "condiciones": map[string]interface{}{"horasSinMovimiento": 10}},
		"acciones": []interface{}{},
	}}
	w := s.do(t, http.MethodPut, "/api/automation/rules", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body[0]["trigger"] = map[string]interface{}{"tipo": "teleport", "condiciones": map[string]interface{}{}}
	w = s.do(t, http.MethodPut, "/api/automation/rules", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutomationHandler_ToggleAndEvaluate(t *testing.T) {
	s := newTestServer(t)

	// only the delay rule stays on
	for _, id := range []string{"rule_builtin_failed_attempts", "rule_builtin_high_risk", "rule_builtin_returns", "rule_builtin_daily_summary"} {
		w := s.do(t, http.MethodPatch, "/api/automation/rules/"+id+"/toggle", gin.H{"activo": false})
		require.Equal(t, http.StatusOK, w.Code, id)
	}

	req := gin.H{"envios": []*models.Shipment{stalled("s1")}}
	w := s.do(t, http.MethodPost, "/api/automation/evaluate", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res services.EvaluationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Executions, 1)
	assert.Equal(t, "rule_builtin_delay", res.Executions[0].ReglaID)
	assert.Equal(t, models.ResultSuccess, res.Executions[0].Resultado)
	assert.Len(t, res.Alerts, 1)
	assert.Len(t, s.links.Links(), 1)

	// second run is deduped
	w = s.do(t, http.MethodPost, "/api/automation/evaluate", req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Executions)

	w = s.do(t, http.MethodGet, "/api/automation/executions?page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page PaginatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)

	w = s.do(t, http.MethodGet, "/api/automation/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.AutomationStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.ActiveRules)
	assert.Equal(t, 1, stats.TotalExecutions)

	w = s.do(t, http.MethodPost, "/api/automation/evaluate", gin.H{"envios": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutomationHandler_RenderMessage(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/automation/templates/messages/msg_entregado/render", models.Shipment{
		ID: "s1", Guia: "777", Cliente: "Marta", Telefono: "573001112233",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["mensaje"], "Hola Marta, confirmamos la entrega de tu pedido 777")
	assert.Contains(t, body["link"], "https://wa.me/573001112233?text=")

	w = s.do(t, http.MethodPost, "/api/automation/templates/messages/nope/render", models.Shipment{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationHandler_Templates(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/automation/templates/messages?categoria=novedad", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []models.MessageTemplate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 2)

	w = s.do(t, http.MethodGet, "/api/automation/templates/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
