package services

import (
	"context"
	"testing"
	"time"

	"logitrack/internal/models"
	"logitrack/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine  *AutomationEngine
	rules   *RuleStore
	history *ExecutionHistory
	alerts  *AlertStore
	sender  *fakeSender
}

func newEngineFixture(t *testing.T, kv storage.KeyValueStore, rules ...models.AutomationRule) *engineFixture {
	t.Helper()
	logger := quietLogger()
	lib := MustTemplateLibrary()
	f := &engineFixture{
		rules:   NewRuleStore(kv, lib, logger, false).WithClock(fixedClock),
		history: NewExecutionHistory(kv, 50).WithClock(fixedClock),
		alerts:  NewAlertStore(kv, 20),
		sender:  &fakeSender{},
	}
	if len(rules) > 0 {
		require.NoError(t, f.rules.Save(context.Background(), rules))
	}
	f.engine = NewAutomationEngine(EngineDeps{
		Rules:      f.rules,
		History:    f.history,
		Alerts:     f.alerts,
		Evaluator:  NewConditionEvaluator(time.UTC, DefaultCooldown, logger),
		Dispatcher: NewActionDispatcher(lib, f.sender, &fakeEscalator{}, &fakeNotifier{}, time.Second, logger),
		Logger:     logger,
		Clock:      fixedClock,
	})
	return f
}

func TestAutomationEngine_StalledShipmentFiresOnce(t *testing.T) {
	ctx := context.Background()
	rule := timeThresholdRule("rule_custom_1", 1, 72, whatsapp("msg_retraso"))
	f := newEngineFixture(t, newSQLiteKV(t), rule)
	shipments := []*models.Shipment{stalledShipment("s1", 80)}

	res, err := f.engine.Evaluate(ctx, shipments, EvaluateOptions{})
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, models.ResultSuccess, res.Executions[0].Resultado)
	assert.Len(t, f.sender.sent, 1)

	again, err := f.engine.Evaluate(ctx, shipments, EvaluateOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Executions)
	assert.Equal(t, 1, again.Skipped)
	assert.Len(t, f.sender.sent, 1)

	ledger, err := f.history.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)

	stored, err := f.rules.Get(ctx, "rule_custom_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Ejecutados)
	require.NotNil(t, stored.UltimaEjecucion)
	assert.True(t, stored.UltimaEjecucion.Equal(fixedNow))
}

func TestAutomationEngine_PriorityOrderInLedger(t *testing.T) {
	ctx := context.Background()
	r1 := timeThresholdRule("rule_custom_1", 1, 72)
	r2 := timeThresholdRule("rule_custom_2", 2, 48)
	f := newEngineFixture(t, storage.NewMemoryStore(), r2, r1)

	res, err := f.engine.Evaluate(ctx, []*models.Shipment{stalledShipment("s1", 80)}, EvaluateOptions{})
	require.NoError(t, err)
	require.Len(t, res.Executions, 2)
	assert.Equal(t, "rule_custom_1", res.Executions[0].ReglaID)

	ledger, err := f.history.List(ctx)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	// most recent first: r1 was recorded before r2
	assert.Equal(t, "rule_custom_2", ledger[0].ReglaID)
	assert.Equal(t, "rule_custom_1", ledger[1].ReglaID)
}

func TestAutomationEngine_InactiveRuleNeverFires(t *testing.T) {
	ctx := context.Background()
	rule := timeThresholdRule("rule_custom_1", 1, 72)
	f := newEngineFixture(t, storage.NewMemoryStore(), rule)

	_, err := f.rules.Toggle(ctx, "rule_custom_1", false)
	require.NoError(t, err)

	res, err := f.engine.Evaluate(ctx, []*models.Shipment{stalledShipment("s1", 80)}, EvaluateOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Executions)
	assert.Equal(t, 0, res.Evaluated)
}

func TestAutomationEngine_DryRunDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	rule := timeThresholdRule("rule_custom_1", 1, 72, whatsapp("msg_retraso"))
	f := newEngineFixture(t, storage.NewMemoryStore(), rule)

	res, err := f.engine.Evaluate(ctx, []*models.Shipment{stalledShipment("s1", 80)}, EvaluateOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "s1", res.Matches[0].GuiaID)
	assert.Empty(t, res.Executions)
	assert.Empty(t, f.sender.sent)

	ledger, err := f.history.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestAutomationEngine_RuleWriteFailureRestoresHistory(t *testing.T) {
	ctx := context.Background()
	kv := newFlakyKV()
	rule := timeThresholdRule("rule_custom_1", 1, 72)
	f := newEngineFixture(t, kv, rule)

	kv.breakWrites(storage.KeyRules)
	_, err := f.engine.Evaluate(ctx, []*models.Shipment{stalledShipment("s1", 80)}, EvaluateOptions{})
	require.Error(t, err)
	assert.True(t, IsPersistence(err))

	ledger, err := f.history.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ledger, "history must be rolled back")
}

func TestAutomationEngine_EmptyBatch(t *testing.T) {
	f := newEngineFixture(t, storage.NewMemoryStore())
	_, err := f.engine.Evaluate(context.Background(), nil, EvaluateOptions{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrNoShipments)
}

func TestAutomationEngine_RuleAlertsPersisted(t *testing.T) {
	ctx := context.Background()
	rule := timeThresholdRule("rule_custom_1", 1, 72,
		models.Action{Tipo: models.ActionCreateAlert, Parametros: models.CreateAlertParams{Severidad: models.SeverityRojo}},
	)
	f := newEngineFixture(t, storage.NewMemoryStore(), rule)

	res, err := f.engine.Evaluate(ctx, []*models.Shipment{stalledShipment("s1", 80)}, EvaluateOptions{})
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	stored, err := f.alerts.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.SeverityRojo, stored[0].Severidad)
	assert.Equal(t, "s1", stored[0].GuiaID)
}

func TestAutomationEngine_Stats(t *testing.T) {
	ctx := context.Background()
	ok := timeThresholdRule("rule_custom_1", 1, 72)
	partial := timeThresholdRule("rule_custom_2", 2, 72,
		models.Action{Tipo: models.ActionTagPriority, Parametros: models.TagPriorityParams{Prioridad: "ALTA"}},
		models.Action{Tipo: models.ActionEscalate, Parametros: models.EscalateParams{}},
	)
	f := newEngineFixture(t, storage.NewMemoryStore(), ok, partial)
	f.engine.dispatcher.escalator = &fakeEscalator{err: errGatewayDown}

	_, err := f.engine.Evaluate(ctx, []*models.Shipment{stalledShipment("s1", 80), stalledShipment("s2", 90)}, EvaluateOptions{})
	require.NoError(t, err)

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRules)
	assert.Equal(t, 2, stats.ActiveRules)
	assert.Equal(t, 4, stats.TotalExecutions)
	assert.Equal(t, 2, stats.ByResultado[models.ResultSuccess])
	assert.Equal(t, 2, stats.ByResultado[models.ResultPartial])
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	require.Len(t, stats.Rules, 2)
	assert.Equal(t, 2, stats.Rules[1].Parcial)
	assert.Equal(t, 2, stats.Rules[1].Ejecutados)
}

func TestAutomationEngine_GenerateAlerts(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, storage.NewMemoryStore())

	alerts, err := f.engine.GenerateAlerts(ctx, cityBatch("Bogotá", 40, 16, 14, 2))
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	stored, err := f.alerts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, len(alerts))
}
