package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"logitrack/internal/models"
	"logitrack/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 2024-03-12 is a Tuesday.
var fixedNow = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func hoursAgo(h float64) *time.Time {
	t := fixedNow.Add(-time.Duration(h * float64(time.Hour)))
	return &t
}

func intPtr(v int) *int { return &v }

func newSQLiteKV(t *testing.T) storage.KeyValueStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	kv, err := storage.NewGormStore(db, true)
	if err != nil {
		t.Fatalf("gorm store: %v", err)
	}
	return kv
}

// flakyKV fails writes for the configured keys.
type flakyKV struct {
	*storage.MemoryStore
	mu      sync.Mutex
	failSet map[string]bool
	failGet map[string]bool
}

func newFlakyKV() *flakyKV {
	return &flakyKV{MemoryStore: storage.NewMemoryStore(), failSet: map[string]bool{}, failGet: map[string]bool{}}
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGet[key]
	f.mu.Unlock()
	if fail {
		return nil, storage.ErrUnavailable
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failSet[key]
	f.mu.Unlock()
	if fail {
		return storage.ErrUnavailable
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *flakyKV) breakWrites(key string) {
	f.mu.Lock()
	f.failSet[key] = true
	f.mu.Unlock()
}

type sentMessage struct{ phone, text string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, phone, text string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{phone, text})
	return nil
}

type fakeEscalator struct {
	mu    sync.Mutex
	guias []string
	err   error
}

func (f *fakeEscalator) Escalate(_ context.Context, s *models.Shipment, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guias = append(f.guias, s.ID)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, canal, mensaje string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, canal+": "+mensaje)
	return nil
}

var errGatewayDown = errors.New("gateway down")

func stalledShipment(id string, hours float64) *models.Shipment {
	return &models.Shipment{
		ID:               id,
		Guia:             "G-" + id,
		Estado:           models.StatusEnTransito,
		Transportadora:   "Servientrega",
		CiudadDestino:    "Medellín",
		Telefono:         "3001234567",
		Cliente:          "Ana",
		FechaDespacho:    hoursAgo(hours + 24),
		UltimoMovimiento: hoursAgo(hours),
		IntentosFallidos: intPtr(0),
	}
}

func timeThresholdRule(id string, prioridad int, horas float64, actions ...models.Action) models.AutomationRule {
	if len(actions) == 0 {
		actions = []models.Action{{Tipo: models.ActionTagPriority, Parametros: models.TagPriorityParams{Prioridad: "ALTA"}}}
	}
	return models.AutomationRule{
		ID:        id,
		Nombre:    "regla " + id,
		Activo:    true,
		Prioridad: prioridad,
		Trigger: models.Trigger{
			Tipo:        models.TriggerTimeThreshold,
			Condiciones: models.TimeThresholdCondition{HorasSinMovimiento: horas},
		},
		Acciones: actions,
		CreadoEn: fixedNow.Add(-48 * time.Hour),
	}
}
