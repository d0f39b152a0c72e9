package services

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"logitrack/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamHub_DeliversByChannel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewTeamHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?canal=" + EscalationChannel
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// other channel: filtered out
	require.NoError(t, hub.Notify(ctx, "operaciones", "ignorar"))
	require.NoError(t, hub.Escalate(ctx, &models.Shipment{ID: "s1", Guia: "G1", UltimoMovimiento: hoursAgo(80)}, "3 intentos", "ana"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event TeamEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "escalation", event.Type)
	assert.Equal(t, EscalationChannel, event.Canal)
	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "G1", data["guia"])
	assert.Equal(t, "2024-03-09 07:00:00", data["ultimo_movimiento"])
	assert.Equal(t, int64(2), hub.Published())
}

func TestTeamHub_PublishRespectsContext(t *testing.T) {
	hub := NewTeamHub(quietLogger())
	// Run is not started: the buffer fills and publish must give up with ctx.
	for i := 0; i < cap(hub.broadcast); i++ {
		require.NoError(t, hub.Notify(context.Background(), "c", "m"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, hub.Notify(ctx, "c", "m"))
	assert.Error(t, hub.Notify(context.Background(), "", "m"))
	assert.NoError(t, hub.PublishAlerts(ctx, nil))
}
