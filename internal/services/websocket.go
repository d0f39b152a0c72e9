package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"logitrack/internal/models"
	"logitrack/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EscalationChannel is the team channel escalations are published on.
const EscalationChannel = "supervisores"

// TeamEvent is the envelope pushed to operations dashboards.
type TeamEvent struct {
	Type      string      `json:"type"`
	Canal     string      `json:"canal,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type TeamClient struct {
	ID    string
	Canal string // 空表示订阅全部频道
	Conn  *websocket.Conn
	Send  chan TeamEvent
	Hub   *TeamHub
}

// TeamHub fans team notifications, escalations and alerts out to websocket subscribers.
type TeamHub struct {
	clients    map[string]*TeamClient
	broadcast  chan TeamEvent
	register   chan *TeamClient
	unregister chan *TeamClient
	mutex      sync.RWMutex
	published  atomic.Int64
	logger     *logrus.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 由 CORS 中间件控制来源
	},
}

func NewTeamHub(logger *logrus.Logger) *TeamHub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TeamHub{
		clients:    make(map[string]*TeamClient),
		broadcast:  make(chan TeamEvent, 256),
		register:   make(chan *TeamClient),
		unregister: make(chan *TeamClient),
		logger:     logger,
	}
}

// Run dispatches hub traffic until ctx is cancelled.
func (h *TeamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			h.logger.Infof("Team client %s connected (canal=%q)", client.ID, client.Canal)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				h.logger.Infof("Team client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			h.mutex.Lock()
			for _, client := range h.clients {
				if client.Canal != "" && event.Canal != "" && client.Canal != event.Canal {
					continue
				}
				select {
				case client.Send <- event:
				default:
					close(client.Send)
					delete(h.clients, client.ID)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *TeamHub) publish(ctx context.Context, event TeamEvent) error {
	event.Timestamp = time.Now()
	select {
	case h.broadcast <- event:
		h.published.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("team hub publish %s: %w", event.Type, ctx.Err())
	}
}

// Notify implements TeamNotifier.
func (h *TeamHub) Notify(ctx context.Context, canal, mensaje string) error {
	if canal == "" {
		return fmt.Errorf("notify: empty channel")
	}
	return h.publish(ctx, TeamEvent{Type: "team-notification", Canal: canal, Data: map[string]string{"mensaje": mensaje}})
}

// Escalate implements Escalator by publishing on the supervisors channel.
func (h *TeamHub) Escalate(ctx context.Context, s *models.Shipment, motivo, supervisor string) error {
	if s == nil {
		return fmt.Errorf("escalate: nil shipment")
	}
	data := map[string]string{
		"guia_id":        s.ID,
		"guia":           s.Guia,
		"transportadora": s.Transportadora,
		"estado":         s.Estado,
		"motivo":         motivo,
		"supervisor":     supervisor,
	}
	if s.UltimoMovimiento != nil {
		data["ultimo_movimiento"] = utils.FormatTime(*s.UltimoMovimiento)
	}
	return h.publish(ctx, TeamEvent{Type: "escalation", Canal: EscalationChannel, Data: data})
}

// PublishAlerts pushes freshly generated alerts to every subscriber.
func (h *TeamHub) PublishAlerts(ctx context.Context, alerts []models.SmartAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return h.publish(ctx, TeamEvent{Type: "alerts", Data: alerts})
}

func (h *TeamHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed:", err)
		return
	}

	client := &TeamClient{
		ID:    fmt.Sprintf("team_%d", time.Now().UnixNano()),
		Canal: c.Query("canal"),
		Conn:  conn,
		Send:  make(chan TeamEvent, 64),
		Hub:   h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *TeamClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Errorf("WebSocket error: %v", err)
			}
			break
		}

		// 客户端只允许切换订阅频道
		var msg struct {
			Type  string `json:"type"`
			Canal string `json:"canal"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.Hub.logger.Warn("Invalid team message format:", err)
			continue
		}
		if msg.Type == "subscribe" {
			c.Hub.mutex.Lock()
			c.Canal = msg.Canal
			c.Hub.mutex.Unlock()
		}
	}
}

func (c *TeamClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				c.Hub.logger.Error("WriteJSON error:", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *TeamHub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Published counts events accepted by the hub.
func (h *TeamHub) Published() int64 {
	return h.published.Load()
}
