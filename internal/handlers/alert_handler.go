package handlers

import (
	"net/http"

	"logitrack/internal/models"
	"logitrack/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AlertHandler 智能告警处理器
type AlertHandler struct {
	engine *services.AutomationEngine
	alerts services.AlertRepository
	logger *logrus.Logger
}

func NewAlertHandler(engine *services.AutomationEngine, alerts services.AlertRepository, logger *logrus.Logger) *AlertHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AlertHandler{engine: engine, alerts: alerts, logger: logger}
}

func (h *AlertHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/generate", h.Generate)
	g.GET("", h.List)
	g.PUT("/read-all", h.MarkAllRead)
	g.PUT("/:id/read", h.MarkRead)
}

// GenerateAlertsRequest 告警生成请求
type GenerateAlertsRequest struct {
	Envios []*models.Shipment `json:"envios" binding:"required"`
}

// Generate 基于运单批次生成智能告警
// @Router /api/alerts/generate [post]
func (h *AlertHandler) Generate(c *gin.Context) {
	var req GenerateAlertsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	alerts, err := h.engine.GenerateAlerts(c.Request.Context(), req.Envios)
	if err != nil {
		respondError(c, h.logger, "Failed to generate alerts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "total": len(alerts)})
}

// List 告警列表，unread=true 只返回未读
// @Router /api/alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	alerts, err := h.alerts.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list alerts", err)
		return
	}
	if c.Query("unread") == "true" {
		unread := alerts[:0]
		for _, a := range alerts {
			if !a.Leida {
				unread = append(unread, a)
			}
		}
		alerts = unread
	}
	page, size := pageParams(c)
	c.JSON(http.StatusOK, paginate(alerts, page, size))
}

func (h *AlertHandler) MarkRead(c *gin.Context) {
	ok, err := h.alerts.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to mark alert", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Alert not found", Message: c.Param("id"), Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Alert marked as read"})
}

func (h *AlertHandler) MarkAllRead(c *gin.Context) {
	n, err := h.alerts.MarkAllRead(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to mark alerts", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Alerts marked as read", Data: gin.H{"updated": n}})
}
