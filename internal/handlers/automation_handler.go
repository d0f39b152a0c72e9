package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"logitrack/internal/models"
	"logitrack/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LinkSource exposes WhatsApp links composed in link mode.
type LinkSource interface {
	Links() []services.OutboundLink
}

// AutomationHandler 自动化规则处理器
type AutomationHandler struct {
	rules     *services.RuleStore
	history   services.ExecutionRepository
	engine    *services.AutomationEngine
	templates *services.TemplateLibrary
	links     LinkSource
	logger    *logrus.Logger
}

func NewAutomationHandler(rules *services.RuleStore, history services.ExecutionRepository, engine *services.AutomationEngine, templates *services.TemplateLibrary, links LinkSource, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AutomationHandler{
		rules:     rules,
		history:   history,
		engine:    engine,
		templates: templates,
		links:     links,
		logger:    logger,
	}
}

// RegisterRoutes mounts the automation API under g (normally /api/automation).
func (h *AutomationHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/rules", h.ListRules)
	g.PUT("/rules", h.SaveRules)
	g.DELETE("/rules/:id", h.DeleteRule)
	g.PATCH("/rules/:id/toggle", h.ToggleRule)
	g.POST("/rules/from-template/:templateId", h.CreateFromTemplate)
	g.GET("/templates/rules", h.ListRuleTemplates)
	g.GET("/templates/messages", h.ListMessageTemplates)
	g.POST("/templates/messages/:id/render", h.RenderMessage)
	g.POST("/evaluate", h.Evaluate)
	g.GET("/executions", h.ListExecutions)
	g.GET("/stats", h.Stats)
	g.GET("/links", h.ListLinks)
}

// EvaluateRequest 评估请求
type EvaluateRequest struct {
	Envios []*models.Shipment `json:"envios" binding:"required"`
	DryRun bool               `json:"dryRun"`
}

// ToggleRequest 启停请求
type ToggleRequest struct {
	Activo *bool `json:"activo" binding:"required"`
}

// ListRules 获取全部规则
// @Router /api/automation/rules [get]
func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// SaveRules 整体替换规则列表
// @Router /api/automation/rules [put]
func (h *AutomationHandler) SaveRules(c *gin.Context) {
	var rules []models.AutomationRule
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if err := h.rules.Save(c.Request.Context(), rules); err != nil {
		respondError(c, h.logger, "Failed to save rules", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Rules saved", Data: gin.H{"total": len(rules)}})
}

// DeleteRule 删除自定义规则
// @Router /api/automation/rules/{id} [delete]
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.rules.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to delete rule", err)
		return
	}
	if !ok {
		err := services.ErrRuleNotFound
		if !strings.HasPrefix(id, models.CustomRulePrefix) {
			err = services.ErrBuiltinRule
		}
		respondError(c, h.logger, "Rule not deleted", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Rule deleted"})
}

// ToggleRule 启用或停用规则
// @Router /api/automation/rules/{id}/toggle [patch]
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	rule, err := h.rules.Toggle(c.Request.Context(), c.Param("id"), *req.Activo)
	if err != nil {
		respondError(c, h.logger, "Failed to toggle rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateFromTemplate 从模板创建规则
// @Router /api/automation/rules/from-template/{templateId} [post]
func (h *AutomationHandler) CreateFromTemplate(c *gin.Context) {
	rule, err := h.rules.CreateFromTemplate(c.Request.Context(), c.Param("templateId"))
	if err != nil {
		respondError(c, h.logger, "Failed to create rule from template", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) ListRuleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, h.templates.RuleTemplates())
}

func (h *AutomationHandler) ListMessageTemplates(c *gin.Context) {
	if cat := c.Query("categoria"); cat != "" {
		out := []models.MessageTemplate{}
		for _, m := range h.templates.MessageTemplates() {
			if m.Categoria == cat {
				out = append(out, m)
			}
		}
		c.JSON(http.StatusOK, out)
		return
	}
	c.JSON(http.StatusOK, h.templates.MessageTemplates())
}

// RenderMessage 用运单数据预览消息
// @Router /api/automation/templates/messages/{id}/render [post]
func (h *AutomationHandler) RenderMessage(c *gin.Context) {
	tpl, ok := h.templates.MessageTemplate(c.Param("id"))
	if !ok {
		respondError(c, h.logger, "Message template not found", services.ErrTemplateNotFound)
		return
	}
	var shipment models.Shipment
	if err := c.ShouldBindJSON(&shipment); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	text := services.RenderMessage(tpl.Mensaje, services.ShipmentVariables(&shipment, time.Now()))
	resp := gin.H{
		"plantillaId": tpl.ID,
		"mensaje":     text,
		"pendientes":  services.Placeholders(text),
	}
	if shipment.Telefono != "" {
		if phone, err := services.NormalizePhone(shipment.Telefono, ""); err == nil {
			resp["link"] = services.WhatsAppLink(phone, text)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Evaluate 对一批运单执行规则评估
// @Router /api/automation/evaluate [post]
func (h *AutomationHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	result, err := h.engine.Evaluate(c.Request.Context(), req.Envios, services.EvaluateOptions{DryRun: req.DryRun})
	if err != nil {
		title := "Evaluation failed"
		if errors.Is(err, services.ErrNoShipments) {
			title = "No shipments provided"
		}
		respondError(c, h.logger, title, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListExecutions 执行记录（最新在前）
// @Router /api/automation/executions [get]
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	execs, err := h.history.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list executions", err)
		return
	}
	if regla := c.Query("reglaId"); regla != "" {
		filtered := execs[:0]
		for _, e := range execs {
			if e.ReglaID == regla {
				filtered = append(filtered, e)
			}
		}
		execs = filtered
	}
	page, size := pageParams(c)
	c.JSON(http.StatusOK, paginate(execs, page, size))
}

func (h *AutomationHandler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to compute stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AutomationHandler) ListLinks(c *gin.Context) {
	if h.links == nil {
		c.JSON(http.StatusOK, []services.OutboundLink{})
		return
	}
	c.JSON(http.StatusOK, h.links.Links())
}
