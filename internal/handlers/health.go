package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"logitrack/internal/config"
	"logitrack/internal/services"
	"logitrack/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BreakerReporter exposes circuit breaker state of an outbound collaborator.
type BreakerReporter interface {
	BreakerStats() map[string]interface{}
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config    *config.Config
	kv        storage.KeyValueStore
	hub       *services.TeamHub
	messaging BreakerReporter
	version   string
	logger    *logrus.Logger
}

func NewHealthHandler(cfg *config.Config, kv storage.KeyValueStore, hub *services.TeamHub, messaging BreakerReporter, version string) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		kv:        kv,
		hub:       hub,
		messaging: messaging,
		version:   version,
		logger:    logrus.StandardLogger(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	storageOK := h.checkStorage(ctx, &response)
	degraded := false

	if h.messaging != nil {
		info := ServiceInfo{Status: "healthy", Details: h.messaging.BreakerStats()}
		if stats := h.messaging.BreakerStats(); stats != nil && stats["state"] == "open" {
			info.Status = "degraded"
			degraded = true
		}
		response.Services["messaging"] = info
	}
	if h.hub != nil {
		response.Services["team_channel"] = ServiceInfo{
			Status:  "healthy",
			Details: gin.H{"connected_clients": h.hub.GetClientCount()},
		}
	}

	statusCode := http.StatusOK
	switch {
	case !storageOK:
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case degraded:
		response.Status = "degraded" // 外发通道熔断时仍返回 200
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只检查存储
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	var probe HealthResponse
	probe.Services = make(map[string]ServiceInfo)
	ready := h.checkStorage(ctx, &probe)

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  gin.H{"storage": probe.Services["storage"].Status},
	})
}

func (h *HealthHandler) checkStorage(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()
	info := ServiceInfo{Details: gin.H{"backend": h.config.Storage.Backend}}
	if h.kv == nil {
		info.Status = "unhealthy"
		info.Error = storage.ErrUnavailable.Error()
		response.Services["storage"] = info
		return false
	}
	_, err := h.kv.Get(ctx, storage.KeyRules)
	info.Latency = time.Since(start).String()
	if err != nil {
		h.logger.Warnf("health: storage check failed: %v", err)
		info.Status = "unhealthy"
		info.Error = err.Error()
		response.Services["storage"] = info
		return false
	}
	info.Status = "healthy"
	response.Services["storage"] = info
	return true
}
