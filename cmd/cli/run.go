package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logitrack/internal/config"
	"logitrack/internal/handlers"
	"logitrack/internal/middleware"
	"logitrack/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the logitrack HTTP server",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := bootstrap()

	// OpenTelemetry 初始化（可选）
	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		logrus.Warnf("init tracing: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := buildApp(ctx, cfg, logrus.StandardLogger())
	if err != nil {
		logrus.Fatalf("Failed to initialize services: %v", err)
	}
	defer a.Close()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 设置 Gin 模式
	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: setupRouter(cfg, a),
	}

	go func() {
		logrus.Infof("Starting server on %s:%d (storage=%s, messaging=%s)",
			cfg.Server.Host, cfg.Server.Port, cfg.Storage.Backend, cfg.Messaging.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	stop()

	logrus.Info("Server exited")
}

func setupRouter(cfg *config.Config, a *app) *gin.Engine {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddlewareWithConfig(cfg))
	router.Use(middleware.RateLimit(cfg.Security.RateLimiting, a.metrics))
	router.Use(otelgin.Middleware(serviceName(cfg)))

	health := handlers.NewHealthHandler(cfg, a.kv, a.hub, a.breakerReporter(), Version)
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)

	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})))
	}

	// LinkMessenger 为 nil 时不能直接放进接口
	var links handlers.LinkSource
	if a.links != nil {
		links = a.links
	}
	automation := handlers.NewAutomationHandler(a.rules, a.history, a.engine, a.templates, links, a.logger)
	automation.RegisterRoutes(router.Group("/api/automation"))
	handlers.NewAlertHandler(a.engine, a.alerts, a.logger).RegisterRoutes(router.Group("/api/alerts"))

	api := router.Group("/api/v1")
	{
		team := handlers.NewTeamChannelHandler(a.hub)
		api.GET("/ws", team.HandleWebSocket)
		api.GET("/ws/stats", team.GetStats)
	}

	return router
}

func serviceName(cfg *config.Config) string {
	if cfg.Monitoring.Tracing.ServiceName != "" {
		return cfg.Monitoring.Tracing.ServiceName
	}
	return "logitrack"
}

func corsMiddlewareWithConfig(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || !cfg.Security.CORS.Enabled {
			c.Next()
			return
		}
		origins := "*"
		methods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
		headers := "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With"
		if len(cfg.Security.CORS.AllowedOrigins) > 0 {
			origins = strings.Join(cfg.Security.CORS.AllowedOrigins, ", ")
		}
		if len(cfg.Security.CORS.AllowedMethods) > 0 {
			methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
		}
		if len(cfg.Security.CORS.AllowedHeaders) > 0 {
			headers = strings.Join(cfg.Security.CORS.AllowedHeaders, ", ")
		}
		c.Header("Access-Control-Allow-Origin", origins)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Allow-Methods", methods)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
