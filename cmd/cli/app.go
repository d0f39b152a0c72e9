package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"logitrack/internal/config"
	"logitrack/internal/metrics"
	"logitrack/internal/services"
	"logitrack/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// app 组装好的运行时依赖
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        *gorm.DB
	kv        storage.KeyValueStore
	templates *services.TemplateLibrary
	rules     *services.RuleStore
	history   *services.ExecutionHistory
	alerts    *services.AlertStore
	hub       *services.TeamHub
	links     *services.LinkMessenger
	webhook   *services.WebhookMessenger
	engine    *services.AutomationEngine
	registry  *prometheus.Registry
	metrics   *metrics.AutomationMetrics
	closeKV   func() error
}

// openDatabase 按 driver 打开数据库；storage.backend 不是 database 时返回 nil
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Storage.Backend != "" && cfg.Storage.Backend != "database" {
		return nil, nil
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(cfg.Database.SQLitePath)
	case "", "postgres":
		dialector = postgres.Open(cfg.Database.PostgresDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	// GORM OTel 插件
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			logrus.Warnf("gorm tracing plugin: %v", err)
		}
	}
	return db, nil
}

// openDB is swapped in tests to observe the pool buildApp opened.
var openDB = openDatabase

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// buildApp wires storage, messaging, the team hub and the engine from cfg. The hub runs
// until ctx is cancelled.
func buildApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	kv, closeKV, err := storage.Open(ctx, cfg, db, log)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	// 组装失败时释放已打开的存储和连接池
	release := func() {
		_ = closeKV()
		closeDB(db)
	}

	templates, err := services.NewTemplateLibrary()
	if err != nil {
		release()
		return nil, fmt.Errorf("load template catalog: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewAutomationMetrics(registry)

	a := &app{
		cfg:       cfg,
		logger:    log,
		db:        db,
		kv:        kv,
		templates: templates,
		rules:     services.NewRuleStore(kv, templates, log, cfg.Automation.SeedBuiltins),
		history:   services.NewExecutionHistory(kv, cfg.Automation.HistoryCap),
		alerts:    services.NewAlertStore(kv, cfg.Automation.AlertCap),
		hub:       services.NewTeamHub(log),
		registry:  registry,
		metrics:   m,
		closeKV:   closeKV,
	}

	var (
		sender    services.MessageSender
		escalator services.Escalator = a.hub
	)
	switch cfg.Messaging.Mode {
	case "webhook":
		a.webhook = services.NewWebhookMessenger(cfg.Messaging, log)
		sender = a.webhook
		escalator = a.webhook
	case "", "link":
		a.links = services.NewLinkMessenger(cfg.Messaging.DefaultCountryCode, log)
		sender = a.links
	default:
		release()
		return nil, fmt.Errorf("unsupported messaging mode: %s", cfg.Messaging.Mode)
	}

	evaluator := services.NewConditionEvaluator(cfg.Automation.Location(), cfg.Automation.DefaultCooldown, log).WithMetrics(m)
	dispatcher := services.NewActionDispatcher(templates, sender, escalator, a.hub, cfg.Automation.ActionTimeout, log).WithMetrics(m)
	a.engine = services.NewAutomationEngine(services.EngineDeps{
		Rules:      a.rules,
		History:    a.history,
		Alerts:     a.alerts,
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Generator:  services.NewAlertGenerator(log).WithMetrics(m),
		Publisher:  a.hub,
		Metrics:    m,
		Logger:     log,
	})
	go a.hub.Run(ctx)
	return a, nil
}

func (a *app) Close() {
	if err := a.closeKV(); err != nil {
		a.logger.Warnf("close storage: %v", err)
	}
	closeDB(a.db)
}

// breakerReporter 只有 webhook 模式才有熔断器
func (a *app) breakerReporter() interface{ BreakerStats() map[string]interface{} } {
	if a.webhook == nil {
		return nil
	}
	return a.webhook
}

// bootstrap 加载配置并初始化日志，供各子命令共用
func bootstrap() *config.Config {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg
}
