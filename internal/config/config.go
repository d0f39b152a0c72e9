package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security" yaml:"security"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Messaging  MessagingConfig  `mapstructure:"messaging" yaml:"messaging"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`       // 若设置则覆盖其余连接参数
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	SQLitePath      string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// PostgresDSN 构建 Postgres DSN
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, ssl)
}

// StorageConfig 选择规则/执行记录/告警的键值存储后端
type StorageConfig struct {
	Backend string     `mapstructure:"backend" yaml:"backend"` // database, nats, memory
	NATS    NATSConfig `mapstructure:"nats" yaml:"nats"`
}

type NATSConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Bucket  string        `mapstructure:"bucket" yaml:"bucket"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"` // 缺省使用 "logitrack"
}

type SecurityConfig struct {
	CORS         CORSConfig      `mapstructure:"cors" yaml:"cors"`
	RateLimiting RateLimitConfig `mapstructure:"rate_limiting" yaml:"rate_limiting"`
}

// RateLimitConfig 按客户端限流；Paths 按前缀覆盖全局额度
type RateLimitConfig struct {
	Enabled           bool            `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int             `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int             `mapstructure:"burst" yaml:"burst"`
	KeyHeader         string          `mapstructure:"key_header" yaml:"key_header"` // 例如 X-API-Key；为空按 IP
	WhitelistIPs      []string        `mapstructure:"whitelist_ips" yaml:"whitelist_ips"`
	Paths             []PathRateLimit `mapstructure:"paths" yaml:"paths"`
}

type PathRateLimit struct {
	Prefix            string `mapstructure:"prefix" yaml:"prefix"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int    `mapstructure:"burst" yaml:"burst"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
}

// AutomationConfig 规则引擎参数
type AutomationConfig struct {
	HistoryCap      int           `mapstructure:"history_cap" yaml:"history_cap"`
	AlertCap        int           `mapstructure:"alert_cap" yaml:"alert_cap"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"`
	DefaultCooldown time.Duration `mapstructure:"default_cooldown" yaml:"default_cooldown"`
	SeedBuiltins    bool          `mapstructure:"seed_builtins" yaml:"seed_builtins"`
}

// Location 解析时区，失败时回退到 UTC
func (a AutomationConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MessagingConfig 外发消息配置
type MessagingConfig struct {
	Mode               string               `mapstructure:"mode" yaml:"mode"` // link, webhook
	WebhookURL         string               `mapstructure:"webhook_url" yaml:"webhook_url"`
	APIKey             string               `mapstructure:"api_key" yaml:"api_key"`
	Timeout            time.Duration        `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries         int                  `mapstructure:"max_retries" yaml:"max_retries"`
	DefaultCountryCode string               `mapstructure:"default_country_code" yaml:"default_country_code"`
	CircuitBreaker     CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures     int           `mapstructure:"max_failures" yaml:"max_failures"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenMaxReqs int           `mapstructure:"half_open_max_requests" yaml:"half_open_max_requests"`
}

// Load 在默认配置之上叠加 viper 中读取到的值
func Load() *Config {
	config := GetDefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		panic(err)
	}
	return config
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "logitrack",
			SSLMode:         "disable",
			SQLitePath:      "./data/logitrack.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "database",
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Bucket:  "logitrack_automation",
				Timeout: 5 * time.Second,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/logitrack.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "logitrack",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
			RateLimiting: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             100,
				Paths: []PathRateLimit{
					{Prefix: "/api/automation/evaluate", RequestsPerMinute: 30, Burst: 5},
					{Prefix: "/api/alerts/generate", RequestsPerMinute: 30, Burst: 5},
				},
			},
		},
		Automation: AutomationConfig{
			HistoryCap:      500,
			AlertCap:        200,
			ActionTimeout:   5 * time.Second,
			Timezone:        "America/Bogota",
			DefaultCooldown: 24 * time.Hour,
			SeedBuiltins:    true,
		},
		Messaging: MessagingConfig{
			Mode:               "link",
			Timeout:            10 * time.Second,
			MaxRetries:         3,
			DefaultCountryCode: "57",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:         true,
				MaxFailures:     5,
				ResetTimeout:    60 * time.Second,
				HalfOpenMaxReqs: 1,
			},
		},
	}
}
