// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"` // development|staging|production, echoed by the webhook liveness check
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	MaxConns      int32  `yaml:"max_conns"`
	PaymentsTable string `yaml:"payments_table"`
	UsersTable    string `yaml:"users_table"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	ServerKey     string   `yaml:"server_key"`
	OrderPrefixes []string `yaml:"order_prefixes"`
}

type ReconcileConfig struct {
	Cron        string        `yaml:"cron"`
	Concurrency int           `yaml:"concurrency"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	ReportDir   string        `yaml:"report_dir"`
	Validate    bool          `yaml:"validate"` // also write a read-only validation report per scheduled run
}

type AlertConfig struct {
	MaxMissingCourses   int `yaml:"max_missing_courses"`
	MaxInconsistencies  int `yaml:"max_inconsistencies"`
	MaxOrphanedPayments int `yaml:"max_orphaned_payments"`
	MaxUsersAffected    int `yaml:"max_users_affected"`
}

type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Admin     AdminConfig     `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then a local .env file if present, then
// applies environment overrides and defaults. A missing file at path is not an
// error when the environment supplies the required values.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// .env is a local development convenience; absence is fine.
	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)

	cfg.Runtime.Dev = dev || cfg.App.Environment == "development"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.PaymentsTable, "PAYMENTS_TABLE")
	setString(&cfg.Database.UsersTable, "USERS_TABLE")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Gateway.ServerKey, "GATEWAY_SERVER_KEY")
	setString(&cfg.Admin.JWTSecret, "ADMIN_JWT_SECRET")
	setString(&cfg.App.Environment, "APP_ENV")
	setString(&cfg.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "course-payment-sync"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownGrace <= 0 {
		cfg.Server.ShutdownGrace = 20 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.PaymentsTable == "" {
		cfg.Database.PaymentsTable = "payments"
	}
	if cfg.Database.UsersTable == "" {
		cfg.Database.UsersTable = "users"
	}
	if len(cfg.Gateway.OrderPrefixes) == 0 {
		cfg.Gateway.OrderPrefixes = []string{"C", "COURSE"}
	}
	if cfg.Reconcile.Cron == "" {
		cfg.Reconcile.Cron = "0 */6 * * *"
	}
	if cfg.Reconcile.Concurrency <= 0 {
		cfg.Reconcile.Concurrency = 4
	}
	if cfg.Reconcile.LockTTL <= 0 {
		cfg.Reconcile.LockTTL = 30 * time.Minute
	}
	if cfg.Reconcile.ReportDir == "" {
		cfg.Reconcile.ReportDir = "reports"
	}
	if cfg.Admin.TokenTTL <= 0 {
		cfg.Admin.TokenTTL = time.Hour
	}
}

// Validate performs minimal validation; Redis is optional and disables the run lock when empty.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Gateway.ServerKey == "" {
		return errors.New("gateway.server_key is required")
	}
	for _, p := range c.Gateway.OrderPrefixes {
		if p == "" || strings.Contains(p, "_") {
			return fmt.Errorf("gateway.order_prefixes: invalid prefix %q", p)
		}
	}
	return nil
}
