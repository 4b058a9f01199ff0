// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json console"`
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url" env:"DATABASE_URL" validate:"required"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL" validate:"required"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required,min=16"`
	AdminAPIKey string `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
}

type SecurityConfig struct {
	// EncryptionKey seals stored webhook payloads when set.
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

type PaddleConfig struct {
	APIKey        string            `yaml:"api_key" env:"PADDLE_API_KEY"`
	WebhookSecret string            `yaml:"webhook_secret" env:"PADDLE_WEBHOOK_SECRET"`
	Sandbox       bool              `yaml:"sandbox"`
	PriceIDs      map[string]string `yaml:"price_ids"`
}

type PaymentConfig struct {
	Provider            string        `yaml:"provider" validate:"oneof=paddle noop"`
	SuccessURL          string        `yaml:"success_url" validate:"omitempty,url"`
	CheckoutLimit       int           `yaml:"checkout_limit"`
	CheckoutWindow      time.Duration `yaml:"checkout_window"`
	WebhookLockTTL      time.Duration `yaml:"webhook_lock_ttl"`
	Paddle              PaddleConfig  `yaml:"paddle"`
	WebhookMaxBodyBytes int64         `yaml:"webhook_max_body_bytes"`
}

type PlansConfig struct {
	Path string `yaml:"path"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key" env:"OPENAI_API_KEY"`
	GeminiKey       string `yaml:"gemini_key" env:"GEMINI_API_KEY"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type AlertsConfig struct {
	TelegramToken string  `yaml:"telegram_token" env:"TELEGRAM_ALERT_TOKEN"`
	ChatIDs       []int64 `yaml:"chat_ids"`
	Workers       int     `yaml:"workers"`
}

type SchedulerConfig struct {
	ExpiryInterval    time.Duration `yaml:"expiry_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileBatch    int           `yaml:"reconcile_batch"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Security  SecurityConfig  `yaml:"security"`
	Payment   PaymentConfig   `yaml:"payment"`
	Plans     PlansConfig     `yaml:"plans"`
	AI        AIConfig        `yaml:"ai"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, overlays secrets from the
// environment (and a .env file when present), fills defaults and validates.
// A missing file is allowed when everything required comes from env.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 20 * time.Second
	}
	if cfg.Server.ShutdownGrace <= 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "paddle"
	}
	if cfg.Payment.CheckoutLimit <= 0 {
		cfg.Payment.CheckoutLimit = 5
	}
	if cfg.Payment.CheckoutWindow <= 0 {
		cfg.Payment.CheckoutWindow = time.Minute
	}
	if cfg.Payment.WebhookLockTTL <= 0 {
		cfg.Payment.WebhookLockTTL = 30 * time.Second
	}
	if cfg.Payment.WebhookMaxBodyBytes <= 0 {
		cfg.Payment.WebhookMaxBodyBytes = 1 << 20
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.MaxPromptTokens <= 0 {
		cfg.AI.MaxPromptTokens = 4000
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 800
	}
	if cfg.Alerts.Workers <= 0 {
		cfg.Alerts.Workers = 2
	}
	if cfg.Scheduler.ExpiryInterval <= 0 {
		cfg.Scheduler.ExpiryInterval = 15 * time.Minute
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = time.Hour
	}
	if cfg.Scheduler.ReconcileBatch <= 0 {
		cfg.Scheduler.ReconcileBatch = 200
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Payment.Provider == "paddle" {
		if cfg.Payment.Paddle.APIKey == "" {
			return errors.New("payment.paddle.api_key is required")
		}
		if cfg.Payment.Paddle.WebhookSecret == "" {
			return errors.New("payment.paddle.webhook_secret is required")
		}
	}
	if n := len(cfg.Security.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes, got %d", n)
	}
	if cfg.Payment.Provider == "noop" && !cfg.Runtime.Dev {
		return errors.New("payment.provider=noop is only allowed with --dev")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
