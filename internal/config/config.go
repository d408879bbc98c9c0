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

const (
	SchedulerModePoller = "poller"
	SchedulerModeRedis  = "redis"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	// CreateLimitPerMinute caps job creation per user; 0 disables it.
	CreateLimitPerMinute int `yaml:"create_limit_per_minute"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// GatewayConfig describes an OpenAI-compatible chat completions endpoint.
type GatewayConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type TemplateConfig struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type AIConfig struct {
	Timeout         time.Duration             `yaml:"timeout"`
	ConcurrentLimit int                       `yaml:"concurrent_limit"` // max concurrent AI calls
	MaxOutputTokens int                       `yaml:"max_output_tokens"`
	MaxInputTokens  int                       `yaml:"max_input_tokens"` // 0 disables truncation
	OpenAIBaseURL   string                    `yaml:"openai_base_url"`
	GeminiBaseURL   string                    `yaml:"gemini_base_url"`
	AnthropicURL    string                    `yaml:"anthropic_url"`
	Gateways        []GatewayConfig           `yaml:"gateways"`
	Templates       map[string]TemplateConfig `yaml:"templates"`
}

type WorkerConfig struct {
	SchedulerMode       string        `yaml:"scheduler_mode"` // poller | redis
	MaxConcurrentJobs   int           `yaml:"max_concurrent_jobs"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	QueueMaxAttempts    int           `yaml:"queue_max_attempts"`
	DequeueTimeout      time.Duration `yaml:"dequeue_timeout"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	StuckJobTimeout     time.Duration `yaml:"stuck_job_timeout"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Worker   WorkerConfig   `yaml:"worker"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (a missing file is fine in dev mode),
// applies environment overrides, defaults, and validation.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
		// dev mode runs on defaults
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.Runtime.Dev = dev
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SCHEDULER_MODE"); v != "" {
		cfg.Worker.SchedulerMode = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.HTTP.JWTSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "analysis"
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 2 * time.Minute
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 4096
	}

	w := &cfg.Worker
	w.SchedulerMode = strings.ToLower(strings.TrimSpace(w.SchedulerMode))
	if w.SchedulerMode == "" {
		w.SchedulerMode = SchedulerModePoller
	}
	if w.MaxConcurrentJobs <= 0 {
		w.MaxConcurrentJobs = 3
	}
	if w.RetryAttempts <= 0 {
		w.RetryAttempts = 3
	}
	if w.RetryDelay <= 0 {
		w.RetryDelay = 5 * time.Second
	}
	if w.PollInterval <= 0 {
		w.PollInterval = 5 * time.Second
	}
	if w.QueueMaxAttempts <= 0 {
		w.QueueMaxAttempts = 3
	}
	if w.DequeueTimeout <= 0 {
		w.DequeueTimeout = 5 * time.Second
	}
	if w.MaintenanceInterval <= 0 {
		w.MaintenanceInterval = time.Minute
	}
	if w.StuckJobTimeout <= 0 {
		w.StuckJobTimeout = 30 * time.Minute
	}

	if cfg.Runtime.Dev && cfg.Security.EncryptionKey == "" {
		cfg.Security.EncryptionKey = "0123456789abcdef0123456789abcdef"
	}
}

// Validate performs minimal validation after defaults are applied.
func (c *Config) Validate() error {
	switch c.Worker.SchedulerMode {
	case SchedulerModePoller, SchedulerModeRedis:
	default:
		return fmt.Errorf("worker.scheduler_mode must be %q or %q, got %q",
			SchedulerModePoller, SchedulerModeRedis, c.Worker.SchedulerMode)
	}
	if c.Worker.SchedulerMode == SchedulerModeRedis && c.Redis.URL == "" {
		return errors.New("redis.url is required when worker.scheduler_mode is redis")
	}
	if c.Runtime.Dev {
		return nil
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if n := len(c.Security.EncryptionKey); n != 16 && n != 24 && n != 32 {
		return errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	if c.HTTP.JWTSecret == "" {
		return errors.New("http.jwt_secret is required")
	}
	return nil
}
