package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Engine      EngineConfig      `yaml:"engine"`
	Platform    PlatformConfig    `yaml:"platform"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings for the dedup ledger,
// daily counters, and per-recipient locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig holds dispatcher and delay-queue settings
type EngineConfig struct {
	Workers             int `yaml:"workers"`
	QueueTickSeconds    int `yaml:"queue_tick_seconds"`
	MaxSendAttempts     int `yaml:"max_send_attempts"`
	RetryBaseDelayMs    int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs     int `yaml:"retry_max_delay_ms"`
	EventDedupeTTLHours int `yaml:"event_dedupe_ttl_hours"`
}

// PlatformConfig holds social platform Graph API settings
type PlatformConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MaintenanceConfig holds schedules for background cleanup jobs
type MaintenanceConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DedupPruneSchedule string `yaml:"dedup_prune_schedule"`
	QueueSweepSchedule string `yaml:"queue_sweep_schedule"`
}

// QueueTick returns the delay-queue poll interval as a duration.
func (e EngineConfig) QueueTick() time.Duration {
	return time.Duration(e.QueueTickSeconds) * time.Second
}

// RetryBaseDelay returns the first-retry backoff as a duration.
func (e EngineConfig) RetryBaseDelay() time.Duration {
	return time.Duration(e.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling as a duration.
func (e EngineConfig) RetryMaxDelay() time.Duration {
	return time.Duration(e.RetryMaxDelayMs) * time.Millisecond
}

// Timeout returns the platform HTTP timeout as a duration.
func (p PlatformConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 8
	}
	if cfg.Engine.QueueTickSeconds == 0 {
		cfg.Engine.QueueTickSeconds = 1
	}
	if cfg.Engine.MaxSendAttempts == 0 {
		cfg.Engine.MaxSendAttempts = 3
	}
	if cfg.Engine.RetryBaseDelayMs == 0 {
		cfg.Engine.RetryBaseDelayMs = 500
	}
	if cfg.Engine.RetryMaxDelayMs == 0 {
		cfg.Engine.RetryMaxDelayMs = 10000
	}
	if cfg.Engine.EventDedupeTTLHours == 0 {
		cfg.Engine.EventDedupeTTLHours = 24
	}
	if cfg.Platform.BaseURL == "" {
		cfg.Platform.BaseURL = "https://graph.instagram.com/v21.0"
	}
	if cfg.Platform.TimeoutSeconds == 0 {
		cfg.Platform.TimeoutSeconds = 15
	}
	if cfg.Maintenance.DedupPruneSchedule == "" {
		cfg.Maintenance.DedupPruneSchedule = "0 3 * * *"
	}
	if cfg.Maintenance.QueueSweepSchedule == "" {
		cfg.Maintenance.QueueSweepSchedule = "*/10 * * * *"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in the deploy environment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PLATFORM_BASE_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}

	return cfg, nil
}
