// Package config loads the castd service configuration from YAML with
// environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gamecast-dev/gamecast/internal/workflow"
	"github.com/gamecast-dev/gamecast/pkg/renderer"
	"github.com/gamecast-dev/gamecast/pkg/session"
)

// Config represents the service configuration.
type Config struct {
	// Server holds the API server settings.
	Server ServerConfig `yaml:"server"`

	// Observability holds the health/metrics server settings.
	Observability ObservabilityConfig `yaml:"observability"`

	// Store selects and configures the session store backend.
	Store StoreConfig `yaml:"store"`

	// Renderer configures the renderer fleet client.
	Renderer RendererConfig `yaml:"renderer"`

	// Workflow configures workflow timing and retry policy.
	Workflow WorkflowConfig `yaml:"workflow"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port              int     `yaml:"port"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RateBurst         int     `yaml:"rate_burst"`
}

// ObservabilityConfig holds health/metrics server settings.
type ObservabilityConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Type is one of "memory", "file", "redis".
	Type string `yaml:"type"`
	// BaseDir is the base directory for file storage.
	BaseDir string `yaml:"base_dir"`
	// Redis holds Redis connection settings.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// TerminalTTL is the expiry applied to terminal session records,
	// e.g. "24h". Empty means never expire.
	TerminalTTL string `yaml:"terminal_ttl"`
	PoolSize    int    `yaml:"pool_size"`
}

// RendererConfig holds renderer fleet client settings.
type RendererConfig struct {
	BaseURL string `yaml:"base_url"`
	// CallTimeout bounds each control call, e.g. "10s".
	CallTimeout string `yaml:"call_timeout"`
}

// WorkflowConfig holds workflow timing policy. Durations are strings like
// "45s"; empty fields take the workflow package defaults.
type WorkflowConfig struct {
	ProvisionTimeout     string `yaml:"provision_timeout"`
	PollInterval         string `yaml:"poll_interval"`
	PollJitter           string `yaml:"poll_jitter"`
	RetryAttempts        int    `yaml:"retry_attempts"`
	RetryBaseDelay       string `yaml:"retry_base_delay"`
	CallTimeout          string `yaml:"call_timeout"`
	SweepSchedule        string `yaml:"sweep_schedule"`
	StalenessThreshold   string `yaml:"staleness_threshold"`
	MaxConcurrentResumes int    `yaml:"max_concurrent_resumes"`
}

// LoadConfig loads configuration from a YAML file. A missing path loads
// defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestsPerSecond == 0 {
		cfg.Server.RequestsPerSecond = 20
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 40
	}
	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9090
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Store.BaseDir == "" {
		cfg.Store.BaseDir = "./data/sessions"
	}

	// Environment fallbacks
	if addr := os.Getenv("GAMECAST_REDIS_ADDR"); addr != "" && cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = addr
	}
	if pw := os.Getenv("GAMECAST_REDIS_PASSWORD"); pw != "" && cfg.Store.Redis.Password == "" {
		cfg.Store.Redis.Password = pw
	}
	if base := os.Getenv("RENDERER_BASE_URL"); base != "" && cfg.Renderer.BaseURL == "" {
		cfg.Renderer.BaseURL = base
	}

	return &cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "file":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store type %q (want memory, file or redis)", c.Store.Type)
	}

	if c.Renderer.BaseURL == "" {
		return fmt.Errorf("renderer.base_url is required")
	}

	return nil
}

// RedisStoreConfig converts the store settings for the session package.
func (c *Config) RedisStoreConfig() (session.RedisConfig, error) {
	ttl, err := parseDuration(c.Store.Redis.TerminalTTL, 0)
	if err != nil {
		return session.RedisConfig{}, fmt.Errorf("store.redis.terminal_ttl: %w", err)
	}

	return session.RedisConfig{
		Addr:       c.Store.Redis.Addr,
		Password:   c.Store.Redis.Password,
		DB:         c.Store.Redis.DB,
		Prefix:     c.Store.Redis.Prefix,
		SessionTTL: ttl,
		PoolSize:   c.Store.Redis.PoolSize,
	}, nil
}

// RendererClientConfig converts the renderer settings.
func (c *Config) RendererClientConfig() (renderer.ClientConfig, error) {
	timeout, err := parseDuration(c.Renderer.CallTimeout, 0)
	if err != nil {
		return renderer.ClientConfig{}, fmt.Errorf("renderer.call_timeout: %w", err)
	}

	return renderer.ClientConfig{
		BaseURL:     c.Renderer.BaseURL,
		CallTimeout: timeout,
	}, nil
}

// WorkflowEngineConfig converts the workflow settings; zero fields take
// the workflow package defaults.
func (c *Config) WorkflowEngineConfig() (workflow.Config, error) {
	out := workflow.Config{
		RetryAttempts:        c.Workflow.RetryAttempts,
		SweepSchedule:        c.Workflow.SweepSchedule,
		MaxConcurrentResumes: c.Workflow.MaxConcurrentResumes,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"workflow.provision_timeout", c.Workflow.ProvisionTimeout, &out.ProvisionTimeout},
		{"workflow.poll_interval", c.Workflow.PollInterval, &out.PollInterval},
		{"workflow.poll_jitter", c.Workflow.PollJitter, &out.PollJitter},
		{"workflow.retry_base_delay", c.Workflow.RetryBaseDelay, &out.RetryBaseDelay},
		{"workflow.call_timeout", c.Workflow.CallTimeout, &out.CallTimeout},
		{"workflow.staleness_threshold", c.Workflow.StalenessThreshold, &out.StalenessThreshold},
	}

	for _, d := range durations {
		v, err := parseDuration(d.value, 0)
		if err != nil {
			return workflow.Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	return out, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
