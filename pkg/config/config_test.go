package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20.0, cfg.Server.RequestsPerSecond)
	assert.Equal(t, 40, cfg.Server.RateBurst)
	assert.Equal(t, 9090, cfg.Observability.Port)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
  requests_per_second: 50
store:
  type: redis
  redis:
    addr: localhost:6379
    terminal_ttl: 24h
renderer:
  base_url: https://renderer.internal:8443
  call_timeout: 5s
workflow:
  provision_timeout: 30s
  poll_interval: 2s
  retry_attempts: 6
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 50.0, cfg.Server.RequestsPerSecond)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "https://renderer.internal:8443", cfg.Renderer.BaseURL)

	require.NoError(t, cfg.Validate())

	redisCfg, err := cfg.RedisStoreConfig()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, redisCfg.SessionTTL)

	rendererCfg, err := cfg.RendererClientConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, rendererCfg.CallTimeout)

	wfCfg, err := cfg.WorkflowEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, wfCfg.ProvisionTimeout)
	assert.Equal(t, 2*time.Second, wfCfg.PollInterval)
	assert.Equal(t, 6, wfCfg.RetryAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvFallbacks(t *testing.T) {
	t.Setenv("GAMECAST_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("RENDERER_BASE_URL", "https://renderer.internal")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "https://renderer.internal", cfg.Renderer.BaseURL)
}

func TestLoadConfig_FileWinsOverEnv(t *testing.T) {
	t.Setenv("RENDERER_BASE_URL", "https://env.renderer.internal")

	path := writeConfigFile(t, `
renderer:
  base_url: https://file.renderer.internal
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.renderer.internal", cfg.Renderer.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid memory store",
			mutate: func(c *Config) {},
		},
		{
			name:    "redis store without addr",
			mutate:  func(c *Config) { c.Store.Type = "redis" },
			wantErr: true,
		},
		{
			name: "redis store with addr",
			mutate: func(c *Config) {
				c.Store.Type = "redis"
				c.Store.Redis.Addr = "localhost:6379"
			},
		},
		{
			name:    "unknown store type",
			mutate:  func(c *Config) { c.Store.Type = "dynamo" },
			wantErr: true,
		},
		{
			name:    "missing renderer base url",
			mutate:  func(c *Config) { c.Renderer.BaseURL = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			cfg.Renderer.BaseURL = "https://renderer.internal"
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowEngineConfig_InvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `
workflow:
  provision_timeout: soon
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = cfg.WorkflowEngineConfig()
	assert.Error(t, err)
}
