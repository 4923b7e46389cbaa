package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotNil(t, cfg)

	// Check some default values
	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, "/ws/notifications", cfg.Server.Path)
	assert.Equal(t, 30, cfg.Client.PingIntervalSeconds)
	assert.Equal(t, 3000, cfg.Client.ReconnectIntervalMs)
	assert.Equal(t, 1.5, cfg.Client.BackoffFactor)
	assert.Equal(t, 10, cfg.Client.MaxReconnectAttempts)
	assert.Equal(t, ":9090", cfg.Ops.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	// Write a test config file
	testConfig := `server:
  url: "https://push.example.com"
  token: "file-token"
  user_id: 42
client:
  reconnect_interval_ms: 500
  max_reconnect_attempts: 3
logging:
  level: "debug"
`
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	// Load the config
	cfg, err := LoadConfigFromFile(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Check the loaded values
	assert.Equal(t, "https://push.example.com", cfg.Server.URL)
	assert.Equal(t, "file-token", cfg.Server.Token)
	assert.Equal(t, int64(42), cfg.Server.UserID)
	assert.Equal(t, 500, cfg.Client.ReconnectIntervalMs)
	assert.Equal(t, 3, cfg.Client.MaxReconnectAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Default values should be used for unspecified fields
	assert.Equal(t, 1.5, cfg.Client.BackoffFactor)
	assert.Equal(t, ":9090", cfg.Ops.Addr)
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	// A missing file falls back to defaults
	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
}

func TestLoadConfig(t *testing.T) {
	// Write a test config file
	testConfig := `server:
  url: "https://file.example.com"
ops:
  addr: ":8181"
logging:
  level: "debug"
`
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	// Override with environment variables and command-line flags
	t.Setenv("PUSHWIRE_SERVER_URL", "https://env.example.com")
	t.Setenv("PUSHWIRE_OPS_ADDR", ":7070")

	cfg, err := LoadConfig(configFile, "", ":6060", "warn")
	require.NoError(t, err)

	// Env vars should take precedence over the file
	assert.Equal(t, "https://env.example.com", cfg.Server.URL)

	// Command-line flags should take precedence over env vars
	assert.Equal(t, ":6060", cfg.Ops.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestToClientConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Token = "static-token"

	clientCfg := cfg.ToClientConfig()

	assert.Equal(t, cfg.Server.URL, clientCfg.ServerURL)
	assert.Equal(t, cfg.Server.Path, clientCfg.Path)
	assert.Equal(t, 30*time.Second, clientCfg.PingInterval)
	assert.Equal(t, 3*time.Second, clientCfg.ReconnectInterval)
	assert.Equal(t, 60*time.Second, clientCfg.MaxReconnectInterval)
	assert.Equal(t, cfg.Client.MaxReconnectAttempts, clientCfg.MaxReconnectAttempts)

	require.NotNil(t, clientCfg.TokenSource)
	token, err := clientCfg.TokenSource()
	require.NoError(t, err)
	assert.Equal(t, "static-token", token)
}

func TestToClientConfigTokenFile(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("rotating-token\n"), 0600))

	cfg := DefaultConfig()
	cfg.Server.TokenFile = tokenFile

	clientCfg := cfg.ToClientConfig()
	require.NotNil(t, clientCfg.TokenSource)

	token, err := clientCfg.TokenSource()
	require.NoError(t, err)
	assert.Equal(t, "rotating-token", token)

	// The file is re-read on every call, so rotation needs no restart
	require.NoError(t, os.WriteFile(tokenFile, []byte("rotated\n"), 0600))
	token, err = clientCfg.TokenSource()
	require.NoError(t, err)
	assert.Equal(t, "rotated", token)
}

func TestToOpsConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false

	opsCfg := cfg.ToOpsConfig()
	assert.Equal(t, cfg.Ops.Addr, opsCfg.Addr)
	assert.Equal(t, 5*time.Second, opsCfg.ReadTimeout)
	assert.Equal(t, cfg.Telemetry.ServiceName, opsCfg.ServiceName)
	assert.False(t, opsCfg.EnableMetrics)
	assert.False(t, opsCfg.EnableTracing)
}
