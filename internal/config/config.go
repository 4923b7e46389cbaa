package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pushwire/pushwire-go/internal/logging"
	"github.com/pushwire/pushwire-go/internal/ops"
	"github.com/pushwire/pushwire-go/internal/telemetry"
	"github.com/pushwire/pushwire-go/pkg/client"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Ops       OpsConfig       `yaml:"ops"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig identifies the push server to connect to
type ServerConfig struct {
	URL       string `yaml:"url"`
	Path      string `yaml:"path"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
	UserID    int64  `yaml:"user_id"`
}

// ClientConfig contains transport tuning settings
type ClientConfig struct {
	PingIntervalSeconds     int     `yaml:"ping_interval_seconds"`
	MissedPongLimit         int     `yaml:"missed_pong_limit"`
	ReconnectIntervalMs     int     `yaml:"reconnect_interval_ms"`
	BackoffFactor           float64 `yaml:"backoff_factor"`
	MaxReconnectIntervalMs  int     `yaml:"max_reconnect_interval_ms"`
	MaxReconnectAttempts    int     `yaml:"max_reconnect_attempts"`
	HandshakeTimeoutSeconds int     `yaml:"handshake_timeout_seconds"`
	WriteTimeoutSeconds     int     `yaml:"write_timeout_seconds"`
	SendRatePerSecond       float64 `yaml:"send_rate_per_second"`
	SendBurst               int     `yaml:"send_burst"`
}

// OpsConfig contains settings for the local operations endpoint
type OpsConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:  "http://localhost:8080",
			Path: "/ws/notifications",
		},
		Client: ClientConfig{
			PingIntervalSeconds:     30,
			MissedPongLimit:         0,
			ReconnectIntervalMs:     3000,
			BackoffFactor:           1.5,
			MaxReconnectIntervalMs:  60000,
			MaxReconnectAttempts:    10,
			HandshakeTimeoutSeconds: 10,
			WriteTimeoutSeconds:     10,
			SendRatePerSecond:       0,
			SendBurst:               8,
		},
		Ops: OpsConfig{
			Addr:         ":9090",
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			GlobalFields:  map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "pushwire-bridge",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	// Start with default configuration
	config := DefaultConfig()

	// Read and parse configuration file
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, serverURL string, opsAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	// Load from file if specified
	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		// Use default config
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if serverURL != "" {
		config.Server.URL = serverURL
	}

	if opsAddr != "" {
		config.Ops.Addr = opsAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	// Server config overrides
	if serverURL := os.Getenv("PUSHWIRE_SERVER_URL"); serverURL != "" {
		config.Server.URL = serverURL
	}
	if token := os.Getenv("PUSHWIRE_SERVER_TOKEN"); token != "" {
		config.Server.Token = token
	}
	if tokenFile := os.Getenv("PUSHWIRE_SERVER_TOKEN_FILE"); tokenFile != "" {
		config.Server.TokenFile = tokenFile
	}
	if userIDStr := os.Getenv("PUSHWIRE_SERVER_USER_ID"); userIDStr != "" {
		if val, err := strconv.ParseInt(userIDStr, 10, 64); err == nil {
			config.Server.UserID = val
		}
	}

	// Ops config overrides
	if addr := os.Getenv("PUSHWIRE_OPS_ADDR"); addr != "" {
		config.Ops.Addr = addr
	}

	// Logging config overrides
	if level := os.Getenv("PUSHWIRE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("PUSHWIRE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Telemetry config overrides
	if endpoint := os.Getenv("PUSHWIRE_TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
	}
}

// ToClientConfig converts the central config to a transport client config.
// When a token file is configured it is read on every connection attempt,
// so token rotation does not require a restart.
func (c *Config) ToClientConfig() client.Config {
	cfg := client.Config{
		ServerURL:            c.Server.URL,
		Path:                 c.Server.Path,
		PingInterval:         time.Duration(c.Client.PingIntervalSeconds) * time.Second,
		MissedPongLimit:      c.Client.MissedPongLimit,
		ReconnectInterval:    time.Duration(c.Client.ReconnectIntervalMs) * time.Millisecond,
		BackoffFactor:        c.Client.BackoffFactor,
		MaxReconnectInterval: time.Duration(c.Client.MaxReconnectIntervalMs) * time.Millisecond,
		MaxReconnectAttempts: c.Client.MaxReconnectAttempts,
		HandshakeTimeout:     time.Duration(c.Client.HandshakeTimeoutSeconds) * time.Second,
		WriteTimeout:         time.Duration(c.Client.WriteTimeoutSeconds) * time.Second,
		SendRatePerSecond:    c.Client.SendRatePerSecond,
		SendBurst:            c.Client.SendBurst,
	}

	if c.Server.TokenFile != "" {
		tokenFile := c.Server.TokenFile
		cfg.TokenSource = func() (string, error) {
			data, err := os.ReadFile(tokenFile)
			if err != nil {
				return "", fmt.Errorf("read token file: %w", err)
			}
			return strings.TrimSpace(string(data)), nil
		}
	} else if c.Server.Token != "" {
		cfg.TokenSource = client.StaticToken(c.Server.Token)
	}

	return cfg
}

// ToLoggingConfig converts the central config to a logging config
func (c *Config) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:             logging.LogLevel(c.Logging.Level),
		Format:            logging.LogFormat(c.Logging.Format),
		IncludeCaller:     c.Logging.IncludeCaller,
		IncludeStacktrace: true,
		GlobalFields:      c.Logging.GlobalFields,
	}
}

// ToTelemetryConfig converts the central config to a telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
		Attributes:    c.Telemetry.Attributes,
	}
}

// ToOpsConfig converts the central config to an ops server config
func (c *Config) ToOpsConfig() ops.Config {
	return ops.Config{
		Addr:          c.Ops.Addr,
		ReadTimeout:   time.Duration(c.Ops.ReadTimeout) * time.Second,
		WriteTimeout:  time.Duration(c.Ops.WriteTimeout) * time.Second,
		IdleTimeout:   time.Duration(c.Ops.IdleTimeout) * time.Second,
		ServiceName:   c.Telemetry.ServiceName,
		EnableMetrics: c.Metrics.Enabled,
		EnableTracing: c.Telemetry.Enabled,
	}
}
