package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the simulator.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Simulator SimulatorConfig `yaml:"simulator"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Journal   JournalConfig   `yaml:"journal"`
}

// SimulatorConfig selects the setup document and profiles to simulate.
type SimulatorConfig struct {
	// ID identifies this instance in MQTT topics and metrics.
	// Empty means a random UUID per run.
	ID string `yaml:"id"`

	SetupFile     string `yaml:"setup_file"`
	Server        string `yaml:"server"`
	Device        string `yaml:"device"`
	CustomActions string `yaml:"custom_actions"`

	// StartupGrace is how long the protocol server must stay up before the
	// HTTP listener opens.
	StartupGrace time.Duration `yaml:"startup_grace"`

	// ShutdownTimeout bounds the wait for the protocol server on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WebDir serves static assets from a directory instead of the embedded set.
	WebDir string `yaml:"web_dir"`

	Timeouts HTTPTimeoutConfig `yaml:"timeouts"`
}

// HTTPTimeoutConfig contains HTTP timeout settings in seconds.
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// ReportInterval is how often request counters are written, in seconds.
	ReportInterval int `yaml:"report_interval"`
}

// JournalConfig contains the SQLite lifecycle journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MODSIM_SECTION_KEY
// For example: MODSIM_HTTP_PORT, MODSIM_JOURNAL_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulator: SimulatorConfig{
			SetupFile:       "setup.json",
			Server:          "server",
			Device:          "device",
			StartupGrace:    100 * time.Millisecond,
			ShutdownTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Host: "localhost",
			Port: 8080,
			Timeouts: HTTPTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File:   FileLoggingConfig{Path: "server.log"},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "modsim",
		},
		InfluxDB: InfluxDBConfig{
			URL:            "http://localhost:8086",
			Org:            "modsim",
			Bucket:         "modsim",
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 10,
		},
		Journal: JournalConfig{
			Path:        "./data/modsim.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MODSIM_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Simulator
	if v := os.Getenv("MODSIM_SETUP_FILE"); v != "" {
		cfg.Simulator.SetupFile = v
	}
	if v := os.Getenv("MODSIM_SERVER"); v != "" {
		cfg.Simulator.Server = v
	}
	if v := os.Getenv("MODSIM_DEVICE"); v != "" {
		cfg.Simulator.Device = v
	}

	// HTTP
	if v := os.Getenv("MODSIM_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("MODSIM_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MODSIM_HTTP_PORT: %w", err)
		}
		cfg.HTTP.Port = port
	}

	// Logging
	if v := os.Getenv("MODSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("MODSIM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MODSIM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MODSIM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MODSIM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Journal
	if v := os.Getenv("MODSIM_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Simulator validation
	if c.Simulator.SetupFile == "" {
		errs = append(errs, "simulator.setup_file is required")
	}
	if c.Simulator.Server == "" {
		errs = append(errs, "simulator.server is required")
	}
	if c.Simulator.Device == "" {
		errs = append(errs, "simulator.device is required")
	}
	if c.Simulator.StartupGrace < 0 {
		errs = append(errs, "simulator.startup_grace must not be negative")
	}
	if c.Simulator.ShutdownTimeout <= 0 {
		errs = append(errs, "simulator.shutdown_timeout must be positive")
	}

	// HTTP validation
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	// Logging validation
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Idle) * time.Second
}
