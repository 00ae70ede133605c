package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the root configuration structure for Gray Logic Comm.
// Configuration is loaded from YAML or TOML and can be overridden by
// environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site" toml:"site"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	API      APIConfig      `yaml:"api" toml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" toml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Comm     CommConfig     `yaml:"comm" toml:"comm"`
	AWS      AWSConfig      `yaml:"aws" toml:"aws"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name" toml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts" toml:"max_attempts"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled" toml:"enabled"`
	Host      string           `yaml:"host" toml:"host"`
	Port      int              `yaml:"port" toml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors" toml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket" toml:"websocket"`
}

// CORSConfig lists the browser origins allowed to read the status API.
// An empty list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// WebSocketConfig contains settings of the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval" toml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout" toml:"pong_timeout"`   // seconds
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// CommConfig contains link defaults and the configured links.
type CommConfig struct {
	// Timeout bounds each request/response exchange.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// Retries is the retry budget of an operation after a comm fault.
	Retries int `yaml:"retries" toml:"retries"`

	// FailThreshold is the number of consecutive comm faults after which a
	// controller is marked comm-failed.
	FailThreshold int `yaml:"fail_threshold" toml:"fail_threshold"`

	// ProbeInterval spaces recovery probes to comm-failed controllers.
	ProbeInterval time.Duration `yaml:"probe_interval" toml:"probe_interval"`

	// ContentionDelay is how long an operation that found its device busy
	// waits before it is queued again.
	ContentionDelay time.Duration `yaml:"contention_delay" toml:"contention_delay"`

	// PollInterval is the default period of routine polling. Zero disables it.
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`

	// StatusInterval is the period of link health reports.
	StatusInterval time.Duration `yaml:"status_interval" toml:"status_interval"`

	// EventRetention is how long comm events are kept in the database.
	EventRetention time.Duration `yaml:"event_retention" toml:"event_retention"`

	Links []LinkConfig `yaml:"links" toml:"links"`
}

// LinkConfig describes one communication link. Unset fields inherit the
// comm defaults.
type LinkConfig struct {
	Name            string             `yaml:"name" toml:"name"`
	Protocol        string             `yaml:"protocol" toml:"protocol"`
	URI             string             `yaml:"uri" toml:"uri"`
	Enabled         *bool              `yaml:"enabled" toml:"enabled"`
	Timeout         time.Duration      `yaml:"timeout" toml:"timeout"`
	Retries         *int               `yaml:"retries" toml:"retries"`
	FailThreshold   int                `yaml:"fail_threshold" toml:"fail_threshold"`
	ProbeInterval   time.Duration      `yaml:"probe_interval" toml:"probe_interval"`
	ContentionDelay time.Duration      `yaml:"contention_delay" toml:"contention_delay"`
	PollInterval    *time.Duration     `yaml:"poll_interval" toml:"poll_interval"`
	Controllers     []ControllerConfig `yaml:"controllers" toml:"controllers"`
}

// IsEnabled reports whether the link should run. Links are enabled unless
// explicitly disabled.
func (l LinkConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// ControllerConfig describes one controller on a link.
type ControllerConfig struct {
	Name   string            `yaml:"name" toml:"name"`
	Drop   int               `yaml:"drop" toml:"drop"`
	Params map[string]string `yaml:"params" toml:"params"`
}

// AWSConfig contains settings of the automated warning system message
// file import.
type AWSConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	Path       string        `yaml:"path" toml:"path"`
	Interval   time.Duration `yaml:"interval" toml:"interval"`
	ReportPath string        `yaml:"report_path" toml:"report_path"`

	// Sign font numbers for the font names used in the file.
	SingleStrokeFont int `yaml:"single_stroke_font" toml:"single_stroke_font"`
	DoubleStrokeFont int `yaml:"double_stroke_font" toml:"double_stroke_font"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); .yaml/.yml or .toml by extension
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_COMM_TIMEOUT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-comm.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-comm",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Comm: CommConfig{
			Timeout:         2 * time.Second,
			Retries:         2,
			FailThreshold:   3,
			ProbeInterval:   30 * time.Second,
			ContentionDelay: time.Second,
			PollInterval:    30 * time.Second,
			StatusInterval:  time.Minute,
			EventRetention:  30 * 24 * time.Hour,
		},
		AWS: AWSConfig{
			Interval:         30 * time.Second,
			SingleStrokeFont: 1,
			DoubleStrokeFont: 2,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// AWS
	if v := os.Getenv("GRAYLOGIC_AWS_PATH"); v != "" {
		cfg.AWS.Path = v
	}

	// Comm defaults
	var errs []error
	durations := map[string]*time.Duration{
		"GRAYLOGIC_COMM_TIMEOUT":          &cfg.Comm.Timeout,
		"GRAYLOGIC_COMM_PROBE_INTERVAL":   &cfg.Comm.ProbeInterval,
		"GRAYLOGIC_COMM_CONTENTION_DELAY": &cfg.Comm.ContentionDelay,
		"GRAYLOGIC_COMM_POLL_INTERVAL":    &cfg.Comm.PollInterval,
		"GRAYLOGIC_COMM_STATUS_INTERVAL":  &cfg.Comm.StatusInterval,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"GRAYLOGIC_COMM_RETRIES":        &cfg.Comm.Retries,
		"GRAYLOGIC_COMM_FAIL_THRESHOLD": &cfg.Comm.FailThreshold,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			*dst = n
		}
	}

	return errors.Join(errs...)
}

// knownProtocols are the link protocols with a driver.
var knownProtocols = map[string]bool{
	"knx":         true,
	"ntcip":       true,
	"smartsensor": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Comm.Timeout <= 0 {
		errs = append(errs, "comm.timeout must be positive")
	}
	if c.Comm.Retries < 0 {
		errs = append(errs, "comm.retries must not be negative")
	}
	if c.Comm.FailThreshold < 1 {
		errs = append(errs, "comm.fail_threshold must be at least 1")
	}
	if c.Comm.ContentionDelay < 0 {
		errs = append(errs, "comm.contention_delay must not be negative")
	}

	errs = append(errs, c.Comm.validateLinks()...)

	if c.AWS.Enabled {
		if c.AWS.Path == "" {
			errs = append(errs, "aws.path is required when aws is enabled")
		}
		if c.AWS.Interval <= 0 {
			errs = append(errs, "aws.interval must be positive")
		}
		if c.AWS.SingleStrokeFont < 1 || c.AWS.SingleStrokeFont > 255 ||
			c.AWS.DoubleStrokeFont < 1 || c.AWS.DoubleStrokeFont > 255 {
			errs = append(errs, "aws fonts must be between 1 and 255")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c CommConfig) validateLinks() []string {
	var errs []string
	names := make(map[string]bool, len(c.Links))

	for i, l := range c.Links {
		prefix := fmt.Sprintf("comm.links[%d]", i)
		if l.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[l.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, l.Name))
		}
		names[l.Name] = true

		if !knownProtocols[l.Protocol] {
			errs = append(errs, fmt.Sprintf("%s.protocol %q is not supported", prefix, l.Protocol))
		}
		if l.URI == "" {
			errs = append(errs, prefix+".uri is required")
		}
		if l.Retries != nil && *l.Retries < 0 {
			errs = append(errs, prefix+".retries must not be negative")
		}
		if l.ContentionDelay < 0 {
			errs = append(errs, prefix+".contention_delay must not be negative")
		}

		ctrls := make(map[string]bool, len(l.Controllers))
		for j, ctrl := range l.Controllers {
			if ctrl.Name == "" {
				errs = append(errs, fmt.Sprintf("%s.controllers[%d].name is required", prefix, j))
			} else if ctrls[ctrl.Name] {
				errs = append(errs, fmt.Sprintf("%s.controllers[%d].name %q is duplicated", prefix, j, ctrl.Name))
			}
			ctrls[ctrl.Name] = true
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
