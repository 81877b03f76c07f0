// Package config loads the exporter configuration from a JSON, TOML or YAML
// file, applies environment variable overrides and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks every loading or validation failure. Configuration errors
// are never retried.
var ErrConfig = errors.New("configuration error")

// Duration wraps time.Duration so that every supported format can decode
// "30s"-style strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (JSON and TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UPSConfig is one UPS entry under a server.
type UPSConfig struct {
	Name   string            `json:"name" toml:"name" yaml:"name"`
	Labels map[string]string `json:"labels" toml:"labels" yaml:"labels"`
}

// ServerConfig is one upsd server.
type ServerConfig struct {
	Host     string      `json:"host" toml:"host" yaml:"host" validate:"required"`
	Port     int         `json:"port" toml:"port" yaml:"port" validate:"min=1,max=65535"`
	Username string      `json:"username" toml:"username" yaml:"username"`
	Password string      `json:"password" toml:"password" yaml:"password"`
	UPSes    []UPSConfig `json:"upses" toml:"upses" yaml:"upses" validate:"dive"`
}

// MQTTConfig holds the optional MQTT mirror settings. An empty Broker
// disables the mirror.
type MQTTConfig struct {
	Broker      string `json:"broker" toml:"broker" yaml:"broker"`
	Username    string `json:"username" toml:"username" yaml:"username"`
	Password    string `json:"password" toml:"password" yaml:"password"`
	ClientID    string `json:"client_id" toml:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" toml:"topic_prefix" yaml:"topic_prefix"`
	Retained    bool   `json:"retained" toml:"retained" yaml:"retained"`
	QOS         byte   `json:"qos" toml:"qos" yaml:"qos" validate:"max=2"`
	TLSCACert   string `json:"tls_ca_cert" toml:"tls_ca_cert" yaml:"tls_ca_cert"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// Config is the top-level configuration struct.
type Config struct {
	Servers       []ServerConfig    `json:"servers" toml:"servers" yaml:"servers" validate:"required,min=1,dive"`
	FilterMetrics []string          `json:"filter_metrics" toml:"filter_metrics" yaml:"filter_metrics"`
	RenameVars    map[string]string `json:"rename_vars" toml:"rename_vars" yaml:"rename_vars"`
	CacheTTL      int               `json:"cache_ttl" toml:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
	MetricsPath   string            `json:"metrics_path" toml:"metrics_path" yaml:"metrics_path" validate:"required,startswith=/,excludesall={}*"`

	Listen          string   `json:"listen" toml:"listen" yaml:"listen" validate:"required"`
	TelemetryListen string   `json:"telemetry_listen" toml:"telemetry_listen" yaml:"telemetry_listen"`
	CacheFile       string   `json:"cache_file" toml:"cache_file" yaml:"cache_file"`
	ConnectTimeout  Duration `json:"connect_timeout" toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout     Duration `json:"read_timeout" toml:"read_timeout" yaml:"read_timeout"`
	LogLevel        string   `json:"log_level" toml:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string   `json:"log_format" toml:"log_format" yaml:"log_format" validate:"oneof=text json"`

	MQTT MQTTConfig `json:"mqtt" toml:"mqtt" yaml:"mqtt"`
}

// TTL returns CacheTTL as a time.Duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// SlogLevel maps LogLevel onto slog levels.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads config from the first existing path in paths, fills defaults,
// applies environment variable overrides and validates the result. The
// format follows the file extension: .toml, .yaml/.yml, anything else JSON.
// Every error wraps ErrConfig.
func Load(paths ...string) (*Config, error) {
	path, err := firstExisting(paths)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %w", ErrConfig, path, err)
	}

	cfg := defaults()
	if err := decode(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %w", ErrConfig, path, err)
	}
	cfg.fillServerDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstExisting(paths []string) (string, error) {
	var tried []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		tried = append(tried, path)
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil // first found file wins
		} else if !os.IsNotExist(statErr) {
			return "", fmt.Errorf("%w: checking config path %q: %w", ErrConfig, path, statErr)
		}
	}
	return "", fmt.Errorf("%w: no configuration file found (tried %s)", ErrConfig, strings.Join(tried, ", "))
}

func decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func defaults() *Config {
	return &Config{
		CacheTTL:       15,
		MetricsPath:    "/metrics",
		Listen:         ":9199",
		ConnectTimeout: Duration{3 * time.Second},
		ReadTimeout:    Duration{2 * time.Second},
		LogLevel:       "info",
		LogFormat:      "text",
		MQTT: MQTTConfig{
			ClientID:    "nut-exporter",
			TopicPrefix: "nut",
			Retained:    true,
			QOS:         1,
		},
	}
}

// fillServerDefaults applies per-server defaults, which cannot be pre-seeded
// because decoders allocate list elements fresh.
func (c *Config) fillServerDefaults() {
	for i := range c.Servers {
		if c.Servers[i].Host == "" {
			c.Servers[i].Host = "localhost"
		}
		if c.Servers[i].Port == 0 {
			c.Servers[i].Port = 3493
		}
	}
}

// applyEnvOverrides copies any set NUT_EXPORTER_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NUT_EXPORTER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("NUT_EXPORTER_TELEMETRY_LISTEN"); v != "" {
		cfg.TelemetryListen = v
	}
	if v := os.Getenv("NUT_EXPORTER_METRICS_PATH"); v != "" {
		cfg.MetricsPath = v
	}
	if v := os.Getenv("NUT_EXPORTER_CACHE_TTL"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTL = ttl
		} else {
			slog.Warn("config: ignoring invalid NUT_EXPORTER_CACHE_TTL", "value", v, "error", err)
		}
	}
	if v := os.Getenv("NUT_EXPORTER_CACHE_FILE"); v != "" {
		cfg.CacheFile = v
	}
	if v := os.Getenv("NUT_EXPORTER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NUT_EXPORTER_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("NUT_EXPORTER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("NUT_EXPORTER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}
