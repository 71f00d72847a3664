package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "SABA"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	environ    map[string]string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvironment replaces the process environment as the override source.
// Tests use it to avoid touching os.Environ.
func (l *Loader) SetEnvironment(environ map[string]string) {
	l.environ = environ
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every file layer and the environment, in that order.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads a file layer into a generic map.
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	return decodeRaw(format, data)
}

func decodeRaw(format Format, data []byte) (map[string]any, error) {
	raw := map[string]any{}
	switch format {
	case FormatJSON:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case FormatYAML:
		if len(bytes.TrimSpace(data)) == 0 {
			return raw, nil
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// envOverrides lists the environment variables the loader honours. Unset
// variables leave their pointer nil and do not override file values.
type envOverrides struct {
	DeviceID    *string `env:"DEVICE_ID"`
	TopicPrefix *string `env:"TOPIC_PREFIX"`
	HTTPBase    *string `env:"HTTP_BASE"`

	Transport      *string        `env:"TRANSPORT"`
	EndpointHost   *string        `env:"ENDPOINT_HOST"`
	EndpointPort   *int           `env:"ENDPOINT_PORT"`
	Username       *string        `env:"USERNAME"`
	Password       *string        `env:"PASSWORD"`
	ClientID       *string        `env:"CLIENT_ID"`
	ConnectTimeout *time.Duration `env:"CONNECT_TIMEOUT"`
	TLSEnabled     *bool          `env:"TLS_ENABLED"`
	TLSCAFiles     []string       `env:"TLS_CA_FILES" envSeparator:","`

	StatusInterval    *time.Duration `env:"STATUS_INTERVAL"`
	AnnounceInterval  *time.Duration `env:"ANNOUNCE_INTERVAL"`
	ReconnectInterval *time.Duration `env:"RECONNECT_INTERVAL"`

	QueueCapacity   *int `env:"QUEUE_CAPACITY"`
	QueueMaxPayload *int `env:"QUEUE_MAX_PAYLOAD"`

	HTTPEnabled   *bool   `env:"HTTP_ENABLED"`
	HTTPAddr      *string `env:"HTTP_ADDR"`
	AdvertiseHost *string `env:"HTTP_ADVERTISE_HOST"`

	LogLevel  *string `env:"LOG_LEVEL"`
	LogFormat *string `env:"LOG_FORMAT"`

	ValidateToolArgs *bool `env:"VALIDATE_TOOL_ARGS"`
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	opts := env.Options{Prefix: DefaultEnvPrefix + "_"}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Device.ID, o.DeviceID)
	setString(&cfg.Device.TopicPrefix, o.TopicPrefix)
	setString(&cfg.Device.HTTPBase, o.HTTPBase)

	setString(&cfg.Transport.Kind, o.Transport)
	setString(&cfg.Transport.EndpointHost, o.EndpointHost)
	if o.EndpointPort != nil {
		cfg.Transport.EndpointPort = *o.EndpointPort
	}
	setString(&cfg.Transport.Username, o.Username)
	setString(&cfg.Transport.Password, o.Password)
	setString(&cfg.Transport.ClientID, o.ClientID)
	setDuration(&cfg.Transport.ConnectTimeout, o.ConnectTimeout)
	if o.TLSEnabled != nil {
		cfg.Transport.TLS.Enabled = *o.TLSEnabled
	}
	if len(o.TLSCAFiles) > 0 {
		cfg.Transport.TLS.CAFiles = o.TLSCAFiles
	}

	setDuration(&cfg.Intervals.Status, o.StatusInterval)
	setDuration(&cfg.Intervals.Announce, o.AnnounceInterval)
	setDuration(&cfg.Intervals.Reconnect, o.ReconnectInterval)

	if o.QueueCapacity != nil {
		cfg.Queue.Capacity = *o.QueueCapacity
	}
	if o.QueueMaxPayload != nil {
		cfg.Queue.MaxPayload = *o.QueueMaxPayload
	}

	if o.HTTPEnabled != nil {
		cfg.HTTP.Enabled = *o.HTTPEnabled
	}
	setString(&cfg.HTTP.Addr, o.HTTPAddr)
	setString(&cfg.HTTP.AdvertiseHost, o.AdvertiseHost)

	setString(&cfg.Log.Level, o.LogLevel)
	setString(&cfg.Log.Format, o.LogFormat)

	if o.ValidateToolArgs != nil {
		cfg.Validation.ToolArgs = *o.ValidateToolArgs
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setDuration(dst *Duration, v *time.Duration) {
	if v != nil {
		*dst = Duration(*v)
	}
}
