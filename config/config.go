package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/pkg/security"
)

// Transport kinds
const (
	TransportMQTT   = "mqtt"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Default ports per transport kind
const (
	DefaultMQTTPort = 1883
	DefaultNATSPort = 4222
)

// Lower bound for queue.max_payload; smaller jobs cannot hold a command envelope.
const minMaxPayload = 64

// Config represents the complete device configuration
type Config struct {
	Device     DeviceConfig     `json:"device"`
	Transport  TransportConfig  `json:"transport"`
	Intervals  IntervalConfig   `json:"intervals"`
	Queue      QueueConfig      `json:"queue"`
	HTTP       HTTPConfig       `json:"http"`
	Log        LogConfig        `json:"log"`
	Validation ValidationConfig `json:"validation"`
}

// DeviceConfig identifies the device on the topic tree
type DeviceConfig struct {
	ID          string `json:"id,omitempty"`
	TopicPrefix string `json:"topic_prefix"`
	// HTTPBase overrides the advertised asset base URL when set.
	HTTPBase string `json:"http_base,omitempty"`
}

// TransportConfig defines the broker connection
type TransportConfig struct {
	Kind           string                   `json:"kind"`
	EndpointHost   string                   `json:"endpoint_host,omitempty"`
	EndpointPort   int                      `json:"endpoint_port,omitempty"`
	Username       string                   `json:"username,omitempty"`
	Password       string                   `json:"password,omitempty"`
	ClientID       string                   `json:"client_id,omitempty"`
	KeepAlive      Duration                 `json:"keep_alive"`
	ConnectTimeout Duration                 `json:"connect_timeout"`
	Bucket         string                   `json:"bucket,omitempty"` // NATS retained bucket
	TLS            security.ClientTLSConfig `json:"tls,omitempty"`
}

// IntervalConfig holds the control loop timer periods
type IntervalConfig struct {
	Tick      Duration `json:"tick"`
	Status    Duration `json:"status"`
	Announce  Duration `json:"announce"`
	Reconnect Duration `json:"reconnect"`
}

// QueueConfig sizes the job queue
type QueueConfig struct {
	Capacity   int `json:"capacity"`
	MaxPayload int `json:"max_payload"`
}

// HTTPConfig configures the device gateway
type HTTPConfig struct {
	Enabled       bool                     `json:"enabled"`
	Addr          string                   `json:"addr"`
	AdvertiseHost string                   `json:"advertise_host,omitempty"`
	TLS           security.ServerTLSConfig `json:"tls,omitempty"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// ValidationConfig toggles optional input validation
type ValidationConfig struct {
	ToolArgs bool `json:"tool_args"`
}

// Default returns the built-in configuration every loader starts from.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{TopicPrefix: "mcp/dev"},
		Transport: TransportConfig{
			Kind:           TransportMQTT,
			KeepAlive:      Duration(60 * time.Second),
			ConnectTimeout: Duration(5 * time.Second),
		},
		Intervals: IntervalConfig{
			Tick:      Duration(10 * time.Millisecond),
			Status:    Duration(30 * time.Second),
			Announce:  Duration(300 * time.Second),
			Reconnect: Duration(3 * time.Second),
		},
		Queue: QueueConfig{Capacity: 4, MaxPayload: 768},
		HTTP:  HTTPConfig{Enabled: true, Addr: ":8080"},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Normalize fills values that depend on other fields.
func (c *Config) Normalize() {
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	if c.Transport.EndpointPort == 0 {
		switch c.Transport.Kind {
		case TransportMQTT:
			c.Transport.EndpointPort = DefaultMQTTPort
		case TransportNATS:
			c.Transport.EndpointPort = DefaultNATSPort
		}
	}
	c.Device.TopicPrefix = strings.Trim(c.Device.TopicPrefix, "/")
}

// Provisioning is the minimal connection identity of a device.
type Provisioning struct {
	EndpointHost string `json:"endpoint_host"`
	EndpointPort int    `json:"endpoint_port"`
	DeviceID     string `json:"device_id"`
}

// HasMinimum reports whether a broker endpoint is known.
func (p Provisioning) HasMinimum() bool {
	return p.EndpointHost != "" && p.EndpointPort > 0
}

// Provisioning returns the provisioning view of the config.
func (c *Config) Provisioning() Provisioning {
	return Provisioning{
		EndpointHost: c.Transport.EndpointHost,
		EndpointPort: c.Transport.EndpointPort,
		DeviceID:     c.Device.ID,
	}
}

// Validate checks if the config is valid. All problems are reported together.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch c.Transport.Kind {
	case TransportMQTT, TransportNATS:
		if c.Transport.EndpointHost == "" {
			add("transport.endpoint_host is required for %s", c.Transport.Kind)
		}
		if c.Transport.EndpointPort < 1 || c.Transport.EndpointPort > 65535 {
			add("transport.endpoint_port %d out of range", c.Transport.EndpointPort)
		}
	case TransportMemory:
	default:
		add("transport.kind %q unknown (mqtt, nats, memory)", c.Transport.Kind)
	}

	if c.Device.ID != "" && !ValidTopicSegment(c.Device.ID) {
		add("device.id %q is not usable as a topic segment", c.Device.ID)
	}
	if c.Device.TopicPrefix == "" {
		add("device.topic_prefix is required")
	}

	for name, d := range map[string]Duration{
		"intervals.tick":            c.Intervals.Tick,
		"intervals.status":          c.Intervals.Status,
		"intervals.announce":        c.Intervals.Announce,
		"intervals.reconnect":       c.Intervals.Reconnect,
		"transport.connect_timeout": c.Transport.ConnectTimeout,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}

	if c.Queue.Capacity < 1 {
		add("queue.capacity must be at least 1")
	}
	if c.Queue.MaxPayload < minMaxPayload {
		add("queue.max_payload must be at least %d", minMaxPayload)
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		add("http.addr is required when http is enabled")
	}

	if err := validateSecurity(c); err != nil {
		problems = append(problems, err)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(problems...)),
		"Config", "Validate", "validate configuration",
	)
}

// ValidTopicSegment reports whether s can be used as one level of a topic
// on every transport (no separators or wildcards).
func ValidTopicSegment(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "/+#.*> \t\r\n")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.Transport.Password != "" {
		masked.Transport.Password = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config cannot be nil", errors.ErrMissingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
