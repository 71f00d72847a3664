package config

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader() *Loader {
	l := NewLoader()
	l.SetEnvironment(map[string]string{})
	return l
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := newTestLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, TransportMQTT, cfg.Transport.Kind)
	assert.Equal(t, DefaultMQTTPort, cfg.Transport.EndpointPort)
	assert.Equal(t, "mcp/dev", cfg.Device.TopicPrefix)
	assert.Equal(t, 60*time.Second, cfg.Transport.KeepAlive.D())
	assert.Equal(t, 5*time.Second, cfg.Transport.ConnectTimeout.D())
	assert.Equal(t, 10*time.Millisecond, cfg.Intervals.Tick.D())
	assert.Equal(t, 30*time.Second, cfg.Intervals.Status.D())
	assert.Equal(t, 300*time.Second, cfg.Intervals.Announce.D())
	assert.Equal(t, 3*time.Second, cfg.Intervals.Reconnect.D())
	assert.Equal(t, 4, cfg.Queue.Capacity)
	assert.Equal(t, 768, cfg.Queue.MaxPayload)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Provisioning().HasMinimum())
}

func TestLoader_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "device.json",
			content: `{
				"device": {"id": "dev-010203"},
				"transport": {"kind": "nats", "endpoint_host": "broker.local"},
				"intervals": {"status": "15s"}
			}`,
		},
		{
			name: "yaml",
			file: "device.yaml",
			content: `device:
  id: dev-010203
transport:
  kind: nats
  endpoint_host: broker.local
intervals:
  status: 15s
`,
		},
		{
			name: "toml",
			file: "device.toml",
			content: `[device]
id = "dev-010203"

[transport]
kind = "nats"
endpoint_host = "broker.local"

[intervals]
status = "15s"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoader()
			l.EnableValidation(true)
			cfg, err := l.LoadFile(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, "dev-010203", cfg.Device.ID)
			assert.Equal(t, TransportNATS, cfg.Transport.Kind)
			assert.Equal(t, DefaultNATSPort, cfg.Transport.EndpointPort)
			assert.Equal(t, 15*time.Second, cfg.Intervals.Status.D())
			// Untouched sections keep their defaults.
			assert.Equal(t, 300*time.Second, cfg.Intervals.Announce.D())
			assert.Equal(t, 4, cfg.Queue.Capacity)
			assert.True(t, cfg.Provisioning().HasMinimum())
		})
	}
}

func TestLoader_LayersDeepMerge(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"transport": {"endpoint_host": "a.local", "username": "dev"},
		"queue": {"capacity": 8}
	}`)
	site := writeFile(t, "site.yaml", "transport:\n  endpoint_host: b.local\n")

	l := newTestLoader()
	l.AddLayer(base)
	l.AddLayer(site)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "b.local", cfg.Transport.EndpointHost)
	assert.Equal(t, "dev", cfg.Transport.Username)
	assert.Equal(t, 8, cfg.Queue.Capacity)
	assert.Equal(t, 768, cfg.Queue.MaxPayload)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "device.json", `{"transport": {"endpoint_host": "file.local"}}`)

	l := NewLoader()
	l.SetEnvironment(map[string]string{
		"SABA_DEVICE_ID":       "dev-ENV001",
		"SABA_ENDPOINT_HOST":   "env.local",
		"SABA_ENDPOINT_PORT":   "8883",
		"SABA_STATUS_INTERVAL": "5s",
		"SABA_QUEUE_CAPACITY":  "2",
		"SABA_TLS_ENABLED":     "true",
		"SABA_HTTP_ENABLED":    "false",
		"OTHER_DEVICE_ID":      "ignored",
	})
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "dev-ENV001", cfg.Device.ID)
	assert.Equal(t, "env.local", cfg.Transport.EndpointHost)
	assert.Equal(t, 8883, cfg.Transport.EndpointPort)
	assert.Equal(t, 5*time.Second, cfg.Intervals.Status.D())
	assert.Equal(t, 2, cfg.Queue.Capacity)
	assert.True(t, cfg.Transport.TLS.Enabled)
	assert.False(t, cfg.HTTP.Enabled)
	// Unset variables keep file and default values.
	assert.Equal(t, 300*time.Second, cfg.Intervals.Announce.D())
}

func TestLoader_EnvParseError(t *testing.T) {
	l := NewLoader()
	l.SetEnvironment(map[string]string{"SABA_ENDPOINT_PORT": "not-a-number"})
	_, err := l.Load()
	assert.Error(t, err)
}

func TestLoader_RejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "unsupported extension", path: func(t *testing.T) string { return writeFile(t, "device.ini", "x=1") }},
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.json") }},
		{name: "traversal", path: func(*testing.T) string { return "../../etc/device.json" }},
		{name: "malformed json", path: func(t *testing.T) string { return writeFile(t, "bad.json", `{"device": `) }},
		{name: "malformed yaml", path: func(t *testing.T) string { return writeFile(t, "bad.yaml", "device: [") }},
		{name: "malformed toml", path: func(t *testing.T) string { return writeFile(t, "bad.toml", "[device") }},
		{name: "directory", path: func(t *testing.T) string {
			dir := filepath.Join(t.TempDir(), "dir.json")
			require.NoError(t, os.Mkdir(dir, 0o700))
			return dir
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().LoadFile(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestValidateJSONDepth(t *testing.T) {
	deep := ""
	for i := 0; i <= maxJSONDepth; i++ {
		deep += "["
	}
	for i := 0; i <= maxJSONDepth; i++ {
		deep += "]"
	}
	assert.Error(t, validateJSONDepth([]byte(deep)))
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "[[[[", "b": [1, 2]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": 1`)))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Transport.EndpointHost = "broker.local"
		cfg.Normalize()
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing host", mutate: func(c *Config) { c.Transport.EndpointHost = "" }},
		{name: "port range", mutate: func(c *Config) { c.Transport.EndpointPort = 70000 }},
		{name: "unknown kind", mutate: func(c *Config) { c.Transport.Kind = "amqp" }},
		{name: "device id with slash", mutate: func(c *Config) { c.Device.ID = "a/b" }},
		{name: "device id with wildcard", mutate: func(c *Config) { c.Device.ID = "dev+1" }},
		{name: "device id with dot", mutate: func(c *Config) { c.Device.ID = "dev.1" }},
		{name: "zero status interval", mutate: func(c *Config) { c.Intervals.Status = 0 }},
		{name: "negative tick", mutate: func(c *Config) { c.Intervals.Tick = Duration(-time.Second) }},
		{name: "zero capacity", mutate: func(c *Config) { c.Queue.Capacity = 0 }},
		{name: "tiny payload", mutate: func(c *Config) { c.Queue.MaxPayload = 16 }},
		{name: "empty prefix", mutate: func(c *Config) { c.Device.TopicPrefix = "" }},
		{name: "http without addr", mutate: func(c *Config) { c.HTTP.Addr = "" }},
		{name: "bad tls version", mutate: func(c *Config) { c.Transport.TLS.MinVersion = "1.0" }},
		{name: "missing ca file", mutate: func(c *Config) { c.Transport.TLS.CAFiles = []string{"/nonexistent/ca.pem"} }},
		{name: "half client cert", mutate: func(c *Config) { c.Transport.TLS.CertFile = "cert.pem" }},
		{name: "server tls without cert", mutate: func(c *Config) { c.HTTP.TLS.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_ValidateMemoryNeedsNoEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = TransportMemory
	cfg.Normalize()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Transport.EndpointPort)
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Queue.Capacity = 0
	cfg.Intervals.Status = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.capacity")
	assert.Contains(t, err.Error(), "intervals.status")
	assert.Contains(t, err.Error(), "endpoint_host")
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1m30s","b":250,"c":"2d"}`), &v))
	assert.Equal(t, 90*time.Second, v.A.D())
	assert.Equal(t, 250*time.Millisecond, v.B.D())
	assert.Equal(t, 48*time.Hour, v.C.D())

	data, err := json.Marshal(v.A)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestConfig_CloneAndString(t *testing.T) {
	cfg := Default()
	cfg.Transport.Password = "secret"
	cfg.Transport.TLS.CAFiles = []string{"a.pem"}

	clone := cfg.Clone()
	clone.Transport.TLS.CAFiles[0] = "b.pem"
	assert.Equal(t, "a.pem", cfg.Transport.TLS.CAFiles[0])
	assert.Equal(t, cfg.Intervals, clone.Intervals)

	assert.NotContains(t, cfg.String(), "secret")
	assert.Equal(t, "secret", cfg.Transport.Password)
}

func TestSafeConfig(t *testing.T) {
	cfg := Default()
	cfg.Transport.EndpointHost = "broker.local"
	cfg.Normalize()
	sc := NewSafeConfig(cfg)

	got := sc.Get()
	got.Device.ID = "mutated"
	assert.Empty(t, sc.Get().Device.ID)

	bad := Default()
	bad.Queue.Capacity = 0
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = sc.Get()
		}()
		go func() {
			defer wg.Done()
			_ = sc.Update(cfg.Clone())
		}()
	}
	wg.Wait()
}

func TestDeviceID(t *testing.T) {
	mac := net.HardwareAddr{0x24, 0x6f, 0x28, 0xa1, 0xb2, 0x0c}
	assert.Equal(t, "dev-A1B20C", DeviceIDFromMAC(mac))
	assert.Empty(t, DeviceIDFromMAC(net.HardwareAddr{1, 2}))

	assert.Equal(t, "dev-host-lab-1", DeviceIDFromHostname("host.lab 1"))
	assert.Empty(t, DeviceIDFromHostname("  "))

	id := DefaultDeviceID()
	assert.True(t, ValidTopicSegment(id), id)

	cfg := Default()
	cfg.Device.ID = "dev-fixed"
	assert.Equal(t, "dev-fixed", cfg.ResolveDeviceID())
}
