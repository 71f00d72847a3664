package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/config"
	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/transport/memory"
	"github.com/kawaiiTaiga/project-SABA/transport/mqtt"
	"github.com/kawaiiTaiga/project-SABA/transport/nats"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	cli, err := parseFlags([]string{
		"--config", "device.yaml",
		"--log-level", "debug",
		"--transport", "nats",
		"--validate",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "device.yaml", cli.ConfigPath)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "nats", cli.Transport)
	assert.True(t, cli.Validate)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name string
		cli  CLIConfig
		ok   bool
	}{
		{"defaults", CLIConfig{ShutdownTimeout: time.Second}, true},
		{"missing config file", CLIConfig{ConfigPath: "/nope/device.yaml", ShutdownTimeout: time.Second}, false},
		{"bad level", CLIConfig{LogLevel: "loud", ShutdownTimeout: time.Second}, false},
		{"bad format", CLIConfig{LogFormat: "xml", ShutdownTimeout: time.Second}, false},
		{"bad transport", CLIConfig{Transport: "udp", ShutdownTimeout: time.Second}, false},
		{"bad device id", CLIConfig{DeviceID: "a/b", ShutdownTimeout: time.Second}, false},
		{"version skips checks", CLIConfig{ShowVersion: true, LogLevel: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cli)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestApplyFlags_TransportRederivesDefaultPort(t *testing.T) {
	cfg := config.Default()
	cfg.Normalize()
	require.Equal(t, config.DefaultMQTTPort, cfg.Transport.EndpointPort)

	applyFlags(&CLIConfig{Transport: config.TransportNATS}, cfg)
	assert.Equal(t, config.TransportNATS, cfg.Transport.Kind)
	assert.Equal(t, config.DefaultNATSPort, cfg.Transport.EndpointPort)

	cfg.Transport.EndpointPort = 9000
	applyFlags(&CLIConfig{Transport: config.TransportMQTT}, cfg)
	assert.Equal(t, 9000, cfg.Transport.EndpointPort)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out, io.Discard))
	assert.Contains(t, out.String(), appName+" version "+Version)
}

func TestRun_Validate(t *testing.T) {
	path := writeConfig(t, "device.yaml", `
device:
  id: dev-TEST01
transport:
  kind: memory
http:
  enabled: false
`)
	var out bytes.Buffer
	require.NoError(t, run([]string{"--config", path, "--validate", "--log-format", "text"}, &out, io.Discard))
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "dev-TEST01")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "device.toml", `
[transport]
kind = "mqtt"
endpoint_host = ""
`)
	err := run([]string{"--config", path, "--validate"}, io.Discard, io.Discard)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestBuildClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Transport.Kind = config.TransportMemory
	c, err := buildClient(cfg, "dev-1", logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.Client{}, c)

	cfg.Transport.Kind = config.TransportMQTT
	cfg.Transport.EndpointHost = "broker.local"
	cfg.Normalize()
	c, err = buildClient(cfg, "dev-1", logger)
	require.NoError(t, err)
	assert.IsType(t, &mqtt.Client{}, c)

	cfg.Transport.Kind = config.TransportNATS
	c, err = buildClient(cfg, "dev-1", logger)
	require.NoError(t, err)
	assert.IsType(t, &nats.Client{}, c)

	cfg.Transport.TLS.Enabled = true
	cfg.Transport.TLS.CAFiles = []string{"/nope/ca.pem"}
	_, err = buildClient(cfg, "dev-1", logger)
	assert.Error(t, err)

	cfg.Transport.Kind = "carrier-pigeon"
	_, err = buildClient(cfg, "dev-1", logger)
	assert.Error(t, err)
}

func TestAssemble_RunsOverMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = config.TransportMemory
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Normalize()
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := assemble(cfg, "dev-MEM001", logger, cancel)
	require.NoError(t, err)
	require.NotNil(t, app.server)
	require.NotNil(t, app.builtin.Snapshot)

	done := make(chan error, 1)
	go func() { done <- app.run(ctx, 2*time.Second) }()

	require.Eventually(t, app.runtime.IsConnected, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, app.server.BaseURL())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestApplication_StoppedRuntimeFailsRunAndStopsGateway(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = config.TransportMemory
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Normalize()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := assemble(cfg, "dev-MEM002", logger, func() {})
	require.NoError(t, err)

	// A runtime is single use.
	require.NoError(t, app.runtime.Start(context.Background()))
	require.NoError(t, app.runtime.Stop(time.Second))

	done := make(chan error, 1)
	go func() { done <- app.run(context.Background(), time.Second) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the runtime failed to start")
	}
	select {
	case <-app.server.Done():
	default:
		t.Fatal("gateway still serving")
	}
}
