package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kawaiiTaiga/project-SABA/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Transport       string
	DeviceID        string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Flags default to the environment; empty means "use the config file".
	fs.StringVar(&cfg.ConfigPath, "config", getEnv("SABA_CONFIG", ""),
		"Path to configuration file, json/yaml/toml (env: SABA_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("SABA_CONFIG", ""),
		"Path to configuration file (env: SABA_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: SABA_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: SABA_LOG_FORMAT)")
	fs.StringVar(&cfg.Transport, "transport", "",
		"Transport: mqtt, nats, memory (env: SABA_TRANSPORT)")
	fs.StringVar(&cfg.DeviceID, "device-id", "",
		"Device id, derived from the host when empty (env: SABA_DEVICE_ID)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SABA_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: SABA_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Transport != "" && !contains([]string{config.TransportMQTT, config.TransportNATS, config.TransportMemory}, cfg.Transport) {
		return fmt.Errorf("invalid transport: %s", cfg.Transport)
	}
	if cfg.DeviceID != "" && !config.ValidTopicSegment(cfg.DeviceID) {
		return fmt.Errorf("invalid device id: %s", cfg.DeviceID)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

// applyFlags overrides loaded configuration with explicit flags.
func applyFlags(cli *CLIConfig, cfg *config.Config) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.Transport != "" && cli.Transport != cfg.Transport.Kind {
		// A port defaulted for the old transport is re-derived for the new one.
		if cfg.Transport.EndpointPort == defaultPort(cfg.Transport.Kind) {
			cfg.Transport.EndpointPort = 0
		}
		cfg.Transport.Kind = cli.Transport
	}
	if cli.DeviceID != "" {
		cfg.Device.ID = cli.DeviceID
	}
	cfg.Normalize()
}

func defaultPort(kind string) int {
	switch kind {
	case config.TransportMQTT:
		return config.DefaultMQTTPort
	case config.TransportNATS:
		return config.DefaultNATSPort
	}
	return 0
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - device command and telemetry runtime

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run against a local MQTT broker
  %[1]s --config=/etc/saba/device.yaml

  # Dry run without a broker
  %[1]s --transport=memory --log-level=debug --log-format=text

  # Run with environment variables
  export SABA_TRANSPORT=nats
  export SABA_ENDPOINT_HOST=nats.local
  %[1]s

  # Validate configuration only
  %[1]s --config=device.toml --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
