package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Security limits for configuration
	maxConfigSize = 1 << 20 // 1MB max config file size
	maxJSONDepth  = 32      // Maximum JSON nesting depth
	maxPathLen    = 4096    // Maximum file path length
)

// Format is a config file encoding, chosen by extension.
type Format string

// Supported config file formats
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the format implied by the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config file type %q (json, yaml, yml, toml)", filepath.Ext(path))
	}
}

// validateConfigPath does basic path validation
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}

	_, err := FormatOf(path)
	return err
}

// safeReadFile reads a config file with security validation
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}

	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, nil
}

// validateJSONDepth checks JSON depth to prevent DoS attacks
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		b := data[i]

		if escaped {
			escaped = false
			continue
		}
		if b == '\\' && inString {
			escaped = true
			continue
		}
		if b == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return errors.New("malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}

// validateSecurity validates the TLS sections
func validateSecurity(c *Config) error {
	for i, caFile := range c.Transport.TLS.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("transport.tls.ca_files[%d]: %w", i, err)
		}
	}
	if c.Transport.TLS.MinVersion != "" {
		if err := validateTLSVersion(c.Transport.TLS.MinVersion); err != nil {
			return fmt.Errorf("transport.tls.min_version: %w", err)
		}
	}
	if (c.Transport.TLS.CertFile == "") != (c.Transport.TLS.KeyFile == "") {
		return errors.New("transport.tls.cert_file and key_file must be set together")
	}

	if c.HTTP.TLS.Enabled {
		if c.HTTP.TLS.CertFile == "" {
			return errors.New("http.tls.cert_file is required when TLS is enabled")
		}
		if c.HTTP.TLS.KeyFile == "" {
			return errors.New("http.tls.key_file is required when TLS is enabled")
		}
		if c.HTTP.TLS.MinVersion != "" {
			if err := validateTLSVersion(c.HTTP.TLS.MinVersion); err != nil {
				return fmt.Errorf("http.tls.min_version: %w", err)
			}
		}
	}
	return nil
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}
