package gateway

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/pkg/security"
)

// Defaults for Config.
const (
	DefaultAddr           = ":8080"
	DefaultReadTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultMaxAssetBytes  = 4 << 20
	DefaultMaxAssetCount  = 8
	DefaultShutdownPeriod = 5 * time.Second
)

// Config holds configuration for the device HTTP server
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr"`

	// AdvertiseHost is the host put into the advertised base URL. When empty
	// the listen host is used, or the first non-loopback interface address
	// when the server listens on all interfaces.
	AdvertiseHost string `json:"advertise_host,omitempty"`

	TLS security.ServerTLSConfig `json:"tls,omitempty"`

	ReadTimeout  time.Duration `json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`

	// MaxAssetBytes limits a single stored asset.
	MaxAssetBytes int `json:"max_asset_bytes,omitempty"`
	// MaxAssets bounds the asset store; the oldest asset is evicted first.
	MaxAssets int `json:"max_assets,omitempty"`
}

// DefaultConfig returns a Config listening on DefaultAddr.
func DefaultConfig() Config {
	return Config{
		Addr:          DefaultAddr,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		MaxAssetBytes: DefaultMaxAssetBytes,
		MaxAssets:     DefaultMaxAssetCount,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxAssetBytes <= 0 {
		c.MaxAssetBytes = d.MaxAssetBytes
	}
	if c.MaxAssets <= 0 {
		c.MaxAssets = d.MaxAssets
	}
	return c
}

// Validate ensures the gateway configuration is valid
func (c Config) Validate() error {
	c = c.withDefaults()

	if _, _, err := splitAddr(c.Addr); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate",
			fmt.Sprintf("invalid listen address: %s", c.Addr))
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tls requires cert_file and key_file")
	}

	return nil
}

// splitAddr splits a listen address into host and port number.
func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// BaseURL builds the advertised base address http://<host>[:port]. The
// port is omitted when it is the scheme default.
func BaseURL(host string, port int, tls bool) string {
	if host == "" {
		return ""
	}
	scheme, defaultPort := "http", 80
	if tls {
		scheme, defaultPort = "https", 443
	}
	if port == 0 || port == defaultPort {
		return scheme + "://" + bracketIPv6(host)
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func bracketIPv6(host string) string {
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]"
	}
	return host
}

// advertiseHost picks the host for the base URL.
func advertiseHost(configured, listenHost string) string {
	if configured != "" {
		return configured
	}
	if listenHost != "" {
		if ip := net.ParseIP(listenHost); ip == nil || !ip.IsUnspecified() {
			return listenHost
		}
	}
	return firstInterfaceIP()
}

// firstInterfaceIP returns the first non-loopback IPv4 address, or "".
func firstInterfaceIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
