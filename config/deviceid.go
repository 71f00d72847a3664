package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// DeviceIDFromMAC derives "dev-XXXXXX" from the last three bytes of a
// hardware address. It returns "" for addresses shorter than six bytes.
func DeviceIDFromMAC(mac net.HardwareAddr) string {
	if len(mac) < 6 {
		return ""
	}
	return fmt.Sprintf("dev-%02X%02X%02X", mac[3], mac[4], mac[5])
}

// DeviceIDFromHostname turns a hostname into a topic-safe device id.
func DeviceIDFromHostname(hostname string) string {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range hostname {
		if strings.ContainsRune("/+#.*> \t\r\n", r) {
			b.WriteRune('-')
			continue
		}
		b.WriteRune(r)
	}
	return "dev-" + b.String()
}

// DefaultDeviceID picks a stable id for the host: the first non-loopback
// hardware address, else the hostname, else "dev-unknown".
func DefaultDeviceID() string {
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if id := DeviceIDFromMAC(iface.HardwareAddr); id != "" {
				return id
			}
		}
	}
	if hostname, err := os.Hostname(); err == nil {
		if id := DeviceIDFromHostname(hostname); id != "" {
			return id
		}
	}
	return "dev-unknown"
}

// ResolveDeviceID returns the configured id, falling back to DefaultDeviceID.
func (c *Config) ResolveDeviceID() string {
	if c.Device.ID != "" {
		return c.Device.ID
	}
	return DefaultDeviceID()
}
