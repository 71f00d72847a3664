// Package security holds the TLS settings shared by the broker transports and the
// device HTTP gateway.
package security

// ClientTLSConfig configures TLS toward the broker.
// The system CA bundle is always trusted; CAFiles are additional roots.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty"`          // "1.2" or "1.3"
	ServerName         string   `json:"server_name,omitempty"`

	// Client certificate for brokers that require mutual TLS.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// HasClientCert reports whether a client certificate pair is configured.
func (c ClientTLSConfig) HasClientCert() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// ServerTLSConfig configures TLS for the device HTTP gateway.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"`
}
