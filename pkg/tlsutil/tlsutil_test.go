package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kawaiiTaiga/project-SABA/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"SABA Test"},
			CommonName:   "broker.local",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

func writeTestFiles(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	return certFile, keyFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestFiles(t)

	t.Run("disabled returns nil", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(security.ServerTLSConfig{})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("loads key pair", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(security.ServerTLSConfig{
			Enabled:    true,
			CertFile:   certFile,
			KeyFile:    keyFile,
			MinVersion: "1.3",
		})
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	})

	t.Run("missing files", func(t *testing.T) {
		_, err := LoadServerTLSConfig(security.ServerTLSConfig{
			Enabled:  true,
			CertFile: "/nonexistent/cert.pem",
			KeyFile:  "/nonexistent/key.pem",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tlsutil.LoadServerTLSConfig")
	})
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestFiles(t)

	t.Run("disabled returns nil", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{certFile}})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("system pool plus extra CA", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{
			Enabled:    true,
			CAFiles:    []string{certFile},
			ServerName: "broker.local",
		})
		require.NoError(t, err)
		require.NotNil(t, cfg.RootCAs)
		assert.Equal(t, "broker.local", cfg.ServerName)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.False(t, cfg.InsecureSkipVerify)
		assert.Empty(t, cfg.Certificates)
	})

	t.Run("client certificate", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
	})

	t.Run("insecure skip verify", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, InsecureSkipVerify: true})
		require.NoError(t, err)
		assert.True(t, cfg.InsecureSkipVerify)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := LoadClientTLSConfig(security.ClientTLSConfig{
			Enabled: true,
			CAFiles: []string{"/nonexistent/ca.pem"},
		})
		assert.Error(t, err)
	})

	t.Run("invalid PEM", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0644))

		_, err := LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{bad}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse CA certificate")
	})

	t.Run("missing client key", func(t *testing.T) {
		_, err := LoadClientTLSConfig(security.ClientTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  "/nonexistent/key.pem",
		})
		assert.Error(t, err)
	})
}

func TestParseTLSVersion(t *testing.T) {
	tests := []struct {
		version  string
		expected uint16
	}{
		{"1.3", tls.VersionTLS13},
		{"1.2", tls.VersionTLS12},
		{"", tls.VersionTLS12},
		{"1.0", tls.VersionTLS12},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseTLSVersion(tt.version))
		})
	}
}
