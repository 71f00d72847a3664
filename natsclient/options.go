package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"
)

// Logger is the printf-style logger the client writes through.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type defaultLogger struct{}

func (defaultLogger) Printf(format string, v ...any) {
	slog.Default().Info(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (defaultLogger) Errorf(format string, v ...any) {
	slog.Default().Error(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (defaultLogger) Debugf(format string, v ...any) {
	slog.Default().Debug(fmt.Sprintf(format, v...), "component", "natsclient")
}

type slogLogger struct{ l *slog.Logger }

// NewSlogLogger adapts a *slog.Logger to Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return &defaultLogger{}
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Printf(format string, v ...any) { s.l.Info(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Errorf(format string, v ...any) { s.l.Error(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Debugf(format string, v ...any) { s.l.Debug(fmt.Sprintf(format, v...)) }

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithMaxReconnects sets library reconnect attempts: -1 retries forever, 0
// leaves reconnects to the caller.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between library reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the server ping interval, which bounds how long a
// dead connection goes unnoticed.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithLogger sets the client logger.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithDisconnectCallback is called, on its own goroutine, when an open
// connection drops. It is not called after Close.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called after a library reconnect.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithCredentials sets user/password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username, c.password = username, password
		return nil
	}
}

// WithTLSConfig enables TLS (see pkg/tlsutil).
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithName sets the connection name shown in server monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}
