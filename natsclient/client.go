package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kawaiiTaiga/project-SABA/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = fmt.Errorf("nats: %w", errors.ErrNotConnected)

// MsgHandler receives one message. ctx is the context passed to Subscribe.
type MsgHandler func(ctx context.Context, subject string, data []byte)

// Client manages one NATS connection and its JetStream context.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username   string
	password   string
	tlsConfig  *tls.Config
	clientName string

	onDisconnect func(error)
	onReconnect  func()

	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for url. It does not dial; call Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        &defaultLogger{},
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus { return c.status.Load().(ConnectionStatus) }

// IsHealthy returns true if the connection is established
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(func(*nats.Conn) { c.status.Store(StatusDisconnected) }),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Errorf("NATS error: %v", err)
		}),
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect dials the server. It may be called again after a connection loss
// or Close. A server without JetStream still connects.
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(StatusConnecting)
	c.logger.Debugf("Connecting to NATS at %s", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.natsOptions()...)
		done <- result{conn, err}
	}()

	var conn *nats.Conn
	select {
	case res := <-done:
		if res.err != nil {
			c.status.Store(StatusDisconnected)
			if isAuthError(res.err) {
				return errors.WrapFatal(res.err, "Client", "Connect", "authenticate")
			}
			return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
		}
		conn = res.conn
	case <-ctx.Done():
		c.status.Store(StatusDisconnected)
		// Close a connection that completes after we gave up.
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		c.logger.Errorf("JetStream unavailable: %v", err)
	}

	c.mu.Lock()
	c.conn, c.js, c.subs = conn, js, nil
	c.mu.Unlock()

	c.closed.Store(false)
	c.status.Store(StatusConnected)
	c.logger.Printf("Connected to NATS at %s", c.url)
	return nil
}

// Close drains and closes the connection. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	conn, subs := c.conn, c.subs
	c.conn, c.js, c.subs = nil, nil, nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}

	if conn != nil {
		wait := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < wait {
				wait = remaining
			}
		}
		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(wait):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", wait), "Client", "Close", "drain"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
		}
		conn.Close()
	}

	c.status.Store(StatusDisconnected)
	return stderrors.Join(errs...)
}

// Subscribe registers handler for subject. Handlers run on the NATS delivery
// goroutine for the subscription.
func (c *Client) Subscribe(ctx context.Context, subject string, handler MsgHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Publish publishes data to subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// CreateKeyValueBucket opens the bucket, creating it when missing.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil || c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		return bucket, nil
	}
	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err == nil {
		c.logger.Printf("Created KV bucket: %s", cfg.Bucket)
		return bucket, nil
	}
	if !isAlreadyExistsError(err) {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	// Lost a creation race with another device.
	bucket, err = js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket", "open bucket "+cfg.Bucket)
	}
	return bucket, nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.status.Store(StatusReconnecting)
	if err != nil {
		c.logger.Errorf("Disconnected: %v", err)
	}
	if c.onDisconnect != nil {
		go c.onDisconnect(err)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.status.Store(StatusConnected)
	if c.onReconnect != nil {
		go c.onReconnect()
	}
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}

// isAuthError reports credential failures. The server sends them as -ERR
// text during the handshake, so only some arrive as sentinels.
func isAuthError(err error) bool {
	if stderrors.Is(err, nats.ErrAuthorization) || stderrors.Is(err, nats.ErrAuthExpired) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authorization violation") || strings.Contains(msg, "authentication")
}
