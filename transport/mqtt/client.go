// Package mqtt implements transport.Client on an MQTT 3.1.1 broker using the
// Eclipse paho client. Retained messages and the last will are native broker
// features; every message is published and subscribed at QoS 0.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

const qos byte = 0

// Config holds the connection parameters.
type Config struct {
	Host           string
	Port           int
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLS            *tls.Config
}

// BrokerURL returns the paho server URL for cfg.
func (cfg Config) BrokerURL() string {
	scheme := "tcp"
	if cfg.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}

// Client is a transport.Client backed by paho. Automatic reconnect is
// disabled; the device runtime owns the reconnect schedule.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client paho.Client
	lost   func(error)
}

var _ transport.Client = (*Client)(nil)

// New creates a disconnected client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	return &Client{cfg: cfg, logger: logger.With("component", "mqtt", "broker", cfg.BrokerURL())}
}

func (c *Client) options(will *transport.Message) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL()).
		SetClientID(c.cfg.ClientID).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetConnectionLostHandler(c.onConnectionLost)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.TLS != nil {
		opts.SetTLSConfig(c.cfg.TLS)
	}
	if will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, qos, will.Retained)
	}
	return opts
}

// Connect dials the broker and registers will.
func (c *Client) Connect(ctx context.Context, will *transport.Message) error {
	c.mu.Lock()
	if c.client != nil && c.client.IsConnectionOpen() {
		c.mu.Unlock()
		return nil
	}
	client := paho.NewClient(c.options(will))
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		if refused(err) {
			return errors.WrapFatal(err, "mqtt.Client", "Connect", "broker refused connection")
		}
		return fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.logger.Info("Connected", "client_id", c.cfg.ClientID)
	return nil
}

// Subscribe subscribes at QoS 0. Broker retained replays arrive with the
// Retained flag set.
func (c *Client) Subscribe(ctx context.Context, topic string, handler transport.Handler) error {
	client, err := c.current()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		handler(transport.Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()})
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Publish sends payload at QoS 0.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	if payload == nil {
		payload = []byte{}
	}
	return wait(ctx, client.Publish(topic, qos, retained, payload))
}

// Disconnect closes the connection cleanly; the broker discards the will.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

func (c *Client) SetConnectionLostHandler(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = fn
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.mu.Lock()
	lost := c.lost
	c.mu.Unlock()

	c.logger.Warn("Connection lost", "error", err)
	if lost != nil {
		lost(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err))
	}
}

func (c *Client) current() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil, errors.ErrNotConnected
	}
	return c.client, nil
}

// refused reports connack codes that retrying with the same settings
// cannot fix.
func refused(err error) bool {
	for _, target := range []error{
		packets.ErrorRefusedBadUsernameOrPassword,
		packets.ErrorRefusedNotAuthorised,
		packets.ErrorRefusedBadProtocolVersion,
		packets.ErrorRefusedIDRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
