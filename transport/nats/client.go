// Package nats implements transport.Client on NATS.
//
// Topics map to subjects by replacing "/" with "." ("+" becomes "*" and "#"
// becomes ">"). NATS has no retained messages or broker-held will, so:
//   - retained publishes are also written to a JetStream key-value bucket
//     keyed by subject, and an empty retained payload deletes the key;
//   - Subscribe replays the bucket's current values for the filter before
//     live delivery starts;
//   - there is no will: a clean Disconnect suppresses it on every transport,
//     and a lost NATS connection cannot publish anything. Controllers see
//     the device go stale through the periodic status instead.
package nats

import (
	"context"
	"crypto/tls"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/natsclient"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// DefaultBucket is the KV bucket holding retained values.
const DefaultBucket = "SABA_RETAINED"

// Config holds the connection parameters.
type Config struct {
	URL            string
	Name           string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	TLS            *tls.Config
	Bucket         string
}

// Client is a transport.Client backed by natsclient.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	nc   *natsclient.Client
	kv   *natsclient.KVStore
	lost func(error)
}

var _ transport.Client = (*Client)(nil)

// New creates a disconnected client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, logger: logger.With("component", "nats", "url", cfg.URL)}
}

// Subject converts a topic or topic filter to a NATS subject.
func Subject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// Topic converts a NATS subject back to a topic.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (c *Client) clientOptions() []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(natsclient.NewSlogLogger(c.logger)),
		natsclient.WithTimeout(c.cfg.ConnectTimeout),
		// reconnect is driven by the device runtime
		natsclient.WithMaxReconnects(0),
		natsclient.WithDisconnectCallback(c.onDisconnect),
	}
	if c.cfg.Name != "" {
		opts = append(opts, natsclient.WithName(c.cfg.Name))
	}
	if c.cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.TLS != nil {
		opts = append(opts, natsclient.WithTLSConfig(c.cfg.TLS))
	}
	return opts
}

// Connect dials the server and opens the retained bucket. A server without
// JetStream still works; retained replay is then unavailable. will is
// ignored.
func (c *Client) Connect(ctx context.Context, _ *transport.Message) error {
	c.mu.Lock()
	stale := c.nc
	c.nc, c.kv = nil, nil
	c.mu.Unlock()
	if stale != nil {
		_ = stale.Close(ctx)
	}

	nc, err := natsclient.NewClient(c.cfg.URL, c.clientOptions()...)
	if err != nil {
		return errors.WrapInvalid(err, "nats.Client", "Connect", "build client")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := nc.Connect(ctx); err != nil {
		return err
	}

	var kv *natsclient.KVStore
	bucket, err := nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      c.cfg.Bucket,
		Description: "Retained device topics",
		History:     1,
	})
	if err != nil {
		c.logger.Warn("Retained bucket unavailable, retained replay disabled", "bucket", c.cfg.Bucket, "error", err)
	} else {
		kv = nc.NewKVStore(bucket)
	}

	c.mu.Lock()
	c.nc = nc
	c.kv = kv
	c.mu.Unlock()
	return nil
}

// Subscribe replays retained values matching topic, then subscribes to live
// messages.
func (c *Client) Subscribe(ctx context.Context, topic string, handler transport.Handler) error {
	nc, kv, err := c.current()
	if err != nil {
		return err
	}

	subject := Subject(topic)
	if kv != nil {
		err := kv.Snapshot(ctx, subject, func(e natsclient.KVEntry) {
			handler(transport.Message{Topic: Topic(e.Key), Payload: e.Value, Retained: true})
		})
		if err != nil {
			c.logger.Warn("Retained replay failed", "subject", subject, "error", err)
		}
	}

	return nc.Subscribe(ctx, subject, func(_ context.Context, subj string, data []byte) {
		handler(transport.Message{Topic: Topic(subj), Payload: data})
	})
}

// Publish sends payload on the subject for topic. Retained payloads are
// also stored in the bucket; an empty retained payload only clears it.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	nc, kv, err := c.current()
	if err != nil {
		return err
	}
	return publish(ctx, nc, kv, topic, payload, retained)
}

func publish(ctx context.Context, nc *natsclient.Client, kv *natsclient.KVStore, topic string, payload []byte, retained bool) error {
	subject := Subject(topic)
	if retained && kv != nil {
		if len(payload) == 0 {
			return kv.Delete(ctx, subject)
		}
		if _, err := kv.Put(ctx, subject, payload); err != nil {
			return err
		}
	}
	if retained && len(payload) == 0 {
		return nil
	}
	return nc.Publish(ctx, subject, payload)
}

// Disconnect drains and closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	nc := c.nc
	c.nc, c.kv = nil, nil
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	return nc.Close(ctx)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil && c.nc.Status() == natsclient.StatusConnected
}

func (c *Client) SetConnectionLostHandler(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = fn
}

func (c *Client) onDisconnect(err error) {
	c.mu.Lock()
	lost := c.lost
	c.mu.Unlock()

	if lost != nil {
		lost(errors.Wrap(errors.ErrConnectionLost, "nats.Client", "onDisconnect", errString(err)))
	}
}

func (c *Client) current() (*natsclient.Client, *natsclient.KVStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil || c.nc.Status() != natsclient.StatusConnected {
		return nil, nil, errors.ErrNotConnected
	}
	return c.nc, c.kv, nil
}

func errString(err error) string {
	if err == nil {
		return "connection"
	}
	return err.Error()
}
