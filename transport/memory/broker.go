// Package memory provides an in-process publish/subscribe broker with
// retained messages and last-will delivery. It backs unit tests and dry runs
// without a network broker.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// Broker routes messages between the clients created from it.
type Broker struct {
	mu       sync.Mutex
	retained map[string][]byte
	clients  map[*Client]struct{}
	wire     []transport.Message
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		retained: make(map[string][]byte),
		clients:  make(map[*Client]struct{}),
	}
}

// NewClient creates a disconnected client attached to b.
func (b *Broker) NewClient(id string) *Client {
	return &Client{id: id, broker: b}
}

// Retained returns the retained payload for topic.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

// Wire returns every message routed by the broker, in publish order.
func (b *Broker) Wire() []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.Message, len(b.wire))
	copy(out, b.wire)
	return out
}

// WireFor returns the routed messages whose topic matches filter.
func (b *Broker) WireFor(filter string) []transport.Message {
	var out []transport.Message
	for _, m := range b.Wire() {
		if transport.Match(filter, m.Topic) {
			out = append(out, m)
		}
	}
	return out
}

// ResetWire clears the wire log.
func (b *Broker) ResetWire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wire = nil
}

// Drop simulates an abrupt connection loss for c: its will is published and
// its connection-lost handler runs.
func (b *Broker) Drop(c *Client) {
	b.mu.Lock()
	_, attached := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()
	if !attached {
		return
	}

	c.mu.Lock()
	will := c.will
	lost := c.lost
	c.connected.Store(false)
	c.subs = nil
	c.will = nil
	c.mu.Unlock()

	if will != nil {
		b.route(*will)
	}
	if lost != nil {
		lost(errors.ErrConnectionLost)
	}
}

func (b *Broker) route(msg transport.Message) {
	msg.Payload = append([]byte(nil), msg.Payload...)

	b.mu.Lock()
	b.wire = append(b.wire, msg)
	if msg.Retained {
		if len(msg.Payload) == 0 {
			delete(b.retained, msg.Topic)
		} else {
			b.retained[msg.Topic] = msg.Payload
		}
	}
	var targets []transport.Handler
	for c := range b.clients {
		targets = append(targets, c.matching(msg.Topic)...)
	}
	b.mu.Unlock()

	// Retained flag is only set for replays to new subscribers.
	delivered := transport.Message{Topic: msg.Topic, Payload: msg.Payload}
	for _, h := range targets {
		h(delivered)
	}
}

func (b *Broker) retainedMatching(filter string) []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []transport.Message
	for topic, payload := range b.retained {
		if transport.Match(filter, topic) {
			out = append(out, transport.Message{Topic: topic, Payload: payload, Retained: true})
		}
	}
	return out
}

// Client is a transport.Client connected to a Broker.
type Client struct {
	id     string
	broker *Broker

	mu         sync.Mutex
	connected  atomic.Bool
	will       *transport.Message
	subs       []transport.Subscription
	lost       func(error)
	connectErr error

	publishDelay time.Duration
	inflight     atomic.Int32
	overlaps     atomic.Int32
}

var _ transport.Client = (*Client)(nil)

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

// FailConnect makes subsequent Connect calls return err until cleared with nil.
func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// SetPublishDelay makes every Publish take at least d, widening the window
// in which overlapping calls can be observed.
func (c *Client) SetPublishDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishDelay = d
}

// Overlaps returns how many Publish calls started while another was running.
func (c *Client) Overlaps() int {
	return int(c.overlaps.Load())
}

func (c *Client) Connect(ctx context.Context, will *transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.connectErr != nil {
		err := c.connectErr
		c.mu.Unlock()
		return err
	}
	if will != nil {
		w := *will
		w.Payload = append([]byte(nil), will.Payload...)
		c.will = &w
	} else {
		c.will = nil
	}
	c.subs = nil
	c.connected.Store(true)
	c.mu.Unlock()

	c.broker.mu.Lock()
	c.broker.clients[c] = struct{}{}
	c.broker.mu.Unlock()
	return nil
}

func (c *Client) Subscribe(_ context.Context, topic string, handler transport.Handler) error {
	if !c.connected.Load() {
		return errors.ErrNotConnected
	}

	c.mu.Lock()
	c.subs = append(c.subs, transport.Subscription{Topic: topic, Handler: handler})
	c.mu.Unlock()

	for _, m := range c.broker.retainedMatching(topic) {
		handler(m)
	}
	return nil
}

func (c *Client) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	if c.inflight.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	defer c.inflight.Add(-1)

	if !c.connected.Load() {
		return errors.ErrNotConnected
	}

	c.mu.Lock()
	delay := c.publishDelay
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	c.broker.route(transport.Message{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (c *Client) Disconnect(_ context.Context) error {
	c.broker.mu.Lock()
	delete(c.broker.clients, c)
	c.broker.mu.Unlock()

	c.mu.Lock()
	c.connected.Store(false)
	c.subs = nil
	c.will = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) SetConnectionLostHandler(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = fn
}

func (c *Client) matching(topic string) []transport.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []transport.Handler
	for _, s := range c.subs {
		if transport.Match(s.Topic, topic) {
			out = append(out, s.Handler)
		}
	}
	return out
}
