package transport

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/metric"
)

// Guard serialises every outbound operation on one Client. The lock is held
// for the whole call and released on every return path.
//
// Inbound handlers run on the client's delivery goroutine and must never
// call back into the Guard.
type Guard struct {
	mu      sync.Mutex
	client  Client
	logger  *slog.Logger
	metrics *metric.Metrics
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger for publish and connect failures.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records publish outcomes and connection state.
func WithMetrics(m *metric.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard wraps client.
func NewGuard(client Client, opts ...GuardOption) *Guard {
	g := &Guard{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "transport")
	return g
}

// Connect opens the connection with the given will and installs subs. A
// failed subscription tears the connection down again so the caller can
// retry from a clean state.
func (g *Guard) Connect(ctx context.Context, will *Message, subs ...Subscription) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.client.Connect(ctx, will); err != nil {
		g.metrics.RecordTransportStatus(false)
		if errors.Classify(err) != errors.ErrorTransient {
			return errors.Wrap(err, "Guard", "Connect", "connect")
		}
		return errors.WrapTransient(err, "Guard", "Connect", "connect")
	}

	for _, sub := range subs {
		if err := g.client.Subscribe(ctx, sub.Topic, sub.Handler); err != nil {
			if derr := g.client.Disconnect(ctx); derr != nil {
				g.logger.Debug("Disconnect after failed subscribe", "error", derr)
			}
			g.metrics.RecordTransportStatus(false)
			return errors.WrapTransient(stderrors.Join(errors.ErrSubscribeFailed, err),
				"Guard", "Connect", "subscribe "+sub.Topic)
		}
	}

	g.metrics.RecordTransportStatus(true)
	return nil
}

// Publish sends one message. Failures are logged here and returned for
// callers that care; fire-and-forget callers may ignore the error.
func (g *Guard) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.publishLocked(ctx, topic, payload, retained)
}

func (g *Guard) publishLocked(ctx context.Context, topic string, payload []byte, retained bool) error {
	if !g.client.IsConnected() {
		g.metrics.RecordPublish(KindOf(topic), false)
		g.logger.Debug("Publish skipped, not connected", "topic", topic)
		return errors.ErrNotConnected
	}

	if err := g.client.Publish(ctx, topic, payload, retained); err != nil {
		g.metrics.RecordPublish(KindOf(topic), false)
		g.logger.Warn("Publish failed", "topic", topic, "retained", retained, "error", err)
		return errors.WrapTransient(stderrors.Join(errors.ErrPublishFailed, err), "Guard", "Publish", "publish "+topic)
	}

	g.metrics.RecordPublish(KindOf(topic), true)
	return nil
}

// PublishBatch sends msgs in order under one lock acquisition, stopping at
// the first failure.
func (g *Guard) PublishBatch(ctx context.Context, msgs ...Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range msgs {
		if err := g.publishLocked(ctx, m.Topic, m.Payload, m.Retained); err != nil {
			return err
		}
	}
	return nil
}

// ClearRetained publishes an empty retained payload to each topic. All
// topics are attempted; the joined errors are returned.
func (g *Guard) ClearRetained(ctx context.Context, topics ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, topic := range topics {
		if err := g.publishLocked(ctx, topic, nil, true); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Disconnect closes the connection cleanly. It is a no-op when already
// disconnected.
func (g *Guard) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.client.IsConnected() {
		return nil
	}
	err := g.client.Disconnect(ctx)
	g.metrics.RecordTransportStatus(false)
	if err != nil {
		g.logger.Warn("Disconnect failed", "error", err)
		return errors.Wrap(err, "Guard", "Disconnect", "disconnect")
	}
	return nil
}

// IsConnected reports the client's connection state without taking the lock.
func (g *Guard) IsConnected() bool {
	return g.client.IsConnected()
}

// SetConnectionLostHandler forwards to the client and marks the connection
// gauge down before calling fn.
func (g *Guard) SetConnectionLostHandler(fn func(err error)) {
	g.client.SetConnectionLostHandler(func(err error) {
		g.metrics.RecordTransportStatus(false)
		g.logger.Warn("Connection lost", "error", err)
		if fn != nil {
			fn(err)
		}
	})
}
