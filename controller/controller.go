package controller

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kawaiiTaiga/project-SABA/device"
	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/pkg/retry"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// Observation error codes produced by the controller itself.
const (
	CodeUnknownDevice = "unknown_device"
	CodePublishFailed = "publish_failed"
)

// DefaultTimeout bounds Invoke when the context has no earlier deadline.
const DefaultTimeout = 30 * time.Second

// forwardBuffer bounds routed port writes waiting to be published.
const forwardBuffer = 64

// Default limits for routed port writes across all routes.
const (
	DefaultForwardRate  rate.Limit = 50
	DefaultForwardBurst            = 10
)

// Controller errors.
var (
	ErrUnknownDevice = stderrors.New("unknown device")
	ErrTimeout       = stderrors.New("no observation before deadline")
)

// Event is one message seen on a device topic, passed to watchers.
type Event struct {
	DeviceID string
	Kind     string
	Message  transport.Message
}

// Option is a functional option for configuring Controller
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrefix sets the topic prefix (default transport.DefaultPrefix).
func WithPrefix(prefix string) Option {
	return func(c *Controller) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTimeout sets the default Invoke timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStaleAfter sets how long a device stays online after a status.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Controller) { c.staleAfter = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetry sets the connect retry policy (default retry.Quick).
func WithRetry(cfg retry.Config) Option {
	return func(c *Controller) { c.retry = cfg }
}

// WithRouter forwards OutPort readings to InPorts through r.
func WithRouter(r *Router) Option {
	return func(c *Controller) { c.router = r }
}

// WithForwardRate limits routed port writes to limit per second with the
// given burst. rate.Inf disables the limit.
func WithForwardRate(limit rate.Limit, burst int) Option {
	return func(c *Controller) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithWatcher calls fn for every device message. fn runs on the transport
// delivery goroutine and must not block.
func WithWatcher(fn func(Event)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.watchers = append(c.watchers, fn)
		}
	}
}

// WithMetrics records transport metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithAllowUnknown lets Invoke send commands to devices that have not
// announced yet.
func WithAllowUnknown(allow bool) Option {
	return func(c *Controller) { c.allowUnknown = allow }
}

// Controller is the remote side of the device protocol: it tracks devices
// from their retained announces and status, invokes tools and writes ports.
type Controller struct {
	prefix       string
	timeout      time.Duration
	staleAfter   time.Duration
	retry        retry.Config
	allowUnknown bool
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metric.Metrics

	guard    *transport.Guard
	store    *DeviceStore
	waiter   *Waiter
	router   *Router
	watchers []func(Event)

	forwards chan Forward
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// New creates a controller over client.
func New(client transport.Client, opts ...Option) (*Controller, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Controller", "New", "nil transport client")
	}
	c := &Controller{
		prefix:  transport.DefaultPrefix,
		timeout: DefaultTimeout,
		retry:   retry.Quick(),
		now:     time.Now,
		logger:  slog.Default(),
		waiter:  NewWaiter(),
		limiter: rate.NewLimiter(DefaultForwardRate, DefaultForwardBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "controller")
	c.store = NewDeviceStore(c.staleAfter, c.now)
	c.guard = transport.NewGuard(client,
		transport.WithLogger(c.logger),
		transport.WithMetrics(c.metrics))
	return c, nil
}

// Store returns the device store.
func (c *Controller) Store() *DeviceStore { return c.store }

// Router returns the routing table, or nil.
func (c *Controller) Router() *Router { return c.router }

// Devices returns a snapshot of every known device.
func (c *Controller) Devices() []Device { return c.store.Devices() }

// IsConnected reports the transport state.
func (c *Controller) IsConnected() bool { return c.guard.IsConnected() }

func (c *Controller) subscriptions() []transport.Subscription {
	kinds := []string{
		transport.KindAnnounce,
		transport.KindStatus,
		transport.KindEvents,
		transport.KindPortsAnnounce,
		transport.KindPortsData,
	}
	subs := make([]transport.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, transport.Subscription{
			Topic:   transport.AllDevices(c.prefix, k),
			Handler: c.handle,
		})
	}
	return subs
}

// Connect opens the transport, retrying with the configured policy, and
// subscribes to every device's announce, status, events and port topics.
// Retained announces arrive during Connect.
func (c *Controller) Connect(ctx context.Context) error {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, next time.Duration) {
			c.logger.Warn("Connect failed, retrying", "attempt", attempt, "next", next, "error", err)
		}
	}
	err := retry.Do(ctx, cfg, func() error {
		err := c.guard.Connect(ctx, nil, c.subscriptions()...)
		if err != nil && !errors.IsTransient(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if retry.IsNonRetryable(err) {
		return errors.Wrap(err, "Controller", "Connect", "connect")
	}
	if err != nil {
		return errors.WrapTransient(err, "Controller", "Connect", "connect")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.router != nil && c.cancel == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel
		c.forwards = make(chan Forward, forwardBuffer)
		c.wg.Add(1)
		go c.runForwarder(fctx, c.forwards)
	}
	c.logger.Info("Controller connected", "prefix", c.prefix)
	return nil
}

// Close stops port forwarding and disconnects.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
	return c.guard.Disconnect(ctx)
}

// handle runs on the transport delivery goroutine. It never touches the
// guard.
func (c *Controller) handle(msg transport.Message) {
	id, kind, ok := transport.Parse(c.prefix, msg.Topic)
	if !ok {
		return
	}

	switch kind {
	case transport.KindAnnounce:
		c.onAnnounce(id, msg.Payload)
	case transport.KindStatus:
		c.onStatus(id, msg.Payload)
	case transport.KindPortsAnnounce:
		c.onPortsAnnounce(id, msg.Payload)
	case transport.KindPortsData:
		c.onPortsData(id, msg.Payload)
	case transport.KindEvents:
		c.onEvent(id, msg.Payload)
	}

	for _, w := range c.watchers {
		w(Event{DeviceID: id, Kind: kind, Message: msg})
	}
}

func (c *Controller) onAnnounce(id string, payload []byte) {
	if len(payload) == 0 {
		c.logger.Info("Device announce cleared", "device_id", id)
		c.store.Forget(id)
		return
	}
	var a tool.Announce
	if err := json.Unmarshal(payload, &a); err != nil || a.Type != tool.AnnounceType {
		c.logger.Debug("Ignoring invalid announce", "device_id", id, "error", err)
		return
	}
	c.store.UpsertAnnounce(id, a)
	c.logger.Debug("Device announced", "device_id", id, "tools", len(a.Tools))
}

func (c *Controller) onStatus(id string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	st, err := device.ParseStatus(payload)
	if err != nil {
		c.logger.Debug("Ignoring invalid status", "device_id", id, "error", err)
		return
	}
	c.store.UpdateStatus(id, st)
}

func (c *Controller) onPortsAnnounce(id string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	var a port.Announce
	if err := json.Unmarshal(payload, &a); err != nil || a.Type != port.AnnounceType {
		c.logger.Debug("Ignoring invalid ports announce", "device_id", id, "error", err)
		return
	}
	c.store.UpsertPorts(id, a)
}

func (c *Controller) onPortsData(id string, payload []byte) {
	var r port.Reading
	if err := json.Unmarshal(payload, &r); err != nil || r.Port == "" {
		c.logger.Debug("Ignoring invalid port reading", "device_id", id, "error", err)
		return
	}
	c.store.RecordReading(id, r)

	if c.router == nil {
		return
	}
	c.mu.Lock()
	forwards := c.forwards
	c.mu.Unlock()
	if forwards == nil {
		return
	}
	for _, f := range c.router.Route(id, r) {
		select {
		case forwards <- f:
		default:
			c.logger.Warn("Port forward dropped, buffer full",
				"source", id+"/"+r.Port, "target", f.DeviceID+"/"+f.Set.Port)
		}
	}
}

func (c *Controller) onEvent(id string, payload []byte) {
	obs, err := observation.Parse(payload)
	if err != nil {
		c.logger.Debug("Ignoring invalid event", "device_id", id, "error", err)
		return
	}
	if !c.waiter.Resolve(obs) {
		c.logger.Debug("Unsolicited observation", "device_id", id, "request_id", obs.RequestID)
	}
}

func (c *Controller) runForwarder(ctx context.Context, forwards <-chan Forward) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-forwards:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			if err := c.publishSet(ctx, f.DeviceID, f.Set); err != nil {
				c.logger.Warn("Port forward failed", "device_id", f.DeviceID, "port", f.Set.Port, "error", err)
			}
		}
	}
}

func failure(requestID, code, message string) observation.Observation {
	return observation.NewBuilder().SetRequestID(requestID).Error(code, message).Build()
}

// Invoke sends a device.command for toolName and waits for the observation
// with the same request id. args may be nil, a json.RawMessage or any
// value that marshals to a JSON object.
//
// On failure the returned observation carries the error code (timeout,
// unknown_device or publish_failed) alongside the Go error, so callers can
// relay it as is.
func (c *Controller) Invoke(ctx context.Context, deviceID, toolName string, args any) (observation.Observation, error) {
	rid := uuid.NewString()

	if !c.allowUnknown {
		if d, ok := c.store.Get(deviceID); !ok || !d.Announced {
			msg := fmt.Sprintf("device_id '%s' not found in announce cache", deviceID)
			return failure(rid, CodeUnknownDevice, msg), fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
		}
	}

	rawArgs, err := encodeArgs(args)
	if err != nil {
		return failure(rid, observation.CodeInvalidArgs, err.Error()),
			errors.WrapInvalid(err, "Controller", "Invoke", "encode args")
	}
	payload, err := json.Marshal(tool.Command{
		Type:      tool.CommandType,
		Tool:      toolName,
		RequestID: rid,
		Args:      rawArgs,
	})
	if err != nil {
		return failure(rid, observation.CodeInvalidArgs, err.Error()),
			errors.WrapInvalid(err, "Controller", "Invoke", "encode command")
	}

	ch := c.waiter.Register(rid)
	defer c.waiter.Cancel(rid)

	topics := transport.NewTopics(c.prefix, deviceID)
	if err := c.guard.Publish(ctx, topics.Command(), payload, false); err != nil {
		return failure(rid, CodePublishFailed, err.Error()), err
	}

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case obs := <-ch:
		return obs, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	msg := fmt.Sprintf("no event for request_id=%s within %dms", rid, timeout.Milliseconds())
	return failure(rid, observation.CodeTimeout, msg),
		errors.WrapTransient(ErrTimeout, "Controller", "Invoke", "wait for "+toolName)
}

func encodeArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: args are not valid JSON", errors.ErrInvalidData)
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// SetPort writes value to an InPort on deviceID. When the device's ports
// announce is known, unknown port names are rejected locally.
func (c *Controller) SetPort(ctx context.Context, deviceID, name string, value float64) error {
	if d, ok := c.store.Get(deviceID); ok && len(d.InPorts) > 0 && !d.HasInPort(name) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s", errors.ErrUnknownPort, deviceID, name),
			"Controller", "SetPort", "check port")
	}
	return c.publishSet(ctx, deviceID, port.Set{Port: name, Value: value})
}

func (c *Controller) publishSet(ctx context.Context, deviceID string, set port.Set) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return errors.WrapInvalid(err, "Controller", "SetPort", "encode set")
	}
	return c.guard.Publish(ctx, transport.NewTopics(c.prefix, deviceID).PortsSet(), payload, false)
}
