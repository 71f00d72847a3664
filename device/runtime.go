package device

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/health"
	"github.com/kawaiiTaiga/project-SABA/jobqueue"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// Status represents the lifecycle state of a Runtime
type Status int

// Possible runtime statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Timer names used by the control loop.
const (
	TimerSample    = "sample"
	TimerStatus    = "status"
	TimerAnnounce  = "announce"
	TimerReconnect = "reconnect"
)

// Health component names.
const (
	HealthTransport = "transport"
	HealthWorker    = "worker"
	HealthQueue     = "queue"
)

// Config holds the runtime parameters.
type Config struct {
	DeviceID    string
	TopicPrefix string

	TickInterval      time.Duration
	StatusInterval    time.Duration
	AnnounceInterval  time.Duration
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	ShutdownTimeout   time.Duration

	QueueCapacity int
	MaxPayload    int
}

// DefaultConfig returns the runtime defaults for deviceID.
func DefaultConfig(deviceID string) Config {
	return Config{
		DeviceID:          deviceID,
		TopicPrefix:       transport.DefaultPrefix,
		TickInterval:      10 * time.Millisecond,
		StatusInterval:    30 * time.Second,
		AnnounceInterval:  300 * time.Second,
		ReconnectInterval: 3 * time.Second,
		ConnectTimeout:    5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		QueueCapacity:     jobqueue.DefaultCapacity,
		MaxPayload:        jobqueue.DefaultMaxPayload,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.DeviceID)
	if c.TopicPrefix == "" {
		c.TopicPrefix = d.TopicPrefix
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = d.AnnounceInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = d.MaxPayload
	}
	return c
}

// Option is a functional option for configuring Runtime
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records device metrics and registers the job queue metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Runtime) { r.metricsRegistry = registry }
}

// WithHealthMonitor reports transport, worker and queue health to monitor.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(r *Runtime) { r.health = monitor }
}

// WithBaseURL sets the source of the asset base URL. It is read every time
// an announce or observation is published.
func WithBaseURL(fn observation.BaseURLFunc) Option {
	return func(r *Runtime) { r.baseURL = fn }
}

// WithResetHook sets the function FactoryReset calls last.
func WithResetHook(fn func(ctx context.Context) error) Option {
	return func(r *Runtime) { r.resetHook = fn }
}

// WithSignalStrength sets the source of the optional rssi status field.
func WithSignalStrength(fn func() (int, bool)) Option {
	return func(r *Runtime) { r.signal = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// Runtime is the explicit context of one device: its registries, queue,
// transport guard and control loop timers.
type Runtime struct {
	cfg    Config
	topics transport.Topics

	tools   *tool.Registry
	ports   *port.Registry
	queue   *jobqueue.Queue
	guard   *transport.Guard
	emitter *observation.TransportEmitter
	sched   *Scheduler

	logger          *slog.Logger
	metricsRegistry *metric.MetricsRegistry
	metrics         *metric.Metrics
	health          *health.Monitor

	baseURL   observation.BaseURLFunc
	resetHook func(ctx context.Context) error
	signal    func() (int, bool)
	now       func() time.Time

	status    atomic.Value // Status
	startedAt time.Time
	halted    atomic.Bool
	// stopped is set by Stop; the job queue cannot be reopened.
	stopped bool

	jobsProcessed atomic.Int64
	jobErrors     atomic.Int64

	cancel     context.CancelFunc
	cancelWork context.CancelFunc
	loopDone   chan struct{}
	workerDone chan struct{}
	mu         sync.Mutex
}

// New assembles a runtime around client. Tools and ports must be
// registered before Start; Start seals both registries.
func New(cfg Config, client transport.Client, tools *tool.Registry, ports *port.Registry, opts ...Option) (*Runtime, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Runtime", "New", "nil transport client")
	}
	if !validSegment(cfg.DeviceID) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: device id %q", errors.ErrInvalidConfig, cfg.DeviceID),
			"Runtime", "New", "check device id")
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	if ports == nil {
		ports = port.NewRegistry()
	}

	r := &Runtime{
		cfg:     cfg.withDefaults(),
		tools:   tools,
		ports:   ports,
		logger:  slog.Default(),
		baseURL: func() string { return "" },
		now:     time.Now,
		sched:   NewScheduler(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "device", "device_id", r.cfg.DeviceID)
	r.topics = transport.NewTopics(r.cfg.TopicPrefix, r.cfg.DeviceID)

	queueOpts := []jobqueue.Option{jobqueue.WithLogger(r.logger)}
	guardOpts := []transport.GuardOption{transport.WithLogger(r.logger)}
	if r.metricsRegistry != nil {
		r.metrics = r.metricsRegistry.CoreMetrics()
		queueOpts = append(queueOpts, jobqueue.WithMetrics(r.metricsRegistry))
		guardOpts = append(guardOpts, transport.WithMetrics(r.metrics))
	}
	r.queue = jobqueue.New(r.cfg.QueueCapacity, r.cfg.MaxPayload, queueOpts...)
	r.guard = transport.NewGuard(client, guardOpts...)
	r.emitter = observation.NewTransportEmitter(r.guard, r.topics.Events(), r.baseURL, r.logger)

	r.status.Store(StatusStopped)
	return r, nil
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch c {
		case '/', '+', '#', '.', '*', '>', ' ', '\t', '\r', '\n':
			return false
		}
	}
	return true
}

// DeviceID returns the device id.
func (r *Runtime) DeviceID() string { return r.cfg.DeviceID }

// Topics returns the device topic set.
func (r *Runtime) Topics() transport.Topics { return r.topics }

// Tools returns the tool registry.
func (r *Runtime) Tools() *tool.Registry { return r.tools }

// Ports returns the port registry.
func (r *Runtime) Ports() *port.Registry { return r.ports }

// Queue returns the job queue.
func (r *Runtime) Queue() *jobqueue.Queue { return r.queue }

// Emitter returns the observation emitter bound to the events topic.
func (r *Runtime) Emitter() observation.Emitter { return r.emitter }

// IsConnected reports the transport state.
func (r *Runtime) IsConnected() bool { return r.guard.IsConnected() }

// Status returns the lifecycle state.
func (r *Runtime) Status() Status { return r.status.Load().(Status) }

// Uptime returns the time since Start.
func (r *Runtime) Uptime() time.Duration {
	r.mu.Lock()
	started := r.startedAt
	r.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return r.now().Sub(started)
}

// Prepare initializes tools, injects the emitter, seals both registries
// and installs the control loop timers. Start calls it; tests that drive
// Poll directly call it instead of Start.
func (r *Runtime) Prepare(ctx context.Context) {
	r.mu.Lock()
	if r.startedAt.IsZero() {
		r.startedAt = r.now()
	}
	r.mu.Unlock()

	if !r.tools.Sealed() {
		if !r.tools.InitAll(ctx) {
			r.logger.Warn("Some tools failed to initialize")
		}
		r.tools.SetEmitter(r.emitter)
		r.tools.Seal()
		r.ports.Seal()
		r.ports.SetPublisher(port.ReadingPublisherFunc(r.publishReading))
		r.guard.SetConnectionLostHandler(r.onConnectionLost)
		r.installTimers()
	}

	r.reportHealth()
}

func (r *Runtime) installTimers() {
	r.sched.Every(TimerReconnect, r.cfg.ReconnectInterval, func(ctx context.Context, _ time.Time) {
		if r.guard.IsConnected() || r.halted.Load() {
			return
		}
		r.metrics.RecordReconnectAttempt()
		if err := r.Connect(ctx); err != nil {
			r.logger.Warn("Connect attempt failed",
				"error", err, "class", errors.Classify(err), "retry_in", r.cfg.ReconnectInterval)
		}
	})
	r.sched.Every(TimerSample, r.cfg.TickInterval, func(ctx context.Context, now time.Time) {
		r.tools.TickAll(now)
		if r.guard.IsConnected() {
			r.ports.SampleAll(ctx, now)
		}
	})
	r.sched.Every(TimerStatus, r.cfg.StatusInterval, func(ctx context.Context, _ time.Time) {
		r.reportHealth()
		if r.guard.IsConnected() {
			_ = r.PublishStatusNow(ctx)
		}
	})
	r.sched.Every(TimerAnnounce, r.cfg.AnnounceInterval, func(ctx context.Context, _ time.Time) {
		if r.guard.IsConnected() {
			_ = r.Reannounce(ctx)
		}
	})
}

// Poll runs one pass of the control loop at now.
func (r *Runtime) Poll(ctx context.Context, now time.Time) int {
	return r.sched.Poll(ctx, now)
}

// Start prepares the runtime, starts the worker and the control loop and
// returns. The first connect attempt happens on the first loop pass. A
// runtime runs once: Start after Stop returns ErrStopped.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.WrapFatal(errors.ErrStopped, "Runtime", "Start", "restart runtime")
	}
	if r.Status() != StatusStopped {
		r.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Runtime", "Start",
			fmt.Sprintf("runtime %s", r.Status()))
	}
	r.status.Store(StatusStarting)
	r.mu.Unlock()

	r.Prepare(ctx)
	r.sched.Trigger(TimerReconnect)

	// The worker context outlives ctx so Stop can drain queued jobs.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.cancelWork = cancelWork
	r.loopDone = make(chan struct{})
	r.workerDone = make(chan struct{})
	loopDone, workerDone := r.loopDone, r.workerDone
	r.mu.Unlock()

	go func() {
		defer close(workerDone)
		r.runWorker(workCtx)
	}()
	go func() {
		defer close(loopDone)
		r.sched.Run(loopCtx, r.cfg.TickInterval, r.now)
	}()

	r.status.Store(StatusRunning)
	r.logger.Info("Device runtime started",
		"tools", r.tools.Len(),
		"outports", r.ports.OutPortCount(),
		"inports", r.ports.InPortCount(),
		"base_topic", r.topics.Base())
	return nil
}

// Run starts the runtime and blocks until ctx is done, then stops it.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Stop(r.cfg.ShutdownTimeout)
}

// Stop shuts down gracefully: the control loop stops, queued jobs drain,
// the offline status is published retained and the transport disconnects.
// A clean disconnect suppresses the broker's will, so the offline status
// has to be published explicitly.
//
// Running jobs are not interrupted. When the worker is still busy after
// timeout its context is cancelled and Stop waits up to timeout again;
// after that it disconnects anyway and returns ErrShutdownTimedOut.
func (r *Runtime) Stop(timeout time.Duration) error {
	r.mu.Lock()
	current := r.Status()
	if current == StatusStopped || current == StatusStopping {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.status.Store(StatusStopping)
	cancel, cancelWork := r.cancel, r.cancelWork
	loopDone, workerDone := r.loopDone, r.workerDone
	r.mu.Unlock()

	if timeout <= 0 {
		timeout = r.cfg.ShutdownTimeout
	}
	waitCtx, cancelWait := context.WithTimeout(context.Background(), timeout)
	defer cancelWait()

	cancel()
	select {
	case <-loopDone:
	case <-waitCtx.Done():
		r.logger.Warn("Control loop did not stop in time")
	}

	r.queue.Close()
	var err error
	select {
	case <-workerDone:
	case <-waitCtx.Done():
		r.logger.Warn("Worker did not drain in time, cancelling")
		cancelWork()
		abandon := time.NewTimer(timeout)
		select {
		case <-workerDone:
		case <-abandon.C:
			r.logger.Error("Worker ignored cancellation, abandoning it", "waited", 2*timeout)
			err = errors.WrapTransient(errors.ErrShutdownTimedOut, "Runtime", "Stop", "drain worker")
		}
		abandon.Stop()
	}
	cancelWork()

	ctx, cancelCtx := context.WithTimeout(context.Background(), r.cfg.ConnectTimeout)
	defer cancelCtx()

	if r.guard.IsConnected() && !r.halted.Load() {
		if perr := r.publishOffline(ctx); perr != nil {
			r.logger.Warn("Offline status not published", "error", perr)
		}
		if derr := r.guard.Disconnect(ctx); derr != nil {
			err = stderrors.Join(err, derr)
		}
	}

	r.status.Store(StatusStopped)
	r.reportHealth()
	r.logger.Info("Device runtime stopped")
	return err
}
