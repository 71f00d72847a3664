package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/metric"
)

// Defaults match the command path of a constrained device: a handful of
// in-flight commands, each small enough for one transport frame.
const (
	DefaultCapacity   = 4
	DefaultMaxPayload = 768
)

// Job is one raw command payload copied out of the receive buffer.
type Job struct {
	Seq        uint64
	Payload    []byte
	EnqueuedAt time.Time
}

// Stats reports queue counters. Dropped counts jobs refused by a full or
// closed queue, Rejected counts oversize payloads.
type Stats struct {
	Capacity   int   `json:"capacity"`
	MaxPayload int   `json:"max_payload"`
	Depth      int   `json:"depth"`
	Enqueued   int64 `json:"enqueued"`
	Dequeued   int64 `json:"dequeued"`
	Dropped    int64 `json:"dropped"`
	Rejected   int64 `json:"rejected"`
}

// Queue is a bounded FIFO of jobs with a non-blocking producer side and a
// single blocking consumer.
type Queue struct {
	capacity   int
	maxPayload int
	jobs       chan Job
	logger     *slog.Logger

	// closeMu serialises Close against in-flight sends on jobs
	closeMu sync.RWMutex
	closed  bool

	seq      atomic.Uint64
	enqueued atomic.Int64
	dequeued atomic.Int64
	dropped  atomic.Int64
	rejected atomic.Int64

	registrar metric.MetricsRegistrar
	metrics   *queueMetrics
}

// metricsPrefix names every queue metric.
const metricsPrefix = "saba_jobqueue"

type queueMetrics struct {
	depth       prometheus.Gauge
	utilization prometheus.Gauge
	enqueued    prometheus.Counter
	dequeued    prometheus.Counter
	dropped     *prometheus.CounterVec
	wait        prometheus.Histogram
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics registers queue metrics with the given registry.
func WithMetrics(registrar metric.MetricsRegistrar) Option {
	return func(q *Queue) { q.registrar = registrar }
}

// WithLogger sets the logger used for drop and reject messages.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New creates a queue. Non-positive sizes fall back to the defaults.
func New(capacity, maxPayload int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	q := &Queue{
		capacity:   capacity,
		maxPayload: maxPayload,
		jobs:       make(chan Job, capacity),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "jobqueue")

	if q.registrar != nil {
		q.initializeMetrics()
	}
	return q
}

func (q *Queue) initializeMetrics() {
	prefix := metricsPrefix
	m := &queueMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_depth",
			Help: "Jobs waiting in the command queue",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_utilization",
			Help: "Command queue utilization (0-1)",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_enqueued_total",
			Help: "Jobs accepted into the queue",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dequeued_total",
			Help: "Jobs handed to the worker",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Jobs refused by the queue, by reason",
		}, []string{"reason"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_wait_seconds",
			Help:    "Time a job spent queued before the worker took it",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	const component = "job_queue"
	register := func(name string, err error) {
		if err != nil {
			q.logger.Warn("Failed to register queue metric", "metric", name, "error", err)
		}
	}
	register("depth", q.registrar.RegisterGauge(component, prefix+"_depth", m.depth))
	register("utilization", q.registrar.RegisterGauge(component, prefix+"_utilization", m.utilization))
	register("enqueued", q.registrar.RegisterCounter(component, prefix+"_enqueued_total", m.enqueued))
	register("dequeued", q.registrar.RegisterCounter(component, prefix+"_dequeued_total", m.dequeued))
	register("dropped", q.registrar.RegisterCounterVec(component, prefix+"_dropped_total", m.dropped))
	register("wait", q.registrar.RegisterHistogram(component, prefix+"_wait_seconds", m.wait))

	q.metrics = m
}

// Enqueue copies payload into a new job without blocking. Oversize payloads
// are rejected before anything is copied; a full queue drops the job.
func (q *Queue) Enqueue(payload []byte) error {
	if len(payload) > q.maxPayload {
		q.rejected.Add(1)
		q.recordDrop("oversize")
		return fmt.Errorf("%w: %d > %d bytes", errors.ErrPayloadTooLarge, len(payload), q.maxPayload)
	}

	q.closeMu.RLock()
	defer q.closeMu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		q.recordDrop("closed")
		return errors.ErrQueueClosed
	}

	job := Job{
		Seq:        q.seq.Add(1),
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: time.Now(),
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		if q.metrics != nil {
			q.metrics.enqueued.Inc()
		}
		q.updateDepth()
		return nil
	default:
		q.dropped.Add(1)
		q.recordDrop("full")
		return errors.ErrQueueFull
	}
}

// Dequeue blocks until a job is available, the queue is closed and drained,
// or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, errors.ErrQueueClosed
		}
		q.dequeued.Add(1)
		if q.metrics != nil {
			q.metrics.dequeued.Inc()
			q.metrics.wait.Observe(time.Since(job.EnqueuedAt).Seconds())
		}
		q.updateDepth()
		return job, nil
	}
}

// Close stops accepting jobs. Jobs already queued can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Capacity returns the maximum number of queued jobs.
func (q *Queue) Capacity() int {
	return q.capacity
}

// MaxPayload returns the largest accepted payload in bytes.
func (q *Queue) MaxPayload() int {
	return q.maxPayload
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Capacity:   q.capacity,
		MaxPayload: q.maxPayload,
		Depth:      len(q.jobs),
		Enqueued:   q.enqueued.Load(),
		Dequeued:   q.dequeued.Load(),
		Dropped:    q.dropped.Load(),
		Rejected:   q.rejected.Load(),
	}
}

func (q *Queue) recordDrop(reason string) {
	if q.metrics != nil {
		q.metrics.dropped.WithLabelValues(reason).Inc()
	}
}

func (q *Queue) updateDepth() {
	if q.metrics == nil {
		return
	}
	depth := float64(len(q.jobs))
	q.metrics.depth.Set(depth)
	q.metrics.utilization.Set(depth / float64(q.capacity))
}
