package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "saba"

// Dispatch outcomes recorded by RecordDispatch.
const (
	OutcomeOK          = "ok"
	OutcomeFailed      = "failed"
	OutcomeUnsupported = "unsupported_tool"
	OutcomeInvalidArgs = "invalid_args"
	OutcomeMalformed   = "malformed"
)

// Metrics contains the device-level metrics shared by the runtime components.
type Metrics struct {
	CommandsReceived   prometheus.Counter
	CommandsDispatched *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	JobsDropped        *prometheus.CounterVec
	Publishes          *prometheus.CounterVec
	PortSamples        *prometheus.CounterVec
	PortSets           *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	TransportConnected prometheus.Gauge
	ReconnectAttempts  prometheus.Counter
}

// NewMetrics creates the device metrics; they are registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		CommandsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "received_total",
			Help:      "Command payloads received on the cmd topic",
		}),

		CommandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "dispatched_total",
			Help:      "Commands processed by the worker, by outcome",
		}, []string{"tool", "outcome"}),

		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent inside tool invocation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		JobsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "dropped_total",
			Help:      "Command payloads dropped before execution, by reason",
		}, []string{"reason"}),

		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "publishes_total",
			Help:      "Publish calls through the transport guard, by topic kind and status",
		}, []string{"topic", "status"}),

		PortSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ports",
			Name:      "samples_total",
			Help:      "OutPort readings produced",
		}, []string{"port"}),

		PortSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ports",
			Name:      "sets_total",
			Help:      "InPort writes received, by outcome",
		}, []string{"outcome"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		TransportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Broker connection status (0=disconnected, 1=connected)",
		}),

		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Connection attempts made by the reconnect timer",
		}),
	}
}

func (m *Metrics) mustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.CommandsReceived,
		m.CommandsDispatched,
		m.DispatchDuration,
		m.JobsDropped,
		m.Publishes,
		m.PortSamples,
		m.PortSets,
		m.HealthCheckStatus,
		m.TransportConnected,
		m.ReconnectAttempts,
	)
}

// All Record methods are nil-safe so components can run without metrics.

// RecordCommandReceived counts one inbound command payload.
func (m *Metrics) RecordCommandReceived() {
	if m == nil {
		return
	}
	m.CommandsReceived.Inc()
}

// RecordDispatch counts one processed command and its invocation time.
func (m *Metrics) RecordDispatch(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsDispatched.WithLabelValues(tool, outcome).Inc()
	if d > 0 {
		m.DispatchDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// RecordJobDropped counts a payload dropped before execution.
func (m *Metrics) RecordJobDropped(reason string) {
	if m == nil {
		return
	}
	m.JobsDropped.WithLabelValues(reason).Inc()
}

// RecordPublish counts one guarded publish.
func (m *Metrics) RecordPublish(topic string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.Publishes.WithLabelValues(topic, status).Inc()
}

// RecordPortSample counts one OutPort reading.
func (m *Metrics) RecordPortSample(port string) {
	if m == nil {
		return
	}
	m.PortSamples.WithLabelValues(port).Inc()
}

// RecordPortSet counts one InPort write by outcome (applied, unknown, malformed).
func (m *Metrics) RecordPortSet(outcome string) {
	if m == nil {
		return
	}
	m.PortSets.WithLabelValues(outcome).Inc()
}

// RecordHealthStatus updates the health gauge of a component.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordTransportStatus updates the connected gauge.
func (m *Metrics) RecordTransportStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.TransportConnected.Set(value)
}

// RecordReconnectAttempt counts one reconnect timer attempt.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}
