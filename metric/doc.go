// Package metric provides the Prometheus registry for the device process.
//
// NewMetricsRegistry creates a private prometheus.Registry with the device core
// metrics (commands, jobs, publishes, ports, transport state) plus the Go runtime
// and process collectors. Components that own extra metrics, such as the job
// queue, register them through the MetricsRegistrar interface:
//
//	registry := metric.NewMetricsRegistry()
//	q := jobqueue.New(4, 768, jobqueue.WithMetrics(registry))
//
// Handler exposes the registry in Prometheus/OpenMetrics format for the HTTP
// gateway. The Record methods on Metrics accept a nil receiver, so code paths that
// run without metrics need no guards.
package metric
