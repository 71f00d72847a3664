// Package jobqueue provides the bounded command queue between the transport
// receive path and the device worker.
//
// # Overview
//
// The receive callback must never block on tool execution, so inbound
// command payloads are copied into fixed-size jobs and handed to a single
// worker goroutine through this queue:
//   - Enqueue never blocks. A full queue drops the job and returns
//     errors.ErrQueueFull.
//   - Payloads larger than the configured maximum are rejected with
//     errors.ErrPayloadTooLarge before anything is copied; they are never
//     truncated.
//   - Dequeue blocks until a job arrives, the queue is closed and drained, or
//     the context is done.
//
// # Observability
//
// Counters are always tracked with atomics and exposed through Stats.
// Prometheus metrics are optional:
//
//	registry := metric.NewMetricsRegistry()
//	q := jobqueue.New(4, 768, jobqueue.WithMetrics(registry))
//
// registers depth, utilization, enqueued, dequeued, dropped (by reason) and
// queue wait time.
//
// # Thread Safety
//
// Enqueue and Close may be called from any goroutine. Dequeue is designed
// for a single consumer; jobs are delivered in FIFO order.
package jobqueue
