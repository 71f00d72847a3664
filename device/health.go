package device

import (
	"fmt"

	"github.com/kawaiiTaiga/project-SABA/health"
)

func (r *Runtime) updateHealth(component string, healthy bool, message string) {
	if r.health == nil {
		return
	}
	if healthy {
		r.health.UpdateHealthy(component, message)
		return
	}
	r.health.UpdateUnhealthy(component, message)
}

// reportHealth refreshes the queue and transport statuses.
func (r *Runtime) reportHealth() {
	if r.health == nil {
		return
	}

	stats := r.queue.Stats()
	msg := fmt.Sprintf("%d/%d queued, %d dropped, %d rejected",
		stats.Depth, stats.Capacity, stats.Dropped, stats.Rejected)
	var queueStatus health.Status
	if stats.Depth >= stats.Capacity {
		queueStatus = health.NewDegraded(HealthQueue, msg)
	} else {
		queueStatus = health.NewHealthy(HealthQueue, msg)
	}
	r.health.Update(HealthQueue, queueStatus.WithMetrics(&health.Metrics{
		Uptime:        r.Uptime(),
		ErrorCount:    int(r.jobErrors.Load()),
		JobsProcessed: r.jobsProcessed.Load(),
		QueueDepth:    stats.Depth,
	}))

	if r.guard.IsConnected() {
		r.health.UpdateHealthy(HealthTransport, "connected to "+r.topics.Base())
	} else if _, known := r.health.Get(HealthTransport); !known {
		r.health.UpdateUnhealthy(HealthTransport, "not connected")
	}
}

// Health returns the aggregated device health.
func (r *Runtime) Health() health.Status {
	if r.health == nil {
		return health.NewHealthy("device", "health monitoring disabled")
	}
	r.reportHealth()
	return r.health.AggregateHealth("device")
}
