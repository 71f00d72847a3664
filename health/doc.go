// Package health tracks the health of the device runtime components.
//
// The runtime reports three components: "transport" (broker connection),
// "worker" (command execution) and "queue" (job queue pressure). Each uses one of
// three states: healthy, degraded or unhealthy. Monitor.AggregateHealth folds them
// into the device status served at /healthz; any unhealthy component makes the
// device unhealthy, otherwise any degraded component makes it degraded.
//
//	mon := health.NewMonitor(registry.CoreMetrics())
//	mon.UpdateHealthy("transport", "connected")
//	mon.UpdateDegraded("queue", "3 jobs dropped in the last minute")
//	status := mon.AggregateHealth("saba-device")
//
// Error messages passed through FromError are sanitized so broker URLs,
// addresses and credentials never leak through the unauthenticated endpoint.
package health
