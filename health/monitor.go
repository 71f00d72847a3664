package health

import (
	"sort"
	"sync"
	"time"

	"github.com/kawaiiTaiga/project-SABA/metric"
)

// Monitor tracks the health of the runtime components in a thread-safe manner.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	metrics  *metric.Metrics
}

// NewMonitor creates a monitor. When metrics is non-nil every update is
// mirrored to the health gauge.
func NewMonitor(metrics *metric.Metrics) *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		metrics:  metrics,
	}
}

// Update stores the status for a named component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	m.metrics.RecordHealthStatus(name, status.IsHealthy())
}

// UpdateHealthy marks a component healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a component degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove stops tracking a component
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// AggregateHealth returns the device status with sub-statuses sorted by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(systemName, subStatuses)
}

// ListComponents returns the tracked component names in sorted order
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}
