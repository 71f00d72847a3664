package health

import (
	"regexp"
	"strings"
	"time"
)

var (
	urlRegex         = regexp.MustCompile(`(?:https?|nats|tls|mqtts?|tcp|ssl|wss?)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status levels
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status represents the health state of a runtime component or the whole device
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries counters that explain a status
type Metrics struct {
	Uptime        time.Duration `json:"uptime"`
	ErrorCount    int           `json:"error_count"`
	JobsProcessed int64         `json:"jobs_processed,omitempty"`
	QueueDepth    int           `json:"queue_depth,omitempty"`
	LastActivity  time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy with subStatus appended
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// FromError builds an unhealthy status from err, or a healthy one when err is nil.
// The message is sanitized because /healthz is served without authentication.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
}

// sanitizeErrorMessage strips URLs, paths, addresses, ports and credentials.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(msg, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}

	return sanitized
}
