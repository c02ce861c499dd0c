package health

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/c360/blinkrelay/component"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(https?|nats|wss?)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// HTTPCode maps the status to the code served on /health. A degraded relay
// still answers 200 because subscribers can connect.
func (s Status) HTTPCode() int {
	if s.IsUnhealthy() {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// sanitizeErrorMessage strips addresses and credentials from error text
// before it is exposed on the health endpoint. Device paths are kept since
// they are what an operator needs to see.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// FromComponentHealth converts a component.HealthStatus to a Status. When
// optional is true an unhealthy component only degrades the system.
func FromComponentHealth(name string, ch component.HealthStatus, optional bool) Status {
	status := StatusHealthy
	switch {
	case ch.Healthy:
	case optional:
		status = StatusDegraded
	default:
		status = StatusUnhealthy
	}

	message := "Component healthy"
	if ch.LastError != "" {
		message = sanitizeErrorMessage(ch.LastError)
	} else if !ch.Healthy {
		message = "Component not running"
	}

	return Status{
		Component: name,
		Healthy:   ch.Healthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Uptime:       ch.Uptime,
			ErrorCount:   ch.ErrorCount,
			LastActivity: ch.LastCheck,
		},
	}
}
