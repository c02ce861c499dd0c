// Package component defines the lifecycle and inspection contracts shared by
// the relay's inputs and outputs.
package component

import (
	"time"
)

// Kind says where a component sits in the pipeline.
type Kind string

// Pipeline positions.
const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)

// Discoverable is implemented by components whose state is reported on the
// health endpoint.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata names a component.
type Metadata struct {
	Name        string `json:"name"`
	Type        Kind   `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health report. ErrorCount and LastError
// cover the component's whole life, not just the last check.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics are average rates since the component started.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Rate is count per second between start and now. A zero start yields 0.
func Rate(count int64, start, now time.Time) float64 {
	elapsed := now.Sub(start).Seconds()
	if start.IsZero() || elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed
}
