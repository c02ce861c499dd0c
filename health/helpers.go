package health

import (
	"fmt"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StatusHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy returns a healthy status for component.
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy returns an unhealthy status for component.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded returns a degraded status. The relay keeps serving while
// degraded, for example with the sensor unplugged.
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// Aggregate rolls component statuses up into one: the worst state wins.
// The inputs are kept as sub-statuses.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No components registered")
	}

	var unhealthy, degraded int
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	total := len(subStatuses)
	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, fmt.Sprintf("%d of %d components unhealthy", unhealthy, total))
	case degraded > 0:
		status = NewDegraded(component, fmt.Sprintf("%d of %d components degraded", degraded, total))
	default:
		status = NewHealthy(component, fmt.Sprintf("All %d components healthy", total))
	}

	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}
