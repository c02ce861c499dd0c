package serial

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/blinkrelay/metric"
)

// Metrics holds Prometheus metrics for the serial input
type Metrics struct {
	linesRead    prometheus.Counter
	bytesRead    prometheus.Counter
	readErrors   prometheus.Counter
	openFailures prometheus.Counter
	reconnects   prometheus.Counter
	connected    prometheus.Gauge
	lastActivity prometheus.Gauge
}

// newMetrics creates and registers serial input metrics. Nil registry, nil metrics.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "lines_read_total",
			Help:      "Newline-terminated records read from the device",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "bytes_read_total",
			Help:      "Bytes read from the device",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "read_errors_total",
			Help:      "Read errors on an open device",
		}),
		openFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "open_failures_total",
			Help:      "Failed attempts to open the device",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "reconnects_total",
			Help:      "Successful reopen after a read failure",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "connected",
			Help:      "1 while the device is open",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last line read",
		}),
	}

	const service = "serial"
	if err := registry.RegisterCounter(service, "lines_read", m.linesRead); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "bytes_read", m.bytesRead); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "read_errors", m.readErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "open_failures", m.openFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "connected", m.connected); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "last_activity", m.lastActivity); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
