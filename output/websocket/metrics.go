package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/blinkrelay/metric"
)

// Metrics holds Prometheus metrics for the subscriber server
type Metrics struct {
	messagesSent        prometheus.Counter
	bytesSent           prometheus.Counter
	broadcastsTotal     *prometheus.CounterVec
	clientsConnected    prometheus.Gauge
	connectionTotal     prometheus.Counter
	disconnectionTotal  *prometheus.CounterVec
	framesDropped       prometheus.Counter
	broadcastDuration   prometheus.Histogram
	messageSizeBytes    prometheus.Histogram
	errorsTotal         *prometheus.CounterVec
	serverUptimeSeconds prometheus.Gauge
}

// newMetrics creates and registers the metrics. A nil registry disables them.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "frames_sent_total",
			Help:      "Frames written to subscriber sockets",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to subscriber sockets",
		}),
		broadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to subscribers",
		}, []string{"type"}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Currently connected subscribers",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Subscriber connections accepted",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Subscriber disconnections",
		}, []string{"disconnect_reason"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "frames_dropped_total",
			Help:      "Frames not queued because a subscriber fell behind",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to queue one message for all subscribers",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "message_size_bytes",
			Help:      "Size of broadcast messages",
			Buckets:   []float64{32, 64, 128, 256, 512, 1024},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Subscriber server errors",
		}, []string{"error_type"}),
		serverUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "server_uptime_seconds",
			Help:      "Subscriber server uptime in seconds",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.messagesSent,
		m.bytesSent,
		m.broadcastsTotal,
		m.clientsConnected,
		m.connectionTotal,
		m.disconnectionTotal,
		m.framesDropped,
		m.broadcastDuration,
		m.messageSizeBytes,
		m.errorsTotal,
		m.serverUptimeSeconds,
	)
	return m
}
