package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/blinkrelay/metric"
)

// Metrics holds Prometheus metrics for the relay pipeline
type Metrics struct {
	linesTotal    *prometheus.CounterVec
	blinksTotal   prometheus.Counter
	samplesTotal  prometheus.Counter
	sinkErrors    *prometheus.CounterVec
	lastSeq       prometheus.Gauge
	blinkInterval prometheus.Histogram
}

// newMetrics creates and registers the relay metrics. A nil registry
// disables them.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "lines_total",
			Help:      "Sensor lines processed, by outcome",
		}, []string{"outcome"}),
		blinksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "blinks_total",
			Help:      "Blink events accepted and broadcast",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "samples_forwarded_total",
			Help:      "Raw samples forwarded to subscribers",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "sink_errors_total",
			Help:      "Delivery errors reported by secondary sinks",
		}, []string{"sink"}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "last_sequence",
			Help:      "Sequence number of the most recent blink",
		}),
		blinkInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "blink_interval_seconds",
			Help:      "Time between consecutive accepted blinks",
			Buckets:   []float64{0.35, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10, 30},
		}),
	}

	const service = "relay"
	if err := registry.RegisterCounterVec(service, "lines", m.linesTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "blinks", m.blinksTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "samples", m.samplesTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "sink_errors", m.sinkErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "last_seq", m.lastSeq); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(service, "blink_interval", m.blinkInterval); err != nil {
		return nil, err
	}
	return m, nil
}
