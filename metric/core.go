package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every relay metric.
const Namespace = "blinkrelay"

// Metrics contains process-wide metrics. Component metrics live with their
// components.
type Metrics struct {
	BuildInfo *prometheus.GaugeVec
	StartTime prometheus.Gauge
	Subsystem *prometheus.GaugeVec
}

// NewMetrics creates the core metrics.
func NewMetrics(version string) *Metrics {
	m := &Metrics{
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information, always 1",
		}, []string{"version"}),
		StartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "start_time_seconds",
			Help:      "Unix time the relay started",
		}),
		Subsystem: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "subsystem_up",
			Help:      "Whether a subsystem is running (1) or not (0)",
		}, []string{"subsystem"}),
	}
	m.BuildInfo.WithLabelValues(version).Set(1)
	m.StartTime.Set(float64(time.Now().Unix()))
	return m
}

// SetSubsystemUp records whether a named subsystem is running.
func (m *Metrics) SetSubsystemUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.Subsystem.WithLabelValues(name).Set(v)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.BuildInfo, m.StartTime, m.Subsystem}
}
