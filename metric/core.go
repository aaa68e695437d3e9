package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-level metrics that do not belong to any one
// component: build identity and external connection state. Components
// register their own counters through the registry.
type Metrics struct {
	BuildInfo        *prometheus.GaugeVec
	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter
	CacheConnected   prometheus.Gauge
}

// NewMetrics creates the process-level metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mantle",
				Name:      "build_info",
				Help:      "Build information, always 1 with the version as a label",
			},
			[]string{"version"},
		),
		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mantle",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "MQTT broker connection status (0=disconnected, 1=connected)",
			},
		),
		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mantle",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of MQTT broker reconnections",
			},
		),
		CacheConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mantle",
				Subsystem: "hotcache",
				Name:      "connected",
				Help:      "Hot cache connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// RecordBuildInfo pins the build_info gauge for the running version.
func (m *Metrics) RecordBuildInfo(version string) {
	m.BuildInfo.WithLabelValues(version).Set(1)
}

// RecordBrokerStatus updates the MQTT broker connection gauge.
func (m *Metrics) RecordBrokerStatus(connected bool) {
	m.BrokerConnected.Set(boolValue(connected))
}

// RecordBrokerReconnect counts one broker reconnection.
func (m *Metrics) RecordBrokerReconnect() {
	m.BrokerReconnects.Inc()
}

// RecordCacheStatus updates the hot cache connection gauge.
func (m *Metrics) RecordCacheStatus(connected bool) {
	m.CacheConnected.Set(boolValue(connected))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
