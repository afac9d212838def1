package output

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide counters exposed on the optional
// /metrics endpoint. Naming follows promauto's registration pattern.
type Metrics struct {
	PointsWritten   *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	WriteLatency    *prometheus.HistogramVec
	HTTPForwarded   *prometheus.CounterVec
	HTTPForwardFail *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PointsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbridge_points_written_total",
			Help: "Line-protocol points successfully written to InfluxDB, by bucket.",
		}, []string{"bucket"}),
		WriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbridge_write_failures_total",
			Help: "InfluxDB write attempts that exhausted retries, by bucket.",
		}, []string{"bucket"}),
		WriteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqttbridge_write_duration_seconds",
			Help:    "Latency of successful InfluxDB batch writes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"bucket"}),
		HTTPForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbridge_http_forwarded_total",
			Help: "httpcontent payloads successfully forwarded, by rule.",
		}, []string{"rule"}),
		HTTPForwardFail: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbridge_http_forward_failures_total",
			Help: "httpcontent payloads that failed to forward, by rule.",
		}, []string{"rule"}),
	}
}
