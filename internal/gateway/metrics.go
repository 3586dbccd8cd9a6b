package gateway

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "packageml"

// Metrics counts and times backend calls.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the gateway's collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Backend calls by method, collection and outcome.",
		}, []string{"method", "collection", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Latency of backend calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "collection"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(method, path string, start time.Time, err error) {
	if m == nil {
		return
	}
	collection := collectionOf(path)
	m.requests.WithLabelValues(method, collection, Outcome(err)).Inc()
	m.duration.WithLabelValues(method, collection).Observe(time.Since(start).Seconds())
}

// collectionOf maps a path to its collection root ("/jobs/5/start" -> "jobs") so the label set
// stays bounded.
func collectionOf(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}
