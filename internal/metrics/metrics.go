// Package metrics holds the Prometheus collectors of the bridge. All methods
// are safe on a nil *Metrics so callers can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "broadcastnet"

type Metrics struct {
	registry *prometheus.Registry

	measurements   prometheus.Counter
	missed         *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	provisioned    *prometheus.CounterVec
	dropped        prometheus.Counter
	senders        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Measurements pulled from the scan source.",
		}),
		missed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missed_broadcasts_total",
			Help:      "Broadcasts inferred lost from sequence number gaps.",
		}, []string{"sender"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload cycles by outcome.",
		}, []string{"status"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Duration of one upload cycle, provisioning included.",
			Buckets:   prometheus.DefBuckets,
		}),
		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioned_total",
			Help:      "Groups and feeds created on the remote service.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_dropped_total",
			Help:      "Measurements dropped because the bridge loop was busy.",
		}),
		senders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "senders",
			Help:      "Senders with a provisioned group.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.measurements,
		m.missed,
		m.uploads,
		m.uploadDuration,
		m.provisioned,
		m.dropped,
		m.senders,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(sender, status string, missed int, d time.Duration) {
	if m == nil {
		return
	}
	m.measurements.Inc()
	if missed > 0 {
		m.missed.WithLabelValues(sender).Add(float64(missed))
	}
	m.uploads.WithLabelValues(status).Inc()
	m.uploadDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProvision(kind string) {
	if m == nil {
		return
	}
	m.provisioned.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) SetSenders(n int) {
	if m == nil {
		return
	}
	m.senders.Set(float64(n))
}
