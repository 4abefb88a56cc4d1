// Package metrics exposes prometheus counters for tracking, transport and collection.
//
// A nil *Recorder is valid and records nothing, so library users that do not care about
// metrics never have to build one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splitpage"

// Recorder holds every splitpage metric on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	EventsTracked     *prometheus.CounterVec
	EventsRejected    *prometheus.CounterVec
	TransportRequests *prometheus.CounterVec
	TransportLatency  *prometheus.HistogramVec
	CollectorReceived *prometheus.CounterVec
	GeoLookups        *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		EventsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_tracked_total",
			Help:      "Events accepted by the tracker, by kind.",
		}, []string{"kind"}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events discarded by the tracker, by kind and reason.",
		}, []string{"kind", "reason"}),
		TransportRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_requests_total",
			Help:      "Collector requests, by mode and result.",
		}, []string{"mode", "result"}),
		TransportLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_latency_seconds",
			Help:      "Collector request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		CollectorReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_events_received_total",
			Help:      "Events received by the collector, by kind.",
		}, []string{"kind"}),
		GeoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_lookups_total",
			Help:      "Geo fetches, by result.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		r.EventsTracked,
		r.EventsRejected,
		r.TransportRequests,
		r.TransportLatency,
		r.CollectorReceived,
		r.GeoLookups,
	)
	return r
}

// Gatherer returns the registry for export.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Recorder) Tracked(kind string) {
	if r == nil {
		return
	}
	r.EventsTracked.WithLabelValues(kind).Inc()
}

func (r *Recorder) Rejected(kind, reason string) {
	if r == nil {
		return
	}
	r.EventsRejected.WithLabelValues(kind, reason).Inc()
}

// Sent records one collector request. err == nil counts as success.
func (r *Recorder) Sent(mode string, took time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.TransportRequests.WithLabelValues(mode, result).Inc()
	r.TransportLatency.WithLabelValues(mode).Observe(took.Seconds())
}

func (r *Recorder) Received(kind string, n int) {
	if r == nil {
		return
	}
	r.CollectorReceived.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) GeoLookup(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.GeoLookups.WithLabelValues(result).Inc()
}
