// Package metrics exposes pipeline and API counters over the standard
// Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unrest"

type Metrics struct {
	registry *prometheus.Registry

	PostsIngested   *prometheus.CounterVec
	PostsDiscarded  *prometheus.CounterVec
	Assignments     *prometheus.CounterVec
	IncidentsOpen   prometheus.Gauge
	IncidentsScored prometheus.Counter
	GeoFailures     *prometheus.CounterVec
	StoreConflicts  prometheus.Counter
	Moderation      *prometheus.CounterVec
	EventsEmitted   *prometheus.CounterVec
	ProcessDuration prometheus.Summary
}

func New() *Metrics {
	return NewWith(prometheus.NewRegistry())
}

func NewWith(reg *prometheus.Registry) *Metrics {
	m := &Metrics{registry: reg}

	m.PostsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_ingested_total",
		Help:      "Posts accepted into the store by source kind",
	}, []string{"source_kind"})
	m.PostsDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_discarded_total",
		Help:      "Posts not processed further by reason",
	}, []string{"reason"})
	m.Assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cluster_assignments_total",
		Help:      "Clustering outcomes for processed posts",
	}, []string{"outcome"})
	m.IncidentsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "incidents_open",
		Help:      "Incidents currently in an active status",
	})
	m.IncidentsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "incidents_scored_total",
		Help:      "Verification and severity rescoring passes",
	})
	m.GeoFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_resolution_failures_total",
		Help:      "Location resolutions that produced no fix by reason",
	}, []string{"reason"})
	m.StoreConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_conflicts_total",
		Help:      "Optimistic-concurrency conflicts retried against the store",
	})
	m.Moderation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_actions_total",
		Help:      "Moderator actions applied by action name",
	}, []string{"action"})
	m.EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Incident transition events broadcast to subscribers",
	}, []string{"kind"})
	m.ProcessDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "post_process_duration_seconds",
		Help:      "Time spent taking one post through the pipeline",
	})

	reg.MustRegister(
		m.PostsIngested, m.PostsDiscarded, m.Assignments,
		m.IncidentsOpen, m.IncidentsScored, m.GeoFailures,
		m.StoreConflicts, m.Moderation, m.EventsEmitted,
		m.ProcessDuration,
	)
	return m
}

// Handler serves this instance's registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
