package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kestrel"

// Metrics holds every Prometheus collector Kestrel exports.
type Metrics struct {
	Assessments        *prometheus.CounterVec
	AssessmentErrors   *prometheus.CounterVec
	AssessmentDuration *prometheus.HistogramVec
	RiskScores         *prometheus.HistogramVec
	SARRequired        *prometheus.CounterVec
	ProfilesLoaded     prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	CaseTransitions    *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers Kestrel collectors on reg. Passing a fresh
// prometheus.NewRegistry keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Assessments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "assessments_total",
			Help:      "Cases assessed, by profile, risk level and decision status.",
		}, []string{"profile", "risk_level", "status"}),

		AssessmentErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "assessment_errors_total",
			Help:      "Cases that could not be assessed, by profile and error kind.",
		}, []string{"profile", "kind"}),

		AssessmentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "assessment_duration_seconds",
			Help:      "Wall time of one assessment including persistence.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"profile"}),

		RiskScores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "risk_score",
			Help:      "Distribution of aggregated risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"profile"}),

		SARRequired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "sar_required_total",
			Help:      "Assessments whose decision requires a SAR.",
		}, []string{"profile"}),

		ProfilesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "profiles",
			Name:      "loaded",
			Help:      "Risk profiles in the active registry snapshot.",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events published, by topic and outcome.",
		}, []string{"topic", "outcome"}),

		CaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "status_transitions_total",
			Help:      "Review status changes, by previous and new status.",
		}, []string{"from", "to"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObservePublish records the outcome of one bus publish.
func (m *Metrics) ObservePublish(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(topic, outcome).Inc()
}
