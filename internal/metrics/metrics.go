package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alliance_ledger"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	withdrawalsSubmitted *prometheus.CounterVec
	transitions          *prometheus.CounterVec
	rejectionsNoNote     prometheus.Counter
	claims               *prometheus.CounterVec
	matured              prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		withdrawalsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_submitted_total",
			Help:      "Withdrawal submissions by source and outcome.",
		}, []string{"source", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_transitions_total",
			Help:      "Withdrawal status transitions by target status and outcome.",
		}, []string{"status", "outcome"}),
		rejectionsNoNote: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_without_note_total",
			Help:      "Rejections recorded without a reason.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_claims_total",
			Help:      "Package claims by outcome.",
		}, []string{"outcome"}),
		matured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_matured_total",
			Help:      "Package connections flagged ready to claim.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.withdrawalsSubmitted,
		m.transitions,
		m.rejectionsNoNote,
		m.claims,
		m.matured,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) WithdrawalSubmitted(source, outcome string) {
	m.withdrawalsSubmitted.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Transition(status, outcome string) {
	m.transitions.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) RejectionWithoutNote() {
	m.rejectionsNoNote.Inc()
}

func (m *Metrics) Claim(outcome string) {
	m.claims.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Matured(n int64) {
	m.matured.Add(float64(n))
}

// ObserveHTTP records one finished request. route is the router pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) InFlight(delta float64) {
	m.httpInFlight.Add(delta)
}
