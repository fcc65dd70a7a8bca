package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sender's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Dispatch metrics
	DispatchesTotal   *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	HopsTotal         *prometheus.CounterVec
	AuthRetriesTotal  *prometheus.CounterVec
	RedirectStops     *prometheus.CounterVec
	TransportRetries  prometheus.Counter
	BreakerStateTotal *prometheus.CounterVec

	// Listener metrics
	ListenerFailures *prometheus.CounterVec

	// Body metrics
	BodyBytes *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.NewRegistry()
// in tests to keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DispatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_dispatches_total",
				Help: "Total number of logical sends by initiator and outcome",
			},
			[]string{"initiator", "outcome"},
		),
		DispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "httpsender_dispatch_duration_seconds",
				Help:    "Duration of logical sends including redirects",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"initiator"},
		),
		HopsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_hops_total",
				Help: "Total number of requests put on the wire by status class",
			},
			[]string{"initiator", "class"},
		),
		AuthRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_auth_retries_total",
				Help: "Total number of forced re-authentications",
			},
			[]string{"initiator"},
		),
		RedirectStops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_redirect_stops_total",
				Help: "Why redirect following ended early",
			},
			[]string{"reason"},
		),
		TransportRetries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "httpsender_transport_retries_total",
				Help: "Total number of sends retried after an I/O error",
			},
		),
		BreakerStateTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_breaker_transitions_total",
				Help: "Circuit breaker state transitions by target state",
			},
			[]string{"state"},
		),
		ListenerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_listener_failures_total",
				Help: "Listener callbacks that returned an error or panicked",
			},
			[]string{"event"},
		),
		BodyBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsender_body_bytes_total",
				Help: "Response body bytes consumed by sink",
			},
			[]string{"sink"},
		),
	}
}

// ObserveDispatch records a finished logical send.
func (m *Metrics) ObserveDispatch(initiator string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.DispatchesTotal.WithLabelValues(initiator, outcome).Inc()
	m.DispatchDuration.WithLabelValues(initiator).Observe(d.Seconds())
}

// ObserveHop records a request that received a response.
func (m *Metrics) ObserveHop(initiator string, status int) {
	if m == nil {
		return
	}
	m.HopsTotal.WithLabelValues(initiator, StatusClass(status)).Inc()
}

// IncAuthRetry records a forced re-authentication.
func (m *Metrics) IncAuthRetry(initiator string) {
	if m == nil {
		return
	}
	m.AuthRetriesTotal.WithLabelValues(initiator).Inc()
}

// IncRedirectStop records why redirect following ended.
func (m *Metrics) IncRedirectStop(reason string) {
	if m == nil {
		return
	}
	m.RedirectStops.WithLabelValues(reason).Inc()
}

// IncTransportRetry records a retried send.
func (m *Metrics) IncTransportRetry() {
	if m == nil {
		return
	}
	m.TransportRetries.Inc()
}

// IncBreakerTransition records a breaker entering state.
func (m *Metrics) IncBreakerTransition(state string) {
	if m == nil {
		return
	}
	m.BreakerStateTotal.WithLabelValues(state).Inc()
}

// IncListenerFailure records a failed listener callback.
func (m *Metrics) IncListenerFailure(event string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(event).Inc()
}

// AddBodyBytes records bytes consumed by a sink.
func (m *Metrics) AddBodyBytes(sink string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BodyBytes.WithLabelValues(sink).Add(float64(n))
}

// StatusClass buckets a status code as "2xx", "3xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return string(rune('0'+status/100)) + "xx"
}
