package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// namespace prefixes every metric this package registers.
const namespace = "teambeat"

// Metrics holds all Prometheus collectors for teambeat. Every method is safe
// to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cycle lifecycle metrics.
	CyclesOpenedTotal   prometheus.Counter
	CyclesClosedTotal   prometheus.Counter
	InvitationsIssued   prometheus.Counter
	DeliveriesTotal     *prometheus.CounterVec
	DispatchSkipsTotal  *prometheus.CounterVec
	DispatchErrorsTotal *prometheus.CounterVec

	// Dispatch pass metrics.
	DispatchPassDuration prometheus.Histogram
	DispatchLastPass     prometheus.Gauge

	// Collection metrics.
	SubmissionsTotal     *prometheus.CounterVec
	TokenRejectionsTotal *prometheus.CounterVec

	// Rate limiting and auth.
	RateLimitRejectionsTotal *prometheus.CounterVec
	AuthFailuresTotal        prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		CyclesOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_opened_total",
			Help:      "Total number of check-in cycles opened.",
		}),

		CyclesClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_closed_total",
			Help:      "Total number of check-in cycles closed.",
		}),

		InvitationsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_issued_total",
			Help:      "Total number of pending submissions created with a collection token.",
		}),

		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of outbound mail deliveries by kind and status.",
		}, []string{"kind", "status"}),

		DispatchSkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_skips_total",
			Help:      "Teams skipped by a dispatch phase, by reason.",
		}, []string{"phase", "reason"}),

		DispatchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Teams whose processing failed in a dispatch phase.",
		}, []string{"phase"}),

		DispatchPassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_pass_duration_seconds",
			Help:      "Duration of a full dispatch pass in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		DispatchLastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_last_pass_timestamp_seconds",
			Help:      "Unix timestamp of the last completed dispatch pass.",
		}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Answer submissions by outcome.",
		}, []string{"outcome"}),

		TokenRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_rejections_total",
			Help:      "Collection tokens rejected, by reason.",
		}, []string{"reason"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Total number of rate limit rejections.",
		}, []string{"scope"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of admin authentication failures.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_start_time_seconds",
			Help:      "Unix timestamp when the process started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CyclesOpenedTotal,
		m.CyclesClosedTotal,
		m.InvitationsIssued,
		m.DeliveriesTotal,
		m.DispatchSkipsTotal,
		m.DispatchErrorsTotal,
		m.DispatchPassDuration,
		m.DispatchLastPass,
		m.SubmissionsTotal,
		m.TokenRejectionsTotal,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	if m == nil {
		return
	}
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(d.Seconds())
}

// IncCycleOpened counts an opened cycle and the invitations it created.
func (m *Metrics) IncCycleOpened(invitations int) {
	if m == nil {
		return
	}
	m.CyclesOpenedTotal.Inc()
	m.InvitationsIssued.Add(float64(invitations))
}

// IncCycleClosed counts a closed cycle.
func (m *Metrics) IncCycleClosed() {
	if m == nil {
		return
	}
	m.CyclesClosedTotal.Inc()
}

// IncDelivery counts a delivery attempt.
func (m *Metrics) IncDelivery(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.DeliveriesTotal.WithLabelValues(kind, status).Inc()
}

// IncDispatchSkip counts a routine skip.
func (m *Metrics) IncDispatchSkip(phase, reason string) {
	if m == nil {
		return
	}
	m.DispatchSkipsTotal.WithLabelValues(phase, reason).Inc()
}

// IncDispatchError counts a failed team task.
func (m *Metrics) IncDispatchError(phase string) {
	if m == nil {
		return
	}
	m.DispatchErrorsTotal.WithLabelValues(phase).Inc()
}

// ObserveDispatchPass records a completed pass.
func (m *Metrics) ObserveDispatchPass(d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.DispatchPassDuration.Observe(d.Seconds())
	m.DispatchLastPass.Set(float64(finished.Unix()))
}

// IncSubmission counts a submission attempt by outcome.
func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// IncTokenRejection counts a rejected collection token.
func (m *Metrics) IncTokenRejection(reason string) {
	if m == nil {
		return
	}
	m.TokenRejectionsTotal.WithLabelValues(reason).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncAuthFailure increments the admin auth failure counter.
func (m *Metrics) IncAuthFailure() {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.Inc()
}
