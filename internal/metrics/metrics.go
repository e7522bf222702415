package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers can coexist in one
// process (tests). A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	otpIssued         *prometheus.CounterVec
	otpVerifications  *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	requestsSubmitted prometheus.Counter
	statusTransitions *prometheus.CounterVec
	certificateNumber prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonafide_otp_issued_total",
			Help: "OTP codes generated, by delivery outcome.",
		}, []string{"delivery"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonafide_otp_verifications_total",
			Help: "OTP verification attempts, by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonafide_registrations_total",
			Help: "Signup attempts, by role and result.",
		}, []string{"role", "result"}),
		requestsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bonafide_certificate_requests_submitted_total",
			Help: "Certificate requests created.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonafide_certificate_status_transitions_total",
			Help: "Certificate request status changes, by new status.",
		}, []string{"status"}),
		certificateNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bonafide_certificate_counter",
			Help: "Last allocated certificate sequence value.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonafide_http_requests_total",
			Help: "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.otpIssued,
		m.otpVerifications,
		m.registrations,
		m.requestsSubmitted,
		m.statusTransitions,
		m.certificateNumber,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OTPIssued(delivered bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	m.otpIssued.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OTPVerification(result string) {
	if m == nil {
		return
	}
	m.otpVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Registration(role, result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(role, result).Inc()
}

func (m *Metrics) RequestSubmitted() {
	if m == nil {
		return
	}
	m.requestsSubmitted.Inc()
}

func (m *Metrics) StatusTransition(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) CertificateAllocated(value int64) {
	if m == nil {
		return
	}
	m.certificateNumber.Set(float64(value))
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
