package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric name.
const Namespace = "keypost"

// PrometheusRecorder implements Recorder on a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	loginAttempts   *prometheus.CounterVec
	authResults     *prometheus.CounterVec
	keySetRefreshes *prometheus.CounterVec
	usersMirrored   *prometheus.CounterVec
	postsCreated    prometheus.Counter
}

// NewPrometheus creates a recorder with its own registry, including the
// standard Go runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		loginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "login_attempts_total",
				Help:      "Login attempts proxied to the identity provider, by outcome",
			},
			[]string{"outcome"},
		),
		authResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "auth_requests_total",
				Help:      "Bearer-token checks on protected routes, by result and rejection reason",
			},
			[]string{"result", "reason"},
		),
		keySetRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jwks_refreshes_total",
				Help:      "Forced key-set refreshes, by status",
			},
			[]string{"status"},
		),
		usersMirrored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "users_mirrored_total",
				Help:      "Identity mirror upserts, by status",
			},
			[]string{"status"},
		),
		postsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "posts_created_total",
				Help:      "Posts created",
			},
		),
	}
}

// Registry returns the registry the recorder's collectors live in.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records a served request.
func (p *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncLoginAttempt increments the login counter for outcome.
func (p *PrometheusRecorder) IncLoginAttempt(outcome string) {
	p.loginAttempts.WithLabelValues(outcome).Inc()
}

// IncAuthResult increments the gate counter.
func (p *PrometheusRecorder) IncAuthResult(result, reason string) {
	p.authResults.WithLabelValues(result, reason).Inc()
}

// IncKeySetRefresh increments the key-set refresh counter.
func (p *PrometheusRecorder) IncKeySetRefresh(status string) {
	p.keySetRefreshes.WithLabelValues(status).Inc()
}

// IncUserMirrored increments the identity mirror counter.
func (p *PrometheusRecorder) IncUserMirrored(status string) {
	p.usersMirrored.WithLabelValues(status).Inc()
}

// IncPostCreated increments the post counter.
func (p *PrometheusRecorder) IncPostCreated() {
	p.postsCreated.Inc()
}
