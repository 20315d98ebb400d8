package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Permission evaluation metrics are package level so the evaluator can record
// without threading a Metrics handle through every service. NewMetrics
// registers them on the registry the /metrics endpoint serves.
var (
	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_permission_checks_total",
			Help: "Total number of permission checks by flag and outcome",
		},
		[]string{"flag", "outcome"},
	)
	permissionCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_permission_check_duration_seconds",
			Help:    "Permission check duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"flag"},
	)
)

// RecordPermissionCheck records one permission evaluation.
func RecordPermissionCheck(flag string, allowed bool, d time.Duration) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	permissionChecksTotal.WithLabelValues(flag, outcome).Inc()
	permissionCheckDuration.WithLabelValues(flag).Observe(d.Seconds())
}

// Metrics holds the Prometheus collectors wired into the HTTP server and the
// background collectors in cmd/huddle.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWaited prometheus.Gauge

	RateLimitRejectionsTotal *prometheus.CounterVec

	TeamsTotal              prometheus.Gauge
	ActiveMembersTotal      prometheus.Gauge
	PendingInvitationsTotal prometheus.Gauge

	AuditEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huddle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huddle_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_db_connections_active",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaited: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_rate_limit_rejections_total",
				Help: "Total number of rate-limited requests",
			},
			[]string{"scope"},
		),

		TeamsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_teams_total",
				Help: "Total number of active teams",
			},
		),
		ActiveMembersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_active_members_total",
				Help: "Total number of active team memberships",
			},
		),
		PendingInvitationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_pending_invitations_total",
				Help: "Number of outstanding team invitations",
			},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_audit_events_total",
				Help: "Total number of audit events by type and status",
			},
			[]string{"event_type", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaited,
		m.RateLimitRejectionsTotal,
		m.TeamsTotal,
		m.ActiveMembersTotal,
		m.PendingInvitationsTotal,
		m.AuditEventsTotal,
		permissionChecksTotal,
		permissionCheckDuration,
	)

	return m
}

// UpdateDBStats copies connection pool stats into the gauges. Called
// periodically from the main loop.
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.OpenConnections))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaited.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
