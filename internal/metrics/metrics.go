// Package metrics provides Prometheus instrumentation for the Keymint platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keymint",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keymint",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LicenseChecksTotal counts license validation attempts by outcome.
	// Outcomes are "valid", "not_found", "expired", "not_active",
	// "usage_exceeded", and "error".
	LicenseChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keymint",
			Name:      "license_checks_total",
			Help:      "Total license check-and-consume attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LicensesTotal counts license lifecycle operations by action.
	LicensesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keymint",
			Name:      "licenses_total",
			Help:      "Total license lifecycle operations by action.",
		},
		[]string{"action"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keymint",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveApplications tracks the number of registered applications.
	ActiveApplications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keymint",
			Name:      "active_applications",
			Help:      "Number of currently registered applications.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keymint",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// AnalyticsCacheHits counts summary cache lookups by result.
	AnalyticsCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keymint",
			Name:      "analytics_cache_lookups_total",
			Help:      "Total analytics summary cache lookups by result (hit/miss).",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keymint", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keymint", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keymint", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keymint", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keymint", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keymint", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- License lifecycle metrics (extended) ---

	LicensesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keymint",
		Name:      "licenses_created_total",
		Help:      "Total license keys created.",
	})

	LicensesRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keymint",
		Name:      "licenses_revoked_total",
		Help:      "Total license keys revoked.",
	})

	LicensesExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keymint",
		Name:      "licenses_expired_total",
		Help:      "Total license keys observed transitioning to expired.",
	})

	LicenseCheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "keymint",
		Name:      "license_check_duration_seconds",
		Help:      "Time to validate and consume a license check in seconds.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LicenseChecksTotal,
		LicensesTotal,
		WebhookDeliveriesTotal,
		ActiveApplications,
		ActiveWebSocketClients,
		AnalyticsCacheHits,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		LicensesCreatedTotal,
		LicensesRevokedTotal,
		LicensesExpiredTotal,
		LicenseCheckDuration,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
