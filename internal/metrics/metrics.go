// Package metrics provides Prometheus instrumentation for the reservation service.
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
			Namespace: "carorbit",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carorbit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReservationsTotal counts reservations created by initial status.
	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carorbit",
			Name:      "reservations_total",
			Help:      "Total reservations created, by resulting status.",
		},
		[]string{"status"},
	)

	// ReservationCommitDuration observes the end-to-end latency of the
	// create-reservation commit protocol (T1 through T3).
	ReservationCommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carorbit",
		Name:      "reservation_commit_duration_seconds",
		Help:      "Duration of the full create-reservation commit protocol.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	})

	// PaymentChargesTotal counts payment gateway charge attempts by result.
	PaymentChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carorbit",
			Name:      "payment_charges_total",
			Help:      "Total payment gateway charge attempts by result.",
		},
		[]string{"result"},
	)

	// SupplierBookingsTotal counts supplier gateway booking attempts by
	// supplier and result.
	SupplierBookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carorbit",
			Name:      "supplier_bookings_total",
			Help:      "Total supplier booking attempts by supplier id and result.",
		},
		[]string{"supplier_id", "result"},
	)

	// IdempotentReplaysTotal counts requests served from the idempotency
	// cache instead of re-executing the handler.
	IdempotentReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carorbit",
		Name:      "idempotent_replays_total",
		Help:      "Total requests served as cached idempotent replays.",
	})

	// IdempotencyConflictsTotal counts requests rejected because the same
	// key was reused with a different request body.
	IdempotencyConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carorbit",
		Name:      "idempotency_conflicts_total",
		Help:      "Total requests rejected for reusing an idempotency key with a different payload.",
	})

	// OutboxEventsPublishedTotal counts outbox events successfully dispatched.
	OutboxEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carorbit",
			Name:      "outbox_events_published_total",
			Help:      "Total outbox events successfully dispatched, by event type.",
		},
		[]string{"event_type"},
	)

	// OutboxEventsFailedTotal counts outbox dispatch attempts that failed.
	OutboxEventsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carorbit",
			Name:      "outbox_events_failed_total",
			Help:      "Total outbox dispatch attempts that failed, by event type.",
		},
		[]string{"event_type"},
	)

	// OutboxBacklog tracks the number of pending outbox events.
	OutboxBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit",
		Name:      "outbox_backlog",
		Help:      "Number of outbox events currently pending dispatch.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ReservationsTotal,
		ReservationCommitDuration,
		PaymentChargesTotal,
		SupplierBookingsTotal,
		IdempotentReplaysTotal,
		IdempotencyConflictsTotal,
		OutboxEventsPublishedTotal,
		OutboxEventsFailedTotal,
		OutboxBacklog,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
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
