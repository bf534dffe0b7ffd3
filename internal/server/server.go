// Package server wires the reservation HTTP API: middleware chain, routes,
// and graceful startup/shutdown.
package server

import (
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/config"
	"github.com/carorbit/reservations/internal/coordinator"
	"github.com/carorbit/reservations/internal/health"
	"github.com/carorbit/reservations/internal/idempotency"
	"github.com/carorbit/reservations/internal/logging"
	"github.com/carorbit/reservations/internal/metrics"
	"github.com/carorbit/reservations/internal/outbox"
	"github.com/carorbit/reservations/internal/payment"
	"github.com/carorbit/reservations/internal/reconciliation"
	"github.com/carorbit/reservations/internal/reservation"
	"github.com/carorbit/reservations/internal/supplier"
	"github.com/carorbit/reservations/internal/traces"
	"github.com/carorbit/reservations/internal/validation"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg *config.Config

	db              *sql.DB
	reservations    *reservation.Factory
	payments        payment.Gateway
	suppliers       *supplier.Factory
	coordinator     *coordinator.Coordinator
	idempotencyKeys idempotency.Store
	outboxStore     outbox.Store
	dispatcher      *outbox.Dispatcher
	reconciler      *reconciliation.Runner
	healthRegistry  *health.Registry
	tracerShutdown  func(context.Context) error

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance, opening its database connection pool
// and wiring every component the commit protocol needs.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := appendDSNParams(cfg.DatabaseURL, cfg.DBConnectTimeout, cfg.DBStatementTimeout)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("server: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("server: connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("connected to database", "dsn", maskDSN(cfg.DatabaseURL))

	s.reservations = reservation.NewFactory(db)
	s.payments = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookKey, s.logger)
	s.suppliers = supplier.NewFactory(s.logger)
	s.coordinator = coordinator.New(s.reservations, s.payments, s.suppliers, s.logger)
	s.idempotencyKeys = idempotency.NewPostgresStore(db, cfg.IdempotencyTTL)
	s.outboxStore = outbox.NewPostgresStore(db)
	s.dispatcher = outbox.NewDispatcher(s.outboxStore, s.logger).
		WithInterval(cfg.OutboxPollInterval).
		WithBatchSize(cfg.OutboxBatchSize)
	registerOutboxHandlers(s.dispatcher, s.logger)

	s.reconciler = reconciliation.NewRunner(s.logger).
		WithStuckPayments(reconciliation.NewSQLStuckPaymentChecker(db, s.outboxStore, cfg.ReconciliationStale)).
		WithOrphanedSupplierRequests(reconciliation.NewSQLOrphanedSupplierRequestChecker(db, cfg.SupplierTimeout)).
		WithPoisonOutbox(reconciliation.NewSQLPoisonOutboxChecker(db, outbox.MaxAttempts)).
		WithExpiredIdempotency(reconciliation.NewSQLExpiredIdempotencyChecker(db))

	s.healthRegistry = health.NewRegistry()
	s.healthRegistry.Register("database", func(ctx context.Context) health.Status {
		if err := db.PingContext(ctx); err != nil {
			return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "database", Healthy: true}
	})
	s.healthy.Store(true)

	shutdownTracer, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("server: init tracing: %w", err)
	}
	s.tracerShutdown = shutdownTracer

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// registerOutboxHandlers attaches a delivery handler for every event type
// the coordinator and reconciliation sweep emit. No real downstream
// consumer (webhook subscriber, message broker) exists for these events
// yet, so delivery here means durably logging the fact at info
// level — the same "never silently dropped" guarantee the dispatcher
// itself already provides for unregistered types, made explicit for the
// types this service actually produces.
func registerOutboxHandlers(d *outbox.Dispatcher, logger *slog.Logger) {
	for _, eventType := range []string{
		"ReservationCreated", "ReservationConfirmed", "ReservationCancelled",
		"PaymentCompleted", "PaymentRefundRequested", "PaymentOutcomeUnknown",
		"ReservationReconciliationNeeded",
	} {
		et := eventType
		d.Register(et, func(ctx context.Context, event outbox.Event) error {
			logger.Info("outbox event delivered", "event_type", et, "aggregate_id", event.AggregateID, "payload", string(event.Payload))
			metrics.OutboxEventsPublishedTotal.WithLabelValues(et).Inc()
			return nil
		})
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal",
			"message": "an unexpected error occurred",
		})
	}))

	s.router.Use(gzipMiddleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.timeoutMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		case status >= 400:
			logger.Warn("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		}
	}
}

func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/internal/outbox", s.outboxPoisonQueueHandler)

	v1 := s.router.Group("/api/v1")
	v1.POST("/availability", s.availabilityHandler)

	reservationIdemp := idempotency.Middleware(s.idempotencyKeys, "create_reservation")
	v1.POST("/reservations", reservationIdemp, s.createReservationHandler)
	v1.GET("/reservations", s.listReservationsHandler)

	byCode := v1.Group("/reservations/:code", validation.ReservationCodeParamMiddleware())
	byCode.GET("", s.getReservationHandler)
	byCode.GET("/supplier-requests", s.supplierRequestsHandler)
}

// Router returns the gin router, for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// -----------------------------------------------------------------------------
// Run / Shutdown
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers and blocks until a
// shutdown signal arrives or ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.dispatcher.Start(runCtx)
	go s.runReconciliationLoop(runCtx)
	go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

func (s *Server) runReconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconciliationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.reconciler.RunAll(ctx)
			if err != nil {
				s.logger.Warn("reconciliation sweep failed", "error", err)
				continue
			}
			s.healthy.Store(report.Healthy)
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.dispatcher.Stop()
	if s.tracerShutdown != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.tracerShutdown(shutdownCtx); err != nil {
			s.logger.Warn("tracer shutdown error", "error", err)
		}
		shutdownCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if err := s.suppliers.CloseAll(); err != nil {
		s.logger.Warn("error closing supplier adapters", "error", err)
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}

	s.logger.Info("server stopped")
	return nil
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthRegistry.CheckAll(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": statuses})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func appendDSNParams(dsn string, connectTimeout, statementTimeout int) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sconnect_timeout=%d&statement_timeout=%d", dsn, sep, connectTimeout, statementTimeout)
	}
	return fmt.Sprintf("%s connect_timeout=%d statement_timeout=%d", dsn, connectTimeout, statementTimeout)
}

func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at == -1 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme == -1 || scheme > at {
		return dsn
	}
	return dsn[:scheme+3] + "***@" + dsn[at+1:]
}

func parseQueryInt(c *gin.Context, key string, defaultValue int) int {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

type gzipWriter struct {
	gin.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.writer.Write([]byte(s))
}

func gzipMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}
		gz, err := gzip.NewWriterLevel(c.Writer, gzip.DefaultCompression)
		if err != nil {
			c.Next()
			return
		}
		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, writer: gz}
		defer func() {
			if err := gz.Close(); err != nil {
				_ = c.Error(err)
			}
			c.Header("Content-Length", "")
		}()
		c.Next()
	}
}

func generateRequestID() string {
	return uuid.NewString()
}

func renderAppError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logging.L(c.Request.Context()).Error("unhandled error", "error", err)
	}
	status, body := apperr.Envelope(err)
	c.JSON(status, body)
}
