// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/keymint/keymint/internal/analytics"
	"github.com/keymint/keymint/internal/apps"
	"github.com/keymint/keymint/internal/auth"
	"github.com/keymint/keymint/internal/billing"
	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/dashboard"
	"github.com/keymint/keymint/internal/health"
	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/metrics"
	"github.com/keymint/keymint/internal/ratelimit"
	"github.com/keymint/keymint/internal/realtime"
	"github.com/keymint/keymint/internal/security"
	"github.com/keymint/keymint/internal/session"
	"github.com/keymint/keymint/internal/traces"
	"github.com/keymint/keymint/internal/user"
	"github.com/keymint/keymint/internal/validation"
	"github.com/keymint/keymint/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB       // nil if using in-memory
	redisClient  *redis.Client // nil if Redis is not configured
	authMgr      *auth.Manager
	users        *user.Service
	apps         *apps.Service
	licenses     *license.Service
	sessions     *session.Service
	analytics    *analytics.Service
	billing      *billing.Service
	webhooks     *webhooks.Dispatcher
	webhookStore webhooks.Store
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthChecks *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	traceFlush   func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, cfg.LogFormat),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op when no OTLP endpoint is configured)
	flush, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceFlush = flush
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		userStore    user.Store
		authStore    auth.Store
		appStore     apps.Store
		licenseStore license.Store
		sessionStore session.Store
		eventStore   analytics.EventStore
		webhookStore webhooks.Store
		paymentStore billing.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		userStore = user.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		appStore = apps.NewPostgresStore(db)
		licenseStore = license.NewPostgresStore(db)
		sessionStore = session.NewPostgresStore(db)
		eventStore = analytics.NewPostgresEventStore(db)
		webhookStore = webhooks.NewPostgresStore(db)
		paymentStore = billing.NewPostgresStore(db)

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		userStore = user.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		appStore = apps.NewMemoryStore()
		licenseStore = license.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		eventStore = analytics.NewMemoryEventStore()
		webhookStore = webhooks.NewMemoryStore()
		paymentStore = billing.NewMemoryStore()
	}

	// Summary cache (Redis if configured, otherwise in-process)
	var summaryCache analytics.SummaryCache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redisClient = redis.NewClient(opt)
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		summaryCache = analytics.NewRedisCache(s.redisClient, cfg.AnalyticsTTL)
		s.logger.Info("analytics cache enabled", "backend", "redis", "ttl", cfg.AnalyticsTTL)

		s.healthChecks.Register("redis", func(ctx context.Context) health.Status {
			if err := s.redisClient.Ping(ctx).Err(); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
	} else {
		summaryCache = analytics.NewMemoryCache(cfg.AnalyticsTTL)
		s.logger.Info("analytics cache enabled", "backend", "memory", "ttl", cfg.AnalyticsTTL)
	}

	// Core services
	s.users = user.NewService(userStore)
	s.authMgr = auth.NewManager(authStore)
	s.apps = apps.NewService(appStore)
	s.licenses = license.NewService(licenseStore, s.apps)
	s.licenses.SetIssueDefaults(cfg.DefaultUsageLimit, cfg.DefaultLicenseDuration)
	s.sessions = session.NewService(sessionStore, s.licenses)
	s.analytics = analytics.NewService(s.apps, s.licenses, s.sessions, eventStore, summaryCache)

	// Deleting an application revokes every license issued under it
	s.apps.SetLicenseRevoker(s.licenses)

	// Webhooks + realtime streaming share one event surface
	s.webhookStore = webhookStore
	s.webhooks = webhooks.NewDispatcher(webhookStore)
	s.webhooks.SetDefaultSecret(cfg.WebhookSecret)
	s.realtimeHub = realtime.NewHub(s.logger)
	emitter := &eventFanout{
		webhooks: webhooks.NewEmitter(s.webhooks, s.logger),
		hub:      s.realtimeHub,
	}
	s.apps.SetEmitter(emitter)
	s.licenses.SetEmitter(emitter)
	s.sessions.SetEmitter(emitter)

	// Mutations invalidate the owner's cached summary
	s.apps.SetCache(s.analytics)
	s.licenses.SetCache(s.analytics)
	s.sessions.SetCache(s.analytics)

	// Billing through Stripe Checkout
	s.billing = billing.NewService(paymentStore, s.users, billing.Config{
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		PriceIDPro:        cfg.StripePriceIDPro,
		PriceIDEnterprise: cfg.StripePriceIDEnterprise,
		SuccessURL:        cfg.BillingSuccessURL,
		CancelURL:         cfg.BillingCancelURL,
	})
	if cfg.StripeSecretKey != "" {
		s.logger.Info("billing enabled")
	} else {
		s.logger.Info("billing disabled (STRIPE_SECRET_KEY not set)")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
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

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	limits := &planLimiter{users: s.users}

	userHandler := user.NewHandler(s.users, s.authMgr)
	authHandler := auth.NewHandler(s.authMgr)
	appHandler := apps.NewHandler(s.apps, limits)
	licenseHandler := license.NewHandler(s.licenses, limits)
	sessionHandler := session.NewHandler(s.sessions)
	analyticsHandler := analytics.NewHandler(s.analytics)
	billingHandler := billing.NewHandler(s.billing)
	webhookHandler := webhooks.NewHandler(s.webhookStore, s.webhooks)
	dashboardHandler := dashboard.NewHandler(s.users, s.apps, s.licenses, s.analytics)

	// PUBLIC ROUTES (no auth required)
	v1.GET("/auth/info", authHandler.Info)
	userHandler.RegisterRoutes(v1) // POST /users/register returns the first API key

	// Stripe calls this; the Stripe-Signature header is the credential
	billingHandler.RegisterWebhookRoutes(v1)

	// SDK ROUTES (application API key via X-Api-Key header)
	// These are the endpoints shipped software talks to.
	sdk := v1.Group("")
	sdk.Use(apps.APIKeyMiddleware(s.apps))
	{
		licenseHandler.RegisterCheckRoutes(sdk)
		sessionHandler.RegisterSDKRoutes(sdk)
		analyticsHandler.RegisterSDKRoutes(sdk)
	}

	// DASHBOARD ROUTES (user API key via Authorization: Bearer sk_...)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		userHandler.RegisterProtectedRoutes(protected)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)

		appHandler.RegisterRoutes(protected)
		licenseHandler.RegisterRoutes(protected)
		sessionHandler.RegisterRoutes(protected)
		analyticsHandler.RegisterRoutes(protected)
		billingHandler.RegisterRoutes(protected)
		webhookHandler.RegisterRoutes(protected)
		dashboardHandler.RegisterRoutes(protected)

		// WebSocket stream of the owner's own events
		protected.GET("/ws", func(c *gin.Context) {
			s.realtimeHub.HandleWebSocket(c.Writer, c.Request, auth.GetAuthenticatedOwner(c))
		})
	}

	// ADMIN ROUTES
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr), auth.RequireAdmin(s.cfg.AdminSecret))
	{
		userHandler.RegisterAdminRoutes(admin)
		admin.GET("/realtime/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.realtimeHub.Stats())
		})
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Keymint",
		"description": "License key management for software vendors",
		"version":     "0.1.0",
		"docs":        "https://github.com/keymint/keymint",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.traceFlush != nil {
		if err := s.traceFlush(ctx); err != nil {
			s.logger.Warn("failed to flush traces", "error", err)
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("failed to close redis client", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("failed to close database", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
