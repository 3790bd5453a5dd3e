// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/escrow"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/notify"
	"github.com/dkims/askpay/internal/payout"
	"github.com/dkims/askpay/internal/pool"
	"github.com/dkims/askpay/internal/ppv"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/ratelimit"
	"github.com/dkims/askpay/internal/realtime"
	"github.com/dkims/askpay/internal/security"
	"github.com/dkims/askpay/internal/traces"
	"github.com/dkims/askpay/internal/validation"
	"github.com/dkims/askpay/internal/wallet"
	"github.com/dkims/askpay/internal/webhook"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg       *config.Config
	questions *question.Service
	wallets   *wallet.Service
	ledger    *ledger.Ledger
	pools     *pool.Service
	escrows   *escrow.Service
	ppv       *ppv.Service
	payouts   *payout.Service
	webhooks  *webhook.Service
	notifier  *notify.Dispatcher
	hub       *realtime.Hub

	provider    provider.Provider
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx  context.CancelFunc         // cancels background goroutines started in Run
	traceShutdown func(context.Context) error // flushes the OTLP exporter, nil when tracing is off

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

// WithProvider sets a custom payment provider (for testing)
func WithProvider(p provider.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Payment provider: real Stripe when configured, mock otherwise
	if s.provider == nil {
		if cfg.StripeSecretKey != "" {
			s.provider = provider.NewStripe(cfg.StripeSecretKey)
			s.logger.Info("payment provider enabled", "provider", "stripe")
		} else {
			s.provider = provider.NewMock()
			s.logger.Info("using mock payment provider (demo mode)")
		}
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		questionStore question.Store
		walletStore   wallet.Store
		ledgerStore   ledger.Store
		poolStore     pool.Store
		grantStore    ppv.GrantStore
		payoutStore   payout.Store
		eventStore    webhook.ProcessedStore
		notifyStore   notify.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		questionStore = question.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		poolStore = pool.NewPostgresStore(db)
		grantStore = ppv.NewPostgresGrantStore(db)
		payoutStore = payout.NewPostgresStore(db)
		eventStore = webhook.NewPostgresProcessedStore(db)
		notifyStore = notify.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		questionStore = question.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		poolStore = pool.NewMemoryStore()
		grantStore = ppv.NewMemoryGrantStore()
		payoutStore = payout.NewMemoryStore()
		eventStore = webhook.NewMemoryProcessedStore()
		notifyStore = notify.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Core services
	s.questions = question.New(questionStore)
	s.wallets = wallet.New(walletStore)
	s.ledger = ledger.New(ledgerStore)
	s.pools = pool.New(poolStore, s.wallets, s.questions)

	// Outbound notifications
	s.notifier = notify.NewDispatcher(notifyStore)
	if cfg.NotifySecret != "" {
		s.notifier.SetFallbackSecret(cfg.NotifySecret)
	}

	// Realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)

	// Money movement services
	s.escrows = escrow.New(s.questions, s.ledger, s.wallets, s.pools, s.provider, cfg.Fees)
	s.ppv = ppv.New(s.questions, grantStore, s.ledger, s.wallets, s.pools, s.provider,
		&eventFanout{notifier: s.notifier, hub: s.hub}, cfg.Fees)
	s.payouts = payout.New(payoutStore, s.wallets, s.ledger, s.provider, cfg.Fees)

	// Inbound provider event reconciliation
	s.webhooks = webhook.New(eventStore, s.escrows, s.payouts, s.ledger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(notifyStore)

	s.healthy.Store(true)

	return s, nil
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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerSecond = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Caller identity
	s.router.Use(s.identityMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// identityMiddleware puts the caller's user ID into the gin context.
// The X-User-ID header is set by the authenticating gateway in front of
// this service; handlers that require identity reject requests without it.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID != "" {
			if !validation.IsValidUserID(userID) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_user_id",
					"message": "user id must be lowercase alphanumeric, 3-64 chars",
				})
				return
			}
			c.Set("userID", userID)
		}
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

func (s *Server) setupRoutes(notifyStore notify.Store) {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :userId URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.UserIDParamMiddleware())

	v1.GET("/platform", s.platformHandler)

	// Questions and answers; best-answer selection triggers pool settlement
	questionHandler := question.NewHandler(s.questions, s.pools)
	questionHandler.RegisterRoutes(v1)

	// Bounty escrow lifecycle
	escrowHandler := escrow.NewHandler(s.escrows)
	escrowHandler.RegisterRoutes(v1)

	// Pay-per-view purchases
	ppvHandler := ppv.NewHandler(s.ppv)
	ppvHandler.RegisterRoutes(v1)

	// Settlement pools
	poolHandler := pool.NewHandler(s.pools)
	poolHandler.RegisterRoutes(v1)

	// Wallets
	walletHandler := wallet.NewHandler(s.wallets)
	walletHandler.RegisterRoutes(v1)

	// Payouts
	payoutHandler := payout.NewHandler(s.payouts)
	payoutHandler.RegisterRoutes(v1)

	// Inbound provider webhooks (signature-verified when secret is set)
	webhookHandler := webhook.NewHandler(s.webhooks, s.cfg.StripeWebhookSecret)
	webhookHandler.RegisterRoutes(v1)

	// Outbound notification subscriptions
	notifyHandler := notify.NewHandler(notifyStore)
	notifyHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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
		"name":        "Askpay",
		"description": "Escrow and settlement engine for bounty-backed Q&A",
		"version":     "0.1.0",
		"currency":    s.cfg.Currency,
	})
}

// platformHandler returns platform info including the fee schedule
func (s *Server) platformHandler(c *gin.Context) {
	f := s.cfg.Fees
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":     "Askpay",
			"version":  "0.1.0",
			"currency": s.cfg.Currency,
		},
		"fees": gin.H{
			"platformRateBps": f.PlatformRateBPS,
			"askerRateBps":    f.AskerRateBPS,
			"bestRateBps":     f.BestRateBPS,
			"payoutFixedFee":  f.PayoutFixedFee,
			"payoutRateBps":   f.PayoutRateBPS,
			"minPayout":       f.MinPayout,
		},
		"instructions": gin.H{
			"ask":      "POST /v1/questions, then POST /v1/escrow/authorize with the bounty amount.",
			"answer":   "POST /v1/questions/{id}/answers with the X-User-ID header.",
			"purchase": "POST /v1/ppv/purchase to unlock a question's answers.",
			"payout":   "POST /v1/payouts against your available wallet balance.",
		},
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

	// Distributed tracing (no-op when no endpoint is configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.traceShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

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

	// Cancel the context for all background goroutines (hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Let in-flight notification deliveries finish
	if s.notifier != nil {
		s.notifier.Wait()
	}

	// Flush traces
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// eventFanout delivers purchase events both to outbound notification
// subscriptions and to connected WebSocket clients.
type eventFanout struct {
	notifier *notify.Dispatcher
	hub      *realtime.Hub
}

func (f *eventFanout) Notify(ctx context.Context, userID string, event string, data map[string]any) {
	f.notifier.Notify(ctx, userID, event, data)

	payload := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}
	payload["event"] = event
	payload["user_id"] = userID
	f.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventPurchase,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
}
