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

	"github.com/kmathis/riskgate/internal/account"
	"github.com/kmathis/riskgate/internal/auth"
	"github.com/kmathis/riskgate/internal/config"
	"github.com/kmathis/riskgate/internal/health"
	"github.com/kmathis/riskgate/internal/logging"
	"github.com/kmathis/riskgate/internal/metrics"
	"github.com/kmathis/riskgate/internal/mfa"
	"github.com/kmathis/riskgate/internal/ratelimit"
	"github.com/kmathis/riskgate/internal/risk"
	"github.com/kmathis/riskgate/internal/scoring"
	"github.com/kmathis/riskgate/internal/security"
	"github.com/kmathis/riskgate/internal/transfer"
	"github.com/kmathis/riskgate/internal/validation"
)

// version is reported by the health endpoint.
const version = "0.1.0"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	accounts     *account.Service
	transfers    *transfer.Service
	challenges   *mfa.Engine
	scorer       scoring.Scorer
	authn        *auth.Authenticator
	verifier     auth.TokenVerifier
	seeder       *transfer.Seeder
	checks       *health.Registry
	thresholds   risk.Thresholds
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

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

// WithScorer sets a custom scorer (for testing)
func WithScorer(scorer scoring.Scorer) Option {
	return func(s *Server) {
		s.scorer = scorer
	}
}

// WithTokenVerifier sets the bearer-token verifier used in bearer and
// hybrid auth modes.
func WithTokenVerifier(v auth.TokenVerifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set scorer/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	thresholds, err := risk.NewThresholds(cfg.LowThreshold, cfg.HighThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid risk thresholds: %w", err)
	}
	s.thresholds = thresholds

	var (
		accountStore  account.Store
		transferStore transfer.Store
		mfaStore      mfa.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		accountPG := account.NewPostgresStore(db)
		if err := accountPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate account store", "error", err)
		}
		accountStore = accountPG

		transferPG := transfer.NewPostgresStore(db)
		if err := transferPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transfer store", "error", err)
		}
		transferStore = transferPG

		mfaPG := mfa.NewPostgresStore(db)
		if err := mfaPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate mfa store", "error", err)
		}
		mfaStore = mfaPG

		s.checks.Register("database", health.DatabaseChecker("database", db))
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		accountStore = account.NewMemoryStore()
		transferStore = transfer.NewMemoryStore()
		mfaStore = mfa.NewMemoryStore()

		s.checks.Register("storage", health.StaticChecker("storage", true, "in-memory"))
	}

	s.accounts = account.NewService(accountStore,
		account.WithDefaults(cfg.DefaultBankCode, cfg.DefaultCurrency, cfg.DemoInitialBalance))

	engine, err := mfa.NewEngine(mfaStore, mfa.Config{
		CodeTTL:       time.Duration(cfg.MfaCodeTTLSeconds) * time.Second,
		MaxAttempts:   cfg.MfaMaxAttempts,
		CodeLength:    cfg.MfaCodeLength,
		SigningSecret: cfg.MfaSigningSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mfa engine: %w", err)
	}
	s.challenges = engine

	// Create scorer if not injected
	if s.scorer == nil {
		if cfg.ScoringURL != "" {
			s.scorer = scoring.NewHTTPScorer(cfg.ScoringURL, cfg.ModelVersion)
			s.logger.Info("using remote scoring backend", "url", cfg.ScoringURL)
		} else {
			artifacts, err := scoring.LoadArtifacts(cfg.ModelsDir)
			if err != nil {
				return nil, fmt.Errorf("failed to load model artifacts: %w", err)
			}
			s.scorer = scoring.NewLocalScorer(artifacts)
			s.logger.Info("using local model artifacts", "dir", cfg.ModelsDir)
		}
	}
	s.checks.Register("model", health.StaticChecker("model", true, s.scorer.Version()))

	s.transfers = transfer.NewService(transferStore, s.accounts, s.scorer, s.challenges,
		thresholds, cfg.DefaultCurrency)
	s.seeder = transfer.NewSeeder(transferStore, s.accounts, thresholds, cfg.DefaultCurrency)

	s.authn = auth.NewAuthenticator(auth.Mode(cfg.AuthMode), cfg.APIKeys, s.verifier)
	s.logger.Info("API authentication enabled", "mode", string(cfg.AuthMode), "keys", len(cfg.APIKeys))

	limiter, err := ratelimit.New(ratelimit.Config{
		Requests:      cfg.RateLimitRequests,
		WindowSeconds: cfg.RateLimitWindowSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	s.rateLimiter = limiter

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
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.router.Use(ratelimit.Middleware(s.rateLimiter, s.cfg.RateLimitEnabled))

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

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)

	accountHandler := account.NewHandler(s.accounts, s.logger)
	transferHandler := transfer.NewHandler(s.transfers, accountHandler, s.seeder, s.logger,
		s.cfg.MfaDemoCodeInReply, s.cfg.EnableDemoSeeding)
	scoringHandler := scoring.NewHandler(s.scorer, s.thresholds, s.logger)

	// V1 API group. Credentials are resolved for every route; individual
	// groups decide whether they are required.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authn))
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.TransferIDParamMiddleware())

	// PROTECTED ROUTES (require an API key or bearer token)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		scoringHandler.RegisterRoutes(protected)
		accountHandler.RegisterRoutes(protected)
		transferHandler.RegisterRoutes(protected)
	}

	// ADMIN ROUTES (require X-Admin-Secret on top of normal auth)
	admin := v1.Group("")
	admin.Use(auth.RequireAuth(), auth.RequireAdmin(s.cfg.AdminSecret))
	{
		accountHandler.RegisterAdminRoutes(admin)
	}
}

// HealthResponse is the body returned by GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   version,
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
		"name":        "riskgate",
		"description": "Risk-tiered transfer authorization API",
		"version":     version,
		"model":       s.scorer.Version(),
		"docs":        "/health, /metrics, /v1/predict, /v1/banking/*",
	})
}

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"model", s.scorer.Version(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Export connection pool gauges
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
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

// Router returns the gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
